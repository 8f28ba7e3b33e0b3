package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Web3Novalabs/Nixo/service/chat"
	"github.com/Web3Novalabs/Nixo/service/intent"
	"github.com/Web3Novalabs/Nixo/service/starknet"
	"github.com/Web3Novalabs/Nixo/service/token"
	"github.com/Web3Novalabs/Nixo/service/transfer"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedResponder emits fixed fragments and returns a fixed intent.
type scriptedResponder struct {
	fragments []string
	intent    intent.Intent
}

func (r *scriptedResponder) Stream(_ context.Context, _, _ string, _ []token.Balance, onFragment func(string) error) (intent.Intent, error) {
	for _, f := range r.fragments {
		if err := onFragment(f); err != nil {
			return intent.Failed(), err
		}
	}
	return r.intent, nil
}

func testSessions(t *testing.T, responder chat.Responder) *chat.Manager {
	t.Helper()
	if responder == nil {
		responder = &scriptedResponder{fragments: []string{"ok"}, intent: intent.None()}
	}
	return chat.NewManager(responder, 5*time.Second, nil, testLogger())
}

// fakeSDK is a scriptable stand-in for the Typhoon collaborator.
type fakeSDK struct {
	generateErr error
}

func (f *fakeSDK) GenerateApproveAndDepositCalls(_ context.Context, amount *big.Int, tokenAddress string) ([]starknet.Call, error) {
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	return []starknet.Call{
		{ContractAddress: tokenAddress, EntryPoint: "approve", Calldata: []string{fmt.Sprintf("0x%x", amount)}},
		{ContractAddress: "0xpool", EntryPoint: "deposit"},
	}, nil
}

func (f *fakeSDK) DownloadNotes(_ context.Context, _ string) (json.RawMessage, error) {
	return json.RawMessage(`{"note":"recovery"}`), nil
}

func (f *fakeSDK) Withdraw(_ context.Context, _ string, _ []string) (json.RawMessage, error) {
	return json.RawMessage(`{"ok":true}`), nil
}

type fakeSigner struct {
	executeErr error
}

func (f *fakeSigner) Execute(_ context.Context, _ []starknet.Call) (string, error) {
	if f.executeErr != nil {
		return "", f.executeErr
	}
	return "0xdeadbeef", nil
}

func (f *fakeSigner) WaitForTransaction(_ context.Context, _ string) error { return nil }

func validRecipient() string {
	return "0x" + strings.Repeat("a", 63)
}

// seedPendingTransfer runs one chat round trip whose responder yields a
// high-confidence transfer intent, leaving the session with a pending
// transfer.
func seedPendingTransfer(t *testing.T) (*chat.Manager, *chat.Session) {
	t.Helper()
	amount := decimal.NewFromFloat(15)
	responder := &scriptedResponder{
		fragments: []string{"Preparing your transfer."},
		intent: intent.Intent{
			Type:       intent.TypeTransfer,
			Confidence: 0.95,
			Transfer: &intent.TransferDetails{
				Amount:    &amount,
				Token:     token.STRK,
				Recipient: validRecipient(),
			},
		},
	}
	sessions := testSessions(t, responder)
	session := sessions.GetOrCreate("sess-1")
	_, err := session.Send(context.Background(), "send 15 STRK", "", nil, func(string) error { return nil })
	require.NoError(t, err)
	require.NotNil(t, session.PendingIntent())
	return sessions, session
}

func TestHandleChat_Validation(t *testing.T) {
	handler := handleChat(testSessions(t, nil), nil, nil, testLogger())

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{
			name:       "missing message",
			body:       `{"session_id": "abc"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Message is required",
		},
		{
			name:       "whitespace-only message",
			body:       `{"message": "   "}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Message is required",
		},
		{
			name:       "invalid JSON",
			body:       `{not json`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid request body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/chat", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantError)
		})
	}
}

// parseSSEData collects the payload of every data: line in an SSE body.
func parseSSEData(t *testing.T, body string) []string {
	t.Helper()
	var frames []string
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		}
	}
	require.NoError(t, scanner.Err())
	return frames
}

func TestHandleChat_StreamsContentIntentAndDone(t *testing.T) {
	responder := &scriptedResponder{
		fragments: []string{"Hello", " there!"},
		intent:    intent.Intent{Type: intent.TypeBalance, Confidence: 0.9},
	}
	sessions := testSessions(t, responder)
	handler := handleChat(sessions, nil, nil, testLogger())

	req := httptest.NewRequest("POST", "/api/v1/chat", strings.NewReader(`{"message": "what is my balance?"}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Session-Id"))

	frames := parseSSEData(t, w.Body.String())
	require.Len(t, frames, 4)

	var first struct {
		Content string `json:"content"`
	}
	require.NoError(t, json.Unmarshal([]byte(frames[0]), &first))
	assert.Equal(t, "Hello", first.Content)

	var second struct {
		Content string `json:"content"`
	}
	require.NoError(t, json.Unmarshal([]byte(frames[1]), &second))
	assert.Equal(t, " there!", second.Content)

	var intentFrame struct {
		Intent intent.Intent `json:"intent"`
	}
	require.NoError(t, json.Unmarshal([]byte(frames[2]), &intentFrame))
	assert.Equal(t, intent.TypeBalance, intentFrame.Intent.Type)
	assert.Equal(t, 0.9, intentFrame.Intent.Confidence)

	assert.Equal(t, "[DONE]", frames[3])
}

func TestHandleChat_ReusesSession(t *testing.T) {
	sessions := testSessions(t, nil)
	handler := handleChat(sessions, nil, nil, testLogger())

	req := httptest.NewRequest("POST", "/api/v1/chat", strings.NewReader(`{"message": "hi", "session_id": "fixed"}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fixed", w.Header().Get("X-Session-Id"))

	session, ok := sessions.Get("fixed")
	require.True(t, ok)
	// greeting + user + assistant
	assert.Len(t, session.Messages(), 3)
}

func TestHandleExecuteTransfer_Validation(t *testing.T) {
	sessions := testSessions(t, nil)
	orchestrator := transfer.NewOrchestrator(&fakeSDK{}, nil, testLogger())
	handler := handleExecuteTransfer(sessions, orchestrator, &fakeSigner{}, transfer.NopPublisher{}, nil, testLogger())

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{
			name:       "invalid JSON",
			body:       `{`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid request body",
		},
		{
			name:       "missing session id",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "session_id is required",
		},
		{
			name:       "unknown session",
			body:       `{"session_id": "nope"}`,
			wantStatus: http.StatusNotFound,
			wantError:  "session not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/transfers", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantError)
		})
	}
}

func TestHandleExecuteTransfer_NoPendingIntent(t *testing.T) {
	sessions := testSessions(t, nil)
	sessions.GetOrCreate("idle")
	orchestrator := transfer.NewOrchestrator(&fakeSDK{}, nil, testLogger())
	handler := handleExecuteTransfer(sessions, orchestrator, &fakeSigner{}, transfer.NopPublisher{}, nil, testLogger())

	req := httptest.NewRequest("POST", "/api/v1/transfers", strings.NewReader(`{"session_id": "idle"}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "no pending transfer intent")
}

func TestHandleExecuteTransfer_ValidationFailureClearsIntent(t *testing.T) {
	sessions, session := seedPendingTransfer(t)
	orchestrator := transfer.NewOrchestrator(&fakeSDK{}, nil, testLogger())
	handler := handleExecuteTransfer(sessions, orchestrator, &fakeSigner{}, transfer.NopPublisher{}, nil, testLogger())

	// Balance below the 15 STRK the pending intent wants.
	body := `{"session_id": "sess-1", "balances": [{"token": "STRK", "balance": "3"}]}`
	req := httptest.NewRequest("POST", "/api/v1/transfers", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp transferResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "insufficient STRK balance")
	assert.Len(t, resp.ValidationErrors, 1)

	assert.Nil(t, session.PendingIntent())

	msgs := session.Messages()
	assert.Contains(t, msgs[len(msgs)-1].Content, "Cannot execute transfer")
}

func TestHandleExecuteTransfer_Success(t *testing.T) {
	sessions, session := seedPendingTransfer(t)
	orchestrator := transfer.NewOrchestrator(&fakeSDK{}, nil, testLogger())
	handler := handleExecuteTransfer(sessions, orchestrator, &fakeSigner{}, transfer.NopPublisher{}, nil, testLogger())

	body := `{"session_id": "sess-1", "balances": [{"token": "STRK", "balance": "100"}]}`
	req := httptest.NewRequest("POST", "/api/v1/transfers", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp transferResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "0xdeadbeef", resp.TxHash)
	assert.Empty(t, resp.Error)

	assert.Nil(t, session.PendingIntent())

	// The transcript observer turned progress chat text into messages.
	var texts []string
	for _, msg := range session.Messages() {
		if msg.Role == chat.RoleAssistant {
			texts = append(texts, msg.Content)
		}
	}
	joined := strings.Join(texts, "\n")
	assert.Contains(t, joined, "Starting private transfer")
	assert.Contains(t, joined, "Transfer complete")
}

func TestHandleExecuteTransfer_UserRejection(t *testing.T) {
	sessions, session := seedPendingTransfer(t)
	orchestrator := transfer.NewOrchestrator(&fakeSDK{}, nil, testLogger())
	signer := &fakeSigner{executeErr: starknet.ErrUserRejected}
	handler := handleExecuteTransfer(sessions, orchestrator, signer, transfer.NopPublisher{}, nil, testLogger())

	body := `{"session_id": "sess-1", "balances": [{"token": "STRK", "balance": "100"}]}`
	req := httptest.NewRequest("POST", "/api/v1/transfers", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp transferResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "rejected")

	assert.Nil(t, session.PendingIntent())

	msgs := session.Messages()
	assert.Contains(t, msgs[len(msgs)-1].Content, "Transfer cancelled")
}

func TestHandleExecuteTransfer_SingleFlight(t *testing.T) {
	sessions, session := seedPendingTransfer(t)
	require.NoError(t, session.BeginTransfer())
	defer session.EndTransfer()

	orchestrator := transfer.NewOrchestrator(&fakeSDK{}, nil, testLogger())
	handler := handleExecuteTransfer(sessions, orchestrator, &fakeSigner{}, transfer.NopPublisher{}, nil, testLogger())

	body := `{"session_id": "sess-1", "balances": [{"token": "STRK", "balance": "100"}]}`
	req := httptest.NewRequest("POST", "/api/v1/transfers", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already in progress")

	// The guard refused the request without consuming the intent.
	assert.NotNil(t, session.PendingIntent())
}

func TestHandleListMessages(t *testing.T) {
	sessions := testSessions(t, nil)
	sessions.GetOrCreate("live")
	handler := handleListMessages(sessions, nil, testLogger())

	req := httptest.NewRequest("GET", "/api/v1/sessions/live/messages", nil)
	req.SetPathValue("session_id", "live")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		SessionID string         `json:"session_id"`
		Messages  []chat.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "live", resp.SessionID)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, chat.RoleAssistant, resp.Messages[0].Role)
	assert.Contains(t, resp.Messages[0].Content, "anonymous transaction assistant")
}

func TestHandleListMessages_UnknownSession(t *testing.T) {
	handler := handleListMessages(testSessions(t, nil), nil, testLogger())

	req := httptest.NewRequest("GET", "/api/v1/sessions/ghost/messages", nil)
	req.SetPathValue("session_id", "ghost")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "session not found")
}

func TestHandleListMessages_InvalidPagination(t *testing.T) {
	handler := handleListMessages(testSessions(t, nil), nil, testLogger())

	req := httptest.NewRequest("GET", "/api/v1/sessions/ghost/messages?limit=9001", nil)
	req.SetPathValue("session_id", "ghost")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid limit")
}

func TestHandleGetBalances(t *testing.T) {
	handler := handleGetBalances(testLogger())

	req := httptest.NewRequest("GET", "/api/v1/balances", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Balances []token.Balance `json:"balances"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Balances, 4)

	symbols := make([]string, len(resp.Balances))
	for i, b := range resp.Balances {
		symbols[i] = b.Token
		assert.Equal(t, "0", b.Balance)
	}
	assert.Equal(t, []string{"STRK", "USDC", "USDT", "ETH"}, symbols)
}

func TestBuildSwapParams(t *testing.T) {
	tests := []struct {
		name      string
		sell, buy string
		amount    string
		taker     string
		wantErr   string
	}{
		{
			name:   "valid",
			sell:   "ETH",
			buy:    "STRK",
			amount: "0.5",
			taker:  validRecipient(),
		},
		{
			name:    "unsupported sell token",
			sell:    "DOGE",
			buy:     "STRK",
			amount:  "1",
			taker:   validRecipient(),
			wantErr: "unsupported sell_token",
		},
		{
			name:    "same pair",
			sell:    "ETH",
			buy:     "eth",
			amount:  "1",
			taker:   validRecipient(),
			wantErr: "must differ",
		},
		{
			name:    "non-positive amount",
			sell:    "ETH",
			buy:     "STRK",
			amount:  "0",
			taker:   validRecipient(),
			wantErr: "positive decimal",
		},
		{
			name:    "bad taker address",
			sell:    "ETH",
			buy:     "STRK",
			amount:  "1",
			taker:   "0x1234",
			wantErr: "valid Starknet address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := buildSwapParams(tt.sell, tt.buy, tt.amount, tt.taker)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, token.ETH, params.SellToken)
			assert.Equal(t, token.STRK, params.BuyToken)
			assert.Equal(t, "0.5", params.SellAmount.String())
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := corsMiddleware(inner)

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/api/v1/chat", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("normal request", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/health", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestServerRoutes(t *testing.T) {
	srv := New(":0", nil, testSessions(t, nil), transfer.NewOrchestrator(&fakeSDK{}, nil, testLogger()), &fakeSigner{}, transfer.NopPublisher{}, nil, nil, nil, nil, testLogger())
	handler := srv.handler()

	t.Run("health", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/health", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "OK", w.Body.String())
	})

	t.Run("balances routed", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/balances", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("stream disabled without publisher", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/stream/transfers/abc", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("chat routed", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/chat", strings.NewReader(`{"message": "hi"}`))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "[DONE]")
	})
}
