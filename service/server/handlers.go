package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Web3Novalabs/Nixo/service/chat"
	"github.com/Web3Novalabs/Nixo/service/db"
	"github.com/Web3Novalabs/Nixo/service/intent"
	"github.com/Web3Novalabs/Nixo/service/metrics"
	"github.com/Web3Novalabs/Nixo/service/swap"
	"github.com/Web3Novalabs/Nixo/service/token"
	"github.com/Web3Novalabs/Nixo/service/transfer"
	"github.com/shopspring/decimal"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for a chat message plus balances

	defaultMessageLimit = 100
	maxMessageLimit     = 500
)

// chatRequest is the body of POST /api/v1/chat. Balances are supplied by
// the caller; this service never fetches them itself.
type chatRequest struct {
	Message       string          `json:"message"`
	SessionID     string          `json:"session_id,omitempty"`
	WalletAddress string          `json:"wallet_address,omitempty"`
	Balances      []token.Balance `json:"balances,omitempty"`
}

// handleChat returns a handler that runs one chat round trip and streams
// the assistant reply back as server-sent events: one {"content": ...}
// frame per fragment, one {"intent": ...} frame, then [DONE].
// POST /api/v1/chat
func handleChat(sessions *chat.Manager, store *db.Store, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode chat request", "error", err)
			if strings.Contains(err.Error(), "http: request body too large") {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		if strings.TrimSpace(req.Message) == "" {
			writeError(w, "Message is required", http.StatusBadRequest)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		session := sessions.GetOrCreate(req.SessionID)

		// The session ID travels in a header so generated IDs reach the
		// caller before the stream starts.
		w.Header().Set("X-Session-Id", session.ID)
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		derived, err := session.Send(r.Context(), req.Message, req.WalletAddress, req.Balances, func(fragment string) error {
			frame, merr := json.Marshal(map[string]string{"content": fragment})
			if merr != nil {
				return merr
			}
			if _, werr := fmt.Fprintf(w, "data: %s\n\n", frame); werr != nil {
				return werr
			}
			flusher.Flush()
			m.RecordSSEEventSent("chat", "content")
			return nil
		})
		if err != nil {
			// The stream is already open and the session has settled the
			// transcript with its failure text, so just close out the
			// protocol with a failed intent.
			logger.Error("chat round trip failed", "session_id", session.ID, "error", err)
			derived = intent.Failed()
		}

		if frame, merr := json.Marshal(map[string]intent.Intent{"intent": derived}); merr == nil {
			fmt.Fprintf(w, "data: %s\n\n", frame)
			m.RecordSSEEventSent("chat", "intent")
		}
		fmt.Fprintf(w, "data: [DONE]\n\n")
		flusher.Flush()

		persistTranscript(store, session, logger)
	})
}

// persistTranscript writes the latest user/assistant exchange through to
// the audit store. Saving is upsert-based, so re-saving a message that was
// still streaming at the previous save is harmless.
func persistTranscript(store *db.Store, session *chat.Session, logger *slog.Logger) {
	if store == nil {
		return
	}
	msgs := session.Messages()
	if len(msgs) < 2 {
		return
	}
	// Detached from the request context: a client disconnect must not
	// lose the exchange.
	ctx := context.Background()
	for _, msg := range msgs[len(msgs)-2:] {
		err := store.RecordMessage(ctx, db.MessageRecord{
			ID:        msg.ID,
			SessionID: session.ID,
			Role:      string(msg.Role),
			Content:   msg.Content,
			CreatedAt: msg.Timestamp,
		})
		if err != nil {
			logger.Warn("failed to persist chat message", "session_id", session.ID, "error", err)
		}
	}
}

// transferRequest is the body of POST /api/v1/transfers. The transfer
// details come from the session's pending intent, never from this request;
// the caller only names the session and supplies current balances for
// validation.
type transferRequest struct {
	SessionID string          `json:"session_id"`
	Balances  []token.Balance `json:"balances,omitempty"`
}

// transferResponse mirrors transfer.Result plus the validation errors
// collected when the pending intent fails pre-flight checks.
type transferResponse struct {
	Success          bool     `json:"success"`
	TxHash           string   `json:"tx_hash,omitempty"`
	Error            string   `json:"error,omitempty"`
	ValidationErrors []string `json:"validation_errors,omitempty"`
}

// handleExecuteTransfer returns a handler that executes the session's
// pending transfer intent. The pending intent is cleared on every outcome:
// validation failure, rejection, pipeline error, and success. A second
// request while one is executing is refused, not queued.
// POST /api/v1/transfers
func handleExecuteTransfer(sessions *chat.Manager, orchestrator *transfer.Orchestrator, signer transfer.Signer, publisher transfer.Publisher, store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req transferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode transfer request", "error", err)
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}
		if req.SessionID == "" {
			writeError(w, "session_id is required", http.StatusBadRequest)
			return
		}

		session, ok := sessions.Get(req.SessionID)
		if !ok {
			writeError(w, "session not found", http.StatusNotFound)
			return
		}

		pending := session.PendingIntent()
		if pending == nil || pending.Type != intent.TypeTransfer || pending.Transfer == nil {
			writeError(w, "no pending transfer intent for this session", http.StatusConflict)
			return
		}

		if err := session.BeginTransfer(); err != nil {
			writeError(w, err.Error(), http.StatusConflict)
			return
		}
		defer session.EndTransfer()

		details := pending.Transfer
		balance := token.FindBalance(req.Balances, details.Token)
		if errs := transfer.ValidateAll(details, balance); len(errs) > 0 {
			session.ClearIntent()
			reasons := make([]string, len(errs))
			for i, err := range errs {
				reasons[i] = err.Error()
			}
			session.AddAssistantMessage("⚠️ **Cannot execute transfer:**\n\n• " + strings.Join(reasons, "\n• "))
			logger.Info("transfer rejected by validation", "session_id", session.ID, "reasons", reasons)
			writeJSON(w, transferResponse{
				Success:          false,
				Error:            reasons[0],
				ValidationErrors: reasons,
			}, http.StatusUnprocessableEntity)
			return
		}

		// Fan events out to the notification stream and the chat
		// transcript; the transcript observer turns ChatText into
		// assistant messages.
		observers := transfer.Publishers{publisher, transcriptPublisher{session}}

		result := orchestrator.Execute(r.Context(), signer, transfer.Request{
			SessionID: session.ID,
			Amount:    *details.Amount,
			Token:     details.Token,
			Recipient: details.Recipient,
		}, observers)

		session.ClearIntent()
		recordTransferAudit(store, session.ID, details, result, logger)

		writeJSON(w, transferResponse{
			Success: result.Success,
			TxHash:  result.TxHash,
			Error:   result.Error,
		}, http.StatusOK)
	})
}

// transcriptPublisher appends transfer event chat text to the session
// transcript. Progress events without chat text are stream-only.
type transcriptPublisher struct {
	session *chat.Session
}

func (p transcriptPublisher) PublishTransferEvent(_ context.Context, event *transfer.Event) error {
	if event.ChatText != "" {
		p.session.AddAssistantMessage(event.ChatText)
	}
	return nil
}

func recordTransferAudit(store *db.Store, sessionID string, details *intent.TransferDetails, result *transfer.Result, logger *slog.Logger) {
	if store == nil {
		return
	}
	outcome := "error"
	switch {
	case result.Success:
		outcome = "success"
	case transfer.IsUserRejection(errors.New(result.Error)):
		outcome = "rejected"
	}
	err := store.RecordTransfer(context.Background(), db.TransferRecord{
		SessionID: sessionID,
		Token:     string(details.Token),
		Amount:    details.Amount.String(),
		Recipient: details.Recipient,
		TxHash:    result.TxHash,
		Outcome:   outcome,
		Error:     result.Error,
	})
	if err != nil {
		logger.Warn("failed to record transfer audit row", "session_id", sessionID, "error", err)
	}
}

// handleListMessages returns a handler that lists a session's transcript.
// Live sessions are read from memory; otherwise the handler falls back to
// the persisted transcript when a store is configured.
// GET /api/v1/sessions/{session_id}/messages
func handleListMessages(sessions *chat.Manager, store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("session_id")
		if sessionID == "" {
			writeError(w, "session_id is required", http.StatusBadRequest)
			return
		}

		if session, ok := sessions.Get(sessionID); ok {
			writeJSON(w, map[string]interface{}{
				"session_id": sessionID,
				"messages":   session.Messages(),
			}, http.StatusOK)
			return
		}

		limit, offset, err := parsePagination(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		records, err := store.ListMessages(r.Context(), sessionID, limit, offset)
		if err != nil {
			logger.Error("failed to list messages", "session_id", sessionID, "error", err)
			writeError(w, "failed to list messages", http.StatusInternalServerError)
			return
		}
		if len(records) == 0 {
			writeError(w, "session not found", http.StatusNotFound)
			return
		}

		msgs := make([]chat.Message, len(records))
		for i, rec := range records {
			msgs[i] = chat.Message{
				ID:        rec.ID,
				Role:      chat.Role(rec.Role),
				Content:   rec.Content,
				Timestamp: rec.CreatedAt,
			}
		}
		writeJSON(w, map[string]interface{}{
			"session_id": sessionID,
			"messages":   msgs,
		}, http.StatusOK)
	})
}

// handleListTransfers returns a handler that lists a session's transfer
// audit rows, most recent first.
// GET /api/v1/sessions/{session_id}/transfers
func handleListTransfers(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("session_id")
		if sessionID == "" {
			writeError(w, "session_id is required", http.StatusBadRequest)
			return
		}
		limit, offset, err := parsePagination(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		records, err := store.ListTransfers(r.Context(), sessionID, limit, offset)
		if err != nil {
			logger.Error("failed to list transfers", "session_id", sessionID, "error", err)
			writeError(w, "failed to list transfers", http.StatusInternalServerError)
			return
		}

		type transferRow struct {
			SessionID string `json:"session_id"`
			Token     string `json:"token"`
			Amount    string `json:"amount"`
			Recipient string `json:"recipient"`
			TxHash    string `json:"tx_hash,omitempty"`
			Outcome   string `json:"outcome"`
			Error     string `json:"error,omitempty"`
			CreatedAt string `json:"created_at"`
		}
		rows := make([]transferRow, len(records))
		for i, rec := range records {
			rows[i] = transferRow{
				SessionID: rec.SessionID,
				Token:     rec.Token,
				Amount:    rec.Amount,
				Recipient: rec.Recipient,
				TxHash:    rec.TxHash,
				Outcome:   rec.Outcome,
				Error:     rec.Error,
				CreatedAt: rec.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
			}
		}
		writeJSON(w, map[string]interface{}{
			"session_id": sessionID,
			"transfers":  rows,
		}, http.StatusOK)
	})
}

// handleSwapQuote returns a handler that fetches an AVNU swap quote.
// GET /api/v1/swap/quote?sell_token=ETH&buy_token=STRK&sell_amount=0.1&taker_address=0x...
func handleSwapQuote(client *swap.Client, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params, err := swapParamsFromQuery(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		quote, err := client.FetchQuote(r.Context(), *params)
		if err != nil {
			logger.Error("failed to fetch swap quote", "error", err)
			writeError(w, "failed to fetch swap quote", http.StatusBadGateway)
			return
		}
		if quote == nil {
			writeError(w, "no swap route available for this pair", http.StatusUnprocessableEntity)
			return
		}

		writeJSON(w, map[string]interface{}{
			"quote_id":    quote.QuoteID,
			"sell_token":  quote.SellToken,
			"buy_token":   quote.BuyToken,
			"sell_amount": swap.FormatAmount(quote.SellAmount, token.Symbol(quote.SellToken)),
			"buy_amount":  swap.FormatAmount(quote.BuyAmount, token.Symbol(quote.BuyToken)),
			"rate":        quote.Rate,
		}, http.StatusOK)
	})
}

// handleExecuteSwap returns a handler that quotes and executes a swap in
// one round trip. Quotes expire quickly, so splitting quote and execute
// across requests would mostly hand the caller stale quote IDs.
// POST /api/v1/swap
func handleExecuteSwap(client *swap.Client, signer transfer.Signer, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			SellToken    string  `json:"sell_token"`
			BuyToken     string  `json:"buy_token"`
			SellAmount   string  `json:"sell_amount"`
			TakerAddress string  `json:"taker_address"`
			Slippage     float64 `json:"slippage,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		params, err := buildSwapParams(req.SellToken, req.BuyToken, req.SellAmount, req.TakerAddress)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		slippage := req.Slippage
		if slippage <= 0 {
			slippage = swap.DefaultSlippage
		}

		quote, err := client.FetchQuote(r.Context(), *params)
		if err != nil {
			logger.Error("failed to fetch swap quote", "error", err)
			writeError(w, "failed to fetch swap quote", http.StatusBadGateway)
			return
		}
		if quote == nil {
			writeError(w, "no swap route available for this pair", http.StatusUnprocessableEntity)
			return
		}

		result := client.ExecuteSwap(r.Context(), signer, quote, slippage)
		writeJSON(w, result, http.StatusOK)
	})
}

func swapParamsFromQuery(r *http.Request) (*swap.Params, error) {
	q := r.URL.Query()
	return buildSwapParams(q.Get("sell_token"), q.Get("buy_token"), q.Get("sell_amount"), q.Get("taker_address"))
}

func buildSwapParams(sellToken, buyToken, sellAmount, taker string) (*swap.Params, error) {
	sell := token.Normalize(sellToken)
	buy := token.Normalize(buyToken)
	if _, ok := token.Addresses[sell]; !ok {
		return nil, fmt.Errorf("unsupported sell_token: %s", sellToken)
	}
	if _, ok := token.Addresses[buy]; !ok {
		return nil, fmt.Errorf("unsupported buy_token: %s", buyToken)
	}
	if sell == buy {
		return nil, errors.New("sell_token and buy_token must differ")
	}
	amount, err := decimal.NewFromString(sellAmount)
	if err != nil || !amount.IsPositive() {
		return nil, errors.New("sell_amount must be a positive decimal")
	}
	if !token.ValidAddress(taker) {
		return nil, errors.New("taker_address must be a valid Starknet address")
	}
	return &swap.Params{
		SellToken:    sell,
		BuyToken:     buy,
		SellAmount:   amount,
		TakerAddress: taker,
	}, nil
}

// handleGetBalances returns a handler serving the zeroed balance scaffold.
// Real balances come from the caller's wallet; this endpoint exists so
// clients can discover the token set without hardcoding it.
// GET /api/v1/balances
func handleGetBalances(logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		balances := make([]token.Balance, 0, len(token.Addresses))
		for _, sym := range []token.Symbol{token.STRK, token.USDC, token.USDT, token.ETH} {
			balances = append(balances, token.Balance{Token: string(sym), Balance: "0"})
		}
		writeJSON(w, map[string]interface{}{
			"balances": balances,
		}, http.StatusOK)
	})
}

func parsePagination(r *http.Request) (limit, offset int32, err error) {
	limit = defaultMessageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, perr := strconv.Atoi(raw)
		if perr != nil || n < 1 || n > maxMessageLimit {
			return 0, 0, fmt.Errorf("invalid limit: must be between 1 and %d", maxMessageLimit)
		}
		limit = int32(n)
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, perr := strconv.Atoi(raw)
		if perr != nil || n < 0 {
			return 0, 0, errors.New("invalid offset: must be a non-negative integer")
		}
		offset = int32(n)
	}
	return limit, offset, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
