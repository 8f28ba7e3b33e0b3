package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"testing"

	"github.com/Web3Novalabs/Nixo/service/starknet"
	"github.com/Web3Novalabs/Nixo/service/token"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSDK struct {
	generateErr error
	downloadErr error
	withdrawErr error

	generateAmount *big.Int
	generateToken  string
	withdrawTo     []string
}

func (f *fakeSDK) GenerateApproveAndDepositCalls(_ context.Context, amount *big.Int, tokenAddress string) ([]starknet.Call, error) {
	f.generateAmount = amount
	f.generateToken = tokenAddress
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	return []starknet.Call{
		{ContractAddress: tokenAddress, EntryPoint: "approve"},
		{ContractAddress: "0xpool", EntryPoint: "deposit"},
	}, nil
}

func (f *fakeSDK) DownloadNotes(_ context.Context, txHash string) (json.RawMessage, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return json.RawMessage(`{"note":"` + txHash + `"}`), nil
}

func (f *fakeSDK) Withdraw(_ context.Context, _ string, recipients []string) (json.RawMessage, error) {
	f.withdrawTo = recipients
	if f.withdrawErr != nil {
		return nil, f.withdrawErr
	}
	return json.RawMessage(`{}`), nil
}

type fakeSigner struct {
	txHash     string
	executeErr error
	waitErr    error
	calls      []starknet.Call
}

func (f *fakeSigner) Execute(_ context.Context, calls []starknet.Call) (string, error) {
	f.calls = calls
	if f.executeErr != nil {
		return "", f.executeErr
	}
	return f.txHash, nil
}

func (f *fakeSigner) WaitForTransaction(_ context.Context, _ string) error {
	return f.waitErr
}

type recordingPublisher struct {
	events []*Event
	err    error
}

func (r *recordingPublisher) PublishTransferEvent(_ context.Context, event *Event) error {
	copied := *event
	r.events = append(r.events, &copied)
	return r.err
}

func (r *recordingPublisher) statuses() []Status {
	out := make([]Status, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Status)
	}
	return out
}

func testRequest() Request {
	amount, _ := decimal.NewFromString("10.5")
	return Request{
		SessionID: "sess-1",
		Amount:    amount,
		Token:     token.STRK,
		Recipient: "0x" + strings.Repeat("b", 63),
	}
}

func testOrchestrator(sdk *fakeSDK) *Orchestrator {
	return NewOrchestrator(sdk, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestOrchestratorExecuteSuccess(t *testing.T) {
	sdk := &fakeSDK{}
	signer := &fakeSigner{txHash: "0xdeadbeef"}
	pub := &recordingPublisher{}
	req := testRequest()

	result := testOrchestrator(sdk).Execute(context.Background(), signer, req, pub)

	require.True(t, result.Success)
	assert.Equal(t, "0xdeadbeef", result.TxHash)
	assert.Empty(t, result.Error)

	assert.Equal(t, []Status{
		StatusGenerating,
		StatusSigning,
		StatusDownloading,
		StatusConfirming,
		StatusWithdrawing,
		StatusSuccess,
	}, pub.statuses())

	// Each event targets the requesting session and carries its canonical
	// status message.
	for _, e := range pub.events {
		assert.Equal(t, "sess-1", e.SessionID)
		assert.Equal(t, e.Status.Message(), e.Message)
		assert.False(t, e.At.IsZero())
	}

	// 10.5 STRK in 18-decimal minor units.
	assert.Equal(t, "10500000000000000000", sdk.generateAmount.String())
	strkAddr, err := token.Address(token.STRK)
	require.NoError(t, err)
	assert.Equal(t, strkAddr, sdk.generateToken)

	assert.Equal(t, []string{req.Recipient}, sdk.withdrawTo)
	assert.Len(t, signer.calls, 2)

	final := pub.events[len(pub.events)-1]
	assert.Equal(t, "0xdeadbeef", final.TxHash)
	assert.Contains(t, final.ChatText, "Transfer complete")
	assert.Contains(t, final.ChatText, "0xdeadbeef")
}

func TestOrchestratorExecuteUserRejection(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"sentinel", starknet.ErrUserRejected},
		{"wrapped sentinel", &wrapErr{starknet.ErrUserRejected}},
		{"argent phrasing", errors.New("User rejected the transaction")},
		{"braavos phrasing", errors.New("USER_REFUSED_OP")},
		{"metamask phrasing", errors.New("User denied transaction signature")},
		{"abort phrasing", errors.New("User abort")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sdk := &fakeSDK{}
			signer := &fakeSigner{executeErr: tt.err}
			pub := &recordingPublisher{}

			result := testOrchestrator(sdk).Execute(context.Background(), signer, testRequest(), pub)

			require.False(t, result.Success)
			assert.Empty(t, result.TxHash)

			assert.Equal(t, []Status{StatusGenerating, StatusSigning, StatusError}, pub.statuses())

			final := pub.events[len(pub.events)-1]
			assert.Contains(t, final.ChatText, "cancelled")
			assert.Contains(t, final.ChatText, "No funds were moved")
		})
	}
}

func TestOrchestratorExecuteStepFailures(t *testing.T) {
	tests := []struct {
		name         string
		sdk          *fakeSDK
		signer       *fakeSigner
		wantStatuses []Status
		wantErr      string
		wantTxHash   string
	}{
		{
			name:         "generation failure",
			sdk:          &fakeSDK{generateErr: errors.New("pool unreachable")},
			signer:       &fakeSigner{txHash: "0xabc"},
			wantStatuses: []Status{StatusGenerating, StatusError},
			wantErr:      "pool unreachable",
		},
		{
			name:         "note download failure keeps tx hash",
			sdk:          &fakeSDK{downloadErr: errors.New("notes endpoint 500")},
			signer:       &fakeSigner{txHash: "0xabc"},
			wantStatuses: []Status{StatusGenerating, StatusSigning, StatusDownloading, StatusError},
			wantErr:      "notes endpoint 500",
			wantTxHash:   "0xabc",
		},
		{
			name:         "confirmation failure",
			sdk:          &fakeSDK{},
			signer:       &fakeSigner{txHash: "0xabc", waitErr: errors.New("transaction reverted")},
			wantStatuses: []Status{StatusGenerating, StatusSigning, StatusDownloading, StatusConfirming, StatusError},
			wantErr:      "transaction reverted",
			wantTxHash:   "0xabc",
		},
		{
			name:         "withdrawal failure",
			sdk:          &fakeSDK{withdrawErr: errors.New("withdraw timed out")},
			signer:       &fakeSigner{txHash: "0xabc"},
			wantStatuses: []Status{StatusGenerating, StatusSigning, StatusDownloading, StatusConfirming, StatusWithdrawing, StatusError},
			wantErr:      "withdraw timed out",
			wantTxHash:   "0xabc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &recordingPublisher{}

			result := testOrchestrator(tt.sdk).Execute(context.Background(), tt.signer, testRequest(), pub)

			require.False(t, result.Success)
			assert.Equal(t, tt.wantErr, result.Error)
			assert.Equal(t, tt.wantTxHash, result.TxHash)
			assert.Equal(t, tt.wantStatuses, pub.statuses())

			final := pub.events[len(pub.events)-1]
			assert.Contains(t, final.ChatText, "Transfer failed")
			assert.Contains(t, final.ChatText, tt.wantErr)
		})
	}
}

func TestOrchestratorPublisherFailureDoesNotAbort(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("nats down")}
	result := testOrchestrator(&fakeSDK{}).Execute(context.Background(), &fakeSigner{txHash: "0xabc"}, testRequest(), pub)

	require.True(t, result.Success)
	assert.Len(t, pub.events, 6)
}

func TestIsUserRejection(t *testing.T) {
	assert.False(t, IsUserRejection(nil))
	assert.False(t, IsUserRejection(errors.New("connection refused")))
	assert.True(t, IsUserRejection(starknet.ErrUserRejected))
	assert.True(t, IsUserRejection(errors.New("Execute failed: User denied")))
}

type wrapErr struct{ inner error }

func (w *wrapErr) Error() string { return "execute: " + w.inner.Error() }
func (w *wrapErr) Unwrap() error { return w.inner }
