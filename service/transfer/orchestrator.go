// Package transfer implements the private-transfer pipeline: business-rule
// validation of a candidate transfer, and the fixed five-step orchestration
// against the Typhoon and wallet collaborators with progress events
// published to independent observers.
package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/Web3Novalabs/Nixo/service/metrics"
	"github.com/Web3Novalabs/Nixo/service/starknet"
	"github.com/Web3Novalabs/Nixo/service/token"
	"github.com/shopspring/decimal"
)

// PrivacySDK is the Typhoon collaborator consumed as an opaque capability.
type PrivacySDK interface {
	GenerateApproveAndDepositCalls(ctx context.Context, amount *big.Int, tokenAddress string) ([]starknet.Call, error)
	DownloadNotes(ctx context.Context, txHash string) (json.RawMessage, error)
	Withdraw(ctx context.Context, txHash string, recipients []string) (json.RawMessage, error)
}

// Signer is the wallet-connected signing context able to execute call
// bundles and await their confirmation.
type Signer interface {
	Execute(ctx context.Context, calls []starknet.Call) (string, error)
	WaitForTransaction(ctx context.Context, txHash string) error
}

// Request is one validated transfer. The caller is responsible for
// validation and for the single-flight guard; the orchestrator trusts its
// input but still handles collaborator failure at every step.
type Request struct {
	SessionID string
	Amount    decimal.Decimal
	Token     token.Symbol
	Recipient string
}

// Result is the terminal outcome of a pipeline run.
type Result struct {
	Success bool   `json:"success"`
	TxHash  string `json:"tx_hash,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Orchestrator drives the five-step transfer pipeline:
// generating → signing → downloading → confirming → withdrawing.
// There is no retry and no rollback; a failed transfer is recovered
// out-of-band via the recovery note downloaded in step three.
type Orchestrator struct {
	sdk     PrivacySDK
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewOrchestrator creates a transfer orchestrator.
func NewOrchestrator(sdk PrivacySDK, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{sdk: sdk, metrics: m, logger: logger}
}

// Execute runs the pipeline for one transfer, publishing a progress event
// before each step and a terminal event at the end. It never returns an
// error: every failure is classified and folded into the Result. Not
// reentrant-safe; the caller must ensure single-flight invocation.
func (o *Orchestrator) Execute(ctx context.Context, signer Signer, req Request, pub Publisher) *Result {
	if pub == nil {
		pub = NopPublisher{}
	}

	o.logger.InfoContext(ctx, "starting transfer",
		"session_id", req.SessionID,
		"token", req.Token,
		"amount", req.Amount.String(),
		"recipient", shortAddress(req.Recipient),
	)

	txHash, err := o.run(ctx, signer, req, pub)
	if err != nil {
		return o.fail(ctx, req, pub, txHash, err)
	}

	o.publish(ctx, pub, &Event{
		SessionID: req.SessionID,
		Status:    StatusSuccess,
		Message:   StatusSuccess.Message(),
		ChatText:  successChatText(req, txHash),
		TxHash:    txHash,
	})

	o.metrics.RecordTransferOutcome(string(req.Token), "success")
	o.logger.InfoContext(ctx, "transfer complete", "session_id", req.SessionID, "tx_hash", txHash)

	return &Result{Success: true, TxHash: txHash}
}

// run executes the five steps in order and returns the deposit transaction
// hash. The hash is returned even on failure so the error path can name it.
func (o *Orchestrator) run(ctx context.Context, signer Signer, req Request, pub Publisher) (string, error) {
	// Step 1: generate the approve+deposit call bundle.
	o.emit(ctx, pub, req, StatusGenerating, generatingChatText(req), "")

	tokenAddress, err := token.Address(req.Token)
	if err != nil {
		return "", err
	}
	minorUnits, err := token.ToMinorUnits(req.Amount, req.Token)
	if err != nil {
		return "", err
	}

	calls, err := step(o, StatusGenerating, func() ([]starknet.Call, error) {
		return o.sdk.GenerateApproveAndDepositCalls(ctx, minorUnits, tokenAddress)
	})
	if err != nil {
		return "", err
	}

	// Step 2: the wallet owner signs and executes the deposit.
	o.emit(ctx, pub, req, StatusSigning, "Please confirm the transaction in your wallet.", "")

	txHash, err := step(o, StatusSigning, func() (string, error) {
		return signer.Execute(ctx, calls)
	})
	if err != nil {
		return "", err
	}

	// Step 3: download the recovery note. The payload is discarded here;
	// requesting it is what matters, since it is the user's only way to
	// finish an interrupted transfer.
	o.emit(ctx, pub, req, StatusDownloading, downloadingChatText(txHash), txHash)

	if _, err := step(o, StatusDownloading, func() (json.RawMessage, error) {
		return o.sdk.DownloadNotes(ctx, txHash)
	}); err != nil {
		return txHash, err
	}

	// Step 4: wait for the deposit to be confirmed on-chain.
	o.emit(ctx, pub, req, StatusConfirming, "Waiting for on-chain confirmation...", txHash)

	if _, err := step(o, StatusConfirming, func() (struct{}, error) {
		return struct{}{}, signer.WaitForTransaction(ctx, txHash)
	}); err != nil {
		return txHash, err
	}

	// Step 5: withdraw the deposited funds to the recipient.
	o.emit(ctx, pub, req, StatusWithdrawing, "Deposit confirmed. Completing the anonymous withdrawal...", txHash)

	if _, err := step(o, StatusWithdrawing, func() (json.RawMessage, error) {
		return o.sdk.Withdraw(ctx, txHash, []string{req.Recipient})
	}); err != nil {
		return txHash, err
	}

	return txHash, nil
}

// step times one external call and records its duration.
func step[T any](o *Orchestrator, s Status, fn func() (T, error)) (T, error) {
	start := time.Now()
	out, err := fn()
	o.metrics.RecordTransferStep(string(s), time.Since(start).Seconds())
	return out, err
}

func (o *Orchestrator) emit(ctx context.Context, pub Publisher, req Request, s Status, chatText, txHash string) {
	o.publish(ctx, pub, &Event{
		SessionID: req.SessionID,
		Status:    s,
		Message:   s.Message(),
		ChatText:  chatText,
		TxHash:    txHash,
	})
}

func (o *Orchestrator) publish(ctx context.Context, pub Publisher, event *Event) {
	event.At = time.Now().UTC()
	if err := pub.PublishTransferEvent(ctx, event); err != nil {
		// Observer failure must not abort the pipeline.
		o.logger.WarnContext(ctx, "failed to publish transfer event",
			"session_id", event.SessionID,
			"status", event.Status,
			"error", err,
		)
	}
}

// fail classifies the error, publishes the terminal error event, and folds
// everything into the Result.
func (o *Orchestrator) fail(ctx context.Context, req Request, pub Publisher, txHash string, err error) *Result {
	var chatText string
	var outcome string

	if IsUserRejection(err) {
		outcome = "rejected"
		chatText = "**Transfer cancelled**\n\nYou rejected the transaction in your wallet. No funds were moved."
	} else {
		outcome = "error"
		chatText = fmt.Sprintf("❌ **Transfer failed**\n\n%s\n\nPlease try again.", err.Error())
	}

	o.publish(ctx, pub, &Event{
		SessionID: req.SessionID,
		Status:    StatusError,
		Message:   fmt.Sprintf("Transfer failed: %s", err.Error()),
		ChatText:  chatText,
		TxHash:    txHash,
	})

	o.metrics.RecordTransferOutcome(string(req.Token), outcome)
	o.logger.ErrorContext(ctx, "transfer failed",
		"session_id", req.SessionID,
		"outcome", outcome,
		"error", err,
	)

	return &Result{Success: false, TxHash: txHash, Error: err.Error()}
}

// rejectionMarkers are the wallet-rejection phrases seen across connector
// implementations.
var rejectionMarkers = []string{
	"rejected",
	"user denied",
	"user_refused_op",
	"user abort",
}

// IsUserRejection reports whether the error represents the wallet owner
// declining to sign, as opposed to an infrastructure failure.
func IsUserRejection(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, starknet.ErrUserRejected) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rejectionMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func generatingChatText(req Request) string {
	return fmt.Sprintf("🔒 **Starting private transfer**\n\nSending %s %s to %s via Typhoon.",
		req.Amount.String(), req.Token, shortAddress(req.Recipient))
}

func downloadingChatText(txHash string) string {
	return fmt.Sprintf("Transaction `%s` submitted. Downloading your recovery note. Keep it safe in case the transfer is interrupted.",
		shortAddress(txHash))
}

func successChatText(req Request, txHash string) string {
	return fmt.Sprintf("✅ **Transfer complete!**\n\n%s %s sent privately to %s.\n\nTransaction hash: `%s`",
		req.Amount.String(), req.Token, shortAddress(req.Recipient), txHash)
}

// shortAddress abbreviates a hex address or hash for display.
func shortAddress(addr string) string {
	if len(addr) <= 13 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}
