// Package starknet provides the narrow Starknet capabilities the transfer
// pipeline needs: a JSON-RPC provider that can await transaction
// confirmation, and a remote wallet-signer client that can execute call
// bundles. Neither reimplements wallet internals; both are thin clients over
// external services.
package starknet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultPollInterval = 3 * time.Second
	receiptNotFoundCode = 29 // TXN_HASH_NOT_FOUND per the Starknet RPC spec
)

// Provider is a minimal Starknet JSON-RPC client.
type Provider struct {
	rpcURL       string
	httpClient   *http.Client
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewProvider creates a provider for the given RPC endpoint. If httpClient
// is nil a default client with a 30s timeout is used.
func NewProvider(rpcURL string, httpClient *http.Client, logger *slog.Logger) *Provider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Provider{
		rpcURL:       rpcURL,
		httpClient:   httpClient,
		pollInterval: defaultPollInterval,
		logger:       logger,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int    `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// call performs a single JSON-RPC request and unmarshals the result into out.
func (p *Provider) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return fmt.Errorf("failed to marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.rpcURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rpc request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read rpc response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc endpoint returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed rpcResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return fmt.Errorf("failed to parse rpc response: %w", err)
	}
	if parsed.Error != nil {
		return parsed.Error
	}
	if out != nil {
		if err := json.Unmarshal(parsed.Result, out); err != nil {
			return fmt.Errorf("failed to parse rpc result: %w", err)
		}
	}
	return nil
}

// GetTransactionReceipt fetches the receipt for a transaction hash.
func (p *Provider) GetTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error) {
	var receipt TransactionReceipt
	if err := p.call(ctx, "starknet_getTransactionReceipt", []any{txHash}, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// WaitForTransaction polls the node until the transaction is accepted
// on-chain. A reverted transaction is an error. The wait has no internal
// timeout; cancellation comes from the caller's context.
func (p *Provider) WaitForTransaction(ctx context.Context, txHash string) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := p.GetTransactionReceipt(ctx, txHash)
		switch {
		case err == nil:
			switch receipt.ExecutionStatus {
			case "SUCCEEDED":
				p.logger.DebugContext(ctx, "transaction confirmed",
					"tx_hash", txHash,
					"finality", receipt.FinalityStatus,
				)
				return nil
			case "REVERTED":
				return fmt.Errorf("transaction %s reverted: %s", txHash, receipt.RevertReason)
			}
			// Still pending; fall through to the next tick.
		case isReceiptNotFound(err):
			// Not yet indexed by the node; keep polling.
		default:
			return fmt.Errorf("failed to fetch receipt for %s: %w", txHash, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func isReceiptNotFound(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == receiptNotFoundCode
}
