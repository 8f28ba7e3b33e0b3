package starknet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// userRefusedCode is the wallet error code for a declined signature request.
const userRefusedCode = 113 // USER_REFUSED_OP

// RemoteSigner executes call bundles through an external wallet-signer
// service and awaits confirmation through a Provider. It is the service-side
// stand-in for a connected wallet: signing happens out of process, and a
// declined signature surfaces as ErrUserRejected.
type RemoteSigner struct {
	baseURL    string
	httpClient *http.Client
	provider   *Provider
	logger     *slog.Logger
}

// NewRemoteSigner creates a signer client for the given wallet-signer
// service URL. The provider is used for confirmation waits.
func NewRemoteSigner(baseURL string, provider *Provider, httpClient *http.Client, logger *slog.Logger) *RemoteSigner {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &RemoteSigner{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		provider:   provider,
		logger:     logger,
	}
}

// Execute submits a call bundle for signature and execution. Blocks until
// the wallet owner approves or declines; the returned string is the
// transaction hash of the executed multicall.
func (s *RemoteSigner) Execute(ctx context.Context, calls []Call) (string, error) {
	body, err := json.Marshal(map[string]any{"calls": calls})
	if err != nil {
		return "", fmt.Errorf("failed to marshal call bundle: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/execute", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create execute request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("signer request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read signer response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error *RPCError `json:"error"`
		}
		if jsonErr := json.Unmarshal(respBody, &errResp); jsonErr == nil && errResp.Error != nil {
			if errResp.Error.Code == userRefusedCode {
				return "", fmt.Errorf("%w: %s", ErrUserRejected, errResp.Error.Message)
			}
			return "", errResp.Error
		}
		return "", fmt.Errorf("signer returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		TransactionHash string `json:"transaction_hash"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse signer response: %w", err)
	}
	if result.TransactionHash == "" {
		return "", fmt.Errorf("signer response missing transaction_hash")
	}

	s.logger.DebugContext(ctx, "call bundle executed", "tx_hash", result.TransactionHash, "calls", len(calls))
	return result.TransactionHash, nil
}

// WaitForTransaction blocks until the transaction is confirmed on-chain.
func (s *RemoteSigner) WaitForTransaction(ctx context.Context, txHash string) error {
	return s.provider.WaitForTransaction(ctx, txHash)
}
