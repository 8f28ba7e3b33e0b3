// Package typhoon is a thin client for the Typhoon privacy-transfer API.
// The protocol internals (proof generation, note handling, withdrawal
// circuits) are entirely the collaborator's concern; this package only
// carries the three calls the transfer pipeline needs.
package typhoon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Web3Novalabs/Nixo/service/starknet"
)

// Client talks to a Typhoon API endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Typhoon API client. If httpClient is nil a default
// client is used; note generation and withdrawal involve proof work on the
// collaborator side, so the default timeout is generous.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// GenerateApproveAndDepositCalls requests the approve+deposit call bundle
// for the given minor-unit amount and token contract address.
func (c *Client) GenerateApproveAndDepositCalls(ctx context.Context, amount *big.Int, tokenAddress string) ([]starknet.Call, error) {
	reqBody := map[string]any{
		"amount":        amount.String(),
		"token_address": tokenAddress,
	}

	var result struct {
		Calls []starknet.Call `json:"calls"`
	}
	if err := c.post(ctx, "/v1/deposit/calls", reqBody, &result); err != nil {
		return nil, fmt.Errorf("failed to generate deposit calls: %w", err)
	}
	if len(result.Calls) == 0 {
		return nil, fmt.Errorf("typhoon returned an empty call bundle")
	}

	c.logger.DebugContext(ctx, "generated deposit calls",
		"token", tokenAddress,
		"amount", amount.String(),
		"calls", len(result.Calls),
	)
	return result.Calls, nil
}

// DownloadNotes requests the recovery note for a deposit transaction. The
// note is what lets the user complete an interrupted transfer out-of-band;
// persistence is the collaborator's responsibility, and the pipeline must
// request it even though nothing downstream depends on the payload.
func (c *Client) DownloadNotes(ctx context.Context, txHash string) (json.RawMessage, error) {
	var note json.RawMessage
	path := "/v1/notes/" + url.PathEscape(txHash)
	if err := c.get(ctx, path, &note); err != nil {
		return nil, fmt.Errorf("failed to download recovery note: %w", err)
	}
	c.logger.DebugContext(ctx, "downloaded recovery note", "tx_hash", txHash)
	return note, nil
}

// Withdraw asks Typhoon to complete the private transfer by withdrawing the
// deposited funds to the recipients.
func (c *Client) Withdraw(ctx context.Context, txHash string, recipients []string) (json.RawMessage, error) {
	reqBody := map[string]any{
		"tx_hash":    txHash,
		"recipients": recipients,
	}

	var receipt json.RawMessage
	if err := c.post(ctx, "/v1/withdraw", reqBody, &receipt); err != nil {
		return nil, fmt.Errorf("failed to withdraw: %w", err)
	}
	c.logger.DebugContext(ctx, "withdrawal submitted", "tx_hash", txHash, "recipients", len(recipients))
	return receipt, nil
}

func (c *Client) post(ctx context.Context, path string, reqBody any, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error string `json:"error"`
		}
		if jsonErr := json.Unmarshal(respBody, &errResp); jsonErr == nil && errResp.Error != "" {
			return fmt.Errorf("typhoon api error: %s", errResp.Error)
		}
		return fmt.Errorf("typhoon api returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
