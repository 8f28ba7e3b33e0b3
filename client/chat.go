// Package client is the Go client for the Nixo chat service. It speaks
// both wire protocols the server exposes: the chat SSE stream and the
// NATS-backed transfer event stream.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Web3Novalabs/Nixo/service/intent"
	"github.com/Web3Novalabs/Nixo/service/token"
	"github.com/Web3Novalabs/Nixo/service/transfer"
)

// ChatResult is the outcome of one chat round trip: the assembled
// assistant reply and the intent the server derived from the message.
type ChatResult struct {
	SessionID string
	Message   string
	Intent    intent.Intent
}

// Client is the HTTP client for the Nixo chat service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new chat service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		// No client timeout: the SSE endpoints are long-lived. Callers
		// bound individual requests with their context.
		httpClient = &http.Client{}
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

// Chat sends one message and consumes the SSE reply stream. onFragment,
// when non-nil, observes each content fragment as it arrives; the full
// reply is also assembled into the result. An empty sessionID starts a
// new conversation; the result carries the server-assigned ID.
func (c *Client) Chat(ctx context.Context, sessionID, message, walletAddress string, balances []token.Balance, onFragment func(string)) (*ChatResult, error) {
	reqBody := map[string]interface{}{
		"message": message,
	}
	if sessionID != "" {
		reqBody["session_id"] = sessionID
	}
	if walletAddress != "" {
		reqBody["wallet_address"] = walletAddress
	}
	if len(balances) > 0 {
		reqBody["balances"] = balances
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	result := &ChatResult{
		SessionID: resp.Header.Get("X-Session-Id"),
		Intent:    intent.None(),
	}

	var reply strings.Builder
	err = consumeSSE(resp.Body, func(_, data string) error {
		if data == "[DONE]" {
			return errStreamDone
		}
		var frame struct {
			Content *string        `json:"content"`
			Intent  *intent.Intent `json:"intent"`
		}
		if uerr := json.Unmarshal([]byte(data), &frame); uerr != nil {
			// Unparseable frames are skipped, not fatal.
			c.logger.Debug("skipping malformed SSE frame", "data", data)
			return nil
		}
		if frame.Content != nil {
			reply.WriteString(*frame.Content)
			if onFragment != nil {
				onFragment(*frame.Content)
			}
		}
		if frame.Intent != nil {
			result.Intent = *frame.Intent
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read chat stream: %w", err)
	}

	result.Message = reply.String()
	return result, nil
}

// TransferResult is the server's response to a transfer execution request.
type TransferResult struct {
	Success          bool     `json:"success"`
	TxHash           string   `json:"tx_hash,omitempty"`
	Error            string   `json:"error,omitempty"`
	ValidationErrors []string `json:"validation_errors,omitempty"`
}

// ExecuteTransfer asks the server to execute the session's pending
// transfer intent. Validation failure is reported in the result, not as
// an error; an error means the request itself could not be carried out.
func (c *Client) ExecuteTransfer(ctx context.Context, sessionID string, balances []token.Balance) (*TransferResult, error) {
	reqBody := map[string]interface{}{
		"session_id": sessionID,
	}
	if len(balances) > 0 {
		reqBody["balances"] = balances
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusUnprocessableEntity {
		return nil, c.parseErrorResponse(resp)
	}

	var result TransferResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

// StreamTransferEvents subscribes to a session's transfer progress events
// and delivers each one to handler. It blocks until the context is
// cancelled or the server closes the stream.
func (c *Client) StreamTransferEvents(ctx context.Context, sessionID string, handler func(*transfer.Event)) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/stream/transfers/"+sessionID, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	err = consumeSSE(resp.Body, func(eventName, data string) error {
		if eventName != "status" {
			// connected / error frames carry no transfer payload
			return nil
		}
		var event transfer.Event
		if uerr := json.Unmarshal([]byte(data), &event); uerr != nil {
			c.logger.Debug("skipping malformed transfer event", "data", data)
			return nil
		}
		handler(&event)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to read event stream: %w", err)
	}
	return nil
}

// Message is one transcript entry as returned by the server.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Messages fetches a session's transcript.
func (c *Client) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/sessions/"+sessionID+"/messages", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var response struct {
		Messages []Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return response.Messages, nil
}

// Health checks the server health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// errStreamDone signals normal end-of-stream to consumeSSE.
var errStreamDone = fmt.Errorf("stream done")

// consumeSSE reads a server-sent event stream line by line and invokes fn
// once per data line with the preceding event name, if any. Comment lines
// (keepalives) are ignored. Returning errStreamDone from fn ends the
// stream without error.
func consumeSSE(r io.Reader, fn func(eventName, data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var eventName string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			eventName = ""
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		case strings.HasPrefix(line, "event: "):
			eventName = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if err := fn(eventName, strings.TrimPrefix(line, "data: ")); err != nil {
				if err == errStreamDone {
					return nil
				}
				return err
			}
		}
	}
	return scanner.Err()
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
