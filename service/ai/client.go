package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Web3Novalabs/Nixo/service/intent"
	"github.com/Web3Novalabs/Nixo/service/metrics"
	"github.com/Web3Novalabs/Nixo/service/token"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultModel       = "gpt-4o-mini"
	defaultTemperature = 0.7
	defaultMaxTokens   = 1000

	// apologyMessage is what the user sees when the completion API is
	// unreachable or returns garbage. The chat keeps working; only this
	// turn degrades.
	apologyMessage = "I'm having trouble processing your request right now. Please try again."

	// emptyCompletionMessage covers a 200 response with no content.
	emptyCompletionMessage = "I'm sorry, I couldn't process that request."
)

// Response is one completed assistant turn.
type Response struct {
	Message string        `json:"message"`
	Intent  intent.Intent `json:"intent"`
}

// Config holds the OpenAI client settings.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Client talks to the OpenAI chat completions endpoint.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewClient creates an OpenAI chat client.
func NewClient(cfg Config, m *metrics.Metrics, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		metrics: m,
		logger:  logger,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Respond generates a complete assistant reply for one user message. It
// never returns an error: failures degrade to a fixed apology with a
// zero-confidence intent so the conversation survives an API outage.
func (c *Client) Respond(ctx context.Context, userMessage, walletAddress string, balances []token.Balance) *Response {
	start := time.Now()

	content, err := c.complete(ctx, userMessage, walletAddress, balances)
	c.metrics.RecordAIRequest("buffered", outcomeLabel(err), time.Since(start).Seconds())
	if err != nil {
		c.logger.ErrorContext(ctx, "AI completion failed", "error", err)
		return &Response{Message: apologyMessage, Intent: intent.Failed()}
	}
	if content == "" {
		content = emptyCompletionMessage
	}

	extracted := intent.Extract(userMessage)
	c.metrics.RecordIntentExtracted(string(extracted.Type))

	return &Response{Message: content, Intent: extracted}
}

// Stream generates an assistant reply incrementally, invoking onFragment
// for each content delta in arrival order. The returned intent is
// extracted once the stream is complete. On API failure it emits a single
// apology fragment naming the error and returns a zero-confidence intent;
// an onFragment error aborts the stream and is returned as-is.
func (c *Client) Stream(ctx context.Context, userMessage, walletAddress string, balances []token.Balance, onFragment func(string) error) (intent.Intent, error) {
	start := time.Now()

	fragments, err := c.streamCompletion(ctx, userMessage, walletAddress, balances, onFragment)
	c.metrics.RecordAIRequest("streaming", outcomeLabel(err), time.Since(start).Seconds())
	c.metrics.RecordStreamFragments(c.model, fragments)

	if err != nil {
		var fragErr *fragmentError
		if errors.As(err, &fragErr) {
			return intent.Failed(), fragErr.inner
		}
		c.logger.ErrorContext(ctx, "AI streaming failed", "error", err)
		apology := fmt.Sprintf("I'm having trouble processing your request. Error: %s", err.Error())
		if ferr := onFragment(apology); ferr != nil {
			return intent.Failed(), ferr
		}
		return intent.Failed(), nil
	}

	extracted := intent.Extract(userMessage)
	c.metrics.RecordIntentExtracted(string(extracted.Type))
	return extracted, nil
}

func (c *Client) complete(ctx context.Context, userMessage, walletAddress string, balances []token.Balance) (string, error) {
	resp, err := c.post(ctx, chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildContextMessage(userMessage, walletAddress, balances)},
		},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	})
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", nil
	}
	return parsed.Choices[0].Message.Content, nil
}

// fragmentError marks an error surfaced by the caller's onFragment, which
// must propagate instead of degrading to an apology.
type fragmentError struct{ inner error }

func (e *fragmentError) Error() string { return e.inner.Error() }
func (e *fragmentError) Unwrap() error { return e.inner }

func (c *Client) streamCompletion(ctx context.Context, userMessage, walletAddress string, balances []token.Balance, onFragment func(string) error) (int, error) {
	resp, err := c.post(ctx, chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildContextMessage(userMessage, walletAddress, balances)},
		},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
		Stream:      true,
	})
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	fragments := 0
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			// Malformed keepalive or vendor extension; skip it.
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		if err := onFragment(content); err != nil {
			return fragments, &fragmentError{inner: err}
		}
		fragments++
	}
	if err := scanner.Err(); err != nil {
		return fragments, fmt.Errorf("stream read failed: %w", err)
	}
	return fragments, nil
}

func (c *Client) post(ctx context.Context, reqBody chatRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("OpenAI API error (status %d): %s", resp.StatusCode, string(body))
	}
	return resp, nil
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
