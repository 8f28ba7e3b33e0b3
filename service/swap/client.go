// Package swap quotes and executes token swaps through the AVNU
// aggregator. It is independent of the private-transfer flow and shares
// only the signing context with it.
package swap

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
	"time"

	"github.com/Web3Novalabs/Nixo/service/starknet"
	"github.com/Web3Novalabs/Nixo/service/token"
	"github.com/Web3Novalabs/Nixo/service/transfer"
	"github.com/shopspring/decimal"
)

// DefaultSlippage is the slippage fraction applied when the caller does
// not choose one (1%).
const DefaultSlippage = 0.01

// Params describes one requested swap in display units.
type Params struct {
	SellToken    token.Symbol
	BuyToken     token.Symbol
	SellAmount   decimal.Decimal
	TakerAddress string
}

// Quote is the best route AVNU offered for a Params.
type Quote struct {
	QuoteID    string   `json:"quote_id"`
	SellToken  string   `json:"sell_token"`
	BuyToken   string   `json:"buy_token"`
	SellAmount *big.Int `json:"sell_amount"`
	BuyAmount  *big.Int `json:"buy_amount"`
	Rate       float64  `json:"rate"`

	taker string
}

// Result is the outcome of an executed swap.
type Result struct {
	Success bool   `json:"success"`
	TxHash  string `json:"tx_hash,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client talks to the AVNU swap API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an AVNU client.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

type quoteResponse struct {
	QuoteID    string `json:"quoteId"`
	SellAmount string `json:"sellAmount"`
	BuyAmount  string `json:"buyAmount"`
}

// FetchQuote asks AVNU for routes and returns the best one, or nil when
// no route exists for the pair and amount.
func (c *Client) FetchQuote(ctx context.Context, params Params) (*Quote, error) {
	sellAddress, err := token.Address(params.SellToken)
	if err != nil {
		return nil, err
	}
	buyAddress, err := token.Address(params.BuyToken)
	if err != nil {
		return nil, err
	}
	sellAmount, err := token.ToMinorUnits(params.SellAmount, params.SellToken)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("sellTokenAddress", sellAddress)
	q.Set("buyTokenAddress", buyAddress)
	q.Set("sellAmount", fmt.Sprintf("0x%x", sellAmount))
	q.Set("takerAddress", params.TakerAddress)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/swap/v2/quotes?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read quote response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("AVNU API error (status %d): %s", resp.StatusCode, string(body))
	}

	var quotes []quoteResponse
	if err := json.Unmarshal(body, &quotes); err != nil {
		return nil, fmt.Errorf("failed to parse quotes: %w", err)
	}
	if len(quotes) == 0 {
		c.logger.DebugContext(ctx, "no swap route",
			"sell_token", params.SellToken,
			"buy_token", params.BuyToken,
		)
		return nil, nil
	}

	best := quotes[0]
	sell, ok := parseHexOrDecimal(best.SellAmount)
	if !ok {
		return nil, fmt.Errorf("invalid sellAmount in quote: %q", best.SellAmount)
	}
	buy, ok := parseHexOrDecimal(best.BuyAmount)
	if !ok {
		return nil, fmt.Errorf("invalid buyAmount in quote: %q", best.BuyAmount)
	}

	return &Quote{
		QuoteID:    best.QuoteID,
		SellToken:  sellAddress,
		BuyToken:   buyAddress,
		SellAmount: sell,
		BuyAmount:  buy,
		Rate:       Rate(sell, buy),
		taker:      params.TakerAddress,
	}, nil
}

type buildRequest struct {
	QuoteID      string  `json:"quoteId"`
	TakerAddress string  `json:"takerAddress"`
	Slippage     float64 `json:"slippage"`
}

type buildResponse struct {
	Calls []starknet.Call `json:"calls"`
}

// ExecuteSwap builds the calldata for a previously fetched quote and
// executes it through the signing context. It never returns an error;
// failures, including wallet rejection, are folded into the Result.
func (c *Client) ExecuteSwap(ctx context.Context, signer transfer.Signer, quote *Quote, slippage float64) *Result {
	if slippage <= 0 {
		slippage = DefaultSlippage
	}

	calls, err := c.buildCalls(ctx, quote, slippage)
	if err != nil {
		c.logger.ErrorContext(ctx, "swap build failed", "quote_id", quote.QuoteID, "error", err)
		return &Result{Success: false, Error: err.Error()}
	}

	txHash, err := signer.Execute(ctx, calls)
	if err != nil {
		if transfer.IsUserRejection(err) {
			return &Result{Success: false, Error: "Transaction rejected by user"}
		}
		c.logger.ErrorContext(ctx, "swap execution failed", "quote_id", quote.QuoteID, "error", err)
		return &Result{Success: false, Error: err.Error()}
	}

	c.logger.InfoContext(ctx, "swap executed", "quote_id", quote.QuoteID, "tx_hash", txHash)
	return &Result{Success: true, TxHash: txHash}
}

func (c *Client) buildCalls(ctx context.Context, quote *Quote, slippage float64) ([]starknet.Call, error) {
	payload, err := json.Marshal(buildRequest{
		QuoteID:      quote.QuoteID,
		TakerAddress: quote.taker,
		Slippage:     slippage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap/v2/build", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("build request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read build response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("AVNU API error (status %d): %s", resp.StatusCode, string(body))
	}

	var built buildResponse
	if err := json.Unmarshal(body, &built); err != nil {
		return nil, fmt.Errorf("failed to parse build response: %w", err)
	}
	if len(built.Calls) == 0 {
		return nil, fmt.Errorf("AVNU returned no calls for quote %s", quote.QuoteID)
	}
	return built.Calls, nil
}

// Rate is the buy/sell price ratio in minor units.
func Rate(sellAmount, buyAmount *big.Int) float64 {
	if sellAmount.Sign() == 0 {
		return 0
	}
	sell := new(big.Float).SetInt(sellAmount)
	buy := new(big.Float).SetInt(buyAmount)
	rate, _ := new(big.Float).Quo(buy, sell).Float64()
	return rate
}

// FormatAmount renders a minor-unit amount in display units with four
// fractional digits.
func FormatAmount(amount *big.Int, s token.Symbol) string {
	display, err := token.FromMinorUnits(amount, s)
	if err != nil {
		return amount.String()
	}
	return display.StringFixed(4)
}

func parseHexOrDecimal(s string) (*big.Int, bool) {
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return new(big.Int).SetString(s[2:], 16)
	}
	return new(big.Int).SetString(s, 10)
}
