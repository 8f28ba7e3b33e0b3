// Package intent turns free-text user messages into structured transaction
// intents. Classification is a deliberately simple ordered rule engine over
// keyword predicates and regular expressions, not an NLP pipeline; the
// confidence values are fixed per rule, not probabilistic.
package intent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/Web3Novalabs/Nixo/service/token"
	"github.com/shopspring/decimal"
)

// Type is the closed set of intent classifications.
type Type string

const (
	TypeTransfer Type = "transfer"
	TypeBalance  Type = "balance"
	TypeStatus   Type = "status"
	TypeHelp     Type = "help"
	TypeNone     Type = "none"
)

// Fixed confidence constants, one per detection rule.
const (
	ConfidenceFullTransfer    = 0.95
	ConfidencePartialTransfer = 0.7
	ConfidenceBalance         = 0.9
	ConfidenceStatus          = 0.8
	ConfidenceHelp            = 0.7
	ConfidenceNone            = 0.5
)

// TransferDetails carries the fields extracted for a transfer intent. Any
// field may be absent when the user under-specified the request; absence is
// a validation concern, not an extraction error.
type TransferDetails struct {
	Amount    *decimal.Decimal
	Token     token.Symbol
	Recipient string
}

// Complete reports whether all three transfer fields were extracted.
func (d *TransferDetails) Complete() bool {
	return d != nil && d.Amount != nil && d.Token != "" && d.Recipient != ""
}

// Intent is the structured interpretation of a user message. It is a tagged
// variant: Transfer is non-nil only when Type is TypeTransfer.
type Intent struct {
	Type       Type
	Confidence float64
	Transfer   *TransferDetails
}

// None is the fallback intent for messages that match no rule.
func None() Intent {
	return Intent{Type: TypeNone, Confidence: ConfidenceNone}
}

// Failed is the intent attached to a failed AI round trip.
func Failed() Intent {
	return Intent{Type: TypeNone, Confidence: 0}
}

// wireIntent is the flat JSON shape used on the chat stream:
// {"type": ..., "confidence": ..., "amount"?: <number>, "token"?, "recipient"?}.
type wireIntent struct {
	Type       Type            `json:"type"`
	Confidence float64         `json:"confidence"`
	Amount     json.RawMessage `json:"amount,omitempty"`
	Token      string          `json:"token,omitempty"`
	Recipient  string          `json:"recipient,omitempty"`
}

// MarshalJSON flattens the tagged variant into the wire shape. The amount is
// emitted as a bare JSON number, not a string.
func (i Intent) MarshalJSON() ([]byte, error) {
	w := wireIntent{Type: i.Type, Confidence: i.Confidence}
	if i.Type == TypeTransfer && i.Transfer != nil {
		if i.Transfer.Amount != nil {
			w.Amount = json.RawMessage(i.Transfer.Amount.String())
		}
		w.Token = string(i.Transfer.Token)
		w.Recipient = i.Transfer.Recipient
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the wire shape back into the tagged variant.
func (i *Intent) UnmarshalJSON(data []byte) error {
	var w wireIntent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	i.Type = w.Type
	i.Confidence = w.Confidence
	i.Transfer = nil
	if w.Type != TypeTransfer {
		return nil
	}
	details := &TransferDetails{
		Token:     token.Symbol(w.Token),
		Recipient: w.Recipient,
	}
	if len(w.Amount) > 0 {
		amt, err := decimal.NewFromString(string(w.Amount))
		if err != nil {
			return fmt.Errorf("invalid intent amount %q: %w", w.Amount, err)
		}
		details.Amount = &amt
	}
	i.Transfer = details
	return nil
}

var (
	// amountRegex matches the first decimal number in the message, with an
	// optional trailing symbol word ("10 USDC"). The symbol capture takes
	// priority over the standalone token match below.
	amountRegex = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([a-zA-Z]{2,6})?`)

	// tokenRegex matches the first standalone 2-6 letter word. This is a
	// crude fallback and can bind to a verb ("send") when no symbol follows
	// the amount; the validator rejects such symbols downstream.
	tokenRegex = regexp.MustCompile(`\b([a-zA-Z]{2,6})\b`)

	// recipientRegex matches a Starknet address anywhere in the message.
	recipientRegex = regexp.MustCompile(`0x[a-fA-F0-9]{63,64}`)
)

var (
	balanceKeywords  = []string{"balance", "how much", "check"}
	transferKeywords = []string{"send", "transfer", "pay", "gift"}
	statusKeywords   = []string{"status", "transaction", "hash"}
	helpKeywords     = []string{"help", "how", "what", "typhoon", "integrate", "developer"}
)

// rule pairs a predicate with a classification. Rules are evaluated in
// order; the first one that produces an intent wins.
type rule func(raw, lower string) (Intent, bool)

var rules = []rule{
	matchBalance,
	matchTransfer,
	matchStatus,
	matchHelp,
}

// Extract classifies a raw user message. It is a pure function of the
// message text. The assistant's own response text is intentionally not
// consulted: a transfer match in the user text must never be overridden by
// the model's phrasing.
func Extract(userMessage string) Intent {
	lower := strings.ToLower(userMessage)
	for _, r := range rules {
		if out, ok := r(userMessage, lower); ok {
			return out
		}
	}
	return None()
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func matchBalance(_, lower string) (Intent, bool) {
	if !containsAny(lower, balanceKeywords) {
		return Intent{}, false
	}
	return Intent{Type: TypeBalance, Confidence: ConfidenceBalance}, true
}

func matchTransfer(raw, lower string) (Intent, bool) {
	if !containsAny(lower, transferKeywords) {
		return Intent{}, false
	}

	details := &TransferDetails{}

	var symbolAfterAmount string
	if m := amountRegex.FindStringSubmatch(raw); m != nil {
		amt, err := decimal.NewFromString(m[1])
		if err == nil {
			details.Amount = &amt
		}
		symbolAfterAmount = m[2]
	}

	// Prefer the symbol attached to the amount; fall back to the first
	// standalone word. Unknown symbols are preserved uppercased so the
	// validator can name them in its rejection.
	if symbolAfterAmount != "" {
		details.Token = token.Normalize(symbolAfterAmount)
	} else if m := tokenRegex.FindStringSubmatch(raw); m != nil {
		details.Token = token.Normalize(m[1])
	}

	if m := recipientRegex.FindString(raw); m != "" {
		details.Recipient = m
	}

	if details.Complete() {
		return Intent{Type: TypeTransfer, Confidence: ConfidenceFullTransfer, Transfer: details}, true
	}
	if details.Amount != nil || details.Token != "" || details.Recipient != "" {
		return Intent{Type: TypeTransfer, Confidence: ConfidencePartialTransfer, Transfer: details}, true
	}

	// Transfer keyword with nothing extractable at all degrades to the
	// default classification.
	return None(), true
}

func matchStatus(_, lower string) (Intent, bool) {
	if !containsAny(lower, statusKeywords) {
		return Intent{}, false
	}
	return Intent{Type: TypeStatus, Confidence: ConfidenceStatus}, true
}

func matchHelp(_, lower string) (Intent, bool) {
	if !containsAny(lower, helpKeywords) {
		return Intent{}, false
	}
	return Intent{Type: TypeHelp, Confidence: ConfidenceHelp}, true
}
