// Package ai generates assistant replies via the OpenAI chat completions
// API, in both buffered and streaming form, and pairs each reply with the
// intent extracted from the user's message. The package degrades rather
// than fails: API errors surface to the user as a fixed apology with a
// zero-confidence intent.
package ai

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/Web3Novalabs/Nixo/service/token"
)

// systemPrompt defines the assistant's persona, the supported tokens, and
// the canned integration guides it serves verbatim.
//
//go:embed system_prompt.md
var systemPrompt string

// buildContextMessage prefixes the user's message with wallet context so
// the model can answer balance questions without a tool round-trip. Without
// a connected wallet the message passes through bare.
func buildContextMessage(userMessage, walletAddress string, balances []token.Balance) string {
	if walletAddress == "" {
		return fmt.Sprintf("User message: %s", userMessage)
	}

	balanceText := "Not available"
	if len(balances) > 0 {
		parts := make([]string, 0, len(balances))
		for _, b := range balances {
			parts = append(parts, fmt.Sprintf("%s: %s", b.Token, b.Balance))
		}
		balanceText = strings.Join(parts, ", ")
	}

	return fmt.Sprintf("User's wallet: %s\nCurrent balances: %s\n\nUser message: %s",
		walletAddress, balanceText, userMessage)
}
