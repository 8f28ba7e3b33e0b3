package token

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Balance is an externally-supplied token balance in display units. The
// wallet collaborator owns balance fetching; this service only reads these
// values.
type Balance struct {
	Token   string `json:"token"`
	Balance string `json:"balance"`
}

// Amount parses the balance string into a decimal.
func (b Balance) Amount() (decimal.Decimal, error) {
	amt, err := decimal.NewFromString(b.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid balance %q for %s: %w", b.Balance, b.Token, err)
	}
	return amt, nil
}

// FindBalance returns the balance entry for a symbol, or nil when the list
// has no entry for it. Matching is case-insensitive.
func FindBalance(balances []Balance, s Symbol) *Balance {
	for i := range balances {
		if Normalize(balances[i].Token) == Normalize(string(s)) {
			return &balances[i]
		}
	}
	return nil
}
