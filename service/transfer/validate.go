package transfer

import (
	"fmt"

	"github.com/Web3Novalabs/Nixo/service/intent"
	"github.com/Web3Novalabs/Nixo/service/token"
	"github.com/shopspring/decimal"
)

// MinimumAmount is the smallest transferable amount in display units,
// inclusive. The privacy pool rejects smaller deposits.
var MinimumAmount = decimal.NewFromInt(10)

// ValidationError is a business-rule rejection of a candidate transfer.
// It is recoverable: the user re-issues a corrected request.
type ValidationError struct {
	Rule   string // "token", "amount", "balance", "recipient"
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func validationErr(rule, format string, args ...any) *ValidationError {
	return &ValidationError{Rule: rule, Reason: fmt.Sprintf(format, args...)}
}

// Validate applies the business rules to a candidate transfer and returns
// the first blocking reason, checked in priority order: token validity,
// minimum amount, balance sufficiency, address format. This is the strict
// variant used at execution time. balance may be nil when the wallet
// collaborator reported no holdings for the token.
func Validate(d *intent.TransferDetails, balance *token.Balance) error {
	if err := checkToken(d); err != nil {
		return err
	}
	if err := checkAmount(d); err != nil {
		return err
	}
	if err := checkBalance(d, balance); err != nil {
		return err
	}
	return checkRecipient(d)
}

// ValidateAll applies every business rule independently and returns all
// failures. Used for richer user-facing diagnostics; an empty slice means
// the transfer is valid.
func ValidateAll(d *intent.TransferDetails, balance *token.Balance) []error {
	var errs []error
	for _, check := range []func() error{
		func() error { return checkToken(d) },
		func() error { return checkAmount(d) },
		func() error { return checkBalance(d, balance) },
		func() error { return checkRecipient(d) },
	} {
		if err := check(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func checkToken(d *intent.TransferDetails) error {
	if d.Token == "" {
		return validationErr("token", "token is required (STRK, USDC, or USDT)")
	}
	if !token.IsTransferable(d.Token) {
		return validationErr("token", "unsupported token %s: only STRK, USDC and USDT can be transferred", d.Token)
	}
	return nil
}

func checkAmount(d *intent.TransferDetails) error {
	if d.Amount == nil {
		return validationErr("amount", "transfer amount is required")
	}
	if d.Amount.LessThan(MinimumAmount) {
		return validationErr("amount", "minimum transfer amount is 10 %s", d.Token)
	}
	return nil
}

func checkBalance(d *intent.TransferDetails, balance *token.Balance) error {
	if d.Amount == nil {
		// Nothing to compare; the amount check already reported it.
		return nil
	}
	held := decimal.Zero
	if balance != nil {
		amt, err := balance.Amount()
		if err != nil {
			return validationErr("balance", "could not read your %s balance", d.Token)
		}
		held = amt
	}
	if held.LessThan(*d.Amount) {
		return validationErr("balance", "insufficient %s balance: you have %s %s", d.Token, held.String(), d.Token)
	}
	return nil
}

func checkRecipient(d *intent.TransferDetails) error {
	if d.Recipient == "" {
		return validationErr("recipient", "recipient address is required")
	}
	if !token.ValidAddress(d.Recipient) {
		return validationErr("recipient", "invalid Starknet address format")
	}
	return nil
}
