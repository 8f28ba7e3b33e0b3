// Package token holds the fixed registry of tokens the service can move:
// Starknet mainnet contract addresses, decimal counts, and the helpers for
// converting display-unit amounts into on-chain minor units.
package token

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Symbol identifies a supported token.
type Symbol string

const (
	STRK Symbol = "STRK"
	USDC Symbol = "USDC"
	USDT Symbol = "USDT"

	// ETH is accepted for swap flows only; it is not transferable through
	// the privacy pipeline.
	ETH Symbol = "ETH"
)

// Addresses maps symbols to their Starknet mainnet contract addresses.
// These are fixed constants, not runtime configuration.
var Addresses = map[Symbol]string{
	STRK: "0x04718f5a0fc34cc1af16a1cdee98ffb20c31f5cd61d6ab07201858f4287c938d",
	USDC: "0x053c91253bc9682c04929ca02ed00b3e423f6710d2ee7e0d5ebb06f3ecf368a8",
	USDT: "0x068f5c6a61780768455de69077e07e89787839bf8166decfbf92b645209c0fb8",
	ETH:  "0x049d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7",
}

// Decimals maps symbols to their on-chain decimal counts.
var Decimals = map[Symbol]int32{
	STRK: 18,
	USDC: 6,
	USDT: 6,
	ETH:  18,
}

// transferable is the whitelist for the private transfer flow.
var transferable = map[Symbol]bool{
	STRK: true,
	USDC: true,
	USDT: true,
}

// addressRegex matches a full Starknet address: 0x followed by 63 or 64 hex
// digits. Anchored, so partial matches within a longer string do not pass.
var addressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{63,64}$`)

// IsTransferable reports whether the symbol is in the transfer whitelist.
func IsTransferable(s Symbol) bool {
	return transferable[Normalize(string(s))]
}

// Normalize uppercases a raw symbol string. Unknown symbols survive
// normalization unchanged so the validator can name them in its error.
func Normalize(raw string) Symbol {
	return Symbol(strings.ToUpper(strings.TrimSpace(raw)))
}

// Address returns the contract address for a symbol.
func Address(s Symbol) (string, error) {
	addr, ok := Addresses[s]
	if !ok {
		return "", fmt.Errorf("unknown token %q", s)
	}
	return addr, nil
}

// ValidAddress reports whether addr is a well-formed Starknet address.
func ValidAddress(addr string) bool {
	return addressRegex.MatchString(addr)
}

// ToMinorUnits converts a display-unit amount to integer minor units using
// the token's decimal count: floor(amount * 10^decimals).
func ToMinorUnits(amount decimal.Decimal, s Symbol) (*big.Int, error) {
	dec, ok := Decimals[s]
	if !ok {
		return nil, fmt.Errorf("unknown token %q", s)
	}
	return amount.Shift(dec).Floor().BigInt(), nil
}

// FromMinorUnits converts integer minor units back to a display-unit amount.
func FromMinorUnits(minor *big.Int, s Symbol) (decimal.Decimal, error) {
	dec, ok := Decimals[s]
	if !ok {
		return decimal.Zero, fmt.Errorf("unknown token %q", s)
	}
	return decimal.NewFromBigInt(minor, 0).Shift(-dec), nil
}
