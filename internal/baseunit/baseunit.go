// Package baseunit provides shared parsing and formatting for economic
// amounts.
//
// The ledger's base economic unit carries 9 decimal places. All amounts
// are stored as big.Int in the smallest unit (1 base unit = 1e9 smallest
// units); risk thresholds and API inputs are expressed in base units.
package baseunit

import (
	"math/big"
	"strings"
)

const Decimals = 9

// Scale is the number of smallest units per base unit (10^Decimals).
var Scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// Parse converts a decimal string (e.g. "1.50") to its smallest-unit
// big.Int representation. Returns (nil, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to 9 decimal places
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	return result, ok
}

// Format converts a smallest-unit big.Int to a human-readable decimal
// string with exactly 9 decimal places (e.g. "1.500000000").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0." + strings.Repeat("0", Decimals)
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	decimal := len(s) - Decimals
	result := s[:decimal] + "." + s[decimal:]
	if neg {
		result = "-" + result
	}
	return result
}

// FromBase converts a whole number of base units to smallest units.
func FromBase(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), Scale)
}
