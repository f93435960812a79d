// Package coin provides shared payment-amount parsing and formatting.
//
// Amounts use 6 decimal places and are stored as big.Int in the smallest
// unit (1 coin = 1,000,000 base units). One whole coin is also the reference
// amount for reputation scoring.
package coin

import (
	"math"
	"math/big"
	"strings"
)

const Decimals = 6

// Unit is one whole coin in base units, the reference amount used when
// converting transaction volume into reputation points.
var Unit = big.NewInt(1_000_000)

// Parse converts a decimal string (e.g. "1.50") to its smallest-unit
// big.Int representation (1500000). Returns (nil, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to 6 decimal places
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
// string with exactly 6 decimal places (e.g. "1.500000").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0.000000"
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

// WholeUnits returns floor(amount / Unit), the number of complete coins in
// an amount. Negative or nil amounts count as zero; counts beyond the
// uint64 range saturate at math.MaxUint64 rather than wrapping.
func WholeUnits(amount *big.Int) uint64 {
	if amount == nil || amount.Sign() <= 0 {
		return 0
	}
	q := new(big.Int).Quo(amount, Unit)
	if !q.IsUint64() {
		return math.MaxUint64
	}
	return q.Uint64()
}
