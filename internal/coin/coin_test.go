package coin

import (
	"math"
	"math/big"
	"testing"
)

func TestParse_ValidAmounts(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int64
	}{
		{"one coin", "1.00", 1_000_000},
		{"half coin", "0.50", 500_000},
		{"hundred", "100", 100_000_000},
		{"smallest unit", "0.000001", 1},
		{"short frac", "1.5", 1_500_000},
		{"six decimals", "1.123456", 1_123_456},
		{"leading zeros", "007.50", 7_500_000},
		{"truncates beyond six", "1.1234567890", 1_123_456},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.input)
			if !ok {
				t.Fatalf("Parse(%q) returned ok=false", tt.input)
			}
			if got.Int64() != tt.expected {
				t.Errorf("Parse(%q) = %d, want %d", tt.input, got.Int64(), tt.expected)
			}
		})
	}
}

func TestParse_InvalidInputs(t *testing.T) {
	for _, input := range []string{"-1.00", "-0", "abc", "1.2.3", "12abc"} {
		t.Run(input, func(t *testing.T) {
			if _, ok := Parse(input); ok {
				t.Errorf("Parse(%q) should return ok=false", input)
			}
		})
	}
}

func TestParse_EmptyString(t *testing.T) {
	got, ok := Parse("")
	if !ok {
		t.Fatal("Parse(\"\") returned ok=false")
	}
	if got.Sign() != 0 {
		t.Errorf("Parse(\"\") = %s, want 0", got.String())
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0.000000"},
		{1, "0.000001"},
		{1_000_000, "1.000000"},
		{1_500_000, "1.500000"},
		{-1_500_000, "-1.500000"},
		{999_999_999_999, "999999.999999"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			got := Format(big.NewInt(tt.input))
			if got != tt.expected {
				t.Errorf("Format(%d) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}

	if got := Format(nil); got != "0.000000" {
		t.Errorf("Format(nil) = %q, want \"0.000000\"", got)
	}
}

func TestRoundTrip_Canonical(t *testing.T) {
	for _, s := range []string{"0.000001", "1.000000", "100.123456", "999999.999999"} {
		t.Run(s, func(t *testing.T) {
			parsed, ok := Parse(s)
			if !ok {
				t.Fatalf("Parse(%q) returned ok=false", s)
			}
			if got := Format(parsed); got != s {
				t.Errorf("Format(Parse(%q)) = %q", s, got)
			}
		})
	}
}

func TestWholeUnits(t *testing.T) {
	// An amount whose coin count does not fit in uint64.
	huge := new(big.Int).Lsh(big.NewInt(1), 80)
	huge.Mul(huge, Unit)

	tests := []struct {
		name     string
		amount   *big.Int
		expected uint64
	}{
		{"nil", nil, 0},
		{"zero", big.NewInt(0), 0},
		{"negative", big.NewInt(-5_000_000), 0},
		{"below one unit", big.NewInt(999_999), 0},
		{"exactly one unit", big.NewInt(1_000_000), 1},
		{"truncates fraction", big.NewInt(2_750_000), 2},
		{"many units", big.NewInt(150_000_000), 150},
		{"max int64 base units", big.NewInt(math.MaxInt64), 9_223_372_036_854},
		{"saturates past uint64", huge, math.MaxUint64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WholeUnits(tt.amount); got != tt.expected {
				t.Errorf("WholeUnits(%v) = %d, want %d", tt.amount, got, tt.expected)
			}
		})
	}
}
