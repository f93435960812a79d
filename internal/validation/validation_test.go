package validation

import (
	"testing"
)

func TestIsValidAddress(t *testing.T) {
	tests := []struct {
		addr  string
		valid bool
	}{
		{"0x1234567890123456789012345678901234567890", true},
		{"0xabcdefABCDEF1234567890123456789012345678", true},
		{"0x0000000000000000000000000000000000000000", true},

		{"1234567890123456789012345678901234567890", false},     // No 0x
		{"0x12345678901234567890123456789012345678", false},     // Too short
		{"0x123456789012345678901234567890123456789012", false}, // Too long
		{"0x123456789012345678901234567890123456789g", false},   // Bad hex
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			if got := IsValidAddress(tt.addr); got != tt.valid {
				t.Errorf("IsValidAddress(%q) = %v, want %v", tt.addr, got, tt.valid)
			}
		})
	}
}

func TestIsValidTokenID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"0", true},
		{"1", true},
		{"123456789012345678901234567890", true},
		{"", false},
		{"-1", false},
		{"0x1f", false},
		{"12a", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := IsValidTokenID(tt.id); got != tt.valid {
				t.Errorf("IsValidTokenID(%q) = %v, want %v", tt.id, got, tt.valid)
			}
		})
	}
}

func TestSanitizeAddress(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"  0xABCdef1234567890123456789012345678901234  ", "0xabcdef1234567890123456789012345678901234"},
		{"abcdef1234567890123456789012345678901234", "0xabcdef1234567890123456789012345678901234"},
		{"0x1234567890123456789012345678901234567890", "0x1234567890123456789012345678901234567890"},
	}

	for _, tt := range tests {
		if got := SanitizeAddress(tt.in); got != tt.expected {
			t.Errorf("SanitizeAddress(%q) = %q, want %q", tt.in, got, tt.expected)
		}
	}
}

func TestValidAmount(t *testing.T) {
	valid := []string{"1", "0.5", "1.25", "100.000001", "0.000001"}
	for _, v := range valid {
		if err := ValidAmount("amount", v)(); err != nil {
			t.Errorf("ValidAmount(%q) = %v, want nil", v, err)
		}
	}

	// "0.0000001" is below coin resolution and would truncate to zero.
	invalid := []string{"0", "0.000000", "-1", "1.2.3", ".5", "5.", "abc", "0.0000001", "1.0000000"}
	for _, v := range invalid {
		if err := ValidAmount("amount", v)(); err == nil {
			t.Errorf("ValidAmount(%q) = nil, want error", v)
		}
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	errs := Validate(
		Required("seller", ""),
		ValidAddress("buyer", "not-an-address"),
		ValidAmount("price", "0"),
	)
	if len(errs) != 3 {
		t.Fatalf("Expected 3 validation errors, got %d: %v", len(errs), errs)
	}
	if errs.Error() == "" {
		t.Error("Expected non-empty error string")
	}
}
