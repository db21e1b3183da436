package utils

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestCalculateLineTax_InclusiveStandardRate(t *testing.T) {
	// 116.00 inclusive at 16% carries 16.00 tax.
	amount := decimal.NewFromInt(116)
	tax := CalculateLineTax(amount, "B", true)
	if !tax.Equal(decimal.NewFromInt(16)) {
		t.Fatalf("tax = %s, want 16", tax)
	}
}

func TestCalculateLineTax_ZeroRatedCodes(t *testing.T) {
	amount := decimal.NewFromInt(100)
	for _, code := range []string{"A", "C", "D", ""} {
		if tax := CalculateLineTax(amount, code, true); !tax.IsZero() {
			t.Errorf("code %q tax = %s, want 0", code, tax)
		}
	}
}

func TestTaxableAmount(t *testing.T) {
	amount := decimal.NewFromInt(116)
	taxable := TaxableAmount(amount, "B")
	if !taxable.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("taxable = %s, want 100", taxable)
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0722123456", "+254722123456"},
		{"+254722123456", "+254722123456"},
		{"", ""},
		{"not-a-number", "not-a-number"},
	}
	for _, tc := range cases {
		if got := NormalizePhone(tc.in); got != tc.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
