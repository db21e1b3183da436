package utils

import (
	"github.com/shopspring/decimal"
)

// KRA tax codes and their VAT rates.
var taxRates = map[string]decimal.Decimal{
	"A": decimal.Zero,                // exempt
	"B": decimal.NewFromInt(16),     // standard rate
	"C": decimal.Zero,               // zero-rated
	"D": decimal.Zero,               // non-VAT
	"E": decimal.NewFromInt(8),      // reduced rate
}

var decimalOneHundred = decimal.NewFromInt(100)

func TaxRateForCode(code string) decimal.Decimal {
	if rate, ok := taxRates[code]; ok {
		return rate
	}
	return decimal.Zero
}

// CalculateLineTax computes the tax amount for a line total. Amounts in
// invoices are tax-inclusive: tax = amount * rate / (100 + rate).
func CalculateLineTax(amount decimal.Decimal, taxCode string, taxInclusive bool) decimal.Decimal {
	rate := TaxRateForCode(taxCode)
	if rate.IsZero() {
		return decimal.Zero
	}

	if taxInclusive {
		return amount.Mul(rate).DivRound(rate.Add(decimalOneHundred), 4)
	}
	return amount.Mul(rate).DivRound(decimalOneHundred, 4)
}

// TaxableAmount strips the tax from a tax-inclusive line total.
func TaxableAmount(amount decimal.Decimal, taxCode string) decimal.Decimal {
	return amount.Sub(CalculateLineTax(amount, taxCode, true))
}
