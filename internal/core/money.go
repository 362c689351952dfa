// Package core provides money parsing and handling utilities.
//
// Amounts are shopspring decimals end to end: parsed from export text,
// stored as canonical strings and summed without passing through float64.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

var amountNoise = strings.NewReplacer(
	"¥", "",
	"￥", "",
	"元", "",
	",", "",
	"，", "",
	"\t", "",
	" ", "",
)

// ParseAmount converts an export amount string to an exact decimal.
//
// Currency symbols, the 元 suffix, thousands separators and tabs are
// dropped before parsing. The sign in the text is preserved; channel
// sign conventions are applied by the caller.
//
// Examples:
//
//	ParseAmount("¥12.50")     -> 12.50
//	ParseAmount("1,234.00元") -> 1234.00
//	ParseAmount("-3.2")       -> -3.2
func ParseAmount(s string) (decimal.Decimal, error) {
	cleaned := amountNoise.Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// RoundCents rounds half away from zero to two decimal places.
func RoundCents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// FormatAmount renders an amount with exactly two decimals.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Debit returns the amount as a negative value regardless of input sign.
func Debit(d decimal.Decimal) decimal.Decimal {
	return d.Abs().Neg()
}

// Credit returns the amount as a positive value regardless of input sign.
func Credit(d decimal.Decimal) decimal.Decimal {
	return d.Abs()
}
