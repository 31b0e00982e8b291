// Package core provides money parsing and handling utilities.
//
// All monetary values are decimal.Decimal in a single reporting currency.
// Floats only appear at the boundary and are converted here.
package core

import (
	"math"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a decimal string to an amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and a
// leading minus sign. Returns ErrInvalidAmount for anything else.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34, nil
//	ParseAmount("12,34")  -> 12.34, nil
//	ParseAmount("-70")    -> -70, nil
//	ParseAmount("1e3")    -> error
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	digits := strings.TrimPrefix(s, "-")
	if digits == "" || strings.Count(digits, ".") > 1 {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, r := range digits {
		if r != '.' && !unicode.IsDigit(r) {
			return decimal.Zero, ErrInvalidAmount
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// AmountFromFloat converts a boundary float, rejecting NaN and infinities.
func AmountFromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, ErrInvalidAmount
	}
	return decimal.NewFromFloat(f), nil
}

// ValidatePositive requires v > 0.
func ValidatePositive(field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return invalid(field, "must be positive")
	}
	return nil
}

// ValidateNonNegative requires v >= 0.
func ValidateNonNegative(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return invalid(field, "must not be negative")
	}
	return nil
}

// Round2 rounds half away from zero to cents, for display and messages.
func Round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}
