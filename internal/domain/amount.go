package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Amounts travel as stringified integers in USDC base units (6 decimals).
// They are never parsed into floats; arithmetic and comparison go through
// decimal with the integral constraint enforced at every boundary.

// ParseBaseUnits parses and validates a base-unit amount string.
func ParseBaseUnits(amount string) (decimal.Decimal, error) {
	if amount == "" {
		return decimal.Zero, NewPaymentError(ErrorCodeInvalidFormat, "amount is required")
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, WrapPaymentError(ErrorCodeInvalidFormat, fmt.Sprintf("amount %q is not numeric", amount), err)
	}
	if !d.IsInteger() {
		return decimal.Zero, NewPaymentError(ErrorCodeInvalidFormat, fmt.Sprintf("amount %q has fractional base units", amount))
	}
	if d.IsNegative() {
		return decimal.Zero, NewPaymentError(ErrorCodeInvalidFormat, fmt.Sprintf("amount %q is negative", amount))
	}
	return d, nil
}

// ValidBaseUnits reports whether the string is a well-formed base-unit amount.
func ValidBaseUnits(amount string) bool {
	_, err := ParseBaseUnits(amount)
	return err == nil
}
