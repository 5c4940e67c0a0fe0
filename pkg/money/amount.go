// Package money holds the decimal helpers used for wallet amounts.
// Amounts are shopspring decimals with at most two fractional digits.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits an amount may carry
const Scale = 2

var (
	ErrEmptyAmount   = errors.New("amount is required")
	ErrInvalidAmount = errors.New("invalid amount format")
	ErrNotFinite     = errors.New("amount must be a finite number")
	ErrTooPrecise    = errors.New("amount has more than 2 decimal places")
)

// Parse converts a human-readable amount string ("-12.50") into a decimal
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrEmptyAmount
	}

	switch strings.ToLower(strings.TrimLeft(s, "+-")) {
	case "nan", "inf", "infinity":
		return decimal.Zero, ErrNotFinite
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidAmount, s)
	}

	return checkScale(d)
}

// Sum adds all values
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Format renders an amount with exactly Scale fractional digits
func Format(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}

func checkScale(d decimal.Decimal) (decimal.Decimal, error) {
	if !d.Equal(d.Round(Scale)) {
		return decimal.Zero, ErrTooPrecise
	}
	return d, nil
}
