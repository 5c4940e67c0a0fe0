package money

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is a decimal that accepts both JSON strings and numbers.
// Marshals as a fixed two-digit string.
type Amount struct {
	decimal.Decimal
	set bool
}

// NewAmount wraps a decimal
func NewAmount(d decimal.Decimal) Amount {
	return Amount{Decimal: d, set: true}
}

// IsSet reports whether a value (not null) was decoded
func (a Amount) IsSet() bool {
	return a.set
}

// UnmarshalJSON implements json.Unmarshaler
// Supports: "12.50", 12.5, null
func (a *Amount) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = Amount{}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		d, err := Parse(s)
		if err != nil {
			return err
		}
		*a = NewAmount(d)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		d, err := Parse(n.String())
		if err != nil {
			return err
		}
		*a = NewAmount(d)
		return nil
	}

	return fmt.Errorf("cannot unmarshal %s into Amount", string(data))
}

// MarshalJSON implements json.Marshaler
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(Format(a.Decimal))
}
