// Package money holds decimal amounts and their conversion to integer minor
// currency units (paise for INR).
package money

import (
	"errors"
	"fmt"
	"math"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

var (
	hundred  = decimal.NewFromInt(100)
	maxMinor = decimal.NewFromInt(math.MaxInt64)
)

// ErrOverflow is returned when an amount does not fit in int64 minor units.
var ErrOverflow = errors.New("amount overflows minor units")

// ToMinor converts d to minor units, rounding half up. Callers pass the final
// total so rounding happens once.
func ToMinor(d decimal.Decimal) (int64, error) {
	m := d.Mul(hundred).Round(0)
	if m.Abs().GreaterThan(maxMinor) {
		return 0, ErrOverflow
	}
	return m.IntPart(), nil
}

// FromMinor converts minor units back to a two-place decimal.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// Amount is a decimal that persists as a DynamoDB number and renders in JSON
// as a string with at least two places. Finer precision is kept as is.
type Amount struct {
	decimal.Decimal
}

func NewAmount(d decimal.Decimal) Amount { return Amount{d} }

// RequireAmount parses s and panics on error. Intended for constants and tests.
func RequireAmount(s string) Amount { return Amount{decimal.RequireFromString(s)} }

func (a Amount) MarshalJSON() ([]byte, error) {
	places := int32(2)
	if exp := -a.Exponent(); exp > places {
		places = exp
	}
	return []byte(`"` + a.StringFixed(places) + `"`), nil
}

func (a Amount) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: a.String()}, nil
}

func (a *Amount) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	var raw string
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		raw = v.Value
	case *types.AttributeValueMemberS:
		raw = v.Value
	case *types.AttributeValueMemberNULL:
		a.Decimal = decimal.Zero
		return nil
	default:
		return fmt.Errorf("unsupported attribute value %T for amount", av)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("parse amount %q: %w", raw, err)
	}
	a.Decimal = d
	return nil
}
