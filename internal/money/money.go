// Package money implements fixed-point currency arithmetic in integer minor units.
package money

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value stored in minor units (two decimal places).
type Money int64

// Places is the number of decimal places carried by Money.
const Places = 2

// MaxAmount bounds every line total and subtotal so that derived sums cannot overflow.
const MaxAmount Money = math.MaxInt64 / 4

var (
	// ErrInvalid is returned for values that cannot be parsed as an amount.
	ErrInvalid = errors.New("money: invalid amount")
	// ErrPrecision is returned when an input carries more than two decimal places.
	ErrPrecision = errors.New("money: more than two decimal places")
	// ErrOverflow is returned when arithmetic leaves the representable range.
	ErrOverflow = errors.New("money: amount out of range")
)

var half = decimal.New(5, -1)

// FromMinor wraps a raw minor-unit value.
func FromMinor(v int64) Money { return Money(v) }

// Minor returns the raw minor-unit value.
func (m Money) Minor() int64 { return int64(m) }

// Decimal returns the value in major units.
func (m Money) Decimal() decimal.Decimal { return decimal.New(int64(m), -Places) }

// String formats the amount with exactly two decimal places, e.g. "212.40".
func (m Money) String() string { return m.Decimal().StringFixed(Places) }

// IsPositive reports whether m > 0.
func (m Money) IsPositive() bool { return m > 0 }

// Round2 rounds d half-up to two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return roundHalfUp(d.Shift(Places)).Shift(-Places)
}

func roundHalfUp(d decimal.Decimal) decimal.Decimal {
	return d.Add(half).Floor()
}

// PercentOf returns round2(base * pct / 100). The division is a decimal shift,
// so no runtime divisor is ever involved.
func PercentOf(base Money, pct decimal.Decimal) Money {
	raw := decimal.NewFromInt(int64(base)).Mul(pct).Shift(-2)
	return Money(roundHalfUp(raw).IntPart())
}

// FromDecimal converts a major-unit decimal into Money, rounding half-up to two places.
func FromDecimal(d decimal.Decimal) (Money, error) {
	minor := Round2(d).Shift(Places)
	if minor.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || minor.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, ErrOverflow
	}
	return Money(minor.IntPart()), nil
}

// Parse reads a major-unit decimal string such as "112.40". Inputs with more
// than two decimal places are rejected rather than rounded.
func Parse(value string) (Money, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, ErrInvalid
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, value)
	}
	if !d.Shift(Places).IsInteger() {
		return 0, fmt.Errorf("%w: %q", ErrPrecision, value)
	}
	return FromDecimal(d)
}

// MustParse is like Parse but panics on error. Intended for constants and tests.
func MustParse(value string) Money {
	m, err := Parse(value)
	if err != nil {
		panic(err)
	}
	return m
}

// Add returns m + o, failing on overflow.
func (m Money) Add(o Money) (Money, error) {
	sum := m + o
	if (o > 0 && sum < m) || (o < 0 && sum > m) {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Mul returns m * n, failing on overflow.
func (m Money) Mul(n int64) (Money, error) {
	if m == 0 || n == 0 {
		return 0, nil
	}
	if (m == math.MinInt64 && n == -1) || (n == math.MinInt64 && m == -1) {
		return 0, ErrOverflow
	}
	product := m * Money(n)
	if product/Money(n) != m {
		return 0, ErrOverflow
	}
	return product, nil
}

// NonNegative returns m floored at zero.
func (m Money) NonNegative() Money {
	if m < 0 {
		return 0
	}
	return m
}

// MarshalJSON renders the amount as a two-place decimal string.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts either a JSON string ("100.00") or a JSON number (100).
func (m *Money) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	raw := string(bytes.Trim(trimmed, `"`))
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
