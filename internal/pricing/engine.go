package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Developersbbs/Rental-client-sub001/internal/money"
)

var (
	// ErrInvalidQuantity is returned for line quantities below one.
	ErrInvalidQuantity = errors.New("pricing: quantity must be at least 1")
	// ErrInvalidPrice is returned for negative unit prices.
	ErrInvalidPrice = errors.New("pricing: price must not be negative")
	// ErrInvalidPercent is returned for percentages outside [0, 100].
	ErrInvalidPercent = errors.New("pricing: percent must be between 0 and 100")
	// ErrAmountTooLarge is returned when a line total or subtotal exceeds money.MaxAmount.
	ErrAmountTooLarge = errors.New("pricing: amount too large")
)

var hundred = decimal.NewFromInt(100)

// Item describes a line item used for pricing calculation.
type Item struct {
	Qty       int
	UnitPrice money.Money
}

// Totals aggregates computed pricing components. TaxableAmount is an
// intermediate value exposed for display; it is never persisted.
type Totals struct {
	Subtotal       money.Money
	DiscountAmount money.Money
	TaxableAmount  money.Money
	TaxAmount      money.Money
	TotalAmount    money.Money
}

// ValidatePercent checks that pct lies in [0, 100].
func ValidatePercent(pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return fmt.Errorf("%w: %s", ErrInvalidPercent, pct.String())
	}
	return nil
}

// LineTotal returns qty * price for a single line.
func LineTotal(qty int, price money.Money) (money.Money, error) {
	if qty < 1 {
		return 0, ErrInvalidQuantity
	}
	if price < 0 {
		return 0, ErrInvalidPrice
	}
	total, err := price.Mul(int64(qty))
	if err != nil || total > money.MaxAmount {
		return 0, ErrAmountTooLarge
	}
	return total, nil
}

// Subtotal sums the line totals of items.
func Subtotal(items []Item) (money.Money, error) {
	var subtotal money.Money
	for i, it := range items {
		line, err := LineTotal(it.Qty, it.UnitPrice)
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", i, err)
		}
		subtotal += line
		if subtotal > money.MaxAmount {
			return 0, ErrAmountTooLarge
		}
	}
	return subtotal, nil
}

// ComputeTotals applies the discount percentage and then the tax percentage.
// The order is fixed: tax is always charged on the post-discount base, and the
// taxable base is floored at zero. Percentages are expected to be validated.
func ComputeTotals(subtotal money.Money, discountPct, taxPct decimal.Decimal) Totals {
	discount := money.PercentOf(subtotal, discountPct)
	taxable := (subtotal - discount).NonNegative()
	tax := money.PercentOf(taxable, taxPct)
	return Totals{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		TaxableAmount:  taxable,
		TaxAmount:      tax,
		TotalAmount:    taxable + tax,
	}
}

// Compute calculates bill totals for the provided items and percentages.
func Compute(items []Item, discountPct, taxPct decimal.Decimal) (Totals, error) {
	if err := ValidatePercent(discountPct); err != nil {
		return Totals{}, fmt.Errorf("discount: %w", err)
	}
	if err := ValidatePercent(taxPct); err != nil {
		return Totals{}, fmt.Errorf("tax: %w", err)
	}
	subtotal, err := Subtotal(items)
	if err != nil {
		return Totals{}, err
	}
	return ComputeTotals(subtotal, discountPct, taxPct), nil
}
