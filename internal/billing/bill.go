// Package billing implements the bill aggregate: line items, discount and tax
// totals, and the payment ledger. It performs no I/O and no logging; every
// operation either applies completely or leaves the bill unchanged.
package billing

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Developersbbs/Rental-client-sub001/internal/money"
	"github.com/Developersbbs/Rental-client-sub001/internal/pricing"
)

var now = time.Now

// Item is a bill line. Total is always Quantity * Price.
type Item struct {
	Product  ProductRef  `json:"product"`
	Name     string      `json:"name"`
	Quantity int         `json:"quantity"`
	Price    money.Money `json:"price"`
	Total    money.Money `json:"total"`
}

// ItemInput describes a line to add. Name and Price fall back to the resolved
// product summary when omitted.
type ItemInput struct {
	Product  ProductRef
	Name     string
	Quantity int
	Price    *money.Money
}

// ItemPatch updates selected fields of an existing line.
type ItemPatch struct {
	Name     *string
	Quantity *int
	Price    *money.Money
}

// CreateInput carries the initial state of a bill.
type CreateInput struct {
	ID              string
	CustomerID      string
	Number          string
	Items           []ItemInput
	DiscountPercent decimal.Decimal
	TaxPercent      decimal.Decimal
	InitialPayment  *PaymentInput
}

// Bill is the billing aggregate. It is not safe for concurrent mutation.
type Bill struct {
	id          string
	customerID  string
	number      string
	items       []Item
	discountPct decimal.Decimal
	taxPct      decimal.Decimal
	totals      pricing.Totals
	ledger      ledger
	version     int64
	createdAt   time.Time
	updatedAt   time.Time
}

// New creates a bill. A non-zero initial payment is recorded as the first
// payment history entry and must not exceed the initial total.
func New(in CreateInput) (*Bill, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}
	ts := now().UTC()
	b := &Bill{
		id:          id,
		customerID:  strings.TrimSpace(in.CustomerID),
		number:      strings.TrimSpace(in.Number),
		discountPct: decimal.Zero,
		taxPct:      decimal.Zero,
		createdAt:   ts,
		updatedAt:   ts,
	}
	if err := pricing.ValidatePercent(in.DiscountPercent); err != nil {
		return nil, invalidWrap("discount_percent", err)
	}
	if err := pricing.ValidatePercent(in.TaxPercent); err != nil {
		return nil, invalidWrap("tax_percent", err)
	}
	b.discountPct = in.DiscountPercent
	b.taxPct = in.TaxPercent
	for i, itemIn := range in.Items {
		item, err := buildItem(itemIn)
		if err != nil {
			return nil, indexed(err, i)
		}
		b.items = append(b.items, item)
	}
	if err := b.recompute(); err != nil {
		return nil, err
	}
	if in.InitialPayment != nil && in.InitialPayment.Amount != 0 {
		if _, err := b.applyPayment(*in.InitialPayment); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// ID returns the bill identifier.
func (b *Bill) ID() string { return b.id }

// CustomerID returns the customer the bill belongs to, if any.
func (b *Bill) CustomerID() string { return b.customerID }

// Version returns the persistence version the bill was loaded or saved at.
func (b *Bill) Version() int64 { return b.version }

// SetVersion records the version assigned by the store after a successful save.
func (b *Bill) SetVersion(v int64) { b.version = v }

// Items returns a copy of the bill lines in entry order.
func (b *Bill) Items() []Item { return append([]Item(nil), b.items...) }

// Payments returns a copy of the payment history in recording order.
func (b *Bill) Payments() []PaymentRecord { return append([]PaymentRecord(nil), b.ledger.payments...) }

// DueAmount returns the amount still owed.
func (b *Bill) DueAmount() money.Money { return b.ledger.due }

// Status returns the derived payment status.
func (b *Bill) Status() PaymentStatus { return b.ledger.status }

// AddItem appends a line.
func (b *Bill) AddItem(in ItemInput) error {
	item, err := buildItem(in)
	if err != nil {
		return err
	}
	return b.mutate(func(next *Bill) error {
		next.items = append(next.items, item)
		return nil
	})
}

// RemoveItem removes the line at index. Removing the last line leaves an
// empty bill.
func (b *Bill) RemoveItem(index int) error {
	if err := b.checkIndex(index); err != nil {
		return err
	}
	return b.mutate(func(next *Bill) error {
		next.items = append(next.items[:index], next.items[index+1:]...)
		return nil
	})
}

// UpdateItem applies patch to the line at index and recomputes its total.
func (b *Bill) UpdateItem(index int, patch ItemPatch) error {
	if err := b.checkIndex(index); err != nil {
		return err
	}
	if patch.Name == nil && patch.Quantity == nil && patch.Price == nil {
		return invalid("item", "no fields to update")
	}
	return b.mutate(func(next *Bill) error {
		item := next.items[index]
		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				return invalid("name", "is required")
			}
			item.Name = name
		}
		if patch.Quantity != nil {
			item.Quantity = *patch.Quantity
		}
		if patch.Price != nil {
			item.Price = *patch.Price
		}
		total, err := lineTotal(item.Quantity, item.Price)
		if err != nil {
			return err
		}
		item.Total = total
		next.items[index] = item
		return nil
	})
}

// SetItemQuantity changes the quantity of the line at index.
func (b *Bill) SetItemQuantity(index, quantity int) error {
	return b.UpdateItem(index, ItemPatch{Quantity: &quantity})
}

// SetItemPrice changes the unit price of the line at index.
func (b *Bill) SetItemPrice(index int, price money.Money) error {
	return b.UpdateItem(index, ItemPatch{Price: &price})
}

// SetDiscountPercent replaces the discount percentage.
func (b *Bill) SetDiscountPercent(pct decimal.Decimal) error {
	if err := pricing.ValidatePercent(pct); err != nil {
		return invalidWrap("discount_percent", err)
	}
	return b.mutate(func(next *Bill) error {
		next.discountPct = pct
		return nil
	})
}

// SetTaxPercent replaces the tax percentage.
func (b *Bill) SetTaxPercent(pct decimal.Decimal) error {
	if err := pricing.ValidatePercent(pct); err != nil {
		return invalidWrap("tax_percent", err)
	}
	return b.mutate(func(next *Bill) error {
		next.taxPct = pct
		return nil
	})
}

// RecordPayment appends a payment. The amount must be positive and must not
// exceed the current due amount; it is never capped.
func (b *Bill) RecordPayment(in PaymentInput) (PaymentRecord, error) {
	next := b.clone()
	rec, err := next.applyPayment(in)
	if err != nil {
		return PaymentRecord{}, err
	}
	*b = *next
	return rec, nil
}

// PayDue records a payment of exactly the current due amount. in.Amount is
// ignored.
func (b *Bill) PayDue(in PaymentInput) (PaymentRecord, error) {
	if b.ledger.due == 0 {
		return PaymentRecord{}, &InvalidPaymentError{Amount: 0, Reason: "nothing is due"}
	}
	in.Amount = b.ledger.due
	return b.RecordPayment(in)
}

func (b *Bill) applyPayment(in PaymentInput) (PaymentRecord, error) {
	ts := now()
	rec, err := b.ledger.prepare(in, ts)
	if err != nil {
		return PaymentRecord{}, err
	}
	b.ledger.append(rec, b.totals.TotalAmount)
	b.updatedAt = ts.UTC()
	return rec, nil
}

// mutate runs fn against a copy and commits the copy only when fn and the
// recompute pipeline both succeed.
func (b *Bill) mutate(fn func(next *Bill) error) error {
	next := b.clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := next.recompute(); err != nil {
		return err
	}
	next.updatedAt = now().UTC()
	*b = *next
	return nil
}

// recompute runs subtotal, totals and ledger in that order.
func (b *Bill) recompute() error {
	lines := make([]pricing.Item, len(b.items))
	for i := range b.items {
		total, err := lineTotal(b.items[i].Quantity, b.items[i].Price)
		if err != nil {
			return indexed(err, i)
		}
		b.items[i].Total = total
		lines[i] = pricing.Item{Qty: b.items[i].Quantity, UnitPrice: b.items[i].Price}
	}
	subtotal, err := pricing.Subtotal(lines)
	if err != nil {
		return invalidWrap("items", err)
	}
	b.totals = pricing.ComputeTotals(subtotal, b.discountPct, b.taxPct)
	b.ledger.recompute(b.totals.TotalAmount)
	return nil
}

func (b *Bill) clone() *Bill {
	c := *b
	c.items = append([]Item(nil), b.items...)
	c.ledger = b.ledger.clone()
	return &c
}

func (b *Bill) checkIndex(index int) error {
	if index < 0 || index >= len(b.items) {
		return &NotFoundError{Resource: "item", Key: strconv.Itoa(index)}
	}
	return nil
}

func buildItem(in ItemInput) (Item, error) {
	if in.Product.ID() == "" {
		return Item{}, invalid("product_id", "is required")
	}
	name := strings.TrimSpace(in.Name)
	var price *money.Money
	if in.Price != nil {
		p := *in.Price
		price = &p
	}
	if summary, ok := in.Product.Summary(); ok {
		if name == "" {
			name = strings.TrimSpace(summary.Name)
		}
		if price == nil {
			p := summary.Price
			price = &p
		}
	}
	if name == "" {
		return Item{}, invalid("name", "is required")
	}
	if price == nil {
		return Item{}, invalid("price", "is required")
	}
	total, err := lineTotal(in.Quantity, *price)
	if err != nil {
		return Item{}, err
	}
	return Item{
		Product:  in.Product,
		Name:     name,
		Quantity: in.Quantity,
		Price:    *price,
		Total:    total,
	}, nil
}

func lineTotal(qty int, price money.Money) (money.Money, error) {
	total, err := pricing.LineTotal(qty, price)
	switch {
	case err == nil:
		return total, nil
	case errors.Is(err, pricing.ErrInvalidQuantity):
		return 0, invalidWrap("quantity", err)
	case errors.Is(err, pricing.ErrInvalidPrice):
		return 0, invalidWrap("price", err)
	default:
		return 0, invalidWrap("total", err)
	}
}

func indexed(err error, index int) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return &ValidationError{Field: "items[" + strconv.Itoa(index) + "]." + ve.Field, Reason: ve.Reason, Err: ve.Err}
	}
	return err
}
