package billing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Developersbbs/Rental-client-sub001/internal/money"
	"github.com/Developersbbs/Rental-client-sub001/internal/pricing"
)

// Snapshot is the fully derived read view of a bill.
type Snapshot struct {
	ID              string          `json:"id"`
	CustomerID      string          `json:"customer_id,omitempty"`
	Number          string          `json:"bill_number,omitempty"`
	Items           []Item          `json:"items"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	TaxPercent      decimal.Decimal `json:"tax_percent"`
	Subtotal        money.Money     `json:"subtotal"`
	DiscountAmount  money.Money     `json:"discount_amount"`
	TaxableAmount   money.Money     `json:"taxable_amount"`
	TaxAmount       money.Money     `json:"tax_amount"`
	TotalAmount     money.Money     `json:"total_amount"`
	PaidAmount      money.Money     `json:"paid_amount"`
	DueAmount       money.Money     `json:"due_amount"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	Payments        []PaymentRecord `json:"payment_history"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Snapshot returns the current derived view. Calling it twice without an
// intervening mutation yields equal values.
func (b *Bill) Snapshot() Snapshot {
	items := b.Items()
	if items == nil {
		items = []Item{}
	}
	payments := b.Payments()
	if payments == nil {
		payments = []PaymentRecord{}
	}
	return Snapshot{
		ID:              b.id,
		CustomerID:      b.customerID,
		Number:          b.number,
		Items:           items,
		DiscountPercent: b.discountPct,
		TaxPercent:      b.taxPct,
		Subtotal:        b.totals.Subtotal,
		DiscountAmount:  b.totals.DiscountAmount,
		TaxableAmount:   b.totals.TaxableAmount,
		TaxAmount:       b.totals.TaxAmount,
		TotalAmount:     b.totals.TotalAmount,
		PaidAmount:      b.ledger.paid,
		DueAmount:       b.ledger.due,
		PaymentStatus:   b.ledger.status,
		Payments:        payments,
		Version:         b.version,
		CreatedAt:       b.createdAt,
		UpdatedAt:       b.updatedAt,
	}
}

// ItemState is the persisted form of a bill line. Line totals are derived and
// therefore not stored.
type ItemState struct {
	Product  ProductRef  `json:"product"`
	Name     string      `json:"name"`
	Quantity int         `json:"quantity"`
	Price    money.Money `json:"price"`
}

// State is the persisted form of a bill. It holds inputs only; Restore
// recomputes every derived amount.
type State struct {
	ID              string          `json:"id"`
	CustomerID      string          `json:"customer_id,omitempty"`
	Number          string          `json:"bill_number,omitempty"`
	Items           []ItemState     `json:"items"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	TaxPercent      decimal.Decimal `json:"tax_percent"`
	Payments        []PaymentRecord `json:"payments"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Version         int64           `json:"-"`
}

// State exports the bill for persistence.
func (b *Bill) State() State {
	items := make([]ItemState, len(b.items))
	for i, it := range b.items {
		items[i] = ItemState{Product: it.Product, Name: it.Name, Quantity: it.Quantity, Price: it.Price}
	}
	return State{
		ID:              b.id,
		CustomerID:      b.customerID,
		Number:          b.number,
		Items:           items,
		DiscountPercent: b.discountPct,
		TaxPercent:      b.taxPct,
		Payments:        b.Payments(),
		CreatedAt:       b.createdAt,
		UpdatedAt:       b.updatedAt,
		Version:         b.version,
	}
}

// Restore rebuilds a bill from persisted state, re-validating inputs and
// recomputing totals, due amount and status.
func Restore(st State) (*Bill, error) {
	id := strings.TrimSpace(st.ID)
	if id == "" {
		return nil, invalid("id", "is required")
	}
	if err := pricing.ValidatePercent(st.DiscountPercent); err != nil {
		return nil, invalidWrap("discount_percent", err)
	}
	if err := pricing.ValidatePercent(st.TaxPercent); err != nil {
		return nil, invalidWrap("tax_percent", err)
	}
	b := &Bill{
		id:          id,
		customerID:  st.CustomerID,
		number:      st.Number,
		discountPct: st.DiscountPercent,
		taxPct:      st.TaxPercent,
		version:     st.Version,
		createdAt:   st.CreatedAt,
		updatedAt:   st.UpdatedAt,
	}
	for i, it := range st.Items {
		price := it.Price
		item, err := buildItem(ItemInput{Product: it.Product, Name: it.Name, Quantity: it.Quantity, Price: &price})
		if err != nil {
			return nil, indexed(err, i)
		}
		b.items = append(b.items, item)
	}
	var paid money.Money
	seen := make(map[string]struct{}, len(st.Payments))
	for _, p := range st.Payments {
		if p.Amount <= 0 {
			return nil, &InvalidPaymentError{Amount: p.Amount, Reason: "stored payment " + p.ID + " is not positive"}
		}
		if !p.Method.Valid() {
			return nil, invalid("payment_method", "stored payment "+p.ID+" has unknown method")
		}
		if _, dup := seen[p.ID]; dup || p.ID == "" {
			return nil, invalid("payment_id", "stored payment ids must be unique and non-empty")
		}
		seen[p.ID] = struct{}{}
		var err error
		if paid, err = paid.Add(p.Amount); err != nil {
			return nil, invalidWrap("payments", err)
		}
	}
	b.ledger.payments = append([]PaymentRecord(nil), st.Payments...)
	if err := b.recompute(); err != nil {
		return nil, err
	}
	return b, nil
}
