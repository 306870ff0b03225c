package billing

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Developersbbs/Rental-client-sub001/internal/money"
)

// PaymentMethod identifies how a payment was tendered.
type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodCard         PaymentMethod = "card"
	MethodUPI          PaymentMethod = "upi"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCredit       PaymentMethod = "credit"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCard, MethodUPI, MethodBankTransfer, MethodCredit:
		return true
	default:
		return false
	}
}

// ParsePaymentMethod normalises s into a PaymentMethod.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	m := PaymentMethod(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", invalid("payment_method", "must be one of cash, card, upi, bank_transfer, credit")
	}
	return m, nil
}

// PaymentStatus is derived from the paid and due amounts.
type PaymentStatus string

const (
	StatusPending PaymentStatus = "pending"
	StatusPartial PaymentStatus = "partial"
	StatusPaid    PaymentStatus = "paid"
)

const maxNotesLength = 1000

// PaymentRecord is an entry of the payment history. Records are never
// modified or removed once appended.
type PaymentRecord struct {
	ID         string        `json:"id"`
	Amount     money.Money   `json:"amount"`
	Method     PaymentMethod `json:"payment_method"`
	AccountID  string        `json:"payment_account_id,omitempty"`
	Date       time.Time     `json:"payment_date"`
	Notes      string        `json:"notes,omitempty"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// CreditsAccount reports whether the external ledger account must be credited.
func (p PaymentRecord) CreditsAccount() bool { return p.AccountID != "" }

// PaymentInput carries the caller-supplied fields of a payment. Date defaults
// to the current day and ID to a fresh UUID.
type PaymentInput struct {
	ID        string
	Amount    money.Money
	Method    PaymentMethod
	AccountID string
	Date      *time.Time
	Notes     string
}

// ledger tracks the amounts paid against the bill total.
type ledger struct {
	paid     money.Money
	due      money.Money
	status   PaymentStatus
	payments []PaymentRecord
}

func (l *ledger) recompute(total money.Money) {
	var paid money.Money
	for _, p := range l.payments {
		paid += p.Amount
	}
	l.paid = paid
	l.due = (total - paid).NonNegative()
	l.status = statusFor(paid, l.due)
}

func statusFor(paid, due money.Money) PaymentStatus {
	switch {
	case paid == 0:
		return StatusPending
	case due == 0:
		return StatusPaid
	default:
		return StatusPartial
	}
}

// prepare validates in against the current due amount and builds the record
// that would be appended.
func (l *ledger) prepare(in PaymentInput, now time.Time) (PaymentRecord, error) {
	if in.Amount <= 0 {
		return PaymentRecord{}, &InvalidPaymentError{Amount: in.Amount, Reason: "amount must be greater than zero"}
	}
	if !in.Method.Valid() {
		return PaymentRecord{}, invalid("payment_method", "must be one of cash, card, upi, bank_transfer, credit")
	}
	if in.Amount > l.due {
		return PaymentRecord{}, &OverpaymentError{Amount: in.Amount, Due: l.due}
	}
	notes := strings.TrimSpace(in.Notes)
	if len(notes) > maxNotesLength {
		return PaymentRecord{}, invalid("notes", "too long")
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}
	for _, p := range l.payments {
		if p.ID == id {
			return PaymentRecord{}, invalid("payment_id", "already recorded")
		}
	}
	date := now
	if in.Date != nil && !in.Date.IsZero() {
		date = *in.Date
	}
	return PaymentRecord{
		ID:         id,
		Amount:     in.Amount,
		Method:     in.Method,
		AccountID:  strings.TrimSpace(in.AccountID),
		Date:       calendarDate(date),
		Notes:      notes,
		RecordedAt: now.UTC(),
	}, nil
}

func (l *ledger) append(rec PaymentRecord, total money.Money) {
	l.payments = append(l.payments, rec)
	l.recompute(total)
}

func (l ledger) clone() ledger {
	l.payments = append([]PaymentRecord(nil), l.payments...)
	return l
}

func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
