// Package repo persists bills, their payments and emitted events in
// PostgreSQL.
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Developersbbs/Rental-client-sub001/internal/billing"
	"github.com/Developersbbs/Rental-client-sub001/internal/events"
	"github.com/Developersbbs/Rental-client-sub001/internal/ledger"
	"github.com/Developersbbs/Rental-client-sub001/internal/money"
)

// BillStore stores the bill aggregate as a JSONB state document alongside
// denormalised totals used for listing and outstanding-balance queries.
type BillStore struct {
	pool *pgxpool.Pool
}

// NewBillStore constructs a BillStore backed by a pgx connection pool.
func NewBillStore(pool *pgxpool.Pool) *BillStore {
	return &BillStore{pool: pool}
}

var (
	_ events.EventStore     = (*BillStore)(nil)
	_ ledger.StatusRecorder = (*BillStore)(nil)
	_ ledger.PendingSource  = (*BillStore)(nil)
)

// ListFilter narrows List results.
type ListFilter struct {
	CustomerID string
	Status     billing.PaymentStatus
	Limit      int
	Offset     int
}

// Outstanding is an open bill of a customer.
type Outstanding struct {
	BillID      string      `json:"bill_id"`
	Number      string      `json:"bill_number,omitempty"`
	TotalAmount money.Money `json:"total_amount"`
	DueAmount   money.Money `json:"due_amount"`
	CreatedAt   time.Time   `json:"created_at"`
}

// PaymentRow is a payment with its ledger credit status.
type PaymentRow struct {
	billing.PaymentRecord
	CreditStatus string `json:"credit_status"`
}

// Insert stores a new bill at version 1 together with any payments it
// already carries.
func (s *BillStore) Insert(ctx context.Context, b *billing.Bill) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	state, err := json.Marshal(b.State())
	if err != nil {
		return fmt.Errorf("repo: encode bill: %w", err)
	}
	snap := b.Snapshot()
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO bills (id, customer_id, bill_number, state, subtotal, total_amount, paid_amount, due_amount, payment_status, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $11)`,
			snap.ID, snap.CustomerID, snap.Number, state,
			snap.Subtotal.Minor(), snap.TotalAmount.Minor(), snap.PaidAmount.Minor(), snap.DueAmount.Minor(),
			string(snap.PaymentStatus), snap.CreatedAt, snap.UpdatedAt)
		if err != nil {
			return err
		}
		for _, p := range snap.Payments {
			status := ledger.StatusNotRequested
			if p.CreditsAccount() {
				status = ledger.StatusPending
			}
			if err := insertPayment(ctx, tx, snap.ID, p, status); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return mapError(err)
	}
	b.SetVersion(1)
	return nil
}

// Get loads and restores a bill.
func (s *BillStore) Get(ctx context.Context, id string) (*billing.Bill, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	var (
		raw     []byte
		version int64
	)
	err := s.pool.QueryRow(ctx, `SELECT state, version FROM bills WHERE id = $1`, strings.TrimSpace(id)).Scan(&raw, &version)
	if err != nil {
		return nil, mapError(err)
	}
	return restore(raw, version)
}

// Update saves b if the stored version still equals expectedVersion.
func (s *BillStore) Update(ctx context.Context, b *billing.Bill, expectedVersion int64) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return updateBill(ctx, tx, b, expectedVersion)
	})
	if err != nil {
		return mapError(err)
	}
	b.SetVersion(expectedVersion + 1)
	return nil
}

// AppendPayment inserts rec and saves b in one transaction. The payments
// primary key and the version check together reject a concurrent payment
// computed against a stale due amount.
func (s *BillStore) AppendPayment(ctx context.Context, b *billing.Bill, rec billing.PaymentRecord, creditStatus string, expectedVersion int64) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := updateBill(ctx, tx, b, expectedVersion); err != nil {
			return err
		}
		return insertPayment(ctx, tx, b.ID(), rec, creditStatus)
	})
	if err != nil {
		return mapError(err)
	}
	b.SetVersion(expectedVersion + 1)
	return nil
}

// List returns bills newest first and the total number matching filter.
func (s *BillStore) List(ctx context.Context, filter ListFilter) ([]*billing.Bill, int, error) {
	if s == nil || s.pool == nil {
		return nil, 0, ErrStoreUnavailable
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	where := `WHERE ($1 = '' OR customer_id = $1) AND ($2 = '' OR payment_status = $2)`
	args := []any{strings.TrimSpace(filter.CustomerID), string(filter.Status)}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bills `+where, args...).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}

	rows, err := s.pool.Query(ctx, `SELECT state, version FROM bills `+where+` ORDER BY created_at DESC, id LIMIT $3 OFFSET $4`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer rows.Close()

	bills := make([]*billing.Bill, 0, limit)
	for rows.Next() {
		var (
			raw     []byte
			version int64
		)
		if err := rows.Scan(&raw, &version); err != nil {
			return nil, 0, err
		}
		b, err := restore(raw, version)
		if err != nil {
			return nil, 0, err
		}
		bills = append(bills, b)
	}
	return bills, total, rows.Err()
}

// OutstandingByCustomer lists the customer's bills that still have an amount
// due, oldest first.
func (s *BillStore) OutstandingByCustomer(ctx context.Context, customerID string) ([]Outstanding, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT id, bill_number, total_amount, due_amount, created_at FROM bills
WHERE customer_id = $1 AND due_amount > 0 ORDER BY created_at`, strings.TrimSpace(customerID))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []Outstanding
	for rows.Next() {
		var (
			o          Outstanding
			total, due int64
		)
		if err := rows.Scan(&o.BillID, &o.Number, &total, &due, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.TotalAmount = money.FromMinor(total)
		o.DueAmount = money.FromMinor(due)
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListPayments returns the bill's payments in recording order.
func (s *BillStore) ListPayments(ctx context.Context, billID string) ([]PaymentRow, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT id, amount, method, account_id, paid_on, notes, credit_status, recorded_at
FROM bill_payments WHERE bill_id = $1 ORDER BY recorded_at, id`, strings.TrimSpace(billID))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []PaymentRow
	for rows.Next() {
		var (
			p      PaymentRow
			amount int64
			method string
		)
		if err := rows.Scan(&p.ID, &amount, &method, &p.AccountID, &p.Date, &p.Notes, &p.CreditStatus, &p.RecordedAt); err != nil {
			return nil, err
		}
		p.Amount = money.FromMinor(amount)
		p.Method = billing.PaymentMethod(method)
		p.Date = p.Date.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetCreditStatus implements ledger.StatusRecorder.
func (s *BillStore) SetCreditStatus(ctx context.Context, paymentID, status string) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE bill_payments SET credit_status = $2 WHERE id = $1`, paymentID, status)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingCredits returns up to limit account-bearing payments still marked
// pending that were recorded before cutoff, oldest first.
func (s *BillStore) PendingCredits(ctx context.Context, cutoff time.Time, limit int) ([]ledger.CreditPayload, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `SELECT bill_id, id, account_id, amount FROM bill_payments
WHERE credit_status = $1 AND account_id <> '' AND recorded_at < $2 ORDER BY recorded_at LIMIT $3`,
		ledger.StatusPending, cutoff, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []ledger.CreditPayload
	for rows.Next() {
		var (
			p      ledger.CreditPayload
			amount int64
		)
		if err := rows.Scan(&p.BillID, &p.PaymentID, &p.AccountID, &amount); err != nil {
			return nil, err
		}
		p.Amount = money.FromMinor(amount)
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertEvent implements events.EventStore.
func (s *BillStore) InsertEvent(ctx context.Context, ev events.Event) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO bill_events (id, topic, aggregate_id, payload, occurred_at) VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.Topic, ev.AggregateID, []byte(ev.Payload), ev.OccurredAt)
	return mapError(err)
}

func updateBill(ctx context.Context, tx pgx.Tx, b *billing.Bill, expectedVersion int64) error {
	state, err := json.Marshal(b.State())
	if err != nil {
		return fmt.Errorf("repo: encode bill: %w", err)
	}
	snap := b.Snapshot()
	tag, err := tx.Exec(ctx, `UPDATE bills SET state = $3, subtotal = $4, total_amount = $5, paid_amount = $6, due_amount = $7,
payment_status = $8, updated_at = $9, version = version + 1
WHERE id = $1 AND version = $2`,
		snap.ID, expectedVersion, state,
		snap.Subtotal.Minor(), snap.TotalAmount.Minor(), snap.PaidAmount.Minor(), snap.DueAmount.Minor(),
		string(snap.PaymentStatus), snap.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bills WHERE id = $1)`, snap.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionConflict
}

func insertPayment(ctx context.Context, tx pgx.Tx, billID string, p billing.PaymentRecord, creditStatus string) error {
	if creditStatus == "" {
		creditStatus = ledger.StatusNotRequested
	}
	_, err := tx.Exec(ctx, `INSERT INTO bill_payments (id, bill_id, amount, method, account_id, paid_on, notes, credit_status, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, billID, p.Amount.Minor(), string(p.Method), p.AccountID, p.Date, p.Notes, creditStatus, p.RecordedAt)
	return err
}

func restore(raw []byte, version int64) (*billing.Bill, error) {
	var st billing.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("repo: decode bill: %w", err)
	}
	st.Version = version
	b, err := billing.Restore(st)
	if err != nil {
		return nil, fmt.Errorf("repo: restore bill %s: %w", st.ID, err)
	}
	return b, nil
}
