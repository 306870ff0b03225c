// Package invoicing orchestrates the bill aggregate with its storage, the
// per-bill lock, the catalog, the external ledger and the event bus.
package invoicing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Developersbbs/Rental-client-sub001/internal/billing"
	"github.com/Developersbbs/Rental-client-sub001/internal/common"
	"github.com/Developersbbs/Rental-client-sub001/internal/events"
	"github.com/Developersbbs/Rental-client-sub001/internal/ledger"
	"github.com/Developersbbs/Rental-client-sub001/internal/lock"
	"github.com/Developersbbs/Rental-client-sub001/internal/money"
	"github.com/Developersbbs/Rental-client-sub001/internal/obs"
	"github.com/Developersbbs/Rental-client-sub001/internal/repo"
)

var (
	// ErrVersionConflict indicates the bill changed after the caller read it.
	ErrVersionConflict = errors.New("invoicing: bill version conflict")
	// ErrDuplicateBill indicates the bill id or number is already taken.
	ErrDuplicateBill = errors.New("invoicing: bill already exists")
	// ErrDuplicatePayment indicates the payment id is already recorded.
	ErrDuplicatePayment = errors.New("invoicing: payment id already recorded")
	// ErrNotConfigured indicates a required dependency is missing.
	ErrNotConfigured = errors.New("invoicing: service not configured")
)

//go:generate mockgen -destination=mocks/mock_collaborators.go -package=mocks . RetryQueue,Emitter
//go:generate mockgen -destination=mocks/mock_lookup.go -package=mocks github.com/Developersbbs/Rental-client-sub001/internal/billing ProductLookup

// Store is the persistence surface used by the service.
type Store interface {
	Insert(ctx context.Context, b *billing.Bill) error
	Get(ctx context.Context, id string) (*billing.Bill, error)
	Update(ctx context.Context, b *billing.Bill, expectedVersion int64) error
	AppendPayment(ctx context.Context, b *billing.Bill, rec billing.PaymentRecord, creditStatus string, expectedVersion int64) error
	List(ctx context.Context, filter repo.ListFilter) ([]*billing.Bill, int, error)
	OutstandingByCustomer(ctx context.Context, customerID string) ([]repo.Outstanding, error)
	ListPayments(ctx context.Context, billID string) ([]repo.PaymentRow, error)
	SetCreditStatus(ctx context.Context, paymentID, status string) error
}

// Locker serialises work on a key.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// RetryQueue schedules deferred ledger credits.
type RetryQueue interface {
	EnqueueCredit(ctx context.Context, p ledger.CreditPayload) error
}

// Emitter publishes billing events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Service implements the billing use cases.
type Service struct {
	Store    Store
	Locker   Locker
	Catalog  billing.ProductLookup
	Creditor ledger.Creditor
	Retries  RetryQueue
	Events   Emitter
	Logger   zerolog.Logger
	LockTTL  time.Duration
}

// CreateBillInput carries a new bill. Items without a name or price are
// resolved through the catalog before the bill is built.
type CreateBillInput struct {
	ID              string
	CustomerID      string
	Number          string
	Items           []billing.ItemInput
	DiscountPercent decimal.Decimal
	TaxPercent      decimal.Decimal
	InitialPayment  *billing.PaymentInput
}

// CreateResult is the outcome of CreateBill. Warnings never block creation.
type CreateResult struct {
	Bill         billing.Snapshot
	CreditStatus string
	Warnings     []string
}

// PaymentResult is the outcome of RecordPayment and PayDue.
type PaymentResult struct {
	Bill         billing.Snapshot      `json:"bill"`
	Payment      billing.PaymentRecord `json:"payment"`
	CreditStatus string                `json:"credit_status"`
}

// ListBillsInput filters and pages ListBills.
type ListBillsInput struct {
	CustomerID string
	Status     billing.PaymentStatus
	Page       int
	PerPage    int
}

// OutstandingSummary lists a customer's open bills.
type OutstandingSummary struct {
	CustomerID string             `json:"customer_id"`
	Bills      []repo.Outstanding `json:"bills"`
	TotalDue   money.Money        `json:"total_due"`
}

// CreateBill resolves products, builds and stores a bill, and credits the
// ledger for an initial payment that references an account.
func (s *Service) CreateBill(ctx context.Context, in CreateBillInput) (CreateResult, error) {
	if s == nil || s.Store == nil {
		return CreateResult{}, ErrNotConfigured
	}
	items := make([]billing.ItemInput, len(in.Items))
	for i, item := range in.Items {
		resolved, err := s.resolveItem(ctx, item)
		if err != nil {
			obs.IncCounter(obs.BillsCreatedTotal, resultLabel(err))
			return CreateResult{}, err
		}
		items[i] = resolved
	}
	b, err := billing.New(billing.CreateInput{
		ID:              in.ID,
		CustomerID:      in.CustomerID,
		Number:          in.Number,
		Items:           items,
		DiscountPercent: in.DiscountPercent,
		TaxPercent:      in.TaxPercent,
		InitialPayment:  in.InitialPayment,
	})
	if err != nil {
		obs.IncCounter(obs.BillsCreatedTotal, resultLabel(err))
		return CreateResult{}, err
	}

	warnings := s.outstandingWarnings(ctx, b.CustomerID())

	if err := s.Store.Insert(ctx, b); err != nil {
		err = s.storeError(err, b.ID())
		obs.IncCounter(obs.BillsCreatedTotal, resultLabel(err))
		return CreateResult{}, err
	}
	obs.IncCounter(obs.BillsCreatedTotal, "ok")
	ctx = context.WithoutCancel(ctx)
	snap := b.Snapshot()
	s.logger(ctx).Info().Str("bill_id", snap.ID).Str("total", snap.TotalAmount.String()).Msg("bill created")
	s.emit(ctx, events.TopicBillCreated, snap.ID, snap)

	res := CreateResult{Bill: snap, CreditStatus: ledger.StatusNotRequested, Warnings: warnings}
	payments := b.Payments()
	if len(payments) == 0 {
		return res, nil
	}
	rec := payments[0]
	s.paymentRecorded(ctx, snap, rec)
	status, err := s.credit(ctx, snap.ID, rec)
	res.CreditStatus = status
	return res, err
}

// GetBill loads a bill.
func (s *Service) GetBill(ctx context.Context, id string) (billing.Snapshot, error) {
	if s == nil || s.Store == nil {
		return billing.Snapshot{}, ErrNotConfigured
	}
	b, err := s.Store.Get(ctx, id)
	if err != nil {
		return billing.Snapshot{}, s.storeError(err, id)
	}
	return b.Snapshot(), nil
}

// ListBills returns a page of bills, newest first.
func (s *Service) ListBills(ctx context.Context, in ListBillsInput) ([]billing.Snapshot, common.Pagination, error) {
	if s == nil || s.Store == nil {
		return nil, common.Pagination{}, ErrNotConfigured
	}
	page := common.Pagination{Page: in.Page, PerPage: in.PerPage}
	if page.Page < 1 {
		page.Page = 1
	}
	if page.PerPage < 1 {
		page.PerPage = 20
	}
	if page.PerPage > common.MaxPerPage {
		page.PerPage = common.MaxPerPage
	}
	switch in.Status {
	case "", billing.StatusPending, billing.StatusPartial, billing.StatusPaid:
	default:
		return nil, common.Pagination{}, &billing.ValidationError{Field: "status", Reason: "must be one of pending, partial, paid"}
	}
	bills, total, err := s.Store.List(ctx, repo.ListFilter{
		CustomerID: in.CustomerID,
		Status:     in.Status,
		Limit:      page.PerPage,
		Offset:     page.Offset(),
	})
	if err != nil {
		return nil, common.Pagination{}, fmt.Errorf("list bills: %w", err)
	}
	page.TotalItems = total
	out := make([]billing.Snapshot, len(bills))
	for i, b := range bills {
		out[i] = b.Snapshot()
	}
	return out, page, nil
}

// AddItem appends a line, resolving the product when name or price is missing.
func (s *Service) AddItem(ctx context.Context, billID string, expectedVersion *int64, item billing.ItemInput) (billing.Snapshot, error) {
	resolved, err := s.resolveItem(ctx, item)
	if err != nil {
		obs.IncCounter(obs.BillMutationsTotal, "add_item", resultLabel(err))
		return billing.Snapshot{}, err
	}
	return s.mutate(ctx, billID, expectedVersion, "add_item", func(b *billing.Bill) error {
		return b.AddItem(resolved)
	})
}

// RemoveItem removes the line at index.
func (s *Service) RemoveItem(ctx context.Context, billID string, expectedVersion *int64, index int) (billing.Snapshot, error) {
	return s.mutate(ctx, billID, expectedVersion, "remove_item", func(b *billing.Bill) error {
		return b.RemoveItem(index)
	})
}

// UpdateItem patches the line at index.
func (s *Service) UpdateItem(ctx context.Context, billID string, expectedVersion *int64, index int, patch billing.ItemPatch) (billing.Snapshot, error) {
	return s.mutate(ctx, billID, expectedVersion, "update_item", func(b *billing.Bill) error {
		return b.UpdateItem(index, patch)
	})
}

// SetDiscountPercent replaces the bill discount.
func (s *Service) SetDiscountPercent(ctx context.Context, billID string, expectedVersion *int64, pct decimal.Decimal) (billing.Snapshot, error) {
	return s.mutate(ctx, billID, expectedVersion, "set_discount", func(b *billing.Bill) error {
		return b.SetDiscountPercent(pct)
	})
}

// SetTaxPercent replaces the bill tax rate.
func (s *Service) SetTaxPercent(ctx context.Context, billID string, expectedVersion *int64, pct decimal.Decimal) (billing.Snapshot, error) {
	return s.mutate(ctx, billID, expectedVersion, "set_tax", func(b *billing.Bill) error {
		return b.SetTaxPercent(pct)
	})
}

// RecordPayment records a payment against the bill. The payment is committed
// before the ledger is credited; a credit that fails is queued for retry and
// only a failed enqueue surfaces as an ExternalCollaboratorError, returned
// together with the committed result.
func (s *Service) RecordPayment(ctx context.Context, billID string, expectedVersion *int64, in billing.PaymentInput) (PaymentResult, error) {
	return s.pay(ctx, billID, expectedVersion, in, func(b *billing.Bill, in billing.PaymentInput) (billing.PaymentRecord, error) {
		return b.RecordPayment(in)
	})
}

// PayDue records a payment of exactly the current due amount.
func (s *Service) PayDue(ctx context.Context, billID string, expectedVersion *int64, in billing.PaymentInput) (PaymentResult, error) {
	return s.pay(ctx, billID, expectedVersion, in, func(b *billing.Bill, in billing.PaymentInput) (billing.PaymentRecord, error) {
		return b.PayDue(in)
	})
}

// ListPayments returns the payment history with ledger credit statuses.
func (s *Service) ListPayments(ctx context.Context, billID string) ([]repo.PaymentRow, error) {
	if s == nil || s.Store == nil {
		return nil, ErrNotConfigured
	}
	rows, err := s.Store.ListPayments(ctx, billID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	if len(rows) == 0 {
		if _, err := s.Store.Get(ctx, billID); err != nil {
			return nil, s.storeError(err, billID)
		}
		return []repo.PaymentRow{}, nil
	}
	return rows, nil
}

// Outstanding lists the customer's bills with an amount due. It is
// informational and never blocks other operations.
func (s *Service) Outstanding(ctx context.Context, customerID string) (OutstandingSummary, error) {
	if s == nil || s.Store == nil {
		return OutstandingSummary{}, ErrNotConfigured
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return OutstandingSummary{}, &billing.ValidationError{Field: "customer_id", Reason: "is required"}
	}
	open, err := s.Store.OutstandingByCustomer(ctx, customerID)
	if err != nil {
		return OutstandingSummary{}, fmt.Errorf("outstanding bills: %w", err)
	}
	sum := OutstandingSummary{CustomerID: customerID, Bills: open}
	if sum.Bills == nil {
		sum.Bills = []repo.Outstanding{}
	}
	for _, o := range open {
		total, err := sum.TotalDue.Add(o.DueAmount)
		if err != nil {
			return OutstandingSummary{}, err
		}
		sum.TotalDue = total
	}
	return sum, nil
}

func (s *Service) mutate(ctx context.Context, billID string, expectedVersion *int64, op string, fn func(*billing.Bill) error) (billing.Snapshot, error) {
	var snap billing.Snapshot
	err := s.withBill(ctx, billID, expectedVersion, func(ctx context.Context, b *billing.Bill) error {
		loaded := b.Version()
		if err := fn(b); err != nil {
			return err
		}
		if err := s.Store.Update(ctx, b, loaded); err != nil {
			return s.storeError(err, billID)
		}
		snap = b.Snapshot()
		return nil
	})
	obs.IncCounter(obs.BillMutationsTotal, op, resultLabel(err))
	if err != nil {
		return billing.Snapshot{}, err
	}
	s.emit(ctx, events.TopicBillUpdated, snap.ID, map[string]any{
		"operation":      op,
		"version":        snap.Version,
		"total_amount":   snap.TotalAmount,
		"due_amount":     snap.DueAmount,
		"payment_status": snap.PaymentStatus,
	})
	return snap, nil
}

func (s *Service) pay(ctx context.Context, billID string, expectedVersion *int64, in billing.PaymentInput, apply func(*billing.Bill, billing.PaymentInput) (billing.PaymentRecord, error)) (PaymentResult, error) {
	var res PaymentResult
	err := s.withBill(ctx, billID, expectedVersion, func(ctx context.Context, b *billing.Bill) error {
		loaded := b.Version()
		rec, err := apply(b, in)
		if err != nil {
			return err
		}
		initial := ledger.StatusNotRequested
		if rec.CreditsAccount() {
			initial = ledger.StatusPending
		}
		if err := s.Store.AppendPayment(ctx, b, rec, initial, loaded); err != nil {
			return s.storeError(err, billID)
		}
		res = PaymentResult{Bill: b.Snapshot(), Payment: rec, CreditStatus: initial}
		return nil
	})
	method := string(in.Method)
	if !in.Method.Valid() {
		method = "unknown"
	}
	obs.IncCounter(obs.PaymentsRecordedTotal, method, resultLabel(err))
	if err != nil {
		return PaymentResult{}, err
	}
	ctx = context.WithoutCancel(ctx)
	obs.AddCounter(obs.PaymentAmountMinorTotal, float64(res.Payment.Amount.Minor()), method)
	s.logger(ctx).Info().
		Str("bill_id", res.Bill.ID).
		Str("payment_id", res.Payment.ID).
		Str("amount", res.Payment.Amount.String()).
		Str("due", res.Bill.DueAmount.String()).
		Msg("payment recorded")

	s.paymentRecorded(ctx, res.Bill, res.Payment)
	status, err := s.credit(ctx, res.Bill.ID, res.Payment)
	res.CreditStatus = status
	return res, err
}

// withBill loads the bill under its lock and checks the caller's expected
// version before running fn.
func (s *Service) withBill(ctx context.Context, billID string, expectedVersion *int64, fn func(context.Context, *billing.Bill) error) error {
	if s == nil || s.Store == nil || s.Locker == nil {
		return ErrNotConfigured
	}
	billID = strings.TrimSpace(billID)
	if billID == "" {
		return &billing.ValidationError{Field: "bill_id", Reason: "is required"}
	}
	return s.Locker.WithLock(ctx, lock.BillKey(billID), s.lockTTL(), func(ctx context.Context) error {
		b, err := s.Store.Get(ctx, billID)
		if err != nil {
			return s.storeError(err, billID)
		}
		if expectedVersion != nil && *expectedVersion != b.Version() {
			return fmt.Errorf("expected version %d, current %d: %w", *expectedVersion, b.Version(), ErrVersionConflict)
		}
		return fn(ctx, b)
	})
}

// credit applies the ledger side effect of rec and returns its credit status.
// The payment is already committed, so ctx must not carry the caller's
// cancellation.
func (s *Service) credit(ctx context.Context, billID string, rec billing.PaymentRecord) (string, error) {
	if !rec.CreditsAccount() {
		return ledger.StatusNotRequested, nil
	}
	logger := s.logger(ctx).With().Str("bill_id", billID).Str("payment_id", rec.ID).Str("account_id", rec.AccountID).Logger()
	payload := ledger.CreditPayload{BillID: billID, PaymentID: rec.ID, AccountID: rec.AccountID, Amount: rec.Amount}

	var creditErr error
	if s.Creditor == nil {
		creditErr = errors.New("ledger creditor not configured")
	} else {
		creditErr = s.Creditor.Credit(ctx, rec.AccountID, rec.Amount, rec.ID)
	}
	if creditErr == nil {
		obs.IncCounter(obs.LedgerCreditsTotal, "credited")
		s.setCreditStatus(ctx, logger, rec.ID, ledger.StatusCredited)
		return ledger.StatusCredited, nil
	}

	if errors.Is(creditErr, ledger.ErrPermanent) {
		obs.IncCounter(obs.LedgerCreditsTotal, "failed")
		s.setCreditStatus(ctx, logger, rec.ID, ledger.StatusFailed)
		s.creditFailed(ctx, payload, creditErr)
		logger.Error().Err(creditErr).Msg("ledger rejected credit")
		return ledger.StatusFailed, &billing.ExternalCollaboratorError{Collaborator: "ledger", Op: "credit", Err: creditErr}
	}

	var enqueueErr error
	if s.Retries == nil {
		enqueueErr = errors.New("retry queue not configured")
	} else {
		enqueueErr = s.Retries.EnqueueCredit(ctx, payload)
	}
	if enqueueErr == nil {
		obs.IncCounter(obs.LedgerCreditsTotal, "queued")
		s.setCreditStatus(ctx, logger, rec.ID, ledger.StatusQueued)
		logger.Warn().Err(creditErr).Msg("ledger credit queued for retry")
		return ledger.StatusQueued, nil
	}

	obs.IncCounter(obs.LedgerCreditsTotal, "failed")
	s.setCreditStatus(ctx, logger, rec.ID, ledger.StatusFailed)
	err := errors.Join(creditErr, enqueueErr)
	s.creditFailed(ctx, payload, err)
	logger.Error().Err(err).Msg("ledger credit could not be applied or queued")
	return ledger.StatusFailed, &billing.ExternalCollaboratorError{Collaborator: "ledger", Op: "credit", Err: err}
}

func (s *Service) setCreditStatus(ctx context.Context, logger zerolog.Logger, paymentID, status string) {
	if err := s.Store.SetCreditStatus(ctx, paymentID, status); err != nil {
		logger.Error().Err(err).Str("credit_status", status).Msg("record credit status")
	}
}

func (s *Service) creditFailed(ctx context.Context, p ledger.CreditPayload, cause error) {
	CreditFailureEvents{Events: s.Events, Logger: s.logger(ctx)}.CreditFailed(ctx, p, cause)
}

func (s *Service) paymentRecorded(ctx context.Context, snap billing.Snapshot, rec billing.PaymentRecord) {
	s.emit(ctx, events.TopicBillPaymentRecorded, snap.ID, map[string]any{
		"payment":        rec,
		"paid_amount":    snap.PaidAmount,
		"due_amount":     snap.DueAmount,
		"payment_status": snap.PaymentStatus,
	})
	if snap.PaymentStatus == billing.StatusPaid {
		s.emit(ctx, events.TopicBillPaid, snap.ID, map[string]any{
			"total_amount": snap.TotalAmount,
			"paid_amount":  snap.PaidAmount,
		})
	}
}

func (s *Service) resolveItem(ctx context.Context, item billing.ItemInput) (billing.ItemInput, error) {
	if _, ok := item.Product.Summary(); ok {
		return item, nil
	}
	if strings.TrimSpace(item.Name) != "" && item.Price != nil {
		return item, nil
	}
	summary, err := billing.ResolveProduct(ctx, item.Product, s.Catalog)
	if err != nil {
		return billing.ItemInput{}, err
	}
	item.Product = billing.ResolvedProduct(summary)
	return item, nil
}

func (s *Service) outstandingWarnings(ctx context.Context, customerID string) []string {
	if customerID == "" {
		return nil
	}
	open, err := s.Store.OutstandingByCustomer(ctx, customerID)
	if err != nil {
		s.logger(ctx).Warn().Err(err).Str("customer_id", customerID).Msg("outstanding balance check failed")
		return nil
	}
	if len(open) == 0 {
		return nil
	}
	var due money.Money
	for _, o := range open {
		if next, err := due.Add(o.DueAmount); err == nil {
			due = next
		}
	}
	return []string{fmt.Sprintf("customer has %d outstanding bill(s) with %s due", len(open), due)}
}

func (s *Service) emit(ctx context.Context, topic, billID string, payload any) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, billID, payload); err != nil {
		s.logger(ctx).Error().Err(err).Str("topic", topic).Str("bill_id", billID).Msg("emit billing event")
	}
}

func (s *Service) storeError(err error, billID string) error {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return &billing.NotFoundError{Resource: "bill", Key: billID}
	case errors.Is(err, repo.ErrVersionConflict):
		return fmt.Errorf("bill %s: %w", billID, ErrVersionConflict)
	case errors.Is(err, repo.ErrDuplicatePayment):
		return fmt.Errorf("bill %s: %w", billID, ErrDuplicatePayment)
	case errors.Is(err, repo.ErrDuplicate):
		return fmt.Errorf("bill %s: %w", billID, ErrDuplicateBill)
	default:
		return fmt.Errorf("store bill %s: %w", billID, err)
	}
}

func (s *Service) lockTTL() time.Duration {
	if s.LockTTL > 0 {
		return s.LockTTL
	}
	return 10 * time.Second
}

func (s *Service) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.Logger
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, billing.ErrValidation), errors.Is(err, billing.ErrInvalidPayment), errors.Is(err, billing.ErrNotFound):
		return "rejected"
	case errors.Is(err, billing.ErrOverpayment):
		return "overpayment"
	case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrDuplicateBill), errors.Is(err, ErrDuplicatePayment), errors.Is(err, lock.ErrNotAcquired):
		return "conflict"
	default:
		return "error"
	}
}
