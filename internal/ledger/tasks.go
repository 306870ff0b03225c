package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/Developersbbs/Rental-client-sub001/internal/money"
	"github.com/Developersbbs/Rental-client-sub001/internal/obs"
)

// TypeCreditAccount is the asynq task type for deferred ledger credits.
const TypeCreditAccount = "ledger:credit_account"

// QueueName is the asynq queue ledger credits run on.
const QueueName = "ledger"

// Credit statuses recorded against a payment.
const (
	StatusNotRequested = "not_requested"
	StatusPending      = "pending"
	StatusCredited     = "credited"
	StatusQueued       = "queued"
	StatusFailed       = "failed"
)

// CreditPayload is the task body; PaymentID doubles as the idempotency key.
type CreditPayload struct {
	BillID    string      `json:"bill_id"`
	PaymentID string      `json:"payment_id"`
	AccountID string      `json:"account_id"`
	Amount    money.Money `json:"amount"`
}

func (p CreditPayload) validate() error {
	if strings.TrimSpace(p.PaymentID) == "" || strings.TrimSpace(p.AccountID) == "" {
		return errors.New("payment id and account id are required")
	}
	if !p.Amount.IsPositive() {
		return errors.New("amount must be positive")
	}
	return nil
}

// NewCreditTask builds the task. The task id collapses duplicate enqueues of
// the same payment.
func NewCreditTask(p CreditPayload, maxRetry int) (*asynq.Task, error) {
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{
		asynq.TaskID("credit:" + p.PaymentID),
		asynq.Queue(QueueName),
		asynq.Timeout(30 * time.Second),
	}
	if maxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(maxRetry))
	}
	return asynq.NewTask(TypeCreditAccount, data, opts...), nil
}

// Enqueuer schedules credit retries.
type Enqueuer struct {
	Client   *asynq.Client
	MaxRetry int
}

// EnqueueCredit schedules p. A task already queued for the same payment is
// treated as success.
func (e Enqueuer) EnqueueCredit(ctx context.Context, p CreditPayload) error {
	if e.Client == nil {
		return errors.New("ledger: task client not configured")
	}
	task, err := NewCreditTask(p, e.MaxRetry)
	if err != nil {
		return err
	}
	if _, err := e.Client.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("ledger: enqueue credit %s: %w", p.PaymentID, err)
	}
	return nil
}

// StatusRecorder persists the credit outcome of a payment.
type StatusRecorder interface {
	SetCreditStatus(ctx context.Context, paymentID, status string) error
}

// FailureNotifier is told when a credit is abandoned.
type FailureNotifier interface {
	CreditFailed(ctx context.Context, p CreditPayload, cause error)
}

// TaskHandler runs deferred credits in the worker.
type TaskHandler struct {
	Creditor Creditor
	Status   StatusRecorder
	Failures FailureNotifier
	Logger   zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h TaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p CreditPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		h.Logger.Error().Err(err).Msg("decode ledger credit task")
		return fmt.Errorf("ledger: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := p.validate(); err != nil {
		h.Logger.Error().Err(err).Str("payment_id", p.PaymentID).Msg("invalid ledger credit task")
		return fmt.Errorf("ledger: %v: %w", err, asynq.SkipRetry)
	}
	logger := h.Logger.With().
		Str("bill_id", p.BillID).
		Str("payment_id", p.PaymentID).
		Str("account_id", p.AccountID).
		Logger()

	if h.Creditor == nil {
		return errors.New("ledger: creditor not configured")
	}
	err := h.Creditor.Credit(ctx, p.AccountID, p.Amount, p.PaymentID)
	if err == nil {
		obs.IncCounter(obs.LedgerCreditsTotal, "credited")
		h.recordStatus(ctx, logger, p.PaymentID, StatusCredited)
		logger.Info().Str("amount", p.Amount.String()).Msg("ledger credit applied")
		return nil
	}

	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, known := asynq.GetMaxRetry(ctx)
	lastAttempt := known && retried >= maxRetry
	if errors.Is(err, ErrPermanent) || lastAttempt {
		obs.IncCounter(obs.LedgerCreditsTotal, "failed")
		h.recordStatus(ctx, logger, p.PaymentID, StatusFailed)
		if h.Failures != nil {
			h.Failures.CreditFailed(ctx, p, err)
		}
		logger.Error().Err(err).Int("retried", retried).Msg("ledger credit abandoned")
		if errors.Is(err, ErrPermanent) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	obs.IncCounter(obs.LedgerCreditsTotal, "retry")
	logger.Warn().Err(err).Int("retried", retried).Msg("ledger credit failed, will retry")
	return err
}

func (h TaskHandler) recordStatus(ctx context.Context, logger zerolog.Logger, paymentID, status string) {
	if h.Status == nil {
		return
	}
	if err := h.Status.SetCreditStatus(ctx, paymentID, status); err != nil {
		logger.Error().Err(err).Str("credit_status", status).Msg("record credit status")
	}
}
