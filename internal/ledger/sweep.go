package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/Developersbbs/Rental-client-sub001/internal/obs"
)

// TypeSweepPending is the periodic task that requeues credits left pending.
const TypeSweepPending = "ledger:sweep_pending"

// PendingSource lists payments whose credit was never attempted or queued.
type PendingSource interface {
	PendingCredits(ctx context.Context, cutoff time.Time, limit int) ([]CreditPayload, error)
}

// CreditQueue schedules a credit task.
type CreditQueue interface {
	EnqueueCredit(ctx context.Context, p CreditPayload) error
}

// NewSweepTask builds the periodic sweep task. Overlapping runs collapse into
// one while a sweep is still queued.
func NewSweepTask(interval time.Duration) *asynq.Task {
	opts := []asynq.Option{asynq.Queue(QueueName), asynq.MaxRetry(0)}
	if interval >= time.Second {
		opts = append(opts, asynq.Unique(interval), asynq.Timeout(interval))
	}
	return asynq.NewTask(TypeSweepPending, nil, opts...)
}

// Sweeper requeues payments still pending after Grace. A payment stays
// pending when the API process died or lost its queue between committing the
// payment and handing the credit off. The status is left to TaskHandler; a
// payment whose task is still queued collapses into that task.
type Sweeper struct {
	Source PendingSource
	Queue  CreditQueue
	Grace  time.Duration
	Batch  int
	Logger zerolog.Logger
	Now    func() time.Time
}

// ProcessTask implements asynq.Handler.
func (s Sweeper) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	n, err := s.Sweep(ctx)
	if n > 0 {
		s.Logger.Info().Int("requeued", n).Msg("pending ledger credits requeued")
	}
	return err
}

// Sweep requeues one batch and returns how many payments it handed off.
func (s Sweeper) Sweep(ctx context.Context) (int, error) {
	if s.Source == nil || s.Queue == nil {
		return 0, errors.New("ledger: sweeper not configured")
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	grace := s.Grace
	if grace <= 0 {
		grace = 2 * time.Minute
	}
	pending, err := s.Source.PendingCredits(ctx, now().Add(-grace), s.Batch)
	if err != nil {
		return 0, fmt.Errorf("ledger: list pending credits: %w", err)
	}

	var (
		requeued int
		errs     []error
	)
	for _, p := range pending {
		if err := s.Queue.EnqueueCredit(ctx, p); err != nil {
			s.Logger.Error().Err(err).Str("bill_id", p.BillID).Str("payment_id", p.PaymentID).Msg("requeue pending credit")
			errs = append(errs, err)
			continue
		}
		requeued++
		obs.IncCounter(obs.LedgerCreditsTotal, "swept")
	}
	return requeued, errors.Join(errs...)
}
