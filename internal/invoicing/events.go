package invoicing

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Developersbbs/Rental-client-sub001/internal/events"
	"github.com/Developersbbs/Rental-client-sub001/internal/ledger"
)

// CreditFailureEvents publishes ledger.credit_failed for abandoned credits so
// the payment can be reconciled by hand. It is shared by the API and the
// worker.
type CreditFailureEvents struct {
	Events Emitter
	Logger *zerolog.Logger
}

var _ ledger.FailureNotifier = CreditFailureEvents{}

// CreditFailed implements ledger.FailureNotifier.
func (c CreditFailureEvents) CreditFailed(ctx context.Context, p ledger.CreditPayload, cause error) {
	if c.Events == nil {
		return
	}
	payload := map[string]any{
		"bill_id":    p.BillID,
		"payment_id": p.PaymentID,
		"account_id": p.AccountID,
		"amount":     p.Amount,
	}
	if cause != nil {
		payload["error"] = cause.Error()
	}
	if _, err := c.Events.Emit(ctx, events.TopicLedgerCreditFailed, p.BillID, payload); err != nil && c.Logger != nil {
		c.Logger.Error().Err(err).Str("payment_id", p.PaymentID).Msg("emit ledger credit failure")
	}
}
