package billing

import (
	"errors"
	"fmt"

	"github.com/Developersbbs/Rental-client-sub001/internal/money"
)

// Sentinel values matched by the typed errors below through errors.Is.
var (
	ErrValidation     = errors.New("billing: validation failed")
	ErrNotFound       = errors.New("billing: not found")
	ErrInvalidPayment = errors.New("billing: invalid payment")
	ErrOverpayment    = errors.New("billing: overpayment")
	ErrExternal       = errors.New("billing: external collaborator failed")
)

// ValidationError reports malformed input to a mutating operation.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("billing: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Unwrap() error { return e.Err }

// NotFoundError reports a reference to a bill, item index or product that does not exist.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("billing: %s %s not found", e.Resource, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InvalidPaymentError reports a non-positive payment amount.
type InvalidPaymentError struct {
	Amount money.Money
	Reason string
}

func (e *InvalidPaymentError) Error() string {
	return fmt.Sprintf("billing: invalid payment of %s: %s", e.Amount, e.Reason)
}

func (e *InvalidPaymentError) Is(target error) bool { return target == ErrInvalidPayment }

// OverpaymentError reports a payment larger than the amount currently due.
type OverpaymentError struct {
	Amount money.Money
	Due    money.Money
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("billing: payment of %s exceeds due amount %s", e.Amount, e.Due)
}

func (e *OverpaymentError) Is(target error) bool { return target == ErrOverpayment }

// ExternalCollaboratorError wraps a failure of the catalog or the ledger.
type ExternalCollaboratorError struct {
	Collaborator string
	Op           string
	Err          error
}

func (e *ExternalCollaboratorError) Error() string {
	return fmt.Sprintf("billing: %s %s: %v", e.Collaborator, e.Op, e.Err)
}

func (e *ExternalCollaboratorError) Is(target error) bool { return target == ErrExternal }

func (e *ExternalCollaboratorError) Unwrap() error { return e.Err }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func invalidWrap(field string, err error) error {
	return &ValidationError{Field: field, Reason: err.Error(), Err: err}
}
