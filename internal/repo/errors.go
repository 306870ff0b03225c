package repo

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("repo: not found")
	// ErrVersionConflict indicates the bill changed since it was loaded.
	ErrVersionConflict = errors.New("repo: version conflict")
	// ErrDuplicate indicates a unique constraint rejected the write.
	ErrDuplicate = errors.New("repo: duplicate")
	// ErrDuplicatePayment indicates the payment id is already stored,
	// possibly against another bill. It matches ErrDuplicate as well.
	ErrDuplicatePayment = fmt.Errorf("%w payment", ErrDuplicate)
	// ErrStoreUnavailable indicates the pool is not configured.
	ErrStoreUnavailable = errors.New("repo: store unavailable")
)

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		if pgErr.TableName == "bill_payments" || pgErr.ConstraintName == "bill_payments_pkey" {
			return errors.Join(ErrDuplicatePayment, err)
		}
		return errors.Join(ErrDuplicate, err)
	}
	return err
}
