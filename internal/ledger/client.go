// Package ledger credits payment amounts to external ledger accounts and
// retries failed credits through asynq.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Developersbbs/Rental-client-sub001/internal/money"
)

//go:generate mockgen -source=client.go -destination=mocks/mock_creditor.go -package=mocks

// ErrPermanent marks credit failures that will not succeed on retry (unknown
// account, rejected amount).
var ErrPermanent = errors.New("ledger: permanent failure")

// Creditor credits an amount to a ledger account. Implementations must be
// idempotent on key.
type Creditor interface {
	Credit(ctx context.Context, accountID string, amount money.Money, key string) error
}

// Doer executes outbound HTTP requests; resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client is the HTTP implementation of Creditor.
type Client struct {
	BaseURL string
	Token   string
	HTTP    Doer
}

type creditBody struct {
	Amount         money.Money `json:"amount"`
	IdempotencyKey string      `json:"idempotency_key"`
}

// Credit posts the credit. 2xx and 409 (already applied under this key)
// succeed; 400, 404 and 422 are permanent.
func (c *Client) Credit(ctx context.Context, accountID string, amount money.Money, key string) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return fmt.Errorf("%w: account id is required", ErrPermanent)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrPermanent)
	}
	if c.HTTP == nil || c.BaseURL == "" {
		return errors.New("ledger: client not configured")
	}
	payload, err := json.Marshal(creditBody{Amount: amount, IdempotencyKey: key})
	if err != nil {
		return err
	}
	endpoint := strings.TrimRight(c.BaseURL, "/") + "/accounts/" + url.PathEscape(accountID) + "/credits"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("ledger: credit %s: %w", accountID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300, resp.StatusCode == http.StatusConflict:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: account %s not found", ErrPermanent, accountID)
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: credit rejected with status %d", ErrPermanent, resp.StatusCode)
	default:
		return fmt.Errorf("ledger: credit %s: unexpected status %d", accountID, resp.StatusCode)
	}
}
