// Package catalog resolves product references against the external product
// catalog, caching summaries in Redis.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Developersbbs/Rental-client-sub001/internal/billing"
	"github.com/Developersbbs/Rental-client-sub001/internal/obs"
)

// Doer executes outbound HTTP requests; resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client looks up products by id.
type Client struct {
	BaseURL string
	Token   string
	HTTP    Doer
	Cache   *Cache
	Logger  zerolog.Logger
}

var _ billing.ProductLookup = (*Client)(nil)

type productEnvelope struct {
	Data *billing.ProductSummary `json:"data"`
}

// LookupProduct implements billing.ProductLookup. Cache errors are logged
// and never fail the lookup.
func (c *Client) LookupProduct(ctx context.Context, id string) (billing.ProductSummary, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return billing.ProductSummary{}, &billing.ValidationError{Field: "product_id", Reason: "is required"}
	}

	cached, found, err := c.Cache.get(ctx, id)
	switch {
	case err != nil:
		obs.IncCounter(obs.CatalogCacheTotal, "error")
		c.Logger.Warn().Err(err).Str("product_id", id).Msg("catalog cache read failed")
	case found == cacheHit:
		obs.IncCounter(obs.CatalogCacheTotal, "hit")
		return cached, nil
	case found == cacheMissing:
		obs.IncCounter(obs.CatalogCacheTotal, "hit")
		return billing.ProductSummary{}, &billing.NotFoundError{Resource: "product", Key: id}
	default:
		obs.IncCounter(obs.CatalogCacheTotal, "miss")
	}

	summary, err := c.fetch(ctx, id)
	var nf *billing.NotFoundError
	switch {
	case errors.As(err, &nf):
		if cerr := c.Cache.markMissing(ctx, id); cerr != nil {
			c.Logger.Warn().Err(cerr).Str("product_id", id).Msg("catalog cache write failed")
		}
		return billing.ProductSummary{}, err
	case err != nil:
		return billing.ProductSummary{}, err
	}
	if err := c.Cache.put(ctx, id, summary); err != nil {
		c.Logger.Warn().Err(err).Str("product_id", id).Msg("catalog cache write failed")
	}
	return summary, nil
}

func (c *Client) fetch(ctx context.Context, id string) (billing.ProductSummary, error) {
	if c.HTTP == nil || c.BaseURL == "" {
		return billing.ProductSummary{}, external(errors.New("catalog client not configured"))
	}
	endpoint := strings.TrimRight(c.BaseURL, "/") + "/products/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return billing.ProductSummary{}, external(err)
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return billing.ProductSummary{}, external(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return billing.ProductSummary{}, &billing.NotFoundError{Resource: "product", Key: id}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return billing.ProductSummary{}, external(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return billing.ProductSummary{}, external(err)
	}
	summary, err := decodeProduct(body)
	if err != nil {
		return billing.ProductSummary{}, external(fmt.Errorf("decode product: %w", err))
	}
	if summary.ID == "" {
		summary.ID = id
	}
	if strings.TrimSpace(summary.Name) == "" {
		return billing.ProductSummary{}, external(errors.New("product has no name"))
	}
	if summary.Price < 0 {
		return billing.ProductSummary{}, external(errors.New("product has a negative price"))
	}
	return summary, nil
}

// decodeProduct accepts both the enveloped ({"data": {...}}) and the bare
// product shape.
func decodeProduct(body []byte) (billing.ProductSummary, error) {
	var env productEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return billing.ProductSummary{}, err
	}
	if env.Data != nil {
		return *env.Data, nil
	}
	var summary billing.ProductSummary
	err := json.Unmarshal(body, &summary)
	return summary, err
}

func external(err error) error {
	return &billing.ExternalCollaboratorError{Collaborator: "catalog", Op: "lookup", Err: err}
}
