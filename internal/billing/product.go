package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/Developersbbs/Rental-client-sub001/internal/money"
)

// Batch is a stock batch the catalog reports as available for a product.
type Batch struct {
	Number   string `json:"number"`
	Quantity int    `json:"quantity"`
}

// ProductSummary is the catalog view of a product used to populate a bill line.
type ProductSummary struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Price            money.Money `json:"price"`
	AvailableBatches []Batch     `json:"available_batches,omitempty"`
}

// ProductRef points at a catalog product. It holds either a bare id or a
// summary that was already resolved; ResolveProduct turns either form into a
// ProductSummary.
type ProductRef struct {
	id      string
	summary *ProductSummary
}

// ProductID builds an unresolved reference.
func ProductID(id string) ProductRef {
	return ProductRef{id: strings.TrimSpace(id)}
}

// ResolvedProduct builds a reference carrying its summary.
func ResolvedProduct(s ProductSummary) ProductRef {
	s.ID = strings.TrimSpace(s.ID)
	s.AvailableBatches = append([]Batch(nil), s.AvailableBatches...)
	return ProductRef{id: s.ID, summary: &s}
}

// ID returns the referenced product id.
func (r ProductRef) ID() string { return r.id }

// IsZero reports whether the reference is empty.
func (r ProductRef) IsZero() bool { return r.id == "" && r.summary == nil }

// Summary returns a copy of the resolved summary, if any.
func (r ProductRef) Summary() (ProductSummary, bool) {
	if r.summary == nil {
		return ProductSummary{}, false
	}
	s := *r.summary
	s.AvailableBatches = append([]Batch(nil), s.AvailableBatches...)
	return s, true
}

// MarshalJSON encodes a bare id as a string and a resolved reference as an object.
func (r ProductRef) MarshalJSON() ([]byte, error) {
	if r.summary != nil {
		return json.Marshal(r.summary)
	}
	return json.Marshal(r.id)
}

// UnmarshalJSON accepts either a product id string or a product object.
func (r *ProductRef) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		*r = ProductRef{}
		return nil
	case trimmed[0] == '"':
		var id string
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return err
		}
		*r = ProductID(id)
		return nil
	case trimmed[0] == '{':
		var s ProductSummary
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*r = ResolvedProduct(s)
		return nil
	default:
		return errors.New("billing: product reference must be a string or an object")
	}
}

// ProductLookup resolves product ids against the catalog.
type ProductLookup interface {
	LookupProduct(ctx context.Context, id string) (ProductSummary, error)
}

// ResolveProduct returns the summary for ref. The catalog is consulted only
// for bare ids; lookup failures other than NotFoundError are reported as
// ExternalCollaboratorError.
func ResolveProduct(ctx context.Context, ref ProductRef, lookup ProductLookup) (ProductSummary, error) {
	if s, ok := ref.Summary(); ok {
		return s, nil
	}
	if ref.id == "" {
		return ProductSummary{}, invalid("product_id", "is required")
	}
	if lookup == nil {
		return ProductSummary{}, &ExternalCollaboratorError{Collaborator: "catalog", Op: "lookup", Err: errors.New("catalog not configured")}
	}
	s, err := lookup.LookupProduct(ctx, ref.id)
	if err != nil {
		var ext *ExternalCollaboratorError
		if errors.Is(err, ErrNotFound) || errors.As(err, &ext) {
			return ProductSummary{}, err
		}
		return ProductSummary{}, &ExternalCollaboratorError{Collaborator: "catalog", Op: "lookup", Err: err}
	}
	if s.ID == "" {
		s.ID = ref.id
	}
	return s, nil
}
