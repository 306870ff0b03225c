package common

import (
	"context"
	"strings"
)

type principalKey struct{}

// WithUserID returns ctx carrying the authenticated subject. Blank ids are
// not stored.
func WithUserID(ctx context.Context, id string) context.Context {
	if id = strings.TrimSpace(id); id == "" {
		return ctx
	}
	return context.WithValue(ctx, principalKey{}, id)
}

// UserID returns the subject stored by WithUserID.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(principalKey{}).(string)
	return id, ok
}
