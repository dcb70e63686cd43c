// ABOUTME: Request-context propagation of the authenticated user
// ABOUTME: ContextIdentity adapts the context lookup to the annotator's Identity interface

package auth

import (
	"context"
	"errors"
)

// ErrNoUser is returned when no authenticated user is present in the context.
var ErrNoUser = errors.New("no authenticated user")

type contextKey struct{}

// WithUser returns a context carrying the authenticated user id.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserFromContext extracts the authenticated user id from the context.
func UserFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

// ContextIdentity resolves the acting user from the request context.
// It satisfies the annotator's Identity interface.
type ContextIdentity struct{}

// CurrentUser returns the user id placed in the context by the HTTP
// middleware, or ErrNoUser when the request was unauthenticated.
func (ContextIdentity) CurrentUser(ctx context.Context) (string, error) {
	id, ok := UserFromContext(ctx)
	if !ok {
		return "", ErrNoUser
	}
	return id, nil
}
