// ABOUTME: Authentication context for tracking the caller through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating verified claims via context

package auth

import (
	"context"
)

// authContextKey is the key type for storing Claims in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the claims attached.
func WithAuth(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, authContextKey{}, claims)
}

// FromContext retrieves the claims from the context.
func FromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(authContextKey{}).(Claims)
	return claims, ok
}

// CanActFor reports whether the caller in ctx may act on userID's jobs.
func CanActFor(ctx context.Context, userID string) bool {
	claims, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return claims.Operator() || claims.Subject == userID
}
