// Package auth issues and verifies access tokens and provides context helpers
// for extracting the authenticated user from request contexts.
package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type contextKey string

const claimsKey contextKey = "auth_claims"

// WithClaims returns a context carrying the verified claims. The middleware
// installs them on every authenticated request; tests use it to simulate an
// authenticated caller.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// GetClaims extracts the JWT claims injected by the auth middleware.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok && claims != nil
}

// GetUserIDFromContext extracts the authenticated user id from the context.
// Returns uuid.Nil if not authenticated.
func GetUserIDFromContext(ctx context.Context) uuid.UUID {
	claims, ok := GetClaims(ctx)
	if !ok {
		return uuid.Nil
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil
	}
	return userID
}

// RequireUserIDFromContext extracts the authenticated user id and returns an
// error if it is missing. Use this when the operation requires a user.
func RequireUserIDFromContext(ctx context.Context) (uuid.UUID, error) {
	userID := GetUserIDFromContext(ctx)
	if userID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}
