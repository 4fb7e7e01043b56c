// Package userctx carries the authenticated account through the request
// context once the auth middleware has validated the access token.
package userctx

import (
	"context"

	"github.com/pkosilov/accounts/internal/models"
)

type ctxKey string

const userKey ctxKey = "user"

// Attach the authenticated account to the context
func New(ctx context.Context, u models.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// Extract the account placed by the auth middleware
// ok is false for requests that never passed authentication
func FromContext(ctx context.Context) (models.User, bool) {
	u, ok := ctx.Value(userKey).(models.User)
	return u, ok
}
