package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pkosilov/accounts/internal/models"
)

// Storage is the credential store facade
// All repositories returned by one Storage share the same connection or transaction
type Storage interface {
	User() UserRepo
	Refresh() RefreshTokenRepo
	Action() ActionTokenRepo

	// Run fn within a database transaction
	// The storage passed to fn is bound to that transaction
	InTx(ctx context.Context, fn func(s Storage) error) error
}

type CreateUserParams struct {
	Email        string
	Username     string
	PasswordHash string
	Roles        []string
}

// User repository interface
type UserRepo interface {
	// Create user
	// If user with the same email exists already has to return apperrors.ErrEmailAlreadyExists
	CreateUser(ctx context.Context, arg CreateUserParams) (models.User, error)

	// Get user by id or email
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)

	// Set email_confirmed to true
	// Idempotent: confirming an already confirmed user is not an error
	SetEmailConfirmed(ctx context.Context, userID uuid.UUID) (models.User, error)

	// Overwrite the stored password hash
	UpdatePasswordHash(ctx context.Context, userID uuid.UUID, passwordHash string) (models.User, error)
}

// RefreshToken repository interface
type RefreshTokenRepo interface {
	// Save token in repository
	Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Return the token even if it is expired, used or revoked
	// If the token not found must return apperrors.ErrRefreshTokenNotFound
	Get(ctx context.Context, tokenString string) (models.RefreshToken, error)

	// Mark token used in a single conditional update so that exactly one
	// concurrent caller wins. The token is returned alongside the error so
	// callers can react to reuse (the UserID is needed for containment):
	//   - not found:        apperrors.ErrRefreshTokenNotFound
	//   - already used:     apperrors.ErrRefreshTokenUsed
	//   - already revoked:  apperrors.ErrRefreshTokenRevoked
	GetAndMarkUsed(ctx context.Context, tokenString string) (models.RefreshToken, error)

	// Revoke every active token of the user, returns how many were revoked
	// Revoking when nothing is active is a no-op, not an error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

// ActionToken repository interface
type ActionTokenRepo interface {
	// Save token, superseding (deleting) any unconsumed token of the same
	// kind for the same user so only the most recently issued one is honored
	Save(ctx context.Context, token models.ActionToken) (models.ActionToken, error)

	// Consume the token if it matches (user, kind, token), is not expired
	// and was not consumed before. Any other case must return
	// apperrors.ErrActionTokenInvalid
	Consume(ctx context.Context, userID uuid.UUID, kind string, tokenString string, now time.Time) (models.ActionToken, error)
}

// LoginLog repository interface (audit store, independent engine)
type LoginLogRepo interface {
	// Append entry, assigning id and write timestamp on the store side
	// Entries are never updated or deleted
	Append(ctx context.Context, entry models.LoginLog) (models.LoginLog, error)

	// List entries for the email in insertion order
	ListByEmail(ctx context.Context, email string) ([]models.LoginLog, error)
}
