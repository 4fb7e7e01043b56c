package models

import (
	"time"

	"github.com/google/uuid"
)

type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time // set once when the token is rotated
	RevokedAt *time.Time // set by logout, password reset or compromise containment
}

// Action token kinds. Confirmation and reset tokens live in independent
// namespaces: a confirmation token can never reset a password and vice versa.
const (
	ActionConfirmEmail  = "confirm_email"
	ActionResetPassword = "reset_password"
)

// ActionToken is a single-use token mailed to the user. Issuing a new token
// of the same kind supersedes any unconsumed one, so only the most recently
// issued token is honored.
type ActionToken struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Kind       string
	Token      string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issued by TokenManager on authentication or rotation
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}
