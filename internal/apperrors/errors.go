package apperrors

import (
	"errors"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailAlreadyExists = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailNotConfirmed  = errors.New("email not confirmed")

	// Returned for unknown, expired, superseded or already consumed
	// confirmation and reset tokens alike. Callers must not be able to
	// tell those cases apart.
	ErrActionTokenInvalid = errors.New("action token invalid or expired")

	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenExpired  = errors.New("refresh token is expired")
	ErrRefreshTokenUsed     = errors.New("refresh token is used")
	ErrRefreshTokenRevoked  = errors.New("refresh token is revoked")

	// Presenting an already rotated or revoked refresh token is treated
	// as a compromise signal and triggers revocation of every live token
	// for that user.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")
)
