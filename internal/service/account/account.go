// Package account implements the account operations: registration, email
// confirmation, authentication, token refresh and password recovery.
//
// The package never reads ambient request state. Everything it needs from the
// transport layer arrives explicitly through RequestContext.
package account

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pkosilov/accounts/internal/apperrors"
	"github.com/pkosilov/accounts/internal/logger"
	"github.com/pkosilov/accounts/internal/models"
	"github.com/pkosilov/accounts/internal/repository"
	"github.com/pkosilov/accounts/internal/service/account/tokenmanager"
	"github.com/pkosilov/accounts/internal/service/mailer"
)

const (
	defaultConfirmTokenTTL = 24 * time.Hour
	defaultResetTokenTTL   = 1 * time.Hour
	defaultMailTimeout     = 5 * time.Second

	actionTokenBytesLen = 32
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

// Recorder for successful logins
// Record must never block or fail the caller
type AuditRecorder interface {
	Record(entry models.LoginLog)
}

// RequestContext carries caller metadata the transport layer extracted from
// the request
type RequestContext struct {
	IP        string
	OriginURI string
}

type RegisterParams struct {
	Email    string
	Username string
	Password string
}

type ResetPasswordParams struct {
	UserID   uuid.UUID
	Token    string
	Password string
}

type Config struct {
	// Hasher to use during registration or login
	// If not set then default bcrypt hasher is used
	Hasher PasswordHasher

	// Action token lifetimes
	// If not set then default is used
	ConfirmTokenTTL time.Duration
	ResetTokenTTL   time.Duration

	// Max time an async mail dispatch may take
	// If not set then default is used
	MailTimeout time.Duration
}

type AccountService struct {
	hasher  PasswordHasher
	tokens  *tokenmanager.TokenManager
	storage repository.Storage

	recorder AuditRecorder
	mailer   mailer.Mailer
	logger   logger.Logger

	confirmTTL  time.Duration
	resetTTL    time.Duration
	mailTimeout time.Duration

	// Hash compared against for unknown emails so that the response time
	// does not reveal whether the account exists
	dummyHash string
}

func NewService(
	cfg Config,
	storage repository.Storage,
	tokens *tokenmanager.TokenManager,
	recorder AuditRecorder,
	m mailer.Mailer,
	l logger.Logger,
) (*AccountService, error) {
	if storage == nil || tokens == nil || recorder == nil || m == nil {
		return nil, errors.New("storage, tokens, recorder and mailer must not be nil")
	}

	hasher := cfg.Hasher
	if hasher == nil {
		hasher = BcryptHasher{}
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.ConfirmTokenTTL, defaultConfirmTokenTTL)
	setDefaultDuration(&cfg.ResetTokenTTL, defaultResetTokenTTL)
	setDefaultDuration(&cfg.MailTimeout, defaultMailTimeout)

	dummyHash, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("cant prepare dummy hash. Err: %w", err)
	}

	return &AccountService{
		hasher:      hasher,
		tokens:      tokens,
		storage:     storage,
		recorder:    recorder,
		mailer:      m,
		logger:      l,
		confirmTTL:  cfg.ConfirmTokenTTL,
		resetTTL:    cfg.ResetTokenTTL,
		mailTimeout: cfg.MailTimeout,
		dummyHash:   dummyHash,
	}, nil
}

// Authenticate verifies credentials and mints a token pair
// Unknown email and wrong password are indistinguishable for the caller
func (s *AccountService) Authenticate(ctx context.Context, rctx RequestContext, email string, password string) (models.TokenPair, error) {
	var pair models.TokenPair

	user, err := s.storage.User().GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		// Burn the same bcrypt time an existing account would
		_ = s.hasher.Compare(s.dummyHash, password)
		return pair, apperrors.ErrInvalidCredentials
	case err != nil:
		return pair, fmt.Errorf("cant get user. Err: %w", err)
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return pair, apperrors.ErrInvalidCredentials
	}

	if !user.EmailConfirmed {
		return pair, apperrors.ErrEmailNotConfirmed
	}

	pair, err = s.tokens.GeneratePair(ctx, user)
	if err != nil {
		return pair, fmt.Errorf("token could not generated, sorry. %w", err)
	}

	// Best effort, after the decision. Recorder failure never surfaces
	s.recorder.Record(models.LoginLog{
		UserEmail: user.Email,
		LoginTime: time.Now().UTC(),
	})

	return pair, nil
}

// Register creates an unconfirmed user and dispatches a confirmation email
func (s *AccountService) Register(ctx context.Context, rctx RequestContext, params RegisterParams) (models.User, error) {
	var user models.User

	hash, err := s.hasher.Hash(params.Password)
	if err != nil {
		return user, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	var confirmToken string
	err = s.storage.InTx(ctx, func(st repository.Storage) error {
		user, err = st.User().CreateUser(ctx, repository.CreateUserParams{
			Email:        params.Email,
			Username:     params.Username,
			PasswordHash: hash,
		})
		if err != nil {
			return err
		}

		confirmToken, err = s.issueActionToken(ctx, st, user.ID, models.ActionConfirmEmail, s.confirmTTL)
		return err
	})
	if err != nil {
		return user, err
	}

	s.dispatchMail(models.ActionConfirmEmail, user.Email, confirmToken, rctx.OriginURI)

	return user, nil
}

// ConfirmEmail consumes the confirmation token and marks the email confirmed
// Confirming an already confirmed account succeeds without consuming anything
func (s *AccountService) ConfirmEmail(ctx context.Context, userID uuid.UUID, token string) error {
	user, err := s.storage.User().GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if user.EmailConfirmed {
		return nil
	}

	return s.storage.InTx(ctx, func(st repository.Storage) error {
		_, err := st.Action().Consume(ctx, userID, models.ActionConfirmEmail, token, time.Now())
		if err != nil {
			return err
		}

		_, err = st.User().SetEmailConfirmed(ctx, userID)
		return err
	})
}

// ForgotPassword issues a reset token and dispatches a reset email
// Always succeeds externally so the caller cant probe which emails exist
func (s *AccountService) ForgotPassword(ctx context.Context, rctx RequestContext, email string) error {
	user, err := s.storage.User().GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		s.logger.Debug("Password reset requested for unknown email")
		return nil
	case err != nil:
		return fmt.Errorf("cant get user. Err: %w", err)
	}

	resetToken, err := s.issueActionToken(ctx, s.storage, user.ID, models.ActionResetPassword, s.resetTTL)
	if err != nil {
		return fmt.Errorf("cant issue reset token. Err: %w", err)
	}

	s.dispatchMail(models.ActionResetPassword, user.Email, resetToken, rctx.OriginURI)

	return nil
}

// ResetPassword consumes the reset token, overwrites the password hash and
// revokes every outstanding refresh token in one transaction
func (s *AccountService) ResetPassword(ctx context.Context, params ResetPasswordParams) error {
	hash, err := s.hasher.Hash(params.Password)
	if err != nil {
		return fmt.Errorf("can't use this as password, Err: %w", err)
	}

	return s.storage.InTx(ctx, func(st repository.Storage) error {
		_, err := st.Action().Consume(ctx, params.UserID, models.ActionResetPassword, params.Token, time.Now())
		if err != nil {
			return err
		}

		if _, err := st.User().UpdatePasswordHash(ctx, params.UserID, hash); err != nil {
			return err
		}

		_, err = st.Refresh().RevokeAllForUser(ctx, params.UserID)
		return err
	})
}

// RefreshPair rotates the refresh token: exactly one concurrent caller wins
// Reuse of an already rotated or revoked token revokes every live token for
// that user
func (s *AccountService) RefreshPair(ctx context.Context, refresh string) (models.TokenPair, error) {
	var pair models.TokenPair

	token, err := s.tokens.UseRefresh(ctx, refresh)
	switch {
	case errors.Is(err, apperrors.ErrRefreshTokenUsed), errors.Is(err, apperrors.ErrRefreshTokenRevoked):
		// Someone presented a burned token: either the legitimate owner or
		// whoever stole it. Contain by cutting every live session
		revoked, revokeErr := s.storage.Refresh().RevokeAllForUser(ctx, token.UserID)
		if revokeErr != nil {
			s.logger.Error("Failed to revoke tokens on reuse", "error", revokeErr, "user_id", token.UserID)
		} else if revoked > 0 {
			s.logger.Warn("Refresh token reuse detected, live tokens revoked", "user_id", token.UserID, "revoked", revoked)
		}
		return pair, apperrors.ErrTokenReuseDetected
	case err != nil:
		return pair, err
	}

	user, err := s.storage.User().GetUserByID(ctx, token.UserID)
	if err != nil {
		return pair, fmt.Errorf("cant get token owner. Err: %w", err)
	}

	pair, err = s.tokens.GeneratePair(ctx, user)
	if err != nil {
		return pair, fmt.Errorf("token could not generated, sorry. %w", err)
	}

	return pair, nil
}

// Logout revokes all active refresh tokens for the email
// Idempotent: unknown email or nothing to revoke is not an error
func (s *AccountService) Logout(ctx context.Context, email string) error {
	user, err := s.storage.User().GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("cant get user. Err: %w", err)
	}

	_, err = s.storage.Refresh().RevokeAllForUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("cant revoke tokens. Err: %w", err)
	}

	return nil
}

// UserFromToken validates the access token and loads its owner
// Used by the auth middleware
func (s *AccountService) UserFromToken(ctx context.Context, access string) (models.User, error) {
	claims, err := s.tokens.ParseAccess(ctx, access)
	if err != nil {
		return models.User{}, err
	}

	return s.storage.User().GetUserByID(ctx, claims.UserID)
}

func (s *AccountService) issueActionToken(ctx context.Context, st repository.Storage, userID uuid.UUID, kind string, ttl time.Duration) (string, error) {
	b := make([]byte, actionTokenBytesLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("error while generating action token. Err: %w", err)
	}
	value := hex.EncodeToString(b)

	now := time.Now().Truncate(time.Second)
	_, err := st.Action().Save(ctx, models.ActionToken{
		ID:        uuid.New(),
		UserID:    userID,
		Kind:      kind,
		Token:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		return "", err
	}

	return value, nil
}

// Hand the mail job to the queue without holding up the caller
func (s *AccountService) dispatchMail(kind string, recipient string, token string, origin string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.mailTimeout)
		defer cancel()

		err := s.mailer.Send(ctx, mailer.Message{
			Kind:      kind,
			Recipient: recipient,
			Token:     token,
			Origin:    origin,
		})
		if err != nil {
			s.logger.Error("Failed to dispatch mail job", "error", err, "kind", kind)
		}
	}()
}
