package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/pkosilov/accounts/internal/handlers/middleware"
	"github.com/pkosilov/accounts/internal/logger"
	"github.com/pkosilov/accounts/internal/models"
	"github.com/pkosilov/accounts/internal/service/account"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	accountService accountService,
	loginlogService loginlogService,
	logger logger.Logger,
) http.Handler {
	authMiddleware := middleware.AuthMiddleware(accountService)
	withAuth := func(h http.Handler) http.Handler {
		return authMiddleware(h)
	}

	apiaccount := http.NewServeMux()

	apiaccount.Handle("POST /register", handleRegister(accountService, logger))
	apiaccount.Handle("POST /login", handleLogin(accountService, logger))
	apiaccount.Handle("POST /confirm-email", handleConfirmEmail(accountService, logger))
	apiaccount.Handle("POST /forgot-password", handleForgotPassword(accountService, logger))
	apiaccount.Handle("POST /reset-password", handleResetPassword(accountService, logger))
	apiaccount.Handle("POST /refresh", handleTokenRefresh(accountService, logger))

	apiaccount.Handle("POST /logout", withAuth(handleLogout(accountService, logger)))
	apiaccount.Handle("GET /me", withAuth(handleUserMe()))

	root := http.NewServeMux()
	root.Handle("/api/account/", http.StripPrefix("/api/account", apiaccount))
	root.Handle("GET /api/logins", withAuth(handleListLogins(loginlogService, logger)))

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type accountService interface {
	// Register user with email, username and password
	// Has to return apperrors.ErrEmailAlreadyExists if the email is taken
	Register(ctx context.Context, rctx account.RequestContext, params account.RegisterParams) (models.User, error)

	// Authenticate with email and password
	// Unknown email and wrong password both return apperrors.ErrInvalidCredentials,
	// unconfirmed account returns apperrors.ErrEmailNotConfirmed
	Authenticate(ctx context.Context, rctx account.RequestContext, email string, password string) (models.TokenPair, error)

	// Consume the confirmation token and mark the email confirmed
	ConfirmEmail(ctx context.Context, userID uuid.UUID, token string) error

	// Issue a reset token and dispatch the reset email
	// Never tells the caller whether the email exists
	ForgotPassword(ctx context.Context, rctx account.RequestContext, email string) error

	// Consume the reset token, overwrite the password and revoke sessions
	ResetPassword(ctx context.Context, params account.ResetPasswordParams) error

	// Rotate the refresh token
	// If token expired: has to return apperrors.ErrRefreshTokenExpired
	// If token not found: has to return apperrors.ErrRefreshTokenNotFound
	// If token reused: has to return apperrors.ErrTokenReuseDetected
	RefreshPair(ctx context.Context, refresh string) (models.TokenPair, error)

	// Revoke all active refresh tokens of the email, idempotent
	Logout(ctx context.Context, email string) error

	// Validate the access token and load its owner
	UserFromToken(ctx context.Context, access string) (models.User, error)
}

type loginlogService interface {
	List(ctx context.Context, email string) ([]models.LoginLog, error)
}
