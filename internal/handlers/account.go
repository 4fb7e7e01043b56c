package handlers

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pkosilov/accounts/internal/apperrors"
	"github.com/pkosilov/accounts/internal/handlers/render"
	"github.com/pkosilov/accounts/internal/handlers/userctx"
	"github.com/pkosilov/accounts/internal/logger"
	"github.com/pkosilov/accounts/internal/models"
	"github.com/pkosilov/accounts/internal/service/account"
)

type tokenPairResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func toTokenPairResponse(pair models.TokenPair) tokenPairResponse {
	return tokenPairResponse{
		AccessToken:      pair.Access.Value,
		AccessExpiresAt:  pair.Access.ExpiresAt,
		RefreshToken:     pair.Refresh.Value,
		RefreshExpiresAt: pair.Refresh.ExpiresAt,
	}
}

// Collect caller metadata the service needs
// Origin is where the links in outgoing emails point back to
func requestContext(r *http.Request) account.RequestContext {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}

	return account.RequestContext{
		IP:        ip,
		OriginURI: r.Header.Get("Origin"),
	}
}

func handleRegister(as accountService, l logger.Logger) http.Handler {
	type request struct {
		Email    string `json:"email" validate:"required,email"`
		Username string `json:"username" validate:"required,min=2,max=50"`
		Password string `json:"password" validate:"required,min=8"`
	}
	type response struct {
		ID      uuid.UUID `json:"id"`
		Message string    `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		user, err := as.Register(r.Context(), requestContext(r), account.RegisterParams{
			Email:    data.Email,
			Username: data.Username,
			Password: data.Password,
		})
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrEmailAlreadyExists):
				render.ServiceError(w, "Email already registered", http.StatusConflict)
			default:
				l.Error("Failed to register user", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		render.JSON(w, response{ID: user.ID, Message: "Confirmation email sent"})
	})
}

func handleLogin(as accountService, l logger.Logger) http.Handler {
	type request struct {
		Email    string `json:"email" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := as.Authenticate(r.Context(), requestContext(r), data.Email, data.Password)
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrInvalidCredentials):
				// Same answer for unknown email and wrong password
				render.ServiceError(w, "Invalid credentials", http.StatusUnauthorized)
			case errors.Is(err, apperrors.ErrEmailNotConfirmed):
				render.ServiceError(w, "Email not confirmed", http.StatusForbidden)
			default:
				l.Error("Failed to authenticate user", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		render.JSON(w, toTokenPairResponse(pair))
	})
}

func handleConfirmEmail(as accountService, l logger.Logger) http.Handler {
	type request struct {
		UserID uuid.UUID `json:"user_id" validate:"required"`
		Token  string    `json:"token" validate:"required"`
	}
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		err = as.ConfirmEmail(r.Context(), data.UserID, data.Token)
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrActionTokenInvalid), errors.Is(err, apperrors.ErrUserNotFound):
				// Unknown user and bad token answer the same
				render.ServiceError(w, "Invalid or expired token", http.StatusBadRequest)
			default:
				l.Error("Failed to confirm email", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		render.JSON(w, response{Message: "Email confirmed"})
	})
}

func handleForgotPassword(as accountService, l logger.Logger) http.Handler {
	type request struct {
		Email string `json:"email" validate:"required,email"`
	}
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		err = as.ForgotPassword(r.Context(), requestContext(r), data.Email)
		if err != nil {
			l.Error("Failed to process password reset request", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		// Same answer whether the account exists or not
		render.JSON(w, response{Message: "If the account exists, a reset email was sent"})
	})
}

func handleResetPassword(as accountService, l logger.Logger) http.Handler {
	type request struct {
		UserID   uuid.UUID `json:"user_id" validate:"required"`
		Token    string    `json:"token" validate:"required"`
		Password string    `json:"password" validate:"required,min=8"`
	}
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		err = as.ResetPassword(r.Context(), account.ResetPasswordParams{
			UserID:   data.UserID,
			Token:    data.Token,
			Password: data.Password,
		})
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrActionTokenInvalid), errors.Is(err, apperrors.ErrUserNotFound):
				render.ServiceError(w, "Invalid or expired token", http.StatusBadRequest)
			default:
				l.Error("Failed to reset password", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		render.JSON(w, response{Message: "Password updated"})
	})
}

func handleTokenRefresh(as accountService, l logger.Logger) http.Handler {
	type request struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := as.RefreshPair(r.Context(), data.RefreshToken)
		if err != nil {
			// Every token failure answers the same: not found, expired,
			// revoked and detected reuse must be indistinguishable
			switch {
			case errors.Is(err, apperrors.ErrRefreshTokenNotFound),
				errors.Is(err, apperrors.ErrRefreshTokenExpired),
				errors.Is(err, apperrors.ErrTokenReuseDetected):
				render.ServiceError(w, "Invalid refresh token", http.StatusUnauthorized)
			default:
				l.Error("Failed to refresh token pair", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		render.JSON(w, toTokenPairResponse(pair))
	})
}

func handleLogout(as accountService, l logger.Logger) http.Handler {
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())

		err := as.Logout(r.Context(), user.Email)
		if err != nil {
			l.Error("Failed to logout user", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, response{Message: "Logged out"})
	})
}

func handleUserMe() http.Handler {
	type response struct {
		ID             uuid.UUID `json:"id"`
		Email          string    `json:"email"`
		Username       string    `json:"username"`
		EmailConfirmed bool      `json:"email_confirmed"`
		Roles          []string  `json:"roles"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())
		render.JSON(w, response{
			ID:             user.ID,
			Email:          user.Email,
			Username:       user.Username,
			EmailConfirmed: user.EmailConfirmed,
			Roles:          user.Roles,
		})
	})
}
