package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkosilov/accounts/internal/handlers/render"
	"github.com/pkosilov/accounts/internal/handlers/userctx"
	"github.com/pkosilov/accounts/internal/models"
)

type accountService interface {
	UserFromToken(ctx context.Context, access string) (models.User, error)
}

// AuthMiddleware validates the bearer access token and puts its owner into
// the request context
func AuthMiddleware(as accountService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access, ok := bearerToken(r)
			if !ok {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			user, err := as.UserFromToken(r.Context(), access)
			if err != nil {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := userctx.New(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}
