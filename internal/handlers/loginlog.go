package handlers

import (
	"net/http"
	"time"

	"github.com/pkosilov/accounts/internal/handlers/render"
	"github.com/pkosilov/accounts/internal/handlers/userctx"
	"github.com/pkosilov/accounts/internal/logger"
)

func handleListLogins(ls loginlogService, l logger.Logger) http.Handler {
	type entry struct {
		UserEmail string    `json:"user_email"`
		LoginTime time.Time `json:"login_time"`
		CreatedAt time.Time `json:"created_at"`
	}
	type response struct {
		Logins []entry `json:"logins"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())

		// Callers see their own history only
		email := user.Email

		entries, err := ls.List(r.Context(), email)
		if err != nil {
			l.Error("Failed to list login entries", "error", err, "user_email", email)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		resp := response{Logins: make([]entry, 0, len(entries))}
		for _, e := range entries {
			resp.Logins = append(resp.Logins, entry{
				UserEmail: e.UserEmail,
				LoginTime: e.LoginTime,
				CreatedAt: e.CreatedAt,
			})
		}

		render.JSON(w, resp)
	})
}
