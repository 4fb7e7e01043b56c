package middleware

import (
	"context"
	"errors"
	"testing"

	"io"
	"net/http"
	"net/http/httptest"

	"github.com/stretchr/testify/require"

	"github.com/pkosilov/accounts/internal/handlers/userctx"
	"github.com/pkosilov/accounts/internal/models"
)

// Allow to use a function as account service
type userFromTokenFunc func(ctx context.Context, access string) (models.User, error)

func (f userFromTokenFunc) UserFromToken(ctx context.Context, access string) (models.User, error) {
	return f(ctx, access)
}

func TestAuthMiddleware(t *testing.T) {
	// Simple handler that writes the context user email to response
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Must always be true cause middleware has to set user or reject
		user, ok := userctx.FromContext(r.Context())
		require.True(t, ok)

		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte(user.Email))
		require.NoError(t, err, "should write email to response")
	})

	get := func(t *testing.T, url string, authorization string) (*http.Response, string) {
		t.Helper()
		req, err := http.NewRequest("GET", url, nil)
		require.NoError(t, err)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err, "should make request to test server")
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err, "should read response body")
		_ = resp.Body.Close()
		return resp, string(body)
	}

	t.Run("auth ok", func(t *testing.T) {
		var gotToken string
		middleware := AuthMiddleware(userFromTokenFunc(func(ctx context.Context, access string) (models.User, error) {
			gotToken = access
			return models.User{Email: "test@example.com"}, nil
		}))

		srv := httptest.NewServer(middleware(handler))
		defer srv.Close()

		resp, body := get(t, srv.URL+"/test", "Bearer the-access-token")

		require.Equalf(t, http.StatusOK, resp.StatusCode, "should return status OK. Resp: %s", body)
		require.Equal(t, "test@example.com", body, "should return email in response")
		require.Equal(t, "the-access-token", gotToken, "token should be cut from the Bearer header")
	})

	t.Run("missing header fail", func(t *testing.T) {
		middleware := AuthMiddleware(userFromTokenFunc(func(ctx context.Context, access string) (models.User, error) {
			t.Fatal("service must not be called without a bearer token")
			return models.User{}, nil
		}))

		srv := httptest.NewServer(middleware(handler))
		defer srv.Close()

		resp, body := get(t, srv.URL+"/test", "")

		require.Equalf(t, http.StatusUnauthorized, resp.StatusCode, "should return status Unauthorized. Resp: %s", body)
	})

	t.Run("invalid token fail", func(t *testing.T) {
		middleware := AuthMiddleware(userFromTokenFunc(func(ctx context.Context, access string) (models.User, error) {
			return models.User{}, errors.New("token is garbage")
		}))

		srv := httptest.NewServer(middleware(handler))
		defer srv.Close()

		resp, body := get(t, srv.URL+"/test", "Bearer garbage")

		require.Equalf(t, http.StatusUnauthorized, resp.StatusCode, "should return status Unauthorized. Resp: %s", body)
		require.JSONEq(t,
			`{
				"error": "service_error",
				"message": "Unauthorized"
			}`,
			body,
		)
	})
}
