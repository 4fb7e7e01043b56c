package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/pkosilov/accounts/internal/logger"
	"github.com/pkosilov/accounts/internal/models"
	"github.com/pkosilov/accounts/internal/repository/postgres"
	"github.com/pkosilov/accounts/internal/service/account"
	"github.com/pkosilov/accounts/internal/service/account/tokenmanager"
	"github.com/pkosilov/accounts/internal/service/mailer"
	"github.com/pkosilov/accounts/internal/testutil"
)

type recorderStub struct{}

func (recorderStub) Record(entry models.LoginLog) {}

type mailerStub struct {
	messages chan mailer.Message
}

func (m *mailerStub) Send(ctx context.Context, msg mailer.Message) error {
	m.messages <- msg
	return nil
}

type loginlogStub struct {
	entries []models.LoginLog
}

func (s *loginlogStub) List(ctx context.Context, email string) ([]models.LoginLog, error) {
	var entries []models.LoginLog
	for _, entry := range s.entries {
		if entry.UserEmail == email {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func Test_Router(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	type env struct {
		url     string
		service *account.AccountService
		mailer  *mailerStub
		logins  *loginlogStub
	}

	// Run http server with the production account service attached
	withTx := func(dbpool *pgxpool.Pool, t *testing.T, fn func(e env)) {
		testutil.WithTx(dbpool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)

			tokens, err := tokenmanager.New(tokenmanager.Config{SecretKey: "test-secret"}, storage.Refresh())
			require.NoError(t, err, "token manager should be created without errors")

			ml := &mailerStub{messages: make(chan mailer.Message, 10)}
			service, err := account.NewService(account.Config{}, storage, tokens, recorderStub{}, ml, logger.NewNoOpLogger())
			require.NoError(t, err, "account service starting error")

			logins := &loginlogStub{}
			srv := httptest.NewServer(NewRouter(service, logins, logger.NewNoOpLogger()))
			defer srv.Close()

			fn(env{url: srv.URL, service: service, mailer: ml, logins: logins})
		})
	}

	post := func(t *testing.T, url string, data string) (*http.Response, string) {
		t.Helper()
		resp, err := http.Post(url, "application/json", strings.NewReader(data))
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp, string(body)
	}

	getWithBearer := func(t *testing.T, url string, access string) (*http.Response, string) {
		t.Helper()
		req, err := http.NewRequest("GET", url, nil)
		require.NoError(t, err)
		if access != "" {
			req.Header.Set("Authorization", "Bearer "+access)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp, string(body)
	}

	waitMail := func(t *testing.T, e env) mailer.Message {
		t.Helper()
		select {
		case msg := <-e.mailer.messages:
			return msg
		case <-time.After(2 * time.Second):
			t.Fatal("expected a mail job to be dispatched")
			return mailer.Message{}
		}
	}

	// Register and confirm a user through the API, return the confirm mail
	registerConfirmed := func(t *testing.T, e env, email string, password string) {
		t.Helper()

		data := fmt.Sprintf(`{"email": %q, "username": "nk", "password": %q}`, email, password)
		resp, body := post(t, e.url+"/api/account/register", data)
		require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)

		var registered struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal([]byte(body), &registered))

		msg := waitMail(t, e)
		confirm := fmt.Sprintf(`{"user_id": %q, "token": %q}`, registered.ID, msg.Token)
		resp, body = post(t, e.url+"/api/account/confirm-email", confirm)
		require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)
	}

	login := func(t *testing.T, e env, email string, password string) (access string, refresh string) {
		t.Helper()

		data := fmt.Sprintf(`{"email": %q, "password": %q}`, email, password)
		resp, body := post(t, e.url+"/api/account/login", data)
		require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)

		var pair struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
		}
		require.NoError(t, json.Unmarshal([]byte(body), &pair))
		require.NotEmpty(t, pair.AccessToken)
		require.NotEmpty(t, pair.RefreshToken)
		return pair.AccessToken, pair.RefreshToken
	}

	t.Run("register ok", func(t *testing.T) {
		withTx(pg.Pool, t, func(e env) {
			data := `{"email": "nk@example.com", "username": "nk", "password": "StrongEnoughPassword"}`
			resp, body := post(t, e.url+"/api/account/register", data)

			require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)
			require.Contains(t, body, "Confirmation email sent")

			msg := waitMail(t, e)
			require.Equal(t, models.ActionConfirmEmail, msg.Kind)
			require.Equal(t, "nk@example.com", msg.Recipient)
		})
	})

	t.Run("register invalid email fails validation", func(t *testing.T) {
		withTx(pg.Pool, t, func(e env) {
			data := `{"email": "not-an-email", "username": "nk", "password": "StrongEnoughPassword"}`
			resp, body := post(t, e.url+"/api/account/register", data)

			require.Equalf(t, http.StatusBadRequest, resp.StatusCode, "not expected code. Body: %s", body)
			require.Contains(t, body, "validation_failed")
		})
	})

	t.Run("register existed email fails", func(t *testing.T) {
		withTx(pg.Pool, t, func(e env) {
			registerConfirmed(t, e, "nk@example.com", "StrongEnoughPassword")

			data := `{"email": "nk@example.com", "username": "other", "password": "StrongEnoughPassword"}`
			resp, body := post(t, e.url+"/api/account/register", data)

			require.Equalf(t, http.StatusConflict, resp.StatusCode, "not expected code. Body: %s", body)
			require.JSONEq(t, `
				{
					"error": "service_error",
					"message": "Email already registered"
				}`, body)
		})
	})

	t.Run("login ok", func(t *testing.T) {
		withTx(pg.Pool, t, func(e env) {
			registerConfirmed(t, e, "nk@example.com", "StrongEnoughPassword")

			data := `{"email": "nk@example.com", "password": "StrongEnoughPassword"}`
			resp, body := post(t, e.url+"/api/account/login", data)

			require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)

			var pair struct {
				AccessToken      string    `json:"access_token"`
				AccessExpiresAt  time.Time `json:"access_expires_at"`
				RefreshToken     string    `json:"refresh_token"`
				RefreshExpiresAt time.Time `json:"refresh_expires_at"`
			}
			require.NoError(t, json.Unmarshal([]byte(body), &pair))
			require.NotEmpty(t, pair.AccessToken, "access token should be in the response body")
			require.NotEmpty(t, pair.RefreshToken, "refresh token should be in the response body")
			require.True(t, pair.AccessExpiresAt.After(time.Now()))
			require.True(t, pair.RefreshExpiresAt.After(pair.AccessExpiresAt))
		})
	})

	t.Run("login unknown email and wrong password answer the same", func(t *testing.T) {
		withTx(pg.Pool, t, func(e env) {
			registerConfirmed(t, e, "nk@example.com", "StrongEnoughPassword")

			wrongPassword := `{"email": "nk@example.com", "password": "WrongPassword"}`
			resp1, body1 := post(t, e.url+"/api/account/login", wrongPassword)

			unknownEmail := `{"email": "nobody@example.com", "password": "WrongPassword"}`
			resp2, body2 := post(t, e.url+"/api/account/login", unknownEmail)

			require.Equal(t, http.StatusUnauthorized, resp1.StatusCode)
			require.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
			require.JSONEq(t, body1, body2, "responses must not reveal which emails exist")
			require.JSONEq(t, `
				{
					"error": "service_error",
					"message": "Invalid credentials"
				}`, body1)
		})
	})

	t.Run("login unconfirmed email fails", func(t *testing.T) {
		withTx(pg.Pool, t, func(e env) {
			data := `{"email": "nk@example.com", "username": "nk", "password": "StrongEnoughPassword"}`
			resp, body := post(t, e.url+"/api/account/register", data)
			require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)

			login := `{"email": "nk@example.com", "password": "StrongEnoughPassword"}`
			resp, body = post(t, e.url+"/api/account/login", login)

			require.Equalf(t, http.StatusForbidden, resp.StatusCode, "not expected code. Body: %s", body)
			require.JSONEq(t, `
				{
					"error": "service_error",
					"message": "Email not confirmed"
				}`, body)
		})
	})

	t.Run("refresh token ok", func(t *testing.T) {
		withTx(pg.Pool, t, func(e env) {
			registerConfirmed(t, e, "nk@example.com", "StrongEnoughPassword")
			firstAccess, firstRefresh := login(t, e, "nk@example.com", "StrongEnoughPassword")

			data := fmt.Sprintf(`{"refresh_token": %q}`, firstRefresh)
			resp, body := post(t, e.url+"/api/account/refresh", data)

			require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)

			var pair struct {
				AccessToken  string `json:"access_token"`
				RefreshToken string `json:"refresh_token"`
			}
			require.NoError(t, json.Unmarshal([]byte(body), &pair))
			require.NotEqual(t, firstRefresh, pair.RefreshToken, "refresh token should be changed after refresh")
			require.NotEqual(t, firstAccess, pair.AccessToken, "access token should be changed after refresh")
		})
	})

	t.Run("refresh twice fail", func(t *testing.T) {
		withTx(pg.Pool, t, func(e env) {
			registerConfirmed(t, e, "nk@example.com", "StrongEnoughPassword")
			_, refresh := login(t, e, "nk@example.com", "StrongEnoughPassword")

			data := fmt.Sprintf(`{"refresh_token": %q}`, refresh)
			resp, body := post(t, e.url+"/api/account/refresh", data)
			require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)

			// Replay of the already rotated token
			resp, body = post(t, e.url+"/api/account/refresh", data)

			require.Equalf(t, http.StatusUnauthorized, resp.StatusCode, "not expected code. Body: %s", body)
			require.JSONEq(t, `
				{
					"error": "service_error",
					"message": "Invalid refresh token"
				}`, body)
		})
	})

	t.Run("forgot password always answers ok", func(t *testing.T) {
		withTx(pg.Pool, t, func(e env) {
			data := `{"email": "nobody@example.com"}`
			resp, body := post(t, e.url+"/api/account/forgot-password", data)

			require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)
			require.Contains(t, body, "If the account exists")
		})
	})

	t.Run("reset password flow", func(t *testing.T) {
		withTx(pg.Pool, t, func(e env) {
			data := `{"email": "nk@example.com", "username": "nk", "password": "StrongEnoughPassword"}`
			resp, body := post(t, e.url+"/api/account/register", data)
			require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)

			var registered struct {
				ID string `json:"id"`
			}
			require.NoError(t, json.Unmarshal([]byte(body), &registered))

			msg := waitMail(t, e)
			confirm := fmt.Sprintf(`{"user_id": %q, "token": %q}`, registered.ID, msg.Token)
			resp, body = post(t, e.url+"/api/account/confirm-email", confirm)
			require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)

			resp, body = post(t, e.url+"/api/account/forgot-password", `{"email": "nk@example.com"}`)
			require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)

			msg = waitMail(t, e)
			require.Equal(t, models.ActionResetPassword, msg.Kind)

			reset := fmt.Sprintf(`{"user_id": %q, "token": %q, "password": "AnotherStrongPassword"}`,
				registered.ID, msg.Token)
			resp, body = post(t, e.url+"/api/account/reset-password", reset)
			require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)

			// Old password is out, the new one works
			resp, body = post(t, e.url+"/api/account/login", `{"email": "nk@example.com", "password": "StrongEnoughPassword"}`)
			require.Equalf(t, http.StatusUnauthorized, resp.StatusCode, "not expected code. Body: %s", body)

			login(t, e, "nk@example.com", "AnotherStrongPassword")
		})
	})

	t.Run("reset password invalid token fails", func(t *testing.T) {
		withTx(pg.Pool, t, func(e env) {
			registerConfirmed(t, e, "nk@example.com", "StrongEnoughPassword")

			data := `{"user_id": "0b3b5e1e-9f3f-4f6a-8f39-5f4f2b6e7a10", "token": "bad", "password": "AnotherStrongPassword"}`
			resp, body := post(t, e.url+"/api/account/reset-password", data)

			require.Equalf(t, http.StatusBadRequest, resp.StatusCode, "not expected code. Body: %s", body)
			require.JSONEq(t, `
				{
					"error": "service_error",
					"message": "Invalid or expired token"
				}`, body)
		})
	})

	t.Run("me requires auth", func(t *testing.T) {
		withTx(pg.Pool, t, func(e env) {
			resp, body := getWithBearer(t, e.url+"/api/account/me", "")

			require.Equalf(t, http.StatusUnauthorized, resp.StatusCode, "not expected code. Body: %s", body)
		})
	})

	t.Run("me with token", func(t *testing.T) {
		withTx(pg.Pool, t, func(e env) {
			registerConfirmed(t, e, "nk@example.com", "StrongEnoughPassword")
			access, _ := login(t, e, "nk@example.com", "StrongEnoughPassword")

			resp, body := getWithBearer(t, e.url+"/api/account/me", access)

			require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)
			require.Contains(t, body, "nk@example.com")
		})
	})

	t.Run("logout revokes refresh token", func(t *testing.T) {
		withTx(pg.Pool, t, func(e env) {
			registerConfirmed(t, e, "nk@example.com", "StrongEnoughPassword")
			access, refresh := login(t, e, "nk@example.com", "StrongEnoughPassword")

			req, err := http.NewRequest("POST", e.url+"/api/account/logout", nil)
			require.NoError(t, err)
			req.Header.Set("Authorization", "Bearer "+access)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			_ = resp.Body.Close()
			require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", string(body))

			data := fmt.Sprintf(`{"refresh_token": %q}`, refresh)
			refreshResp, refreshBody := post(t, e.url+"/api/account/refresh", data)
			require.Equalf(t, http.StatusUnauthorized, refreshResp.StatusCode,
				"refresh must fail after logout. Body: %s", refreshBody)
		})
	})

	t.Run("list logins", func(t *testing.T) {
		withTx(pg.Pool, t, func(e env) {
			registerConfirmed(t, e, "nk@example.com", "StrongEnoughPassword")
			access, _ := login(t, e, "nk@example.com", "StrongEnoughPassword")

			e.logins.entries = []models.LoginLog{
				{UserEmail: "nk@example.com", LoginTime: time.Now().UTC(), CreatedAt: time.Now().UTC()},
				{UserEmail: "other@example.com", LoginTime: time.Now().UTC(), CreatedAt: time.Now().UTC()},
			}

			resp, body := getWithBearer(t, e.url+"/api/logins", access)

			require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)

			var listed struct {
				Logins []struct {
					UserEmail string `json:"user_email"`
				} `json:"logins"`
			}
			require.NoError(t, json.Unmarshal([]byte(body), &listed))
			require.Len(t, listed.Logins, 1, "callers see their own history only")
			require.Equal(t, "nk@example.com", listed.Logins[0].UserEmail)
		})
	})
}
