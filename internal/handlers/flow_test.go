package handlers_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gopherauth/internal/handlers"
	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/metrics"
	"github.com/nkiryanov/gopherauth/internal/repository/postgres"
	"github.com/nkiryanov/gopherauth/internal/service/account"
	"github.com/nkiryanov/gopherauth/internal/service/auth"
	"github.com/nkiryanov/gopherauth/internal/service/auth/sessions"
	"github.com/nkiryanov/gopherauth/internal/service/auth/tokencodec"
	"github.com/nkiryanov/gopherauth/internal/service/otp"
	"github.com/nkiryanov/gopherauth/internal/service/password"
	"github.com/nkiryanov/gopherauth/internal/testutil"
)

// Mailbox remembers the last code per email instead of sending it
type mailbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (m *mailbox) SendVerificationCode(_ context.Context, email string, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codes == nil {
		m.codes = make(map[string]string)
	}
	m.codes[email] = code
	return nil
}

func (m *mailbox) SendPasswordChanged(context.Context, string) error { return nil }

func (m *mailbox) code(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[email]
}

// Run server with production services in transaction
// Requests must be sequential: the transaction is one connection
func serveWithTx(t *testing.T, tx pgx.Tx) (string, *mailbox) {
	t.Helper()

	storage := postgres.NewStorage(tx)

	hasher, err := password.New(password.Params{Time: 1, Memory: 64, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	require.NoError(t, err)
	accounts, err := account.NewService(account.Config{}, hasher, storage.Account(), nil)
	require.NoError(t, err)
	codes, err := otp.NewManager(otp.Config{}, storage.Code())
	require.NoError(t, err)
	codec, err := tokencodec.New(tokencodec.Config{SecretKey: "test-secret-key-test-secret-key!"})
	require.NoError(t, err)

	box := &mailbox{}
	m := metrics.New()
	as, err := auth.NewService(auth.Config{}, auth.Deps{
		Storage:  storage,
		Accounts: accounts,
		Codes:    codes,
		Codec:    codec,
		Sessions: sessions.New(storage.Refresh(), 0),
		Notifier: box,
		Metrics:  m,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(handlers.NewRouter(as, nil, m, logger.NewNoOpLogger()))
	t.Cleanup(srv.Close)

	return srv.URL, box
}

func call(t *testing.T, method string, url string, body string, bearer string) (int, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck

	var decoded map[string]any
	if len(data) > 0 {
		require.NoErrorf(t, json.Unmarshal(data, &decoded), "body is not json: %s", string(data))
	}
	return resp.StatusCode, decoded
}

func Test_AuthFlow(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("signup verify login refresh logout", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			url, box := serveWithTx(t, tx)

			code, body := call(t, http.MethodPost, url+"/auth/signup", `{"email": "Gopher@Example.com", "password": "StrongEnough"}`, "")
			require.Equal(t, http.StatusCreated, code, body)
			user := body["user"].(map[string]any)
			assert.Equal(t, "gopher@example.com", user["email"])
			assert.Equal(t, false, user["email_verified"])
			assert.Nil(t, body["verification_token"])

			// Not verified account can't login
			code, body = call(t, http.MethodPost, url+"/auth/login", `{"email": "gopher@example.com", "password": "StrongEnough"}`, "")
			require.Equal(t, http.StatusForbidden, code, body)

			otpCode := box.code("gopher@example.com")
			require.Len(t, otpCode, 6)

			code, body = call(t, http.MethodGet, url+"/auth/verify?token="+otpCode, "", "")
			require.Equal(t, http.StatusOK, code, body)
			assert.Equal(t, true, body["email_verified"])

			// Code is single use
			code, body = call(t, http.MethodPost, url+"/auth/verify", `{"code": "`+otpCode+`"}`, "")
			require.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, "code_already_used", body["error"])

			code, body = call(t, http.MethodPost, url+"/auth/login", `{"email": "GOPHER@example.com", "password": "StrongEnough"}`, "")
			require.Equal(t, http.StatusOK, code, body)
			assert.Equal(t, "bearer", body["token_type"])
			access := body["access_token"].(string)
			refresh := body["refresh_token"].(string)

			code, body = call(t, http.MethodGet, url+"/auth/me", "", access)
			require.Equal(t, http.StatusOK, code, body)
			assert.Equal(t, "gopher@example.com", body["email"])

			// Refresh token must not be accepted as access one
			code, _ = call(t, http.MethodGet, url+"/auth/me", "", refresh)
			require.Equal(t, http.StatusUnauthorized, code)

			code, body = call(t, http.MethodPost, url+"/auth/refresh", `{"refresh_token": "`+refresh+`"}`, "")
			require.Equal(t, http.StatusOK, code, body)
			rotated := body["refresh_token"].(string)
			require.NotEqual(t, refresh, rotated)

			// Old refresh token is gone after rotation
			code, body = call(t, http.MethodPost, url+"/auth/refresh", `{"refresh_token": "`+refresh+`"}`, "")
			require.Equal(t, http.StatusUnauthorized, code)
			assert.Equal(t, "refresh_token_not_found", body["error"])

			code, _ = call(t, http.MethodPost, url+"/auth/logout", `{"refresh_token": "`+rotated+`"}`, "")
			require.Equal(t, http.StatusNoContent, code)

			code, _ = call(t, http.MethodPost, url+"/auth/refresh", `{"refresh_token": "`+rotated+`"}`, "")
			require.Equal(t, http.StatusUnauthorized, code)
		})
	})

	t.Run("signup twice", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			url, _ := serveWithTx(t, tx)

			code, _ := call(t, http.MethodPost, url+"/auth/signup", `{"email": "gopher@example.com", "password": "StrongEnough"}`, "")
			require.Equal(t, http.StatusCreated, code)

			code, body := call(t, http.MethodPost, url+"/auth/signup", `{"email": "GOPHER@example.com", "password": "OtherPassword"}`, "")
			require.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, "already_registered", body["error"])
		})
	})

	t.Run("resend replaces code", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			url, box := serveWithTx(t, tx)

			code, _ := call(t, http.MethodPost, url+"/auth/signup", `{"email": "gopher@example.com", "password": "StrongEnough"}`, "")
			require.Equal(t, http.StatusCreated, code)
			first := box.code("gopher@example.com")

			code, _ = call(t, http.MethodPost, url+"/auth/verify/resend", `{"email": "gopher@example.com"}`, "")
			require.Equal(t, http.StatusAccepted, code)
			second := box.code("gopher@example.com")

			// Unknown email looks the same
			code, _ = call(t, http.MethodPost, url+"/auth/verify/resend", `{"email": "nobody@example.com"}`, "")
			require.Equal(t, http.StatusAccepted, code)

			if first != second {
				code, _ = call(t, http.MethodPost, url+"/auth/verify", `{"code": "`+first+`"}`, "")
				require.Equal(t, http.StatusNotFound, code, "replaced code should not be found")
			}

			code, _ = call(t, http.MethodPost, url+"/auth/verify", `{"code": "`+second+`"}`, "")
			require.Equal(t, http.StatusOK, code)
		})
	})

	t.Run("change password", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			url, box := serveWithTx(t, tx)

			call(t, http.MethodPost, url+"/auth/signup", `{"email": "gopher@example.com", "password": "StrongEnough"}`, "")
			code, _ := call(t, http.MethodPost, url+"/auth/verify", `{"code": "`+box.code("gopher@example.com")+`"}`, "")
			require.Equal(t, http.StatusOK, code)
			_, body := call(t, http.MethodPost, url+"/auth/login", `{"email": "gopher@example.com", "password": "StrongEnough"}`, "")
			access := body["access_token"].(string)

			code, _ = call(t, http.MethodPost, url+"/auth/password", `{"current_password": "wrong-password", "new_password": "EvenStronger"}`, access)
			require.Equal(t, http.StatusUnauthorized, code)

			code, _ = call(t, http.MethodPost, url+"/auth/password", `{"current_password": "StrongEnough", "new_password": "EvenStronger"}`, access)
			require.Equal(t, http.StatusNoContent, code)

			code, _ = call(t, http.MethodPost, url+"/auth/login", `{"email": "gopher@example.com", "password": "StrongEnough"}`, "")
			require.Equal(t, http.StatusUnauthorized, code)
			code, _ = call(t, http.MethodPost, url+"/auth/login", `{"email": "gopher@example.com", "password": "EvenStronger"}`, "")
			require.Equal(t, http.StatusOK, code)
		})
	})
}
