package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"warranty_auth/internal/auth"
	"warranty_auth/internal/config"
	"warranty_auth/internal/lib/jwt"
	"warranty_auth/internal/models"
	"warranty_auth/internal/oauth"
	"warranty_auth/internal/storage/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "router-test-secret-long-enough-for-hs512-signing"
	frontendBase = "http://app.example.com"
)

type resetCapture struct {
	tokens chan string
}

func (c *resetCapture) SendWelcome(context.Context, models.User) error { return nil }

func (c *resetCapture) SendPasswordReset(_ context.Context, _ models.User, token string) error {
	c.tokens <- token
	return nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type env struct {
	srv    *httptest.Server
	issuer *jwt.Issuer
	clock  *clock
	resets *resetCapture
}

func newEnv(t *testing.T) *env {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	c := &clock{t: time.Now().UTC().Truncate(time.Millisecond)}
	issuer := jwt.New(testSecret, 15*time.Minute, jwt.WithClock(c.Now))
	resets := &resetCapture{tokens: make(chan string, 4)}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	provider := newFakeGoogle(t)

	manager := oauth.New(config.OAuth{
		RedirectBase: "http://api.example.com",
		Google: config.Provider{
			ClientID:     "client",
			ClientSecret: "secret",
			AuthURL:      provider.URL + "/authorize",
			TokenURL:     provider.URL + "/token",
			UserInfoURL:  provider.URL + "/userinfo",
		},
	}, provider.Client())

	h := New(log, Deps{
		Auth:             auth.New(log, store, store, issuer, resets, auth.WithClock(c.Now)),
		Tokens:           issuer,
		OAuth:            manager,
		States:           oauth.NewMemoryStateStore(),
		StateTTL:         10 * time.Minute,
		FrontendBase:     frontendBase,
		AllowedOrigins:   []string{frontendBase},
		DisableRateLimit: true,
	})

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return &env{srv: srv, issuer: issuer, clock: c, resets: resets}
}

func newFakeGoogle(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "upstream-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sub":            "google-42",
			"email":          "Grace@Example.com",
			"email_verified": true,
			"name":           "Grace Hopper",
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func (e *env) do(t *testing.T, method, path, bearer string, body any) (int, map[string]any) {
	t.Helper()

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))

	return res.StatusCode, out
}

func (e *env) register(t *testing.T, email, password string) map[string]any {
	t.Helper()

	status, body := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]any{
		"name":     "Alice",
		"email":    email,
		"password": password,
	})
	require.Equal(t, http.StatusCreated, status, body)

	return body
}

func TestRegister(t *testing.T) {
	e := newEnv(t)

	body := e.register(t, "alice@example.com", "s3cret-pass")

	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["token"])
	assert.NotEmpty(t, body["refreshToken"])

	user := body["user"].(map[string]any)
	assert.Equal(t, "alice@example.com", user["email"])
	assert.Equal(t, "Alice", user["name"])
	assert.NotEmpty(t, user["id"])

	id, err := e.issuer.ValidateAccessToken(body["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", id.Email)

	status, dup := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]any{
		"name": "Alice", "email": "alice@example.com", "password": "s3cret-pass",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Email is already taken", dup["message"])
}

func TestRegister_Validation(t *testing.T) {
	e := newEnv(t)

	status, body := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]any{
		"name": "Alice", "email": "not-an-email", "password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["message"], "email should be a valid email")
	assert.Contains(t, body["message"], "password must be at least 8 characters long")
}

func TestLogin(t *testing.T) {
	e := newEnv(t)
	e.register(t, "alice@example.com", "s3cret-pass")

	status, body := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{
		"email": "Alice@Example.com", "password": "s3cret-pass",
	})
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["token"])

	for _, creds := range []map[string]any{
		{"email": "alice@example.com", "password": "wrong-password"},
		{"email": "nobody@example.com", "password": "s3cret-pass"},
	} {
		status, body := e.do(t, http.MethodPost, "/api/auth/login", "", creds)
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "Invalid email or password", body["message"])
	}
}

func TestForgotPassword_UnknownEmail(t *testing.T) {
	e := newEnv(t)

	status, body := e.do(t, http.MethodPost, "/api/auth/forgot-password", "", map[string]any{
		"email": "ghost@example.com",
	})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, false, body["success"])
}

func TestPasswordResetFlow(t *testing.T) {
	e := newEnv(t)
	e.register(t, "alice@example.com", "s3cret-pass")

	status, body := e.do(t, http.MethodPost, "/api/auth/forgot-password", "", map[string]any{
		"email": "alice@example.com",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Password reset link sent to email", body["message"])

	var token string
	select {
	case token = <-e.resets.tokens:
	case <-time.After(2 * time.Second):
		t.Fatal("reset token was not sent")
	}

	status, body = e.do(t, http.MethodPost, "/api/auth/reset-password", "", map[string]any{
		"token": token, "password": "brand-new-pass",
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "Password has been reset successfully", body["message"])

	status, _ = e.do(t, http.MethodPost, "/api/auth/reset-password", "", map[string]any{
		"token": token, "password": "another-pass",
	})
	assert.Equal(t, http.StatusBadRequest, status, "reset token is single use")

	status, _ = e.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{
		"email": "alice@example.com", "password": "brand-new-pass",
	})
	assert.Equal(t, http.StatusOK, status)
}

func TestResetPassword_ConcurrentConfirm(t *testing.T) {
	e := newEnv(t)
	e.register(t, "alice@example.com", "s3cret-pass")

	status, _ := e.do(t, http.MethodPost, "/api/auth/forgot-password", "", map[string]any{
		"email": "alice@example.com",
	})
	require.Equal(t, http.StatusOK, status)

	var token string
	select {
	case token = <-e.resets.tokens:
	case <-time.After(2 * time.Second):
		t.Fatal("reset token was not sent")
	}

	statuses := make([]int, 2)
	var wg sync.WaitGroup
	for i, password := range []string{"first-new-pass", "second-new-pass"} {
		wg.Add(1)
		go func(i int, password string) {
			defer wg.Done()

			raw, _ := json.Marshal(map[string]any{"token": token, "password": password})
			res, err := e.srv.Client().Post(e.srv.URL+"/api/auth/reset-password", "application/json", bytes.NewReader(raw))
			if !assert.NoError(t, err) {
				return
			}
			res.Body.Close()
			statuses[i] = res.StatusCode
		}(i, password)
	}
	wg.Wait()

	assert.ElementsMatch(t, []int{http.StatusOK, http.StatusBadRequest}, statuses)
}

func TestPasswordLimitIsBytes(t *testing.T) {
	e := newEnv(t)

	status, body := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]any{
		"name": "Alice", "email": "alice@example.com", "password": strings.Repeat("пароль", 8),
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "password must be at most 72 bytes long", body["message"])
}

func TestRefresh_Rotation(t *testing.T) {
	e := newEnv(t)
	reg := e.register(t, "alice@example.com", "s3cret-pass")

	status, body := e.do(t, http.MethodPost, "/api/auth/refresh-token", "", map[string]any{
		"refreshToken": reg["refreshToken"],
	})
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["token"])
	assert.NotEqual(t, reg["refreshToken"], body["refreshToken"])

	status, _ = e.do(t, http.MethodPost, "/api/auth/refresh-token", "", map[string]any{
		"refreshToken": reg["refreshToken"],
	})
	assert.Equal(t, http.StatusNotFound, status, "rotated token is gone")
}

func TestRefresh_ExpiredThenNotFound(t *testing.T) {
	e := newEnv(t)
	reg := e.register(t, "alice@example.com", "s3cret-pass")

	e.clock.Advance(8 * 24 * time.Hour)

	status, body := e.do(t, http.MethodPost, "/api/auth/refresh-token", "", map[string]any{
		"refreshToken": reg["refreshToken"],
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Refresh token was expired. Please make a new signin request", body["message"])

	status, _ = e.do(t, http.MethodPost, "/api/auth/refresh-token", "", map[string]any{
		"refreshToken": reg["refreshToken"],
	})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestProfile(t *testing.T) {
	e := newEnv(t)
	token := e.register(t, "alice@example.com", "s3cret-pass")["token"].(string)

	status, _ := e.do(t, http.MethodGet, "/api/users/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := e.do(t, http.MethodGet, "/api/auth/profile", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alice@example.com", body["email"])
	assert.Equal(t, true, body["emailNotifications"])
	assert.EqualValues(t, 30, body["warrantyExpirationReminders"])

	status, body = e.do(t, http.MethodPut, "/api/users/profile", token, map[string]any{
		"name":                        "Alice Liddell",
		"emailNotifications":          false,
		"warrantyExpirationReminders": 7,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Alice Liddell", body["name"])
	assert.Equal(t, false, body["emailNotifications"])
	assert.EqualValues(t, 7, body["warrantyExpirationReminders"])

	status, body = e.do(t, http.MethodPut, "/api/users/profile", token, map[string]any{"name": ""})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Alice Liddell", body["name"], "blank name keeps the current one")
	assert.Equal(t, false, body["emailNotifications"])

	status, _ = e.do(t, http.MethodPut, "/api/users/profile", token, map[string]any{
		"warrantyExpirationReminders": 400,
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestLogout(t *testing.T) {
	e := newEnv(t)
	reg := e.register(t, "alice@example.com", "s3cret-pass")
	token := reg["token"].(string)

	status, _ := e.do(t, http.MethodPost, "/api/auth/logout", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := e.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])

	status, _ = e.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	assert.Equal(t, http.StatusOK, status, "logout is idempotent")

	status, _ = e.do(t, http.MethodPost, "/api/auth/refresh-token", "", map[string]any{
		"refreshToken": reg["refreshToken"],
	})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHealth(t *testing.T) {
	e := newEnv(t)

	status, body := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
}

func noRedirect(e *env) *http.Client {
	c := *e.srv.Client()
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return &c
}

func TestOAuth2_GoogleFlow(t *testing.T) {
	e := newEnv(t)
	client := noRedirect(e)

	res, err := client.Get(e.srv.URL + "/oauth2/authorize/google")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusFound, res.StatusCode)

	consent, err := url.Parse(res.Header.Get("Location"))
	require.NoError(t, err)
	state := consent.Query().Get("state")
	require.NotEmpty(t, state)
	assert.Equal(t, "http://api.example.com/oauth2/callback/google", consent.Query().Get("redirect_uri"))

	res, err = client.Get(e.srv.URL + "/oauth2/callback/google?code=good-code&state=" + url.QueryEscape(state))
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusFound, res.StatusCode)

	back, err := url.Parse(res.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/oauth2/callback", back.Path)
	assert.Equal(t, "true", back.Query().Get("success"))
	assert.NotEmpty(t, back.Query().Get("refreshToken"))

	id, err := e.issuer.ValidateAccessToken(back.Query().Get("token"))
	require.NoError(t, err)
	assert.Equal(t, "grace@example.com", id.Email)

	status, body := e.do(t, http.MethodGet, "/api/users/profile", back.Query().Get("token"), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Grace Hopper", body["name"])

	res, err = client.Get(e.srv.URL + "/oauth2/callback/google?code=good-code&state=" + url.QueryEscape(state))
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusFound, res.StatusCode)

	failed, err := url.Parse(res.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/login", failed.Path, "state is single use")
	assert.Equal(t, "oauth2_authentication_failed", failed.Query().Get("error"))
}

func TestOAuth2_UnknownProvider(t *testing.T) {
	e := newEnv(t)

	res, err := noRedirect(e).Get(e.srv.URL + "/oauth2/authorize/myspace")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, err = noRedirect(e).Get(e.srv.URL + "/oauth2/authorize/github")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode, "github is not configured")
}
