package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"medihan/internal/account"
	"medihan/internal/auth"
	"medihan/internal/config"
	"medihan/internal/db"
	"medihan/internal/metrics"
	"medihan/internal/models"
	"medihan/internal/provider"
)

const testCronSecret = "cron-secret-0123456789"

// fakeProvider resolves every authorization code to the identity registered
// for it.
type fakeProvider struct {
	identities map[string]*provider.Identity
}

func (p *fakeProvider) Name() models.Provider { return models.ProviderKakao }

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://auth.example.test/authorize?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) Exchange(_ context.Context, code string) (*provider.Identity, error) {
	identity, ok := p.identities[code]
	if !ok {
		return nil, fmt.Errorf("%w: unknown code", provider.ErrExchangeFailed)
	}
	return identity, nil
}

type testEnv struct {
	database *db.DB
	server   *Server
	metrics  *metrics.Metrics
	provider *fakeProvider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})
	store := database.Accounts()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	tokens := auth.NewTokenService(
		"access-secret-access-secret-0123456789",
		"refresh-secret-refresh-secret-0123456789",
		30*time.Minute,
		14*24*time.Hour,
	)
	temp, err := auth.NewTempSessionStore("session-secret-session-secret-0123456789", 24*time.Hour, false)
	if err != nil {
		t.Fatalf("NewTempSessionStore() error = %v", err)
	}
	cookies := auth.NewCookies(false, 30*time.Minute, 14*24*time.Hour, 7*24*time.Hour)

	fake := &fakeProvider{identities: map[string]*provider.Identity{
		"code-a": {
			Provider:   models.ProviderKakao,
			ProviderID: "123",
			Email:      "a@x.com",
			Nickname:   "N",
		},
	}}

	cfg := &config.Config{}
	cfg.Server.BaseURL = "http://localhost:5173"
	cfg.Server.SuccessPath = "/"
	cfg.Server.OnboardingPath = "/onboarding"
	cfg.Reaper.CronSecret = testCronSecret
	cfg.Metrics.Path = "/metrics"

	engine := account.NewRegistrationEngine(store, tokens, temp, cookies, account.NewDuplicateIdentityDetector(store), m)
	server := NewServer(cfg, Services{
		Store:        store,
		Engine:       engine,
		Resolver:     account.NewSessionResolver(store, tokens, cookies, m),
		Reaper:       account.NewReaper(store, m, time.Hour, 24*time.Hour, 100),
		TempSessions: temp,
		Providers:    provider.NewRegistry(fake),
		Metrics:      m,
		Registry:     registry,
	})

	return &testEnv{
		database: database,
		server:   server,
		metrics:  m,
		provider: fake,
	}
}

// client carries cookies between requests the way a browser would.
type client struct {
	t       *testing.T
	handler http.Handler
	cookies map[string]*http.Cookie
}

func (e *testEnv) client(t *testing.T) *client {
	return &client{t: t, handler: e.server, cookies: map[string]*http.Cookie{}}
}

func (c *client) do(method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	c.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			c.t.Fatalf("json.Encode() error = %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	for _, cookie := range c.cookies {
		req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}

	rr := httptest.NewRecorder()
	c.handler.ServeHTTP(rr, req)

	for _, cookie := range rr.Result().Cookies() {
		if cookie.MaxAge < 0 || cookie.Value == "" {
			delete(c.cookies, cookie.Name)
			continue
		}
		c.cookies[cookie.Name] = cookie
	}

	return rr
}

func (c *client) get(path string) *httptest.ResponseRecorder {
	c.t.Helper()
	return c.do(http.MethodGet, path, nil, nil)
}

func (c *client) post(path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, nil)
}

func (c *client) has(name string) bool {
	_, ok := c.cookies[name]
	return ok
}

// signIn runs the provider redirect and callback for code and returns the
// callback response.
func (c *client) signIn(code string) *httptest.ResponseRecorder {
	c.t.Helper()

	login := c.get("/api/v1/auth/kakao/login")
	if login.Code != http.StatusFound {
		c.t.Fatalf("login status = %d, want %d", login.Code, http.StatusFound)
	}
	location, err := url.Parse(login.Header().Get("Location"))
	if err != nil {
		c.t.Fatalf("url.Parse(Location) error = %v", err)
	}
	state := location.Query().Get("state")

	return c.get("/api/v1/auth/kakao/callback?code=" + url.QueryEscape(code) + "&state=" + url.QueryEscape(state))
}

// registerAndConfirm takes a fresh client through both registration phases
// and returns the confirmed account id.
func (c *client) registerAndConfirm(code string) int64 {
	c.t.Helper()

	if rr := c.signIn(code); rr.Code != http.StatusFound {
		c.t.Fatalf("callback status = %d, body=%s", rr.Code, rr.Body.String())
	}

	begin := c.post("/api/v1/auth/registration", map[string]any{
		"nickname":      "N",
		"privacyAgreed": true,
		"termsAgreed":   true,
		"categoryIds":   []int64{3, 1},
	})
	if begin.Code != http.StatusCreated {
		c.t.Fatalf("registration status = %d, body=%s", begin.Code, begin.Body.String())
	}
	var reg registrationResponse
	decodeBody(c.t, begin, &reg)

	confirm := c.post("/api/v1/auth/registration/confirm", map[string]any{"accountId": reg.User.ID})
	if confirm.Code != http.StatusOK {
		c.t.Fatalf("confirm status = %d, body=%s", confirm.Code, confirm.Body.String())
	}
	return reg.User.ID
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("json.Unmarshal() error = %v, body=%q", err, rr.Body.String())
	}
}

func assertError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()

	if rr.Code != status {
		t.Fatalf("status = %d, want %d, body=%s", rr.Code, status, rr.Body.String())
	}
	var resp ErrorResponse
	decodeBody(t, rr, &resp)
	if resp.Error.Code != code {
		t.Fatalf("error.code = %q, want %q", resp.Error.Code, code)
	}
}
