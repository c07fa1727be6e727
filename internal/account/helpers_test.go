package account

import (
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"medihan/internal/auth"
	"medihan/internal/db"
	"medihan/internal/metrics"
	"medihan/internal/models"
)

type fixture struct {
	database *db.DB
	store    *db.AccountRepository
	tokens   *auth.TokenService
	temp     *auth.TempSessionStore
	cookies  *auth.Cookies
	engine   *RegistrationEngine
	resolver *SessionResolver
	reaper   *Reaper
	metrics  *metrics.Metrics
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})

	f := &fixture{
		database: database,
		store:    database.Accounts(),
		now:      time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	f.metrics = metrics.New(prometheus.NewRegistry())
	f.tokens = auth.NewTokenService(
		"access-secret-access-secret-0123456789",
		"refresh-secret-refresh-secret-0123456789",
		30*time.Minute,
		14*24*time.Hour,
	).WithClock(clock)

	f.temp, err = auth.NewTempSessionStore("session-secret-session-secret-0123456789", 24*time.Hour, false)
	if err != nil {
		t.Fatalf("NewTempSessionStore() error = %v", err)
	}
	f.temp.WithClock(clock)

	f.cookies = auth.NewCookies(false, 30*time.Minute, 14*24*time.Hour, 7*24*time.Hour)
	f.engine = NewRegistrationEngine(f.store, f.tokens, f.temp, f.cookies, NewDuplicateIdentityDetector(f.store), f.metrics).WithClock(clock)
	f.resolver = NewSessionResolver(f.store, f.tokens, f.cookies, f.metrics).WithClock(clock)
	f.reaper = NewReaper(f.store, f.metrics, time.Hour, 24*time.Hour, 2).WithClock(clock)

	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func kakaoIdentity() models.IdentitySnapshot {
	return models.IdentitySnapshot{
		Provider:   models.ProviderKakao,
		ProviderID: "123",
		Email:      "a@x.com",
		Nickname:   "N",
	}
}

func consentingProfile() Profile {
	return Profile{
		Nickname:      "N",
		PrivacyAgreed: true,
		TermsAgreed:   true,
		CategoryIDs:   []int64{4, 2, 4},
	}
}

// register runs the callback and phase one for identity and returns the
// PENDING account.
func (f *fixture) register(t *testing.T, identity models.IdentitySnapshot) *models.Account {
	t.Helper()

	cb, err := f.engine.HandleCallback(t.Context(), identity)
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if cb.Outcome != OutcomeNewIdentity {
		t.Fatalf("HandleCallback() outcome = %s, want %s", cb.Outcome, OutcomeNewIdentity)
	}

	reg, err := f.engine.BeginRegistration(t.Context(), cookieValue(t, cb.Cookies, auth.TempSessionCookie), consentingProfile())
	if err != nil {
		t.Fatalf("BeginRegistration() error = %v", err)
	}
	return reg.Account
}

// activate registers identity and confirms it.
func (f *fixture) activate(t *testing.T, identity models.IdentitySnapshot) *Confirmation {
	t.Helper()

	pending := f.register(t, identity)
	conf, err := f.engine.ConfirmRegistration(t.Context(), pending.ID)
	if err != nil {
		t.Fatalf("ConfirmRegistration() error = %v", err)
	}
	return conf
}

func cookieValue(t *testing.T, cookies []*http.Cookie, name string) string {
	t.Helper()

	for _, c := range cookies {
		if c.Name == name {
			return c.Value
		}
	}
	t.Fatalf("cookie %q not set", name)
	return ""
}

func hasCookie(cookies []*http.Cookie, name string) bool {
	for _, c := range cookies {
		if c.Name == name && c.Value != "" {
			return true
		}
	}
	return false
}

func clearsCookie(cookies []*http.Cookie, name string) bool {
	for _, c := range cookies {
		if c.Name == name && c.Value == "" && c.MaxAge < 0 {
			return true
		}
	}
	return false
}
