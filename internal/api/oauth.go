package api

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"medihan/internal/account"
	"medihan/internal/metrics"
	"medihan/internal/provider"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 10 * 60
)

// OAuthHandler runs the provider redirect and callback that start every
// login or registration.
type OAuthHandler struct {
	providers     *provider.Registry
	engine        *account.RegistrationEngine
	metrics       *metrics.Metrics
	secureCookies bool
	successURL    string
	onboardingURL string
}

func NewOAuthHandler(
	providers *provider.Registry,
	engine *account.RegistrationEngine,
	m *metrics.Metrics,
	secureCookies bool,
	successURL string,
	onboardingURL string,
) *OAuthHandler {
	return &OAuthHandler{
		providers:     providers,
		engine:        engine,
		metrics:       m,
		secureCookies: secureCookies,
		successURL:    successURL,
		onboardingURL: onboardingURL,
	}
}

func (h *OAuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	p, ok := h.providers.Get(chi.URLParam(r, "provider"))
	if !ok {
		notFound(w, "Unknown provider")
		return
	}

	state := uuid.NewString()
	http.SetCookie(w, h.stateCookie(state, oauthStateMaxAge))
	http.Redirect(w, r, p.AuthCodeURL(state), http.StatusFound)
}

func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	p, ok := h.providers.Get(chi.URLParam(r, "provider"))
	if !ok {
		notFound(w, "Unknown provider")
		return
	}
	name := string(p.Name())

	query := r.URL.Query()
	if query.Get("error") != "" {
		h.metrics.Callbacks.WithLabelValues(name, "denied").Inc()
		badRequest(w, "Authorization was not granted")
		return
	}

	code := query.Get("code")
	if code == "" {
		badRequest(w, "code is required")
		return
	}

	stateCookie, err := r.Cookie(oauthStateCookie)
	http.SetCookie(w, h.stateCookie("", -1))
	if err != nil || stateCookie.Value == "" ||
		subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(query.Get("state"))) != 1 {
		h.metrics.Callbacks.WithLabelValues(name, "bad_state").Inc()
		badRequest(w, "Invalid OAuth state")
		return
	}

	identity, err := p.Exchange(r.Context(), code)
	if err != nil {
		h.metrics.Callbacks.WithLabelValues(name, "exchange_failed").Inc()
		if errors.Is(err, provider.ErrExchangeFailed) || errors.Is(err, provider.ErrProfileFailed) {
			slog.Warn("provider authentication failed", "component", "api", "provider", name, "error", err)
		} else {
			slog.Error("error exchanging authorization code", "component", "api", "provider", name, "error", err)
		}
		unauthorized(w, "Provider authentication failed")
		return
	}

	result, err := h.engine.HandleCallback(r.Context(), identity.Snapshot())
	if err != nil {
		writeAccountError(w, err)
		return
	}

	setCookies(w, result.Cookies)

	switch result.Outcome {
	case account.OutcomeLogin:
		http.Redirect(w, r, h.successURL, http.StatusFound)
	case account.OutcomeResumePending:
		http.Redirect(w, r, withQuery(h.onboardingURL, "status", "pending"), http.StatusFound)
	default:
		http.Redirect(w, r, withQuery(h.onboardingURL, "status", "new"), http.StatusFound)
	}
}

func (h *OAuthHandler) stateCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     oauthStateCookie,
		Value:    value,
		Path:     "/api/v1/auth",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

// resolveURL joins a configured path onto the base URL. Absolute URLs are
// returned unchanged.
func resolveURL(baseURL, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func withQuery(rawURL, key, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
