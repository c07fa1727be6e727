package api

import (
	"errors"
	"net/http"
	"time"

	"medihan/internal/account"
	"medihan/internal/auth"
	"medihan/internal/models"
)

type SessionHandler struct {
	resolver *account.SessionResolver
	engine   *account.RegistrationEngine
	temp     *auth.TempSessionStore
}

func NewSessionHandler(resolver *account.SessionResolver, engine *account.RegistrationEngine, temp *auth.TempSessionStore) *SessionHandler {
	return &SessionHandler{resolver: resolver, engine: engine, temp: temp}
}

type sessionResponse struct {
	User       *models.Account `json:"user"`
	Source     account.Source  `json:"source,omitempty"`
	Pending    bool            `json:"pending,omitempty"`
	Invalidate bool            `json:"invalidate,omitempty"`
	Stale      bool            `json:"stale,omitempty"`
}

// Session is the lenient read used on page load. It never fails: a broken
// store yields the token-derived view marked stale.
func (h *SessionHandler) Session(w http.ResponseWriter, r *http.Request) {
	session := GetSession(r)
	if session == nil {
		_, pending := h.engine.PendingIdentity(cookieValue(r, auth.TempSessionCookie))
		writeJSON(w, http.StatusOK, sessionResponse{Pending: pending})
		return
	}

	hydrated := h.resolver.Hydrate(r.Context(), session)
	if hydrated.Invalidate {
		setCookies(w, h.resolver.ClearCookies())
		writeJSON(w, http.StatusOK, sessionResponse{Invalidate: true})
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		User:    hydrated.Account,
		Source:  session.Source,
		Pending: hydrated.Account.Status == models.StatusPending,
		Stale:   hydrated.Stale,
	})
}

type meResponse struct {
	User *models.Account `json:"user"`
}

func (h *SessionHandler) Me(w http.ResponseWriter, r *http.Request) {
	session := GetSession(r)
	acct, err := h.resolver.Current(r.Context(), session)
	if err != nil {
		if session.Trusted() && isSessionEnding(err) {
			setCookies(w, h.resolver.ClearCookies())
		}
		writeAccountError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: acct})
}

type refreshResponse struct {
	User            models.Summary `json:"user"`
	AccessExpiresAt time.Time      `json:"accessExpiresAt"`
}

// Refresh mints a new access token from the refresh token cookie.
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := cookieValue(r, auth.RefreshTokenCookie)
	if token == "" {
		unauthorized(w, "Refresh token required")
		return
	}

	refreshed, err := h.resolver.Refresh(r.Context(), token)
	if err != nil {
		if isSessionEnding(err) {
			setCookies(w, h.resolver.ClearCookies())
		}
		writeAccountError(w, err)
		return
	}

	setCookies(w, refreshed.Cookies)
	writeJSON(w, http.StatusOK, refreshResponse{
		User:            refreshed.Account.Summary(),
		AccessExpiresAt: refreshed.AccessExpiresAt,
	})
}

type revokeResponse struct {
	Success      bool `json:"success"`
	TokenVersion int  `json:"tokenVersion"`
}

// Revoke signs the account out everywhere by advancing its token version.
func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	version, err := h.resolver.Revoke(r.Context(), GetSession(r))
	if err != nil {
		if isSessionEnding(err) {
			setCookies(w, h.resolver.ClearCookies())
		}
		writeAccountError(w, err)
		return
	}

	setCookies(w, h.resolver.ClearCookies())
	writeJSON(w, http.StatusOK, revokeResponse{Success: true, TokenVersion: version})
}

// Logout clears this browser's cookies only. Other devices stay signed in.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	setCookies(w, h.resolver.ClearCookies())
	http.SetCookie(w, h.temp.Clear())
	http.SetCookie(w, h.temp.ClearPendingAccount())
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func isSessionEnding(err error) bool {
	return errors.Is(err, account.ErrUnauthenticated) ||
		errors.Is(err, account.ErrTokenRevoked) ||
		errors.Is(err, account.ErrAccountInactive)
}
