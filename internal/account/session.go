package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"medihan/internal/auth"
	"medihan/internal/metrics"
	"medihan/internal/models"
)

// Source names the mechanism that produced a session.
type Source string

const (
	SourceAccessToken  Source = "access_token"
	SourceRefreshToken Source = "refresh_token"
	SourceLegacy       Source = "legacy"
	SourceNone         Source = "none"
)

type Session struct {
	AccountID    int64
	Email        string
	Nickname     string
	Provider     models.Provider
	Status       models.Status
	TokenVersion int
	Source       Source
}

// Trusted reports whether the session came from a verified token. Legacy
// sessions are good for identity display only.
func (s *Session) Trusted() bool {
	return s != nil && (s.Source == SourceAccessToken || s.Source == SourceRefreshToken)
}

// Resolution is the outcome of Resolve. Cookies must be written to the
// response; they carry a freshly minted access token after a refresh.
type Resolution struct {
	Session *Session
	Cookies []*http.Cookie
}

// Hydrated is a session re-read from the store.
type Hydrated struct {
	Account *models.Account
	// Invalidate tells the client to drop its session state: the account is
	// gone, deactivated, or its tokens were revoked.
	Invalidate bool
	// Stale is set when the store could not be read and the token-derived
	// view was returned instead.
	Stale bool
}

type SessionResolver struct {
	store   Store
	tokens  *auth.TokenService
	cookies *auth.Cookies
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewSessionResolver(store Store, tokens *auth.TokenService, cookies *auth.Cookies, m *metrics.Metrics) *SessionResolver {
	return &SessionResolver{
		store:   store,
		tokens:  tokens,
		cookies: cookies,
		metrics: m,
		now:     time.Now,
	}
}

func (r *SessionResolver) WithClock(now func() time.Time) *SessionResolver {
	r.now = now
	return r
}

// Resolve derives the caller's session: access token, then refresh token
// (minting a new access token), then the legacy cookie. A nil Session means
// unauthenticated. Resolve never fails; store errors on the refresh path
// fall through to the next source.
func (r *SessionResolver) Resolve(req *http.Request) *Resolution {
	ctx := req.Context()

	if c, err := req.Cookie(auth.AccessTokenCookie); err == nil {
		if claims, err := r.tokens.VerifyAccessToken(c.Value); err == nil {
			r.metrics.SessionResolutions.WithLabelValues(string(SourceAccessToken)).Inc()
			return &Resolution{Session: sessionFromClaims(claims, SourceAccessToken)}
		}
	}

	if c, err := req.Cookie(auth.RefreshTokenCookie); err == nil {
		refreshed, err := r.Refresh(ctx, c.Value)
		switch {
		case err == nil:
			claims, verr := r.tokens.VerifyAccessToken(refreshed.AccessToken)
			if verr == nil {
				r.metrics.SessionResolutions.WithLabelValues(string(SourceRefreshToken)).Inc()
				session := sessionFromClaims(claims, SourceRefreshToken)
				session.Nickname = refreshed.Account.Nickname
				return &Resolution{Session: session, Cookies: refreshed.Cookies}
			}
		case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrTokenRevoked), errors.Is(err, ErrAccountInactive):
		default:
			slog.Warn("error refreshing session, falling back", "component", "session", "error", err)
		}
	}

	if c, err := req.Cookie(auth.LegacySessionCookie); err == nil {
		if summary, ok := auth.ParseLegacy(c.Value); ok {
			r.metrics.SessionResolutions.WithLabelValues(string(SourceLegacy)).Inc()
			return &Resolution{Session: &Session{
				AccountID: summary.ID,
				Email:     summary.Email,
				Nickname:  summary.Nickname,
				Provider:  summary.Provider,
				Status:    summary.Status,
				Source:    SourceLegacy,
			}}
		}
	}

	r.metrics.SessionResolutions.WithLabelValues(string(SourceNone)).Inc()
	return &Resolution{}
}

type Refreshed struct {
	Account         *models.Account
	AccessToken     string
	AccessExpiresAt time.Time
	Cookies         []*http.Cookie
}

// Refresh mints a new access token from a refresh token. The refresh
// token's version must equal the account's current token version.
func (r *SessionResolver) Refresh(ctx context.Context, refreshToken string) (*Refreshed, error) {
	claims, err := r.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		r.metrics.Refreshes.WithLabelValues("invalid").Inc()
		return nil, ErrUnauthenticated
	}

	account, err := r.store.FindByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			r.metrics.Refreshes.WithLabelValues("unknown_account").Inc()
			return nil, ErrUnauthenticated
		}
		r.metrics.Refreshes.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("loading account for refresh: %w", err)
	}

	switch account.Status {
	case models.StatusActive:
	case models.StatusInactive:
		r.metrics.Refreshes.WithLabelValues("inactive").Inc()
		return nil, ErrAccountInactive
	default:
		r.metrics.Refreshes.WithLabelValues("not_active").Inc()
		return nil, ErrUnauthenticated
	}

	if claims.TokenVersion != account.TokenVersion {
		r.metrics.Refreshes.WithLabelValues("revoked").Inc()
		return nil, ErrTokenRevoked
	}

	token, expiresAt, err := r.tokens.IssueAccessToken(account.ID, account.Email, account.Provider, account.Status, account.TokenVersion)
	if err != nil {
		r.metrics.Refreshes.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("issuing access token: %w", err)
	}

	r.metrics.Refreshes.WithLabelValues("ok").Inc()
	return &Refreshed{
		Account:         account,
		AccessToken:     token,
		AccessExpiresAt: expiresAt,
		Cookies:         []*http.Cookie{r.cookies.Access(token)},
	}, nil
}

// Revoke advances the account's token version so every outstanding refresh
// token stops verifying. The update is guarded on the version carried by
// the caller's session.
func (r *SessionResolver) Revoke(ctx context.Context, session *Session) (int, error) {
	if !session.Trusted() {
		return 0, ErrUnauthenticated
	}

	version, err := r.store.BumpTokenVersion(ctx, session.AccountID, session.TokenVersion, r.now().UTC())
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return 0, ErrTokenRevoked
		}
		slog.Error("error revoking tokens", "component", "session", "account_id", session.AccountID, "error", err)
		return 0, fmt.Errorf("revoking tokens: %w", err)
	}

	slog.Info("tokens revoked", "component", "session", "account_id", session.AccountID, "token_version", version)
	return version, nil
}

// ClearCookies expires every session-carrying cookie except the
// pre-registration one.
func (r *SessionResolver) ClearCookies() []*http.Cookie {
	return []*http.Cookie{r.cookies.ClearAccess(), r.cookies.ClearRefresh(), r.cookies.ClearLegacy()}
}

// Hydrate re-reads the session's account. A missing, deactivated or revoked
// account yields Invalidate. A store failure fails open with Stale and an
// account built from the session itself. A legacy session is never
// hydrated: its cookie is unsigned, so it only ever shows its own summary.
func (r *SessionResolver) Hydrate(ctx context.Context, session *Session) *Hydrated {
	if session.Source == SourceLegacy {
		return &Hydrated{Account: accountFromSession(session)}
	}

	account, err := r.store.FindByID(ctx, session.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &Hydrated{Invalidate: true}
		}
		slog.Warn("error hydrating session, serving stale view", "component", "session", "account_id", session.AccountID, "error", err)
		return &Hydrated{Account: accountFromSession(session), Stale: true}
	}

	if account.Status == models.StatusInactive {
		return &Hydrated{Invalidate: true}
	}
	if session.Trusted() && account.TokenVersion != session.TokenVersion {
		return &Hydrated{Invalidate: true}
	}

	interests, err := r.store.ListInterests(ctx, account.ID)
	if err != nil {
		slog.Warn("error loading interests", "component", "session", "account_id", account.ID, "error", err)
	} else {
		account.InterestIDs = interests
	}

	return &Hydrated{Account: account}
}

// Current is the strict read: it needs a token session and a live ACTIVE
// account whose token version still matches, and it fails closed.
func (r *SessionResolver) Current(ctx context.Context, session *Session) (*models.Account, error) {
	if !session.Trusted() {
		return nil, ErrUnauthenticated
	}

	account, err := r.store.FindByID(ctx, session.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("loading current account: %w", err)
	}

	switch {
	case account.Status == models.StatusInactive:
		return nil, ErrAccountInactive
	case account.Status != models.StatusActive:
		return nil, ErrUnauthenticated
	case account.TokenVersion != session.TokenVersion:
		return nil, ErrTokenRevoked
	}

	interests, err := r.store.ListInterests(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("loading interests: %w", err)
	}
	account.InterestIDs = interests

	return account, nil
}

func sessionFromClaims(claims *auth.AccessClaims, source Source) *Session {
	return &Session{
		AccountID:    claims.AccountID,
		Email:        claims.Email,
		Provider:     claims.Provider,
		Status:       claims.Status,
		TokenVersion: claims.TokenVersion,
		Source:       source,
	}
}

func accountFromSession(s *Session) *models.Account {
	return &models.Account{
		ID:           s.AccountID,
		Email:        s.Email,
		Nickname:     s.Nickname,
		Provider:     s.Provider,
		Status:       s.Status,
		TokenVersion: s.TokenVersion,
	}
}
