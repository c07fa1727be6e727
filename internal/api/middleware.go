package api

import (
	"context"
	"net/http"

	"medihan/internal/account"
)

type contextKey string

const sessionKey contextKey = "session"

type SessionMiddleware struct {
	resolver *account.SessionResolver
}

func NewSessionMiddleware(resolver *account.SessionResolver) *SessionMiddleware {
	return &SessionMiddleware{resolver: resolver}
}

// Resolve attaches the caller's session, if any, to the request context and
// writes any cookies minted while resolving it.
func (m *SessionMiddleware) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := m.resolver.Resolve(r)
		setCookies(w, res.Cookies)

		ctx := context.WithValue(r.Context(), sessionKey, res.Session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireToken rejects requests without an access or refresh token session.
// Must run after Resolve.
func (m *SessionMiddleware) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !GetSession(r).Trusted() {
			unauthorized(w, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func GetSession(r *http.Request) *account.Session {
	if v := r.Context().Value(sessionKey); v != nil {
		if session, ok := v.(*account.Session); ok {
			return session
		}
	}
	return nil
}
