package api

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"medihan/internal/account"
	"medihan/internal/auth"
	"medihan/internal/config"
	"medihan/internal/constants"
	"medihan/internal/metrics"
	"medihan/internal/provider"
)

// Services are the components the HTTP layer is a thin shell over.
type Services struct {
	Store        account.Store
	Engine       *account.RegistrationEngine
	Resolver     *account.SessionResolver
	Reaper       *account.Reaper
	TempSessions *auth.TempSessionStore
	Providers    *provider.Registry
	Metrics      *metrics.Metrics
	Registry     *prometheus.Registry
}

type Server struct {
	router *chi.Mux
	config *config.Config
}

func NewServer(cfg *config.Config, svc Services) *Server {
	oauthHandler := NewOAuthHandler(
		svc.Providers,
		svc.Engine,
		svc.Metrics,
		cfg.Server.SecureCookies,
		resolveURL(cfg.Server.BaseURL, cfg.Server.SuccessPath),
		resolveURL(cfg.Server.BaseURL, cfg.Server.OnboardingPath),
	)
	registrationHandler := NewRegistrationHandler(svc.Engine, svc.Store)
	sessionHandler := NewSessionHandler(svc.Resolver, svc.Engine, svc.TempSessions)
	cleanupHandler := NewCleanupHandler(svc.Reaper, cfg.Reaper.CronSecret)
	healthHandler := NewHealthHandler(svc.Store)

	sessions := NewSessionMiddleware(svc.Resolver)

	r := chi.NewRouter()
	r.Use(slogRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(svc.Metrics.Middleware)
	r.Use(corsMiddleware(cfg.Server.TrustedOrigins))
	r.Use(securityHeadersMiddleware)

	r.Get("/health", healthHandler.Check)
	if cfg.Metrics.Path != "" {
		r.Method(http.MethodGet, cfg.Metrics.Path, metrics.Handler(svc.Registry))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(maxBodySizeMiddleware(1 << 20)) // 1 MB

		r.Route("/auth", func(r chi.Router) {
			oauthLimit := rateLimit(20, time.Minute)
			r.With(oauthLimit).Get("/{provider}/login", oauthHandler.Login)
			r.With(oauthLimit).Get("/{provider}/callback", oauthHandler.Callback)

			registrationLimit := rateLimit(10, time.Minute)
			r.Get("/pending-user", registrationHandler.PendingUser)
			r.With(registrationLimit).Post("/registration", registrationHandler.Begin)
			r.With(registrationLimit).Post("/registration/confirm", registrationHandler.Confirm)
			r.With(registrationLimit).Post("/check-user", registrationHandler.CheckUser)

			r.With(rateLimit(30, time.Minute)).Post("/token/refresh", sessionHandler.Refresh)
			r.Post("/logout", sessionHandler.Logout)

			r.Group(func(r chi.Router) {
				r.Use(sessions.Resolve)
				r.Get("/session", sessionHandler.Session)
				r.Get("/me", sessionHandler.Me)
				r.With(sessions.RequireToken).Post("/token/revoke", sessionHandler.Revoke)
			})

			r.With(cleanupHandler.RequireCronSecret).Get("/cleanup-pending", cleanupHandler.Preview)
			r.With(cleanupHandler.RequireCronSecret).Post("/cleanup-pending", cleanupHandler.Sweep)
		})
	})

	return &Server{
		router: r,
		config: cfg,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// corsMiddleware allows credentialed requests from the configured origins
// and from loopback development servers. Requests without an Origin header
// pass through untouched.
func corsMiddleware(trustedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(trustedOrigins))
	for _, origin := range trustedOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" {
			allowed[origin] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Add("Vary", "Origin")
			if _, ok := allowed[origin]; !ok && !isLoopbackOrigin(origin) {
				writeError(w, http.StatusForbidden, constants.ErrCodeInvalidRequest, "Origin not allowed")
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func maxBodySizeMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"component", "api",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr,
		)
	})
}
