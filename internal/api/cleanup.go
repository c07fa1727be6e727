package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"medihan/internal/account"
)

// CleanupHandler exposes the reaper to an external scheduler. Both routes
// need the cron secret as a bearer token.
type CleanupHandler struct {
	reaper *account.Reaper
	secret string
}

func NewCleanupHandler(reaper *account.Reaper, secret string) *CleanupHandler {
	return &CleanupHandler{reaper: reaper, secret: secret}
}

func (h *CleanupHandler) RequireCronSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.secret == "" {
			forbidden(w, "Cleanup endpoint is disabled")
			return
		}

		parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" ||
			subtle.ConstantTimeCompare([]byte(parts[1]), []byte(h.secret)) != 1 {
			unauthorized(w, "Invalid cron secret")
			return
		}

		next.ServeHTTP(w, r)
	})
}

type sweepResponse struct {
	Success      bool  `json:"success"`
	CleanedCount int64 `json:"cleanedCount"`
}

func (h *CleanupHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.reaper.Sweep(r.Context(), h.reaper.Retention())
	if err != nil {
		slog.Error("error sweeping pending accounts", "component", "api", "deleted", deleted, "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, sweepResponse{Success: true, CleanedCount: deleted})
}

func (h *CleanupHandler) Preview(w http.ResponseWriter, r *http.Request) {
	preview, err := h.reaper.Preview(r.Context())
	if err != nil {
		slog.Error("error previewing pending accounts", "component", "api", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, preview)
}
