package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"medihan/internal/constants"
)

// rateLimit limits requests per client IP. chi's RealIP middleware runs
// first, so KeyByRealIP sees the forwarded address.
func rateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(window)))
			writeError(w, http.StatusTooManyRequests, constants.ErrCodeRateLimitExceeded, "Too many requests, please try again later")
		}),
	)
}

func retryAfterSeconds(window time.Duration) int {
	if window <= 0 {
		return 1
	}
	seconds := int((window + time.Second - 1) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}
