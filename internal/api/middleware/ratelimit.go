package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/jobkeeper/internal/api/response"
	"github.com/kiranshivaraju/jobkeeper/internal/cache"
)

const rateWindow = time.Minute

// RateLimit provides fixed-window rate limiting per client.
type RateLimit struct {
	cache          cache.Cache
	requestsPerMin int
	logger         *slog.Logger
}

// NewRateLimit creates a new RateLimit middleware. A non-positive
// requestsPerMin disables limiting.
func NewRateLimit(c cache.Cache, requestsPerMin int, logger *slog.Logger) *RateLimit {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimit{cache: c, requestsPerMin: requestsPerMin, logger: logger}
}

// Limit counts requests against the client identity from GetClientID.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.requestsPerMin <= 0 || rl.cache == nil {
			next.ServeHTTP(w, r)
			return
		}

		client := GetClientID(r)
		count, err := rl.cache.IncrWithExpiry(r.Context(), cache.RateLimitKey(client), rateWindow)
		if err != nil {
			// Fail open.
			rl.logger.Warn("rate limit counter unavailable", "client", client, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.requestsPerMin - int(count)
		if remaining < 0 {
			remaining = 0
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(rateWindow).Unix(), 10))

		if count > int64(rl.requestsPerMin) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rateWindow.Seconds())))
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
