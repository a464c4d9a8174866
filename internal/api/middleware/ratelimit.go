package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/mailmind/internal/api/response"
	"github.com/kiranshivaraju/mailmind/internal/cache"
)

const (
	defaultRequestsPerMinute = 60
	rateWindow               = 60 * time.Second
)

// RateLimit provides fixed-window rate limiting via Redis.
type RateLimit struct {
	cache          cache.Cache
	requestsPerMin int
}

// NewRateLimit creates a new RateLimit middleware.
func NewRateLimit(c cache.Cache, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{cache: c, requestsPerMin: requestsPerMin}
}

// Limit applies rate limiting based on the key_prefix set by auth middleware.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix, ok := getKeyPrefix(r)
		if !ok {
			// No key prefix means auth middleware didn't run; pass through
			next.ServeHTTP(w, r)
			return
		}
		rl.serve(w, r, next, cache.RateLimitKey(prefix))
	})
}

// LimitByIP applies the same limit per client address, for routes that are
// reached without an API key.
func (rl *RateLimit) LimitByIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rl.serve(w, r, next, cache.RateLimitKey("ip:"+clientIP(r)))
	})
}

func (rl *RateLimit) serve(w http.ResponseWriter, r *http.Request, next http.Handler, key string) {
	count, err := rl.cache.IncrWithExpiry(r.Context(), key, rateWindow)
	if err != nil {
		// On Redis error, allow the request (fail open)
		next.ServeHTTP(w, r)
		return
	}

	remaining := rl.requestsPerMin - int(count)
	if remaining < 0 {
		remaining = 0
	}
	resetTime := time.Now().Add(rateWindow).Unix()

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime, 10))

	if count > int64(rl.requestsPerMin) {
		w.Header().Set("Retry-After", strconv.Itoa(int(rateWindow.Seconds())))
		response.Error(w, http.StatusTooManyRequests,
			"RATE_LIMIT_EXCEEDED", "Too many requests", map[string]any{"retry_after": int(rateWindow.Seconds())})
		return
	}

	next.ServeHTTP(w, r)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
