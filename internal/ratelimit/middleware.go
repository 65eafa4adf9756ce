package ratelimit

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Middleware wraps an HTTP handler with per-client rate limiting.
type Middleware struct {
	limiter *Limiter
	enabled bool
	logger  *log.Logger
	keyFunc func(*http.Request) string
	onLimit func(key string)
}

// NewMiddleware creates a new rate limiting middleware keyed by client IP.
func NewMiddleware(limiter *Limiter, enabled bool, logger *log.Logger) *Middleware {
	return &Middleware{
		limiter: limiter,
		enabled: enabled && limiter != nil,
		logger:  logger,
		keyFunc: ClientIP,
	}
}

// OnLimit registers a callback fired for every rejected request.
func (m *Middleware) OnLimit(fn func(key string)) *Middleware {
	m.onLimit = fn
	return m
}

// Wrap applies rate limiting to an HTTP handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if !m.enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := m.keyFunc(r)
		d, err := m.limiter.Allow(r.Context(), key)
		if err != nil && m.logger != nil {
			m.logger.Printf("rate limit store error (allowing request): %v", err)
		}
		addRateLimitHeaders(w, d)

		if !d.Allowed {
			if m.logger != nil {
				m.logger.Printf("rate limit exceeded: client=%s path=%s", key, r.URL.Path)
			}
			if m.onLimit != nil {
				m.onLimit(key)
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the request's remote address without the port. Run it
// behind chi's RealIP middleware to honour X-Forwarded-For.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// addRateLimitHeaders adds standard rate limit headers to the response.
// See: https://datatracker.ietf.org/doc/html/draft-polli-ratelimit-headers
func addRateLimitHeaders(w http.ResponseWriter, d Decision) {
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%.0f", d.Limit))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%.0f", math.Floor(d.Remaining)))
	if d.ResetAfter > 0 {
		reset := time.Now().Add(d.ResetAfter)
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
	}
}
