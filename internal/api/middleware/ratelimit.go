package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/imagegen-studio/internal/api/response"
)

// Limiter counts requests per key
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, int, time.Time, error)
}

// RateLimitMiddleware handles rate limiting
type RateLimitMiddleware struct {
	limiter Limiter
	scope   string
}

// NewRateLimitMiddleware creates a rate limit middleware whose counters are
// namespaced by scope.
func NewRateLimitMiddleware(limiter Limiter, scope string) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter, scope: scope}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Limit applies rate limiting based on the client address. RealIP should
// run first.
func (m *RateLimitMiddleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, remaining, resetTime, err := m.limiter.Allow(r.Context(), m.scope+":"+clientKey(r))
		if err != nil {
			// If rate limiter fails, allow the request but log the error
			log.Warn().Err(err).Msg("Rate limiter unavailable")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", resetTime.UTC().Format(time.RFC3339))

		if !allowed {
			retryAfter := max(int(time.Until(resetTime).Seconds()), 1)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			response.TooManyRequests(w, response.ErrorBody{
				ErrorType:  "rate_limit",
				Message:    "Too many generation requests. Please wait before trying again.",
				RetryAfter: &retryAfter,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
