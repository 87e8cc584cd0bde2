// Package ratelimit throttles run submissions and token requests per client.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"time"
)

// Result is the outcome of one Take.
type Result struct {
	Allowed   bool
	Remaining int
	// RetryAfter is how long until one token is available. Zero when allowed.
	RetryAfter time.Duration
}

// Limiter decides whether a request identified by key may proceed.
// Implementations must be safe for concurrent use. An error means the
// limiter itself failed; callers let the request through.
type Limiter interface {
	Take(ctx context.Context, key string) (Result, error)
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

func (NoopLimiter) Take(context.Context, string) (Result, error) {
	return Result{Allowed: true, Remaining: -1}, nil
}

func (NoopLimiter) Close() error { return nil }

// ClientIP keys requests by RemoteAddr. X-Forwarded-For is ignored because
// any client can set it.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
