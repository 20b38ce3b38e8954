// Package clients provides the shared HTTP plumbing API connectors are
// built on: a rate limiter, a circuit breaker and a JSON HTTP client.
package clients

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter throttles outbound requests to an origin. A zero or
// negative limit disables throttling.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter allowing perSecond requests per second
// with a burst of the same size.
func NewRateLimiter(perSecond int) *RateLimiter {
	if perSecond <= 0 {
		return &RateLimiter{}
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond)}
}

// Wait blocks until a request slot is available or the context is done
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl.limiter == nil {
		return ctx.Err()
	}
	return rl.limiter.Wait(ctx)
}

// Allow reports whether a request may proceed right now without waiting
func (rl *RateLimiter) Allow() bool {
	if rl.limiter == nil {
		return true
	}
	return rl.limiter.Allow()
}
