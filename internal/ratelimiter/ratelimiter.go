// Package ratelimiter throttles inbound RPC calls with a token bucket.
//
// The transport consults the limiter once per dispatched call. Calls that
// exceed the sustained rate are answered with SYSTEM_ERR rather than queued,
// so a flooding client cannot starve the dispatch loop.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// CallLimiter bounds the rate of dispatched calls. All methods are safe for
// concurrent use.
type CallLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter allowing callsPerSecond sustained with the given
// burst capacity. A callsPerSecond of 0 disables limiting.
func New(callsPerSecond, burst uint) *CallLimiter {
	if callsPerSecond == 0 {
		return &CallLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = callsPerSecond
	}
	return &CallLimiter{limiter: rate.NewLimiter(rate.Limit(callsPerSecond), int(burst))}
}

// Allow consumes one token if available. It never blocks; callers reject the
// call when it returns false.
func (l *CallLimiter) Allow() bool {
	return l.limiter.Allow()
}

// Wait blocks until a token is available or ctx is cancelled.
func (l *CallLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// SetRate updates the sustained rate. A rate of 0 disables limiting.
func (l *CallLimiter) SetRate(callsPerSecond uint) {
	if callsPerSecond == 0 {
		l.limiter.SetLimit(rate.Inf)
		return
	}
	l.limiter.SetLimit(rate.Limit(callsPerSecond))
	if uint(l.limiter.Burst()) < callsPerSecond {
		l.limiter.SetBurst(int(callsPerSecond))
	}
}

// Tokens returns the number of currently available tokens. Monitoring only;
// the value is stale the moment it is read.
func (l *CallLimiter) Tokens() float64 {
	return l.limiter.Tokens()
}
