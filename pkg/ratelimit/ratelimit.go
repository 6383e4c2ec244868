package ratelimit

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMaxAttempts is spec §4.5's "retry up to 3 times" ceiling.
const DefaultMaxAttempts = 3

// DefaultBaseDelay is the first backoff step; it doubles after each failed
// attempt (waits of 1s then 2s between the default 3 attempts).
const DefaultBaseDelay = time.Second

// RateLimitHint lets a wrapped call report an upstream-supplied wait
// duration (e.g. a 429's Retry-After) instead of falling back to plain
// exponential backoff.
type RateLimitHint struct {
	Err        error
	RetryAfter time.Duration
}

func (h *RateLimitHint) Error() string { return h.Err.Error() }
func (h *RateLimitHint) Unwrap() error { return h.Err }

// AsRateLimitHint extracts a RateLimitHint from err, if present.
func AsRateLimitHint(err error) (*RateLimitHint, bool) {
	var h *RateLimitHint
	if errors.As(err, &h) {
		return h, true
	}
	return nil, false
}

// Limiter throttles outbound calls to an external system, grounded on the
// token-bucket wrapper the pack uses for its own outbound HTTP client.
type Limiter struct {
	tokens *rate.Limiter
}

// New creates a Limiter allowing requestsPerSecond steady-state with the
// given burst.
func New(requestsPerSecond float64, burst int) *Limiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	if burst <= 0 {
		burst = int(requestsPerSecond * 2)
		if burst < 1 {
			burst = 1
		}
	}
	return &Limiter{tokens: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.tokens.Wait(ctx)
}

// Retry calls fn up to maxAttempts times (<=0 uses DefaultMaxAttempts),
// waiting on limiter before every attempt (limiter may be nil to skip
// throttling) and backing off baseDelay*2^(attempt-1) after each failed
// attempt but the last.
// If fn's error unwraps to a RateLimitHint, that hint's RetryAfter is
// honored instead of the computed backoff. Returns the last error after
// the final attempt is exhausted.
func Retry(ctx context.Context, limiter *Limiter, maxAttempts int, baseDelay time.Duration, fn func(ctx context.Context) error) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}

	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}

		wait := delay
		if hint, ok := AsRateLimitHint(lastErr); ok && hint.RetryAfter > 0 {
			wait = hint.RetryAfter
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return lastErr
}
