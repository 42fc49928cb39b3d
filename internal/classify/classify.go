// Package classify sorts agent-runner errors into retry-eligible categories
// and computes the backoff schedule for the ones that qualify.
package classify

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"
)

// Category is the bucket an error falls into once classified.
type Category int

const (
	// Transient covers network blips, timeouts, and 5xx responses. Eligible for retry.
	Transient Category = iota
	// Permanent covers malformed requests, auth failures, and validation errors. Never retried.
	Permanent
	// Stuck marks a run that neither completed nor errored within its timeout window.
	Stuck
	// ProviderUnavailable covers 429/503 and explicit rate-limit responses. Eligible for retry.
	ProviderUnavailable
	// UserCancel marks a run cancelled by context cancellation, not an error.
	UserCancel
)

func (c Category) String() string {
	switch c {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case Stuck:
		return "stuck"
	case ProviderUnavailable:
		return "provider_unavailable"
	case UserCancel:
		return "user_cancel"
	default:
		return "unknown"
	}
}

// RetryEligible reports whether a category is ever worth retrying.
func (c Category) RetryEligible() bool {
	return c == Transient || c == ProviderUnavailable
}

// RateLimitError carries a provider-supplied Retry-After hint that overrides
// the computed backoff delay.
type RateLimitError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string { return e.Err.Error() }
func (e *RateLimitError) Unwrap() error { return e.Err }

var transientMarkers = []string{
	"connection reset",
	"connection refused",
	"eof",
	"broken pipe",
	"i/o timeout",
	"temporary failure",
	"timeout",
}

var providerUnavailableMarkers = []string{
	"429",
	"too many requests",
	"503",
	"service unavailable",
	"rate limit",
	"overloaded",
}

var permanentMarkers = []string{
	"401",
	"403",
	"invalid api key",
	"unauthorized",
	"400",
	"validation",
	"malformed",
}

// Classify inspects err (and ctx, for cancellation) and returns its Category.
func Classify(ctx context.Context, err error) Category {
	if err == nil {
		return Transient
	}
	if ctx != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return UserCancel
	}
	if errors.Is(err, context.Canceled) {
		return UserCancel
	}

	var rle *RateLimitError
	if errors.As(err, &rle) {
		return ProviderUnavailable
	}

	msg := strings.ToLower(err.Error())
	for _, m := range permanentMarkers {
		if strings.Contains(msg, m) {
			return Permanent
		}
	}
	for _, m := range providerUnavailableMarkers {
		if strings.Contains(msg, m) {
			return ProviderUnavailable
		}
	}
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return Transient
		}
	}
	return Permanent
}

// Policy controls how retry-eligible errors are spaced out.
type Policy struct {
	MaxAttempts   int
	FirstDelay    time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
}

// DefaultPolicy schedules the first retry 60s out, exponential thereafter,
// capped at 5 attempts.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   5,
		FirstDelay:    60 * time.Second,
		BackoffFactor: 2.0,
		MaxDelay:      30 * time.Minute,
	}
}

// NextDelay returns the delay before retry attempt number `attempt` (1-based)
// and whether that attempt is still within MaxAttempts. A RateLimitError's
// RetryAfter, if present, overrides the computed delay.
func (p Policy) NextDelay(attempt int, err error) (time.Duration, bool) {
	if attempt > p.MaxAttempts {
		return 0, false
	}

	var rle *RateLimitError
	if errors.As(err, &rle) && rle.RetryAfter > 0 {
		return rle.RetryAfter, true
	}

	if attempt <= 1 {
		return p.FirstDelay, true
	}

	factor := p.BackoffFactor
	if factor < 1.0 {
		factor = 1.0
	}
	delay := float64(p.FirstDelay) * math.Pow(factor, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	jitter := 1.0 + rand.Float64()*0.1
	return time.Duration(delay * jitter), true
}
