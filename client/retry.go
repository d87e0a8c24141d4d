// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"math"
	"time"

	"github.com/bassosimone/httpcore/errs"
)

// RetryPolicy decides whether a failed exchange should be retried, per
// spec §7: "Retries respect method idempotency and a retry budget
// (per-endpoint), with exponential backoff seeded from the policy
// object." Implementations are consulted with the method that failed,
// the zero-based attempt count already made, and the error observed.
type RetryPolicy interface {
	// ShouldRetry reports whether attempt number attempt (0 for the
	// first failure) should be retried, and if so, how long to wait
	// first.
	ShouldRetry(method string, attempt int, err error) (wait time.Duration, retry bool)
}

// idempotentMethods mirrors the conventional HTTP idempotency set; only
// these are ever retried automatically, matching spec §7's "Retries
// respect method idempotency."
var idempotentMethods = map[string]bool{
	"GET": true, "HEAD": true, "PUT": true,
	"DELETE": true, "OPTIONS": true, "TRACE": true,
}

// DefaultRetryPolicy retries idempotent methods up to MaxRetries times,
// backing off exponentially from BaseDelay, only for error kinds that
// indicate a transient transport or protocol failure rather than a
// caller mistake.
type DefaultRetryPolicy struct {
	// MaxRetries is the retry budget per exchange (spec §7's
	// "per-endpoint" retry budget, applied per call here).
	MaxRetries int

	// BaseDelay seeds the exponential backoff: attempt i waits
	// BaseDelay*2^i.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration
}

var _ RetryPolicy = (*DefaultRetryPolicy)(nil)

// NewDefaultRetryPolicy returns a [*DefaultRetryPolicy] with three
// retries and a 100ms-seeded exponential backoff capped at 5s.
func NewDefaultRetryPolicy() *DefaultRetryPolicy {
	return &DefaultRetryPolicy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// ShouldRetry implements [RetryPolicy].
func (p *DefaultRetryPolicy) ShouldRetry(method string, attempt int, err error) (time.Duration, bool) {
	if attempt >= p.MaxRetries || !idempotentMethods[method] || !isRetryable(err) {
		return 0, false
	}
	delay := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt)))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay, true
}

// isRetryable reports whether err's kind represents a transient failure
// worth retrying: connect/read/write timeouts, a fresh connection that
// never came up, or a protocol error (which, per spec §7, resets only
// the failing stream on a multiplexed connection and so is safe to
// reattempt on a new one).
func isRetryable(err error) bool {
	for _, kind := range []errs.Kind{
		errs.KindConnectTimeout, errs.KindReadTimeout, errs.KindWriteTimeout,
		errs.KindNewConnection, errs.KindProtocol,
	} {
		if errs.Is(err, kind) {
			return true
		}
	}
	return false
}

// NoRetryPolicy never retries, for callers that want to own retry logic
// themselves.
type NoRetryPolicy struct{}

var _ RetryPolicy = NoRetryPolicy{}

// ShouldRetry implements [RetryPolicy].
func (NoRetryPolicy) ShouldRetry(string, int, error) (time.Duration, bool) { return 0, false }
