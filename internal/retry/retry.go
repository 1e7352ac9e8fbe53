// Package retry provides the single backoff policy used for vendor submits,
// status polling and artifact downloads.
package retry

import (
	"context"
	"math"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Policy describes how often and how far apart an operation is attempted.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first one.
	// Zero means retry until the context is done.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Factor multiplies the delay after every attempt; values below 1 mean constant delay.
	Factor        float64
	JitterPercent uint64
}

// Constant returns a policy with a fixed delay between attempts.
func Constant(attempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: delay, Factor: 1}
}

// Exponential returns a doubling policy capped at maxDelay with 10% jitter.
func Exponential(attempts int, base, maxDelay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: base, MaxDelay: maxDelay, Factor: 2, JitterPercent: 10}
}

// Retryable marks err as transient. Errors returned from the operation
// without this mark stop the loop immediately.
func Retryable(err error) error {
	return goretry.RetryableError(err)
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// are used up or ctx is done. When attempts run out the last error is
// returned unwrapped; when ctx ends first ctx.Err() is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return goretry.Do(ctx, p.backoff(), fn)
}

// Delay returns the wait before the given retry (0 is the first retry),
// without jitter.
func (p Policy) Delay(retry int) time.Duration {
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(factor, float64(retry)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d < 0 {
		d = p.MaxDelay
	}
	return d
}

func (p Policy) backoff() goretry.Backoff {
	next := 0
	var b goretry.Backoff = goretry.BackoffFunc(func() (time.Duration, bool) {
		d := p.Delay(next)
		next++
		return d, false
	})

	if p.JitterPercent > 0 && p.BaseDelay > 0 {
		b = goretry.WithJitterPercent(p.JitterPercent, b)
	}
	if p.MaxDelay > 0 {
		b = goretry.WithCappedDuration(p.MaxDelay, b)
	}
	if p.MaxAttempts > 0 {
		b = goretry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
	}
	return b
}
