// Package retry runs an operation under a bounded exponential-backoff policy
// with a caller-supplied soft-failure predicate, on top of cenkalti/backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted is returned when every attempt produced a soft failure
// without an underlying error.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy describes how many times to try and how long to wait in between.
// The wait before attempt n+1 is InitialDelay * Multiplier^(n-1).
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64

	// Sleep waits for d or until ctx is done. Nil means a timer-based wait.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Default is three attempts, 2s then 4s apart.
func Default() Policy {
	return Policy{MaxAttempts: 3, InitialDelay: 2 * time.Second, Multiplier: 2}
}

// Delay returns the wait after the given 1-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.InitialDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	d := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= mult
	}
	return time.Duration(d)
}

// TotalBackoff is the sum of all waits when every attempt fails.
func (p Policy) TotalBackoff() time.Duration {
	var total time.Duration
	for attempt := 1; attempt < p.attempts(); attempt++ {
		total += p.Delay(attempt)
	}
	return total
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// backOff is the cenkalti exponential schedule for p with jitter disabled,
// capped at attempts-1 retries and bound to ctx.
func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = max(p.InitialDelay, 0)
	b.Multiplier = mult
	b.RandomizationFactor = 0
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.attempts()-1)), ctx)
}

// sleepTimer adapts Policy.Sleep to backoff.Timer. A failed sleep cancels
// the retry context instead of firing.
type sleepTimer struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	sleep  func(ctx context.Context, d time.Duration) error
	c      chan time.Time
}

func (t *sleepTimer) Start(d time.Duration) {
	if err := t.sleep(t.ctx, d); err != nil {
		t.cancel(err)
		return
	}
	t.c <- time.Now()
}

func (t *sleepTimer) Stop() {}

func (t *sleepTimer) C() <-chan time.Time { return t.c }

// Do calls fn until it succeeds, the attempts run out or ctx is cancelled.
// retryable decides whether a result counts as a soft failure; a nil
// retryable retries on error only. The last value is always returned along
// with the number of attempts made.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error), retryable func(T, error) bool) (T, int, error) {
	if retryable == nil {
		retryable = func(_ T, err error) bool { return err != nil }
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		attempt int
		lastErr error
		soft    bool
	)
	op := func() (T, error) {
		attempt++
		v, err := fn(ctx, attempt)
		lastErr, soft = err, retryable(v, err)
		switch {
		case !soft && err != nil:
			return v, backoff.Permanent(err)
		case !soft:
			return v, nil
		case err == nil:
			return v, ErrExhausted
		}
		return v, err
	}
	notify := func(_ error, delay time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, lastErr)
		}
	}
	var timer backoff.Timer
	if p.Sleep != nil {
		timer = &sleepTimer{ctx: ctx, cancel: cancel, sleep: p.Sleep, c: make(chan time.Time, 1)}
	}

	value, err := backoff.RetryNotifyWithTimerAndData(op, p.backOff(ctx), notify, timer)
	switch {
	case err == nil || !soft:
		return value, attempt, err
	case ctx.Err() != nil && attempt < p.attempts():
		return value, attempt, fmt.Errorf("retry wait: %w", context.Cause(ctx))
	}
	if lastErr == nil {
		lastErr = ErrExhausted
	}
	return value, attempt, fmt.Errorf("after %d attempts: %w", attempt, lastErr)
}
