// Package retry implements bounded retries with exponential backoff as an
// explicit state machine: an attempt counter plus a computed wait.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy bounds a retry series.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first (default: 3).
	MaxAttempts int

	// InitialBackoff is the wait after the first failure; it doubles after each
	// further failure (default: 100ms).
	InitialBackoff time.Duration
}

// DefaultPolicy returns 3 attempts with 100ms, 200ms waits between them.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy().MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = DefaultPolicy().InitialBackoff
	}
	return p
}

// Backoff returns the wait after the given failed attempt (1-based):
// 2^(attempt-1) * InitialBackoff.
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}
	return p.InitialBackoff * time.Duration(1<<(attempt-1))
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep waits for d, returning ctx.Err() if the context ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Sequence tracks one retry series.
type Sequence struct {
	policy  Policy
	attempt int
}

// Start begins a new retry series.
func (p Policy) Start() *Sequence {
	return &Sequence{policy: p.normalized()}
}

// Next advances to the next attempt and reports whether it may run.
func (s *Sequence) Next() bool {
	if s.attempt >= s.policy.MaxAttempts {
		return false
	}
	s.attempt++
	return true
}

// Attempt returns the current 1-based attempt number (0 before the first Next).
func (s *Sequence) Attempt() int {
	return s.attempt
}

// Exhausted reports whether no attempts remain.
func (s *Sequence) Exhausted() bool {
	return s.attempt >= s.policy.MaxAttempts
}

// Backoff returns the wait before the next attempt.
func (s *Sequence) Backoff() time.Duration {
	return s.policy.Backoff(s.attempt)
}

// ErrPermanent marks an error that must not be retried.
var ErrPermanent = errors.New("permanent failure")

// permanentError wraps an error so Do stops immediately.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }
func (e *permanentError) Is(target error) bool {
	return target == ErrPermanent
}

// Permanent wraps err so Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// ExhaustedError is returned by Do when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Hooks observes a retry series.
type Hooks struct {
	// OnRetry is called after a failed attempt, before the wait.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// Do runs fn until it succeeds, returns a Permanent error, the policy is
// exhausted or ctx ends. Context errors are returned unwrapped so callers can
// tell cancellation apart from failure.
func Do(ctx context.Context, policy Policy, sleep SleepFunc, hooks Hooks, fn func(ctx context.Context, attempt int) error) error {
	if sleep == nil {
		sleep = Sleep
	}

	seq := policy.Start()
	var lastErr error
	for seq.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx, seq.Attempt())
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPermanent) {
			var perm *permanentError
			if errors.As(err, &perm) {
				return perm.err
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		lastErr = err

		if seq.Exhausted() {
			break
		}

		wait := seq.Backoff()
		if hooks.OnRetry != nil {
			hooks.OnRetry(seq.Attempt(), wait, err)
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}

	return &ExhaustedError{Attempts: seq.Attempt(), Last: lastErr}
}
