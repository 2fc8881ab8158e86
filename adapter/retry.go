package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/logline/session"
)

// RetryPolicy bounds redelivery of one event.
type RetryPolicy struct {
	// Retries is the number of attempts after the first.
	Retries int
	// Base is the delay before the first retry. Later delays double,
	// capped at 16×Base.
	Base time.Duration
}

// permanentError stops Retry without further attempts.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// ExhaustedError reports a delivery that failed on every attempt.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Retry runs attempt until it succeeds, returns a Permanent error, the
// policy runs out, or ctx ends. Delays use the same backoff schedule as
// collector reconnects, without jitter.
func Retry(ctx context.Context, p RetryPolicy, attempt func(context.Context) error) error {
	backoff := session.NewSchedule(session.BackoffConfig{
		Initial:    p.Base,
		Max:        16 * p.Base,
		Multiplier: 2,
	})

	var lastErr error
	for i := 0; i <= p.Retries; i++ {
		if i > 0 {
			timer := time.NewTimer(backoff.Next())
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("canceled during backoff after %v: %w", lastErr, ctx.Err())
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("canceled: %w", err)
		}

		lastErr = attempt(ctx)
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}
	}
	return &ExhaustedError{Attempts: p.Retries + 1, Err: lastErr}
}
