// Package retryutil provides a bounded retry helper with a fixed delay
// schedule, used wherever the system polls an eventually-consistent
// upstream (recording fetch, transcript retrieval, email delivery).
package retryutil

import (
	"context"
	"errors"
	"time"
)

// ErrPermanent wraps errors that must not be retried.
var ErrPermanent = errors.New("permanent failure")

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }
func (e *permanentError) Is(target error) bool {
	return target == ErrPermanent
}

// Do runs fn up to len(delays)+1 times, sleeping delays[i] after attempt i.
// It returns nil on the first success, the last error once the schedule is
// exhausted, and stops early on context cancellation or a Permanent error.
func Do(ctx context.Context, delays []time.Duration, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= len(delays); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrPermanent) {
			return lastErr
		}
		if attempt == len(delays) {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delays[attempt]):
		}
	}
	return lastErr
}

// TranscriptSchedule is the delay schedule used when fetching a
// freshly-ended call's recording: the provider needs a moment to make it
// available.
var TranscriptSchedule = []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second}

// EmailSchedule is the delay schedule for notification delivery; short,
// since a provider blip usually clears within seconds and the watchdog
// covers anything longer.
var EmailSchedule = []time.Duration{2 * time.Second, 5 * time.Second}
