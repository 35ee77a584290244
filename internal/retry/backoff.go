// Package retry holds the two resilience helpers of the proxy: an
// exponential backoff for (re)connecting the SSH gateway and a circuit
// breaker that stops hammering an upstream that keeps refusing dials.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lukechampine.com/frand"
)

// PermanentError marks an error that no amount of retrying will fix,
// such as rejected credentials or a host key mismatch.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that [Backoff.Do] returns it at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a [PermanentError].
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Backoff retries an operation with exponentially growing pauses.
// The zero value is usable: 1s initial delay, doubling, capped at 60s,
// unlimited attempts.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// MaxAttempts counts the first try.  Zero means retry until ctx ends.
	MaxAttempts int
	// Jitter spreads each pause by ±25%.
	Jitter bool
	// OnRetry, if set, is called before each pause.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultBackoff is the gateway reconnect policy.
func DefaultBackoff() *Backoff {
	return &Backoff{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		MaxAttempts:  5,
		Jitter:       true,
	}
}

func (b *Backoff) params() (delay, max time.Duration, mult float64) {
	delay, max, mult = b.InitialDelay, b.MaxDelay, b.Multiplier
	if delay <= 0 {
		delay = time.Second
	}
	if max <= 0 {
		max = 60 * time.Second
	}
	if mult <= 1 {
		mult = 2
	}
	return delay, max, mult
}

// Do calls fn (with a 1-based attempt number) until it returns nil, a
// [Permanent] error, the attempt budget runs out or ctx is done.
func (b *Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	delay, maxDelay, mult := b.params()

	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		wait := delay
		if b.Jitter {
			wait = jitter(delay)
		}
		if b.OnRetry != nil {
			b.OnRetry(attempt, err, wait)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		case <-t.C:
		}

		delay = time.Duration(float64(delay) * mult)
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// jitter returns d moved by up to a quarter in either direction, never
// below a millisecond.
func jitter(d time.Duration) time.Duration {
	spread := uint64(d / 4)
	if spread == 0 {
		return d
	}
	j := d - time.Duration(spread) + time.Duration(frand.Uint64n(2*spread+1))
	if j < time.Millisecond {
		j = time.Millisecond
	}
	return j
}
