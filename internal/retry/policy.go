package retry

import (
	"context"
	"errors"
	"time"
)

// Policy describes a bounded exponential backoff.
type Policy struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseDelay   time.Duration `yaml:"baseDelay"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxDelay    time.Duration `yaml:"maxDelay"`
}

// DefaultPolicy mirrors the fetcher defaults: 5 attempts, 3s growing x2 up to 60s.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, BaseDelay: 3 * time.Second, Multiplier: 2, MaxDelay: time.Minute}
}

// Delay returns the pause after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= mult
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

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

// Do runs op until it succeeds, returns a Permanent error, or the attempts run out.
// It reports the number of attempts made; a permanent error is returned unwrapped.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error, onRetry func(attempt int, delay time.Duration, err error)) (int, error) {
	max := p.attempts()
	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		err := op(ctx, attempt)
		if err == nil {
			return attempt, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return attempt, perm.err
		}
		lastErr = err
		if attempt == max {
			break
		}

		delay := p.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
		if err := Sleep(ctx, delay); err != nil {
			return attempt, err
		}
	}
	return max, lastErr
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
