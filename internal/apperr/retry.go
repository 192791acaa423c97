package apperr

import (
	"context"
	"time"
)

// RetryConfig configures exponential backoff retries around model
// initialization: the one place in the engine where a failure is retried
// before being declared fatal.
type RetryConfig struct {
	MaxRetries   int           // attempts after the first, not counting it
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // cap on delay between retries
	Multiplier   float64       // exponential backoff factor
}

// DefaultRetryConfig returns the embedding model's init retry policy: five
// retries at 1s, 2s, 4s, 8s, 16s before ModelInitFailure is declared fatal.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
	}
}

// Retry runs fn with exponential backoff per cfg. If every attempt fails,
// it returns a *Error of kind ModelInitFailure wrapping the last cause.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := fn(); err != nil {
			lastErr = err
			if attempt >= cfg.MaxRetries {
				break
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}

			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
			continue
		}

		return nil
	}

	return Wrap(ModelInitFailure, lastErr, "model initialization failed after retries").
		WithDetail("attempts", itoa(cfg.MaxRetries+1))
}

// RetryWithResult is Retry for functions that also produce a value.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var result T
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		default:
		}

		var err error
		result, err = fn()
		if err != nil {
			lastErr = err
			if attempt >= cfg.MaxRetries {
				break
			}

			select {
			case <-ctx.Done():
				var zero T
				return zero, ctx.Err()
			case <-time.After(delay):
			}

			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
			continue
		}

		return result, nil
	}

	var zero T
	return zero, Wrap(ModelInitFailure, lastErr, "model initialization failed after retries").
		WithDetail("attempts", itoa(cfg.MaxRetries+1))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := [20]byte{}
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[i:])
}
