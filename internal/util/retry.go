package util

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryConfig holds configuration for retry with backoff
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (0 = no retries, -1 = unlimited)
	MaxRetries int
	// BaseDelay is the initial delay between retries
	BaseDelay time.Duration
	// MaxDelay caps any single delay
	MaxDelay time.Duration
	// Multiplier is the exponential growth factor (default 2.0). Ignored when Linear is set.
	Multiplier float64
	// Linear switches to delay = BaseDelay * attempt.
	Linear bool
	// Jitter adds randomness to delays (0.0 - 1.0)
	Jitter float64
	// RetryIf decides whether an error is worth another attempt; nil retries everything
	RetryIf func(error) bool
}

// DefaultRetryConfig returns the defaults used for RPC dials.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// RetryResult contains the result of a retry operation
type RetryResult struct {
	Attempts  int
	LastError error
	Duration  time.Duration
}

// ErrMaxRetriesExceeded is joined onto the last error when attempts run out.
var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

// ErrContextCanceled is joined onto ctx.Err() when the wait is interrupted.
var ErrContextCanceled = errors.New("context canceled during retry")

// Retry executes fn until it succeeds, the error is not retryable, attempts
// run out, or ctx is done.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) *RetryResult {
	_, res := RetryWithValue(ctx, config, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return res
}

// RetryWithValue is Retry for functions that produce a value.
func RetryWithValue[T any](ctx context.Context, config *RetryConfig, fn func() (T, error)) (T, *RetryResult) {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var zero T
	res := &RetryResult{}
	start := time.Now()

	for {
		res.Attempts++

		val, err := fn()
		if err == nil {
			res.LastError = nil
			res.Duration = time.Since(start)
			return val, res
		}
		res.LastError = err

		if config.RetryIf != nil && !config.RetryIf(err) {
			res.Duration = time.Since(start)
			return zero, res
		}

		if config.MaxRetries >= 0 && res.Attempts > config.MaxRetries {
			res.LastError = errors.Join(ErrMaxRetriesExceeded, err)
			res.Duration = time.Since(start)
			return zero, res
		}

		timer := time.NewTimer(calculateDelay(config, res.Attempts))
		select {
		case <-ctx.Done():
			timer.Stop()
			res.LastError = errors.Join(ErrContextCanceled, ctx.Err())
			res.Duration = time.Since(start)
			return zero, res
		case <-timer.C:
		}
	}
}

func calculateDelay(config *RetryConfig, attempt int) time.Duration {
	var delay float64
	if config.Linear {
		delay = float64(config.BaseDelay) * float64(attempt)
	} else {
		multiplier := config.Multiplier
		if multiplier <= 0 {
			multiplier = 2.0
		}
		delay = float64(config.BaseDelay) * math.Pow(multiplier, float64(attempt-1))
	}

	if config.Jitter > 0 {
		jitterRange := delay * config.Jitter
		delay = delay - jitterRange + (rand.Float64() * 2 * jitterRange)
	}

	if config.MaxDelay > 0 && time.Duration(delay) > config.MaxDelay {
		delay = float64(config.MaxDelay)
	}
	return time.Duration(delay)
}

// RetryableError marks an error as worth retrying under RetryIfMarked.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// MarkRetryable marks an error as retryable
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable checks if an error is marked as retryable
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}

// RetryIfMarked only retries errors wrapped with MarkRetryable.
func RetryIfMarked() func(error) bool {
	return IsRetryable
}
