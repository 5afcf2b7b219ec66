package nightscout

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"
)

// RetryConfig configures retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between retries.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier for exponential backoff.
	BackoffFactor float64

	// JitterFactor is the maximum jitter as a fraction of backoff (0-1).
	JitterFactor float64
}

// DefaultRetryConfig returns three attempts starting at one second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0.2,
	}
}

// retryableStatus lists the responses worth another attempt
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// IsRetryable reports whether err is a transient failure: a transport error
// or one of 429/500/502/503/504. Cancellation is never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return retryableStatus[apiErr.StatusCode]
	}
	return true
}

// RetryableFunc is a function that can be retried.
type RetryableFunc func(ctx context.Context, attempt int) error

// Retry executes fn until it succeeds, returns a non-retryable error, or
// MaxAttempts is reached. It returns the number of attempts made and the
// last error.
func Retry(ctx context.Context, config RetryConfig, fn RetryableFunc) (int, error) {
	backoff := config.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if !IsRetryable(lastErr) || attempt == config.MaxAttempts {
			return attempt, lastErr
		}

		timer := time.NewTimer(withJitter(backoff, config.JitterFactor))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * config.BackoffFactor)
		if config.MaxBackoff > 0 && backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}
	return config.MaxAttempts, lastErr
}

func withJitter(d time.Duration, factor float64) time.Duration {
	if factor <= 0 || d <= 0 {
		return d
	}
	jitter := float64(d) * factor * rand.Float64() //nolint:gosec // Jitter does not need crypto randomness
	return d + time.Duration(jitter)
}
