package workflow

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
)

// Operation is an arbitrary unit of work that may fail.
type Operation func(ctx context.Context) (any, error)

// WithRetry attempts op up to cfg.MaxAttempts times, waiting
// InitialDelay * BackoffFactor^(attempt-1) between attempts. After the last
// failure it returns a RetryExhaustedError wrapping the underlying error.
// The delay is context-aware: cancellation aborts the wait.
func WithRetry(ctx context.Context, op Operation, cfg RetryConfig) (any, error) {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		delay := backoffDelay(cfg, attempt)
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
	}

	return nil, &RetryExhaustedError{Attempts: attempts, Err: lastErr}
}

func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	factor := cfg.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	d := float64(cfg.InitialDelay) * math.Pow(factor, float64(attempt-1))
	if d < 0 {
		return cfg.InitialDelay
	}
	return time.Duration(d)
}

// IsRetryableError classifies an error by message heuristics: network and
// timeout failures, rate limiting, and service unavailability. The
// classification is advisory; WithRetry itself retries whatever it is given.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"network",
		"timeout",
		"timed out",
		"rate limit",
		"429",
		"503",
		"service unavailable",
		"connection refused",
		"connection reset",
		"econnrefused",
		"etimedout",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "429")
}

// DefaultRetryConfig returns retry defaults shaped by the error that
// prompted the retry: rate-limited calls back off longer and harder.
func DefaultRetryConfig(err error) RetryConfig {
	if isRateLimitError(err) {
		return RetryConfig{
			MaxAttempts:   5,
			InitialDelay:  2 * time.Second,
			BackoffFactor: 2.0,
		}
	}
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  500 * time.Millisecond,
		BackoffFactor: 1.5,
	}
}
