// Package utils provides small shared helpers: retry with exponential
// backoff, provider rate limiting, and log sanitization.
package utils

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig defines retry behavior for transient failures.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultRetryConfig returns the standard retry configuration used for
// LLM requests and CDP reattach attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// newExponentialBackOff builds a backoff.ExponentialBackOff from the config,
// capping total elapsed time to approximately MaxRetries attempts.
func (rc RetryConfig) newExponentialBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = rc.InitialDelay
	b.MaxInterval = rc.MaxDelay
	b.Multiplier = rc.Multiplier
	if !rc.Jitter {
		b.RandomizationFactor = 0
	}

	elapsed := time.Duration(0)
	delay := rc.InitialDelay
	for i := 0; i <= rc.MaxRetries; i++ {
		elapsed += delay
		delay = time.Duration(float64(delay) * rc.Multiplier)
		if delay > rc.MaxDelay {
			delay = rc.MaxDelay
		}
	}
	b.MaxElapsedTime = elapsed
	return b
}

// ExecuteWithRetry runs operation with exponential backoff until it succeeds
// or the retry budget is exhausted.
func ExecuteWithRetry(operation func() error, config RetryConfig) error {
	if err := backoff.Retry(operation, config.newExponentialBackOff()); err != nil {
		return fmt.Errorf("operation failed after retries: %w", err)
	}
	return nil
}

// ExecuteWithRetryContext is like ExecuteWithRetry but stops as soon as ctx
// is cancelled.
func ExecuteWithRetryContext(ctx context.Context, operation func() error, config RetryConfig) error {
	b := config.newExponentialBackOff()
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("operation failed after retries: %w", err)
	}
	return nil
}

// IsRetryableError reports whether an HTTP status code is worth retrying
// (429 or any 5xx).
func IsRetryableError(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= 500 && statusCode <= 599)
}
