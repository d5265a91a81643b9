// Package retry provides the retry policy for pending-message redelivery.
// It bounds attempt counts and spaces attempts with optional exponential
// backoff.
package retry

import (
	"fmt"
	"math"
	"time"
)

// Strategy defines the redelivery behavior for messages that could not be
// delivered at publish time.
//
// The delay before attempt n is min(BaseDelay * ExponentialBase^n, MaxDelay);
// an ExponentialBase of 1.0 gives the fixed redelivery interval the broker
// uses by default.
type Strategy struct {
	MaxAttempts     int           // Maximum redelivery attempts before giving up
	BaseDelay       time.Duration // Delay before the first redelivery attempt
	MaxDelay        time.Duration // Cap on the computed delay
	ExponentialBase float64       // Backoff multiplier (1.0 = fixed interval)
}

// DefaultStrategy returns the broker's default redelivery policy:
// 5 attempts at a fixed 30 second interval.
func DefaultStrategy() Strategy {
	return Strategy{
		MaxAttempts:     5,
		BaseDelay:       30 * time.Second,
		MaxDelay:        30 * time.Minute,
		ExponentialBase: 1.0,
	}
}

// Delay returns the wait before the given (1-based) attempt number.
func (s Strategy) Delay(attemptNumber int) time.Duration {
	if attemptNumber <= 0 || s.ExponentialBase <= 1.0 {
		return s.BaseDelay
	}

	delay := float64(s.BaseDelay) * math.Pow(s.ExponentialBase, float64(attemptNumber))
	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// IsRetryable checks if another redelivery attempt is allowed.
func (s Strategy) IsRetryable(attemptCount int) bool {
	return attemptCount < s.MaxAttempts
}

// Schedule returns a human-readable description of the redelivery schedule,
// useful in logs and startup banners.
func (s Strategy) Schedule() string {
	out := "Redelivery schedule:\n"
	for i := 1; i <= s.MaxAttempts; i++ {
		out += fmt.Sprintf("  Attempt %d: after %v\n", i, s.Delay(i))
	}
	out += "  then: kept undelivered, reported\n"
	return out
}
