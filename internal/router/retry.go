package router

import (
	"math"
	"time"
)

// RetryPolicy configures per-tool retry behavior for upstream dispatch.
type RetryPolicy struct {
	MaximumAttempts        int
	InitialIntervalMS      int64
	BackoffCoefficient     float64
	MaximumIntervalMS      *int64
	NonRetryableErrorTypes []string
}

// ErrorCategory classifies an upstream dispatch failure for retry purposes.
type ErrorCategory string

const (
	CategoryUpstream5xx ErrorCategory = "upstream_5xx"
	CategoryTransport   ErrorCategory = "transport"
	CategoryDeserialize ErrorCategory = "deserialize"
	CategoryTimeout     ErrorCategory = "timeout"
)

// Disallows reports whether policy's non-retryable list names category.
func (p *RetryPolicy) disallows(category ErrorCategory) bool {
	if p == nil {
		return false
	}
	for _, t := range p.NonRetryableErrorTypes {
		if ErrorCategory(t) == category {
			return true
		}
	}
	return false
}

// ShouldRetry reports whether an error of the given category should be
// retried under policy. A nil policy never blocks a categorized error, but
// callers also gate on attempt count / max attempts separately.
func ShouldRetry(policy *RetryPolicy, category ErrorCategory) bool {
	return !policy.disallows(category)
}

// MaxAttempts returns policy's configured attempt ceiling, defaulting to 1
// (no retry) when policy is nil or non-positive.
func MaxAttempts(policy *RetryPolicy) int {
	if policy == nil || policy.MaximumAttempts < 1 {
		return 1
	}
	return policy.MaximumAttempts
}

// RetryDelay computes the backoff delay before the given attempt (1-indexed;
// attempt 1 is the initial try and always delays 0). Delay grows as
// initialInterval * coefficient^(attempt-1), clamped to maximumInterval when
// set.
func RetryDelay(policy RetryPolicy, attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	coeff := policy.BackoffCoefficient
	if math.IsNaN(coeff) || math.IsInf(coeff, 0) || coeff <= 0 {
		return 0
	}

	exp := attempt - 1
	const expCap = 30
	if exp > expCap {
		exp = expCap
	}
	mult := math.Pow(coeff, float64(exp))
	if math.IsNaN(mult) || math.IsInf(mult, 0) || mult <= 0 {
		return 0
	}

	delay := time.Duration(float64(policy.InitialIntervalMS) * mult * float64(time.Millisecond))
	if policy.MaximumIntervalMS != nil {
		max := time.Duration(*policy.MaximumIntervalMS) * time.Millisecond
		if delay > max {
			delay = max
		}
	}
	return delay
}
