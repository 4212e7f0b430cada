package router

import (
	"testing"
	"time"
)

func TestRetryDelayFirstAttemptIsZero(t *testing.T) {
	d := RetryDelay(RetryPolicy{InitialIntervalMS: 100, BackoffCoefficient: 2}, 1)
	if d != 0 {
		t.Fatalf("RetryDelay(attempt=1) = %v, want 0", d)
	}
}

func TestRetryDelayGrowsExponentially(t *testing.T) {
	policy := RetryPolicy{InitialIntervalMS: 100, BackoffCoefficient: 2}
	d2 := RetryDelay(policy, 2)
	d3 := RetryDelay(policy, 3)
	if d2 != 200*time.Millisecond {
		t.Fatalf("RetryDelay(attempt=2) = %v, want 200ms", d2)
	}
	if d3 != 400*time.Millisecond {
		t.Fatalf("RetryDelay(attempt=3) = %v, want 400ms", d3)
	}
}

func TestRetryDelayClampsAtMaximumInterval(t *testing.T) {
	maxMS := int64(150)
	policy := RetryPolicy{InitialIntervalMS: 100, BackoffCoefficient: 2, MaximumIntervalMS: &maxMS}
	d := RetryDelay(policy, 3)
	if d != 150*time.Millisecond {
		t.Fatalf("RetryDelay(attempt=3) = %v, want clamped 150ms", d)
	}
}

func TestRetryDelayZeroCoefficientIsZero(t *testing.T) {
	d := RetryDelay(RetryPolicy{InitialIntervalMS: 100, BackoffCoefficient: 0}, 3)
	if d != 0 {
		t.Fatalf("RetryDelay() = %v, want 0 for non-positive coefficient", d)
	}
}

func TestShouldRetryRespectsNonRetryableList(t *testing.T) {
	policy := &RetryPolicy{NonRetryableErrorTypes: []string{"deserialize"}}
	if ShouldRetry(policy, CategoryDeserialize) {
		t.Fatalf("ShouldRetry() = true, want false for listed category")
	}
	if !ShouldRetry(policy, CategoryTransport) {
		t.Fatalf("ShouldRetry() = false, want true for unlisted category")
	}
}

func TestShouldRetryNilPolicyAllowsAnyCategory(t *testing.T) {
	if !ShouldRetry(nil, CategoryUpstream5xx) {
		t.Fatalf("ShouldRetry(nil, ...) = false, want true")
	}
}

func TestMaxAttemptsDefaultsToOne(t *testing.T) {
	if MaxAttempts(nil) != 1 {
		t.Fatalf("MaxAttempts(nil) = %d, want 1", MaxAttempts(nil))
	}
	if MaxAttempts(&RetryPolicy{MaximumAttempts: 0}) != 1 {
		t.Fatalf("MaxAttempts(0) = %d, want 1", MaxAttempts(&RetryPolicy{}))
	}
	if MaxAttempts(&RetryPolicy{MaximumAttempts: 5}) != 5 {
		t.Fatalf("MaxAttempts(5) = %d, want 5", MaxAttempts(&RetryPolicy{MaximumAttempts: 5}))
	}
}
