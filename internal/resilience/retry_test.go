package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(func() error {
		calls++
		return nil
	}, DefaultRetryConfig(), nil)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffMultiplier: 2.0}

	calls := 0
	err := Retry(func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, cfg, nil)

	if err != nil {
		t.Errorf("Expected no error after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffMultiplier: 2.0}

	calls := 0
	wantErr := errors.New("still broken")
	err := Retry(func() error {
		calls++
		return wantErr
	}, cfg, nil)

	if !errors.Is(err, wantErr) {
		t.Errorf("Expected last error to be returned, got %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 5, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffMultiplier: 2.0}

	calls := 0
	err := Retry(func() error {
		calls++
		return errors.New("fatal")
	}, cfg, func(error) bool { return false })

	if err == nil {
		t.Error("Expected error from non-retryable failure")
	}
	if calls != 1 {
		t.Errorf("Expected 1 call for non-retryable error, got %d", calls)
	}
}

func TestIsRetryableNetworkError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("connection refused"), true},
		{errors.New("context deadline exceeded"), true},
		{errors.New("i/o timeout"), true},
		{errors.New("invalid request body"), false},
	}

	for _, tt := range tests {
		if got := IsRetryableNetworkError(tt.err); got != tt.want {
			t.Errorf("IsRetryableNetworkError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRetryableError_Wrapping(t *testing.T) {
	base := errors.New("boom")
	wrapped := NewRetryableError(base)

	if !IsRetryable(wrapped) {
		t.Error("Expected wrapped error to be retryable")
	}
	if !errors.Is(wrapped, base) {
		t.Error("Expected wrapped error to unwrap to the base error")
	}
	if IsRetryable(base) {
		t.Error("Expected bare error to not be retryable")
	}
	if NewRetryableError(nil) != nil {
		t.Error("Expected NewRetryableError(nil) to be nil")
	}
}
