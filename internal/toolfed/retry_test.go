package toolfed

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryExponentialSucceedsEventually(t *testing.T) {
	attempts := 0
	err := retryExponential(context.Background(), 3, time.Millisecond, func(attempt int) error {
		attempts++
		if attempt < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retryExponential() error = %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryExponentialExhausted(t *testing.T) {
	attempts := 0
	err := retryExponential(context.Background(), 3, time.Millisecond, func(attempt int) error {
		attempts++
		return errors.New("always fails")
	})
	if err == nil {
		t.Fatal("expected an error after exhausting attempts")
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryExponentialRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts := 0
	err := retryExponential(ctx, 3, time.Millisecond, func(attempt int) error {
		attempts++
		return errors.New("fails")
	})
	if err == nil {
		t.Fatal("expected context cancellation error")
	}
	if attempts != 0 {
		t.Fatalf("expected op not to run once context is already cancelled, ran %d times", attempts)
	}
}
