package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsEventually(t *testing.T) {
	p := Policy{Min: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2}
	attempts := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestDoRespectsMaxAttempts(t *testing.T) {
	p := Policy{Min: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2, MaxAttempts: 2}
	attempts := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		attempts++
		return errors.New("always fails")
	})
	if err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestDoHonorsClassifier(t *testing.T) {
	permanent := errors.New("permanent")
	p := Policy{
		Min: time.Millisecond, Max: time.Millisecond, Factor: 2,
		Classify: func(err error) bool { return !errors.Is(err, permanent) },
	}
	attempts := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		attempts++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error returned unchanged, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("classifier should stop after first non-retryable error, got %d attempts", attempts)
	}
}

func TestDoStopsOnContextCancel(t *testing.T) {
	p := Policy{Min: 50 * time.Millisecond, Max: time.Second, Factor: 2}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, p, func(ctx context.Context) error {
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffResetReturnsToMin(t *testing.T) {
	bo := NewBackoff(Policy{Min: time.Millisecond, Max: time.Second, Factor: 2})
	first := bo.Next()
	_ = bo.Next()
	_ = bo.Next()
	bo.Reset()
	afterReset := bo.Next()
	if afterReset != first {
		t.Fatalf("after reset, next duration = %v, want %v (back to Min)", afterReset, first)
	}
}
