package retry

import (
	"context"
	"errors"
	"testing"
)

func TestDoRetriesUntilSuccess(t *testing.T) {
	ctx := context.Background()
	attempts := 0
	err := Do(ctx, DefaultPolicy(ctx), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	ctx := context.Background()
	attempts := 0
	sentinel := errors.New("admission-denied")
	err := Do(ctx, DefaultPolicy(ctx), func() error {
		attempts++
		return Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want wrapping %v", err, sentinel)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (permanent error stops retrying)", attempts)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts := 0
	err := Do(ctx, DefaultPolicy(ctx), func() error {
		attempts++
		return errors.New("transient")
	})
	if err == nil {
		t.Fatal("expected an error from an already-cancelled context")
	}
}
