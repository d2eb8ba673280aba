package schederr

import (
	"fmt"
	"testing"
)

func TestKind(t *testing.T) {
	wrapped := fmt.Errorf("moving group g5: %w", ErrAdmissionDenied)
	if got := Kind(wrapped); got != "admission-denied" {
		t.Fatalf("Kind(%v) = %q, want admission-denied", wrapped, got)
	}
	if got := Kind(nil); got != "" {
		t.Fatalf("Kind(nil) = %q, want empty", got)
	}
	if got := Kind(fmt.Errorf("boom")); got != "unknown" {
		t.Fatalf("Kind(unmatched) = %q, want unknown", got)
	}
}

func TestIsAny(t *testing.T) {
	err := fmt.Errorf("wrap: %w", ErrTimeout)
	if !IsAny(err, ErrInterrupted, ErrTimeout) {
		t.Fatal("expected IsAny to match ErrTimeout")
	}
	if IsAny(err, ErrInterrupted, ErrBusy) {
		t.Fatal("expected IsAny to not match")
	}
}
