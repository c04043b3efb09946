package errs

import (
	"fmt"
	"testing"
)

func TestIsMatchesKind(t *testing.T) {
	err := New(DoubleSpend, "token already marked")
	if !Is(err, DoubleSpend) {
		t.Fatalf("expected Is to match DoubleSpend")
	}
	if Is(err, BadMint) {
		t.Fatalf("expected Is to reject BadMint")
	}
}

func TestIsUnwrapsWrappedError(t *testing.T) {
	inner := New(InsufficientFunds, "short by 5")
	outer := fmt.Errorf("execution failed: %w", inner)
	if !Is(outer, InsufficientFunds) {
		t.Fatalf("expected Is to unwrap to InsufficientFunds")
	}
}

func TestErrorStringIncludesCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(DecodeFailure, "writing receipt", cause)
	got := err.Error()
	want := "DecodeFailure: writing receipt: disk full"
	if got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}
