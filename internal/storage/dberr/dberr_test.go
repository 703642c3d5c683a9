package dberr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindofUnwrapsWrappedError(t *testing.T) {
	base := Corrupt(42, "bad cell pointer")
	wrapped := fmt.Errorf("reading page 42: %w", base)

	kind, ok := Kindof(wrapped)
	if !ok {
		t.Fatal("expected Kindof to find the wrapped *Error")
	}
	if kind != KindCorrupt {
		t.Errorf("kind = %v, want %v", kind, KindCorrupt)
	}
}

func TestIsMatchesOnKindAlone(t *testing.T) {
	specific := Crypto(3, "authentication failed")
	if !errors.Is(specific, &Error{Kind: KindCrypto}) {
		t.Error("expected a crypto error to match the bare KindCrypto sentinel")
	}
	if errors.Is(specific, &Error{Kind: KindCorrupt}) {
		t.Error("crypto error should not match a KindCorrupt sentinel")
	}
}

func TestBusyAndNotFoundSentinels(t *testing.T) {
	wrapped := fmt.Errorf("acquiring write lock: %w", Busy)
	if !errors.Is(wrapped, Busy) {
		t.Error("expected errors.Is to match the Busy sentinel through wrapping")
	}
	if errors.Is(wrapped, NotFound) {
		t.Error("Busy should not match NotFound")
	}
}

func TestErrorStringsCarryContext(t *testing.T) {
	err := Corrupt(7, "overflow chain cycle")
	if got := err.Error(); got != "corrupt: page 7: overflow chain cycle" {
		t.Errorf("Error() = %q", got)
	}
}

func TestConstraintFormatsKindAndReason(t *testing.T) {
	err := Constraint("NOT NULL", "column name is null")
	want := "constraint violation: NOT NULL: column name is null"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
