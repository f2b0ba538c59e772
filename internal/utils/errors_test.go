package utils

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppErrorWrapping(t *testing.T) {
	inner := errors.New("disk full")
	err := NewAppError("archive.save", "persist correlation records", inner)

	if !errors.Is(err, inner) {
		t.Fatal("AppError must unwrap to the underlying error")
	}
	want := "archive.save: persist correlation records: disk full"
	if err.Error() != want {
		t.Fatalf("message = %q, want %q", err.Error(), want)
	}
}

func TestFatalMarking(t *testing.T) {
	plain := errors.New("bad chunk")
	if IsFatal(plain) {
		t.Fatal("plain errors must not be fatal")
	}
	if IsFatal(nil) || Fatal(nil) != nil {
		t.Fatal("nil stays nil")
	}

	fatal := Fatal(plain)
	if !IsFatal(fatal) {
		t.Fatal("Fatal-wrapped errors must report fatal")
	}
	if !errors.Is(fatal, plain) {
		t.Fatal("fatal wrapper must preserve the underlying error")
	}

	// The mark survives further wrapping at unit boundaries.
	wrapped := fmt.Errorf("unit chunk-a: %w", fatal)
	if !IsFatal(wrapped) {
		t.Fatal("fatal mark must survive wrapping")
	}

	if !IsFatal(Fatalf("over budget: %d bytes", 42)) {
		t.Fatal("Fatalf must produce a fatal error")
	}
}
