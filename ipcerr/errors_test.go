package ipcerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIs_MatchesWrappedCode(t *testing.T) {
	err := New(CodeOutOfMemory, "Allocator.Allocate")
	if !Is(err, CodeOutOfMemory) {
		t.Fatal("expected Is to match the error's own code")
	}
	if Is(err, CodeSizeIsZero) {
		t.Fatal("expected Is to reject a different code")
	}
}

func TestIs_MatchesThroughFmtErrorfWrap(t *testing.T) {
	inner := New(CodeReceiveBufferFull, "Connection.TrySend")
	wrapped := fmt.Errorf("send failed: %w", inner)
	if !Is(wrapped, CodeReceiveBufferFull) {
		t.Fatal("expected Is to see through a %w wrap")
	}
}

func TestIs_FalseForPlainStdlibError(t *testing.T) {
	if Is(errors.New("boom"), CodeUnknown) {
		t.Fatal("expected Is to return false for an error that is not *Error")
	}
}

func TestError_UnwrapExposesCause(t *testing.T) {
	cause := errors.New("underlying syscall failure")
	err := Wrap(CodeInsufficientPermissions, "Segment.Create", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
	if errors.Unwrap(err) != cause {
		t.Fatal("expected Unwrap to return the original cause")
	}
}

func TestError_WithAttachesContextToMessage(t *testing.T) {
	err := New(CodeOutOfMemory, "PoolAllocator.Allocate").With("size", 128)
	msg := err.Error()
	if msg == "" {
		t.Fatal("expected a non-empty error message")
	}
	if err.KV["size"] != 128 {
		t.Fatalf("expected KV to carry size=128, got %+v", err.KV)
	}
}

func TestError_IsComparesOnlyCode(t *testing.T) {
	a := New(CodeServiceAlreadyExists, "Service.Create")
	b := New(CodeServiceAlreadyExists, "SomeOtherOp")
	if !a.Is(b) {
		t.Fatal("expected two *Error values with the same code to compare equal via Is")
	}

	c := New(CodeServiceDoesNotExist, "Service.Open")
	if a.Is(c) {
		t.Fatal("expected differing codes to compare unequal via Is")
	}
}

func TestCode_StringFallsBackToUnknown(t *testing.T) {
	var bogus Code = 9999
	if bogus.String() != "unknown" {
		t.Fatalf("expected an unrecognized code to stringify as unknown, got %q", bogus.String())
	}
}
