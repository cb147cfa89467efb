package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestIs_MatchesWrappedAppError(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(ErrAdmissionDenied, "no room"))
	if !Is(err, ErrAdmissionDenied) {
		t.Fatalf("expected Is to see through fmt wrapping")
	}
	if Is(err, ErrCallNotFound) {
		t.Fatalf("expected code mismatch")
	}
}

func TestWrap_NilStaysNil(t *testing.T) {
	if Wrap(nil, ErrDatabase, "x") != nil {
		t.Fatalf("expected nil")
	}
}

func TestWrap_EnhancesExistingAppError(t *testing.T) {
	inner := New(ErrCallNotFound, "call TC@3 not found")
	out := Wrap(inner, ErrInternal, "disconnect")
	if out.Code != ErrCallNotFound {
		t.Fatalf("expected original code to survive, got %s", out.Code)
	}
	if out.Message != "disconnect: call TC@3 not found" {
		t.Fatalf("unexpected message %q", out.Message)
	}
}

func TestIsRetryable(t *testing.T) {
	if !Wrap(stderrors.New("conn reset"), ErrRedis, "get").IsRetryable() {
		t.Fatalf("expected redis errors to be retryable")
	}
	if New(ErrAdmissionDenied, "no room").IsRetryable() {
		t.Fatalf("admission denials must not be retryable")
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(stderrors.New("plain")) != ErrInternal {
		t.Fatalf("expected ErrInternal for foreign errors")
	}
	if CodeOf(New(ErrShutdown, "stopped")) != ErrShutdown {
		t.Fatalf("expected ErrShutdown")
	}
}
