package logger

import (
	"context"
	"testing"
)

func TestInit_RejectsUnknownLevel(t *testing.T) {
	if err := Init(Config{Level: "loud"}); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestWithFields_DoesNotMutateParent(t *testing.T) {
	if err := Init(Config{Level: "debug", Format: "json"}); err != nil {
		t.Fatalf("init: %v", err)
	}

	parent := WithField("component", "test")
	child := parent.WithField("call_id", "TC@1")

	if _, ok := parent.fields["call_id"]; ok {
		t.Fatalf("expected parent logger to stay untouched")
	}
	if child.fields["component"] != "test" {
		t.Fatalf("expected child to inherit component field, got %v", child.fields["component"])
	}
}

func TestWithContext_PicksUpCallID(t *testing.T) {
	if err := Init(Config{Level: "info"}); err != nil {
		t.Fatalf("init: %v", err)
	}

	ctx := WithCallID(context.Background(), "TC@7")
	l := WithContext(ctx)
	if l.fields["call_id"] != "TC@7" {
		t.Fatalf("expected call_id TC@7, got %v", l.fields["call_id"])
	}
}

func TestWithError_NilIsNoop(t *testing.T) {
	l := WithField("a", 1)
	if l.WithError(nil) != l {
		t.Fatalf("expected WithError(nil) to return the same logger")
	}
}
