package log

import (
	"context"
	"testing"
)

func TestFromContext_ReturnsStoredLogger(t *testing.T) {
	rec := NewRecorder()
	ctx := WithContext(context.Background(), rec)

	if got := FromContext(ctx); got != Logger(rec) {
		t.Fatal("FromContext returned a different logger than what was stored")
	}
}

func TestFromContext_EmptyContext_ReturnsNop(t *testing.T) {
	got := FromContext(context.Background())
	if got == nil {
		t.Fatal("FromContext returned nil, want Nop()")
	}
	got.Info(context.Background(), "safe")
}

func TestFromContext_NilLogger_ReturnsNop(t *testing.T) {
	ctx := WithContext(context.Background(), nil)
	if _, ok := FromContext(ctx).(nopLogger); !ok {
		t.Fatal("nil logger in context should fall back to Nop")
	}
}

func TestLookup(t *testing.T) {
	if _, ok := Lookup(context.Background()); ok {
		t.Fatal("Lookup on empty context should report false")
	}
	//nolint:staticcheck // nil context is handled explicitly
	if _, ok := Lookup(nil); ok {
		t.Fatal("Lookup(nil) should report false")
	}
	ctx := WithContext(context.Background(), Nop())
	if _, ok := Lookup(ctx); !ok {
		t.Fatal("Lookup should find the stored logger")
	}
}

func TestWithContext_DoesNotAffectParent(t *testing.T) {
	parent := WithContext(context.Background(), Nop())
	rec := NewRecorder()
	_ = WithContext(parent, rec)

	if FromContext(parent) == Logger(rec) {
		t.Fatal("child context leaked into parent")
	}
}
