package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerDefaultsToNoop(t *testing.T) {
	if Logger(context.Background()) != NoopLogger() {
		t.Fatalf("expected noop logger")
	}
	logger := zap.NewExample()
	ctx := WithLogger(context.Background(), logger)
	if Logger(ctx) != logger {
		t.Fatalf("expected attached logger")
	}
	if Logger(WithLogger(ctx, nil)) != NoopLogger() {
		t.Fatalf("nil logger should reset to noop")
	}
}

func TestTraceAndActor(t *testing.T) {
	ctx := context.Background()
	if TraceID(ctx) != "" || ActorID(ctx) != "" {
		t.Fatalf("expected empty values")
	}
	ctx = WithTrace(ctx, TraceInfo{TraceID: "abc", SpanID: "def"})
	ctx = WithActorID(ctx, "user-1")
	if TraceID(ctx) != "abc" {
		t.Fatalf("unexpected trace id %q", TraceID(ctx))
	}
	if ActorID(ctx) != "user-1" {
		t.Fatalf("unexpected actor %q", ActorID(ctx))
	}
}

func TestTrackActorExposesInnerActor(t *testing.T) {
	outer := TrackActor(context.Background())
	inner := WithActorID(outer, "staff-9")
	if ActorID(inner) != "staff-9" {
		t.Fatalf("inner context lost actor")
	}
	if ActorID(outer) != "staff-9" {
		t.Fatalf("outer context should observe actor through the slot, got %q", ActorID(outer))
	}
}
