package observer

import (
	"context"
	"errors"
	"testing"

	taskforce "github.com/nevindra/taskforce"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordingTracer(t *testing.T) (taskforce.Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return NewTracer(), rec
}

func attrValue(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracerRecordsSpans(t *testing.T) {
	tracer, rec := recordingTracer(t)

	ctx, span := tracer.StartSpan(context.Background(), "run",
		taskforce.StringAttr("run_id", "r1"),
		taskforce.BoolAttr("network_allowed", true))
	if ctx == nil {
		t.Fatal("derived context is nil")
	}
	span.SetAttr(taskforce.IntAttr("steps", 3))
	span.End()

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	got := spans[0]
	if got.Name() != "run" {
		t.Errorf("name = %q", got.Name())
	}
	if v, ok := attrValue(got, "run_id"); !ok || v.AsString() != "r1" {
		t.Errorf("run_id = %v", v)
	}
	if v, ok := attrValue(got, "network_allowed"); !ok || !v.AsBool() {
		t.Errorf("network_allowed = %v", v)
	}
	if v, ok := attrValue(got, "steps"); !ok || v.AsInt64() != 3 {
		t.Errorf("steps = %v", v)
	}
}

func TestTracerRecordError(t *testing.T) {
	tracer, rec := recordingTracer(t)

	_, span := tracer.StartSpan(context.Background(), "pack_loop")
	span.RecordError(errors.New("tool exploded"))
	span.End()

	got := rec.Ended()[0]
	if got.Status().Code != codes.Error {
		t.Errorf("status = %v, want error", got.Status())
	}
	if len(got.Events()) == 0 {
		t.Error("no error event recorded")
	}
}

func TestTracerNestsSpans(t *testing.T) {
	tracer, rec := recordingTracer(t)

	ctx, parent := tracer.StartSpan(context.Background(), "run")
	_, child := tracer.StartSpan(ctx, "pack_loop")
	child.End()
	parent.End()

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	// Ended order is child first.
	childSpan, parentSpan := spans[0], spans[1]
	if childSpan.Parent().SpanID() != parentSpan.SpanContext().SpanID() {
		t.Error("child span not parented to the run span")
	}
}

func TestToOTELAttr(t *testing.T) {
	cases := []struct {
		attr taskforce.SpanAttr
		want attribute.KeyValue
	}{
		{taskforce.StringAttr("k", "v"), attribute.String("k", "v")},
		{taskforce.IntAttr("k", 7), attribute.Int("k", 7)},
		{taskforce.BoolAttr("k", true), attribute.Bool("k", true)},
		{taskforce.Float64Attr("k", 1.5), attribute.Float64("k", 1.5)},
		{taskforce.SpanAttr{Key: "k", Value: int64(9)}, attribute.Int64("k", 9)},
		{taskforce.SpanAttr{Key: "k", Value: []string{"a"}}, attribute.String("k", "[a]")},
	}
	for _, tc := range cases {
		if got := toOTELAttr(tc.attr); got != tc.want {
			t.Errorf("toOTELAttr(%+v) = %v, want %v", tc.attr, got, tc.want)
		}
	}
}

func TestInitDisabledIsNoOp(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
