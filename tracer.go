package taskforce

import "context"

// Tracer abstracts distributed tracing for recruitment, pack-loop, tool
// dispatch, and storage operations. Implementations live outside the core
// package; the observer package provides an OpenTelemetry-backed Tracer.
//
// When no tracer is configured, a no-op implementation is used.
type Tracer interface {
	// StartSpan begins a named span and returns the derived context and
	// the span. Callers must End the span.
	StartSpan(ctx context.Context, name string, attrs ...SpanAttr) (context.Context, Span)
}

// Span is a single traced operation.
type Span interface {
	// SetAttr adds attributes to the span after creation.
	SetAttr(attrs ...SpanAttr)
	// RecordError marks the span as failed with err.
	RecordError(err error)
	// End completes the span.
	End()
}

// SpanAttr is one key/value attribute on a span.
type SpanAttr struct {
	Key   string
	Value any
}

// StringAttr returns a string-valued span attribute.
func StringAttr(key, value string) SpanAttr { return SpanAttr{Key: key, Value: value} }

// IntAttr returns an int-valued span attribute.
func IntAttr(key string, value int) SpanAttr { return SpanAttr{Key: key, Value: value} }

// BoolAttr returns a bool-valued span attribute.
func BoolAttr(key string, value bool) SpanAttr { return SpanAttr{Key: key, Value: value} }

// Float64Attr returns a float64-valued span attribute.
func Float64Attr(key string, value float64) SpanAttr { return SpanAttr{Key: key, Value: value} }

type noopTracer struct{}

func (noopTracer) StartSpan(ctx context.Context, _ string, _ ...SpanAttr) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) SetAttr(...SpanAttr) {}
func (noopSpan) RecordError(error)   {}
func (noopSpan) End()                {}
