package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrTaskID      = "task.id"
	AttrTaskKind    = "task.kind"
	AttrIsolation   = "task.isolation"
	AttrOutcome     = "task.outcome"
	AttrSignalName  = "signal.name"
	AttrSignalArgs  = "signal.args"
	AttrRunning     = "manager.running"
	AttrPending     = "manager.pending"
	AttrErrorReason = "error.message"
)

// Span names and events.
const (
	SpanPrefixTask = "task."

	EventPending = "task.pending"
	EventStarted = "task.started"
	EventSignal  = "task.signal"
)

// TaskSpans keeps the open span of every live task. It is used from the
// manager's goroutine only.
type TaskSpans struct {
	tracer trace.Tracer
	spans  map[string]trace.Span
}

// NewTaskSpans creates a tracker. A nil tracer disables it.
func NewTaskSpans(tracer trace.Tracer) *TaskSpans {
	return &TaskSpans{tracer: tracer, spans: make(map[string]trace.Span)}
}

// Admit opens the span for a task.
func (s *TaskSpans) Admit(id, kind, isolation string) {
	if s == nil || s.tracer == nil {
		return
	}
	_, span := s.tracer.Start(context.Background(), SpanPrefixTask+kind,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(AttrTaskID, id),
			attribute.String(AttrTaskKind, kind),
			attribute.String(AttrIsolation, isolation),
		),
	)
	s.spans[id] = span
}

// Pending records that the task is waiting for a slot.
func (s *TaskSpans) Pending(id string, running, pending int) {
	s.event(id, EventPending, attribute.Int(AttrRunning, running), attribute.Int(AttrPending, pending))
}

// Started records that the task got a slot.
func (s *TaskSpans) Started(id string, running int) {
	s.event(id, EventStarted, attribute.Int(AttrRunning, running))
}

// Signal records a forwarded signal.
func (s *TaskSpans) Signal(id, name string, args []any) {
	s.event(id, EventSignal,
		attribute.String(AttrSignalName, name),
		attribute.String(AttrSignalArgs, fmt.Sprint(args...)))
}

// End closes the span with outcome; a non-empty reason marks it failed.
func (s *TaskSpans) End(id, outcome, reason string) {
	if s == nil {
		return
	}
	span, ok := s.spans[id]
	if !ok {
		return
	}
	delete(s.spans, id)

	span.SetAttributes(attribute.String(AttrOutcome, outcome))
	if reason != "" {
		span.SetAttributes(attribute.String(AttrErrorReason, reason))
		span.SetStatus(codes.Error, reason)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Open returns the number of spans not yet ended.
func (s *TaskSpans) Open() int {
	if s == nil {
		return 0
	}
	return len(s.spans)
}

func (s *TaskSpans) event(id, name string, attrs ...attribute.KeyValue) {
	if s == nil {
		return
	}
	if span, ok := s.spans[id]; ok {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}
