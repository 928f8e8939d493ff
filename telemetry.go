package workflow

import (
	"log/slog"
	"sync"
	"time"
)

// Span is a telemetry time interval with attributes.
type Span struct {
	Name      string
	StartedAt time.Time
	EndedAt   time.Time
	Parent    *Span

	mu    sync.Mutex
	attrs map[string]any
}

// SetAttr attaches an attribute to the span.
func (s *Span) SetAttr(key string, value any) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attrs == nil {
		s.attrs = map[string]any{}
	}
	s.attrs[key] = value
}

// Attrs returns a copy of the span's attributes.
func (s *Span) Attrs() map[string]any {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.attrs))
	for k, v := range s.attrs {
		out[k] = v
	}
	return out
}

// Telemetry is the observability sink collaborator. Entirely optional: the
// engine behaves identically with a nil or no-op sink, and sink errors can
// never abort a run.
type Telemetry interface {
	StartSpan(name string, parent *Span) *Span
	EndSpan(span *Span)
	RecordEvent(span *Span, name string, attrs map[string]any)
	RecordMetric(name string, value float64, attrs map[string]string)
}

// NoopTelemetry discards everything.
type NoopTelemetry struct{}

func (NoopTelemetry) StartSpan(name string, parent *Span) *Span {
	return &Span{Name: name, StartedAt: time.Now(), Parent: parent}
}

func (NoopTelemetry) EndSpan(span *Span) {
	if span != nil {
		span.EndedAt = time.Now()
	}
}

func (NoopTelemetry) RecordEvent(span *Span, name string, attrs map[string]any) {}

func (NoopTelemetry) RecordMetric(name string, value float64, attrs map[string]string) {}

// SlogTelemetry logs spans and events through a structured logger.
type SlogTelemetry struct {
	Logger *slog.Logger
}

func (t SlogTelemetry) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.Default()
	}
	return t.Logger
}

func (t SlogTelemetry) StartSpan(name string, parent *Span) *Span {
	span := &Span{Name: name, StartedAt: time.Now(), Parent: parent}
	t.logger().Debug("span started", "span", name)
	return span
}

func (t SlogTelemetry) EndSpan(span *Span) {
	if span == nil {
		return
	}
	span.EndedAt = time.Now()
	t.logger().Debug("span ended",
		"span", span.Name,
		"duration", span.EndedAt.Sub(span.StartedAt),
	)
}

func (t SlogTelemetry) RecordEvent(span *Span, name string, attrs map[string]any) {
	args := []any{"event", name}
	if span != nil {
		args = append(args, "span", span.Name)
	}
	for k, v := range attrs {
		args = append(args, k, v)
	}
	t.logger().Debug("span event", args...)
}

func (t SlogTelemetry) RecordMetric(name string, value float64, attrs map[string]string) {
	args := []any{"metric", name, "value", value}
	for k, v := range attrs {
		args = append(args, k, v)
	}
	t.logger().Debug("metric", args...)
}
