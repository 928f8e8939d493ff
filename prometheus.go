package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusTelemetry is a Telemetry sink backed by Prometheus collectors:
// span durations land in a histogram, metrics and events in counters.
type PrometheusTelemetry struct {
	spanDuration *prometheus.HistogramVec
	events       *prometheus.CounterVec
	metrics      *prometheus.CounterVec
}

// NewPrometheusTelemetry builds a sink and registers its collectors. A nil
// registerer uses the default Prometheus registry.
func NewPrometheusTelemetry(reg prometheus.Registerer) (*PrometheusTelemetry, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	t := &PrometheusTelemetry{
		spanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workflow_span_duration_seconds",
				Help:    "Duration of workflow and step spans in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"span"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_span_events_total",
				Help: "Total number of span events by name.",
			},
			[]string{"event"},
		),
		metrics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_engine_metrics_total",
				Help: "Engine counters by metric name and workflow.",
			},
			[]string{"metric", "workflow"},
		),
	}

	for _, c := range []prometheus.Collector{t.spanDuration, t.events, t.metrics} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	// Seed the engine counters so they are visible before first increment.
	for _, name := range []string{
		"workflow_steps_completed",
		"workflow_steps_failed",
		"workflow_runs_finished",
		"workflow_runs_cancelled",
	} {
		t.metrics.WithLabelValues(name, "")
	}
	return t, nil
}

func (t *PrometheusTelemetry) StartSpan(name string, parent *Span) *Span {
	return &Span{Name: name, StartedAt: time.Now(), Parent: parent}
}

func (t *PrometheusTelemetry) EndSpan(span *Span) {
	if span == nil {
		return
	}
	span.EndedAt = time.Now()
	t.spanDuration.WithLabelValues(span.Name).Observe(span.EndedAt.Sub(span.StartedAt).Seconds())
}

func (t *PrometheusTelemetry) RecordEvent(span *Span, name string, attrs map[string]any) {
	t.events.WithLabelValues(name).Inc()
}

func (t *PrometheusTelemetry) RecordMetric(name string, value float64, attrs map[string]string) {
	t.metrics.WithLabelValues(name, attrs["workflow"]).Add(value)
}
