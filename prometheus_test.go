package workflow_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	workflow "github.com/Neusym/a2-sub001"
)

func TestPrometheusTelemetryCollects(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	telemetry, err := workflow.NewPrometheusTelemetry(reg)
	require.NoError(t, err)

	span := telemetry.StartSpan("step:fetch", nil)
	telemetry.EndSpan(span)
	telemetry.RecordEvent(span, "step_failed", map[string]any{"step": "fetch"})
	telemetry.RecordMetric("workflow_steps_completed", 2, map[string]string{"workflow": "orders"})

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["workflow_span_duration_seconds"])
	assert.True(t, names["workflow_span_events_total"])
	assert.True(t, names["workflow_engine_metrics_total"])
}

func TestPrometheusTelemetryCounterValues(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	telemetry, err := workflow.NewPrometheusTelemetry(reg)
	require.NoError(t, err)

	telemetry.RecordMetric("workflow_runs_finished", 1, map[string]string{"workflow": "orders", "state": "completed"})
	telemetry.RecordMetric("workflow_runs_finished", 1, map[string]string{"workflow": "orders", "state": "failed"})

	count, err := testutil.GatherAndCount(reg, "workflow_engine_metrics_total")
	require.NoError(t, err)
	assert.Greater(t, count, 0)
}

func TestPrometheusTelemetryRegistrationConflict(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	_, err := workflow.NewPrometheusTelemetry(reg)
	require.NoError(t, err)

	_, err = workflow.NewPrometheusTelemetry(reg)
	assert.Error(t, err, "collectors are already registered")
}

func TestPrometheusTelemetryAsWorkflowSink(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	telemetry, err := workflow.NewPrometheusTelemetry(reg)
	require.NoError(t, err)

	w := workflow.NewWorkflow("observed",
		workflow.WithLogger(quietLogger()),
		workflow.WithTelemetry(telemetry),
	)
	require.NoError(t, w.Step(workflow.NewStep("only", echoExecutor)))

	inst, cerr := w.CreateRun(nil)
	require.NoError(t, cerr)
	require.NoError(t, inst.Start(context.Background()))

	count, err := testutil.GatherAndCount(reg, "workflow_span_duration_seconds")
	require.NoError(t, err)
	assert.Greater(t, count, 0, "workflow and step spans should have been observed")
}
