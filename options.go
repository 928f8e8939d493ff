package workflow

import "log/slog"

// Option configures a Workflow at construction.
type Option func(*Workflow)

// WithExecutionMode sets the default wave execution mode. The default is
// parallel; step groups may override it per wave.
func WithExecutionMode(mode ExecutionMode) Option {
	return func(w *Workflow) {
		w.mode = mode
	}
}

// WithRepository sets the persistence backend shared by all runs.
func WithRepository(repo Repository) Option {
	return func(w *Workflow) {
		w.repo = repo
	}
}

// WithTelemetry sets the telemetry sink shared by all runs.
func WithTelemetry(t Telemetry) Option {
	return func(w *Workflow) {
		w.telemetry = t
	}
}

// WithLogger sets the structured logger. If not set, slog.Default is used.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Workflow) {
		w.logger = logger
	}
}

// WithTriggerSchema sets the validator applied to trigger payloads at
// CreateRun time.
func WithTriggerSchema(schema Schema) Option {
	return func(w *Workflow) {
		w.triggerSchema = schema
	}
}

// WithStateMachine replaces the canonical run lifecycle template.
func WithStateMachine(m StateMachine) Option {
	return func(w *Workflow) {
		w.machine = m
	}
}
