package workflow

import "time"

// StepID identifies a step within a workflow definition.
type StepID string

// StepStatus represents the current state of a step result.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusExecuting StepStatus = "executing"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSuspended StepStatus = "suspended"
	StepStatusSkipped   StepStatus = "skipped"
)

// Terminal reports whether a step result in this status may no longer change.
func (s StepStatus) Terminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed || s == StepStatusSkipped
}

// MachineState represents the lifecycle state of a run.
type MachineState string

const (
	StateIdle       MachineState = "idle"
	StateRunning    MachineState = "running"
	StateSuspended  MachineState = "suspended"
	StateCompleted  MachineState = "completed"
	StateFailed     MachineState = "failed"
	StateTerminated MachineState = "terminated"
)

// ExecutionMode controls how the steps of a wave are executed.
type ExecutionMode string

const (
	ExecutionModeSequential ExecutionMode = "sequential"
	ExecutionModeParallel   ExecutionMode = "parallel"
)

// DependencyKind selects which outcome of the referenced step satisfies a dependency.
type DependencyKind string

const (
	DependencySuccess    DependencyKind = "success"
	DependencyFailure    DependencyKind = "failure"
	DependencyCompletion DependencyKind = "completion"
)

// Combinator selects how a compound dependency combines its targets.
type Combinator string

const (
	CombinatorAll Combinator = "all"
	CombinatorAny Combinator = "any"
)

// RetryConfig defines bounded exponential backoff for a step executor.
type RetryConfig struct {
	MaxAttempts   int           `json:"maxAttempts"`
	InitialDelay  time.Duration `json:"initialDelay"`
	BackoffFactor float64       `json:"backoffFactor"`
}

// StepResult is the recorded outcome of one step in one run. There is exactly
// one per step per run; it is overwritten on every status transition and
// immutable once Status is terminal.
type StepResult struct {
	Status StepStatus `json:"status"`
	Output any        `json:"output,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// Suspension correlates a suspend call with its matching resume call.
type Suspension struct {
	StepID      StepID `json:"stepId"`
	ResumeToken string `json:"resumeToken,omitempty"`
}

// WorkflowState is the full mutable state of a run. It is mutated only by the
// owning Instance and persisted after every mutation when a repository is
// configured. Step executors never mutate it directly.
type WorkflowState struct {
	Steps         map[StepID]StepResult `json:"steps"`
	CurrentSteps  []StepID              `json:"currentSteps,omitempty"`
	ExecutionMode ExecutionMode         `json:"executionMode"`
	MachineState  MachineState          `json:"machineState"`
	Suspended     *Suspension           `json:"suspended,omitempty"`
	PersistenceID string                `json:"persistenceId,omitempty"`
}

// Clone returns a deep copy of the state. Step outputs are shared; callers
// must not mutate them.
func (s WorkflowState) Clone() WorkflowState {
	out := s
	out.Steps = make(map[StepID]StepResult, len(s.Steps))
	for id, r := range s.Steps {
		out.Steps[id] = r
	}
	if s.CurrentSteps != nil {
		out.CurrentSteps = append([]StepID(nil), s.CurrentSteps...)
	}
	if s.Suspended != nil {
		susp := *s.Suspended
		out.Suspended = &susp
	}
	return out
}

// StepGroup overrides the execution mode for a named subset of steps. A group
// takes effect for a wave only when it covers every step of that wave.
type StepGroup struct {
	ID    string        `json:"id"`
	Steps []StepID      `json:"steps"`
	Mode  ExecutionMode `json:"mode"`
}

// Event is a message exchanged on a run's event bus.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// EventHandler is invoked for every event emitted on a run of the workflow it
// was registered on.
type EventHandler func(Event)
