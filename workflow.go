package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Workflow is a named builder owning a set of steps, their dependency graph,
// step groups, event declarations, and the run lifecycle template. A built
// Workflow stamps out any number of independent run instances.
//
// The builder surface (Step, Group, RegisterAgent, AddEvent, OnEvent) is
// safe for concurrent use; CreateRun snapshots the definition, so later
// builder mutations never affect runs already created.
type Workflow struct {
	name          string
	mode          ExecutionMode
	repo          Repository
	telemetry     Telemetry
	logger        *slog.Logger
	triggerSchema Schema
	machine       StateMachine

	mu       sync.Mutex
	steps    map[StepID]*Step
	order    []StepID
	graph    map[StepID][]StepID
	groups   []StepGroup
	events   map[string]struct{}
	handlers []EventHandler
	agents   *AgentRegistry
}

// NewWorkflow creates an empty workflow definition.
func NewWorkflow(name string, opts ...Option) *Workflow {
	w := &Workflow{
		name:      name,
		mode:      ExecutionModeParallel,
		telemetry: NoopTelemetry{},
		logger:    slog.Default(),
		machine:   newRunStateMachine(),
		steps:     map[StepID]*Step{},
		graph:     map[StepID][]StepID{},
		events:    map[string]struct{}{},
		agents:    NewAgentRegistry(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name returns the workflow's name.
func (w *Workflow) Name() string { return w.name }

// Step registers a step and revalidates the dependency graph. Registration
// fails with a CycleError, and leaves the graph unchanged, when the step's
// dependencies would close a cycle.
func (w *Workflow) Step(s *Step) error {
	if s == nil || s.id == "" {
		return fmt.Errorf("workflow: step is nil or unnamed")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.steps[s.id]; ok {
		return fmt.Errorf("workflow: step %q already registered", s.id)
	}

	w.steps[s.id] = s
	w.order = append(w.order, s.id)
	w.graph[s.id] = s.dependencyTargets()

	if _, cyclic := findCycle(w.graph); cyclic {
		delete(w.steps, s.id)
		delete(w.graph, s.id)
		w.order = w.order[:len(w.order)-1]
		return &CycleError{Step: s.id}
	}
	return nil
}

// findCycle runs a depth-first search over the dependency graph, tracking a
// recursion stack. It returns a node on a cycle, if any.
func findCycle(graph map[StepID][]StepID) (StepID, bool) {
	const (
		white = 0 // unvisited
		gray  = 1 // on the recursion stack
		black = 2 // fully explored
	)
	color := make(map[StepID]int, len(graph))

	var visit func(id StepID) (StepID, bool)
	visit = func(id StepID) (StepID, bool) {
		color[id] = gray
		for _, dep := range graph[id] {
			switch color[dep] {
			case gray:
				return dep, true
			case white:
				if at, found := visit(dep); found {
					return at, true
				}
			}
		}
		color[id] = black
		return "", false
	}

	for id := range graph {
		if color[id] == white {
			if at, found := visit(id); found {
				return at, true
			}
		}
	}
	return "", false
}

// Group records an execution-mode override for a named subset of steps. All
// named steps must already be registered.
func (w *Workflow) Group(id string, steps []StepID, mode ExecutionMode) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sid := range steps {
		if _, ok := w.steps[sid]; !ok {
			return fmt.Errorf("%w: %q in group %q", ErrUnknownStep, sid, id)
		}
	}
	w.groups = append(w.groups, StepGroup{ID: id, Steps: append([]StepID(nil), steps...), Mode: mode})
	return nil
}

// RegisterAgent adds a named executor usable by steps via UseAgent.
func (w *Workflow) RegisterAgent(name string, ex Executor) error {
	return w.agents.Register(name, ex)
}

// AddEvent declares an event type runs of this workflow may exchange.
func (w *Workflow) AddEvent(eventType string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events[eventType] = struct{}{}
}

// Events returns the declared event types, sorted.
func (w *Workflow) Events() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.events))
	for e := range w.events {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// OnEvent registers a handler invoked for every event emitted on any run of
// this workflow created after the registration.
func (w *Workflow) OnEvent(h EventHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// CreateRun validates the trigger payload and builds a fresh run instance.
// The step set, graph, and groups are snapshotted into the instance, so the
// builder may keep evolving independently.
func (w *Workflow) CreateRun(trigger any) (*Instance, error) {
	if w.triggerSchema != nil {
		if err := w.triggerSchema.Validate(trigger); err != nil {
			return nil, &ValidationError{Subject: "trigger", Err: err}
		}
	}

	inst := w.newInstance(trigger)
	inst.state = WorkflowState{
		Steps:         map[StepID]StepResult{},
		ExecutionMode: inst.mode,
		MachineState:  w.machine.Initial,
	}
	return inst, nil
}

// RestoreRun rebuilds a run instance from persisted state. It returns
// (nil, nil) when the repository has no state under persistenceID. Trigger
// validation is not re-run; the trigger payload itself is not persisted and
// comes back empty.
func (w *Workflow) RestoreRun(ctx context.Context, persistenceID string) (*Instance, error) {
	if w.repo == nil {
		return nil, fmt.Errorf("workflow: no repository configured")
	}

	state, err := w.repo.LoadWorkflow(ctx, persistenceID)
	if err != nil {
		if errors.Is(err, ErrWorkflowNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load workflow %q: %w", persistenceID, err)
	}

	inst := w.newInstance(nil)
	inst.Restore(state)
	return inst, nil
}

// newInstance snapshots the definition into a run instance.
func (w *Workflow) newInstance(trigger any) *Instance {
	w.mu.Lock()
	steps := make(map[StepID]*Step, len(w.steps))
	for id, s := range w.steps {
		steps[id] = s.clone()
	}
	order := append([]StepID(nil), w.order...)
	groups := make([]StepGroup, len(w.groups))
	for i, g := range w.groups {
		groups[i] = StepGroup{ID: g.ID, Steps: append([]StepID(nil), g.Steps...), Mode: g.Mode}
	}
	handlers := append([]EventHandler(nil), w.handlers...)
	w.mu.Unlock()

	runID := newRunID()
	logger := w.logger.With("workflow", w.name, "run_id", runID)

	inst := &Instance{
		id:           runID,
		workflowName: w.name,
		steps:        steps,
		order:        order,
		groups:       groups,
		mode:         w.mode,
		machine:      w.machine,
		repo:         w.repo,
		telemetry:    w.telemetry,
		logger:       logger,
		agents:       w.agents,
	}
	inst.ec = newExecutionContext(runID, trigger, w.repo, logger, handlers)
	inst.rootSpan = w.telemetry.StartSpan("workflow:"+w.name, nil)
	inst.rootSpan.SetAttr("run_id", runID.String())
	return inst
}
