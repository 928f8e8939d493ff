package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Instance is one run of a workflow definition. It owns the mutable
// WorkflowState, drives the wave-based scheduling loop, and persists after
// every mutation when a repository is configured.
//
// An instance is single-flighted: Start, Resume, and ResumeWithEvent drive
// the loop on the caller's goroutine and must not be called concurrently
// with each other. Within a parallel wave, step executors do run
// concurrently.
type Instance struct {
	id           uuid.UUID
	workflowName string
	steps        map[StepID]*Step
	order        []StepID
	groups       []StepGroup
	mode         ExecutionMode
	machine      StateMachine
	repo         Repository
	telemetry    Telemetry
	logger       *slog.Logger
	agents       *AgentRegistry

	mu        sync.Mutex
	state     WorkflowState
	watchers  []func(WorkflowState)
	finishFns []func(WorkflowState)
	cancelled bool

	ec       *ExecutionContext
	rootSpan *Span
}

// ID returns the run's identifier.
func (i *Instance) ID() uuid.UUID { return i.id }

// Context returns the run's execution context, the same object handed to
// every step executor.
func (i *Instance) Context() *ExecutionContext { return i.ec }

// State returns a snapshot of the run's state.
func (i *Instance) State() WorkflowState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state.Clone()
}

// Watch registers a callback invoked with a state snapshot after every
// state mutation. Callbacks run on the scheduling goroutine and must not
// block.
func (i *Instance) Watch(fn func(WorkflowState)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.watchers = append(i.watchers, fn)
}

// OnFinish registers a callback invoked once, with the final state, when
// the run reaches a terminal machine state.
func (i *Instance) OnFinish(fn func(WorkflowState)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.finishFns = append(i.finishFns, fn)
}

// Start begins the run. It fails with ErrAlreadyStarted unless the run is
// idle, and with ErrCancelled once Cancel has been called.
// The initial wave is the set of steps with no dependencies and no
// event gate; an empty initial wave completes the run immediately.
//
// Start blocks until the run reaches a terminal state or suspends.
func (i *Instance) Start(ctx context.Context) error {
	i.mu.Lock()
	if i.cancelled {
		i.mu.Unlock()
		return ErrCancelled
	}
	if i.state.MachineState != i.machine.Initial {
		i.mu.Unlock()
		return ErrAlreadyStarted
	}
	i.mu.Unlock()

	i.ec.setSuspendHandler(i.suspendFromStep)
	i.fire(ctx, eventStart)

	// Every step starts out pending so the final state covers steps that
	// never became ready.
	for id := range i.steps {
		i.ec.recordResult(id, StepResult{Status: StepStatusPending})
	}
	i.updateState(ctx, func(s *WorkflowState) {
		for id := range i.steps {
			s.Steps[id] = StepResult{Status: StepStatusPending}
		}
	})

	wave := i.initialWave()
	if len(wave) == 0 {
		i.finish(ctx, eventComplete)
		return nil
	}

	i.runWaves(ctx, wave)
	return nil
}

// Resume continues a suspended run. When a step id is given it must match
// the recorded suspension. The suspended wave is replayed, not recomputed;
// steps of that wave already terminal are not re-executed.
func (i *Instance) Resume(ctx context.Context, stepID ...StepID) error {
	i.mu.Lock()
	if i.state.MachineState != StateSuspended {
		i.mu.Unlock()
		return ErrNotSuspended
	}
	if len(stepID) > 0 && i.state.Suspended != nil && i.state.Suspended.StepID != stepID[0] {
		suspended := i.state.Suspended.StepID
		i.mu.Unlock()
		return fmt.Errorf("workflow: resume of step %q does not match suspended step %q", stepID[0], suspended)
	}
	wave := append([]StepID(nil), i.state.CurrentSteps...)
	i.mu.Unlock()

	i.ec.setSuspendHandler(i.suspendFromStep)
	i.fire(ctx, eventResume)
	i.updateState(ctx, func(s *WorkflowState) {
		s.Suspended = nil
	})

	if len(wave) == 0 {
		wave = i.findNextSteps(ctx)
	}
	if len(wave) == 0 {
		i.finish(ctx, eventComplete)
		return nil
	}

	i.runWaves(ctx, wave)
	return nil
}

// ResumeWithEvent emits the event on the run's bus, waking any step blocked
// in WaitForEvent and satisfying event-gated steps, then resumes the run.
// The event is not emitted unless the run is actually suspended.
func (i *Instance) ResumeWithEvent(ctx context.Context, ev Event) error {
	if i.machineState() != StateSuspended {
		return ErrNotSuspended
	}
	i.ec.EmitEvent(ev)
	return i.Resume(ctx)
}

// Cancel stops the run: no further wave starts, the event bus is disposed,
// and the root span closes with a cancelled outcome. In-flight executors
// are not interrupted. A suspended run terminates; a running one fails.
func (i *Instance) Cancel(ctx context.Context) {
	i.mu.Lock()
	if i.cancelled || i.machine.IsFinal(i.state.MachineState) {
		i.mu.Unlock()
		return
	}
	i.cancelled = true
	suspended := i.state.MachineState == StateSuspended
	i.mu.Unlock()

	if suspended {
		i.fire(ctx, eventTerminate)
	} else {
		i.fire(ctx, eventFail)
	}

	i.rootSpan.SetAttr("outcome", "cancelled")
	i.telemetry.EndSpan(i.rootSpan)
	i.telemetry.RecordMetric("workflow_runs_cancelled", 1, map[string]string{"workflow": i.workflowName})
	i.ec.close()
	i.notifyFinish()
}

// Restore replaces the instance's state wholesale from a persisted snapshot
// and re-notifies watchers. The dependency graph is not revalidated against
// the restored step statuses.
func (i *Instance) Restore(state WorkflowState) {
	i.mu.Lock()
	i.state = state.Clone()
	if i.state.Steps == nil {
		i.state.Steps = map[StepID]StepResult{}
	}
	for id, r := range i.state.Steps {
		i.ec.recordResult(id, r)
	}
	snapshot := i.state.Clone()
	watchers := append([]func(WorkflowState){}, i.watchers...)
	i.mu.Unlock()

	for _, fn := range watchers {
		fn(snapshot)
	}
}

// runWaves drives the scheduling loop: record the wave, execute it, and
// recompute until no step is ready or the run leaves the running state.
func (i *Instance) runWaves(ctx context.Context, wave []StepID) {
	for len(wave) > 0 {
		i.updateState(ctx, func(s *WorkflowState) {
			s.CurrentSteps = append([]StepID(nil), wave...)
		})

		i.executeSteps(ctx, wave)

		if i.machineState() != StateRunning {
			return
		}

		wave = i.findNextSteps(ctx)
	}

	i.finish(ctx, eventComplete)
}

// initialWave returns the steps with zero dependencies, excluding steps
// gated on an event not yet seen.
func (i *Instance) initialWave() []StepID {
	var wave []StepID
	for _, id := range i.order {
		s := i.steps[id]
		if len(s.deps) == 0 && (s.afterEvent == "" || i.ec.HasSeenEvent(s.afterEvent)) {
			wave = append(wave, id)
		}
	}
	return wave
}

// findNextSteps scans every step whose result is not terminal and not
// executing, and returns those whose dependencies are all satisfied.
func (i *Instance) findNextSteps(ctx context.Context) []StepID {
	results := i.ec.Steps()

	var wave []StepID
	for _, id := range i.order {
		if r, ok := results[id]; ok && (r.Status.Terminal() || r.Status == StepStatusExecuting) {
			continue
		}
		if i.dependenciesSatisfied(ctx, i.steps[id], results) {
			wave = append(wave, id)
		}
	}
	return wave
}

func (i *Instance) dependenciesSatisfied(ctx context.Context, s *Step, results map[StepID]StepResult) bool {
	if len(s.deps) == 0 && s.afterEvent == "" {
		return false
	}
	if s.afterEvent != "" && !i.ec.HasSeenEvent(s.afterEvent) {
		return false
	}

	for _, dep := range s.deps {
		if !i.dependencySatisfied(ctx, dep, results) {
			return false
		}
	}
	return true
}

func (i *Instance) dependencySatisfied(ctx context.Context, dep Dependency, results map[StepID]StepResult) bool {
	if dep.compound {
		satisfied := dep.Combinator == CombinatorAll
		for _, target := range dep.Targets {
			completed := results[target].Status == StepStatusCompleted
			if dep.Combinator == CombinatorAny {
				if completed {
					satisfied = true
					break
				}
			} else if !completed {
				satisfied = false
				break
			}
		}
		if !satisfied {
			return false
		}
		return i.extraConditionHolds(ctx, dep.Condition)
	}

	status := results[dep.Target].Status
	var matched bool
	switch dep.Kind {
	case DependencyFailure:
		matched = status == StepStatusFailed
	case DependencyCompletion:
		matched = status.Terminal()
	default: // success
		matched = status == StepStatusCompleted
	}
	if !matched {
		return false
	}
	return i.extraConditionHolds(ctx, dep.Condition)
}

func (i *Instance) extraConditionHolds(ctx context.Context, c *Condition) bool {
	if c == nil {
		return true
	}
	ok, err := evaluateCondition(ctx, i.ec, *c)
	if err != nil {
		i.logger.Warn("dependency condition evaluation failed", "error", err)
		return false
	}
	return ok
}

// executeSteps executes one wave under its effective execution mode. A
// sequential wave aborts early once the run leaves the running state; a
// parallel wave launches every step before waiting, and a single failure
// does not cancel siblings.
func (i *Instance) executeSteps(ctx context.Context, wave []StepID) {
	switch i.effectiveMode(wave) {
	case ExecutionModeSequential:
		for _, id := range wave {
			if i.machineState() != StateRunning {
				return
			}
			i.executeStep(ctx, id)
		}
	default:
		var wg sync.WaitGroup
		for _, id := range wave {
			wg.Add(1)
			go func(id StepID) {
				defer wg.Done()
				i.executeStep(ctx, id)
			}(id)
		}
		wg.Wait()
	}
}

// effectiveMode returns the wave's execution mode: a group override applies
// only when the group covers every step of the wave.
func (i *Instance) effectiveMode(wave []StepID) ExecutionMode {
	for _, g := range i.groups {
		members := make(map[StepID]struct{}, len(g.Steps))
		for _, id := range g.Steps {
			members[id] = struct{}{}
		}
		covered := true
		for _, id := range wave {
			if _, ok := members[id]; !ok {
				covered = false
				break
			}
		}
		if covered {
			return g.Mode
		}
	}
	return i.mode
}

// executeStep runs one step to a terminal (or suspended) result. Executor
// failures are recovered locally into a failed result and never abort the
// run.
func (i *Instance) executeStep(ctx context.Context, id StepID) {
	s, ok := i.steps[id]
	if !ok {
		return
	}
	if r, ok := i.ec.GetStepResult(id); ok && r.Status.Terminal() {
		return
	}

	if s.condition != nil {
		pass, err := evaluateCondition(ctx, i.ec, *s.condition)
		if err != nil {
			i.recordStepResult(ctx, id, StepResult{Status: StepStatusFailed, Error: err.Error()})
			return
		}
		if !pass {
			i.recordStepResult(ctx, id, StepResult{Status: StepStatusSkipped})
			return
		}
	}

	span := i.telemetry.StartSpan("step:"+string(id), i.rootSpan)
	defer i.telemetry.EndSpan(span)

	i.recordStepResult(ctx, id, StepResult{Status: StepStatusExecuting})

	input, err := i.resolveInput(s)
	if err != nil {
		i.failStep(ctx, id, span, err)
		return
	}

	ex := s.executor
	if s.agent != "" {
		agent, ok := i.agents.get(s.agent)
		if !ok {
			i.failStep(ctx, id, span, fmt.Errorf("agent %q not registered", s.agent))
			return
		}
		ex = agent
	}
	if ex == nil {
		i.failStep(ctx, id, span, fmt.Errorf("step %q has no executor", id))
		return
	}

	op := func(ctx context.Context) (any, error) {
		return ex(ctx, input, i.ec)
	}

	var output any
	if s.retry != nil {
		output, err = WithRetry(ctx, op, *s.retry)
	} else {
		output, err = op(ctx)
	}

	if err == nil && i.suspendedWhileExecuting(id) {
		span.SetAttr("outcome", "suspended")
		i.recordStepResult(ctx, id, StepResult{Status: StepStatusSuspended})
		return
	}

	if err != nil {
		i.failStep(ctx, id, span, err)
		return
	}

	if s.outputSchema != nil {
		if verr := s.outputSchema.Validate(output); verr != nil {
			i.failStep(ctx, id, span, &ValidationError{Subject: fmt.Sprintf("step %q output", id), Err: verr})
			return
		}
	}

	span.SetAttr("outcome", "completed")
	i.telemetry.RecordMetric("workflow_steps_completed", 1, map[string]string{"workflow": i.workflowName})
	i.recordStepResult(ctx, id, StepResult{Status: StepStatusCompleted, Output: output})
}

// resolveInput builds the step's input: the resolved WithVariable map when
// one is declared, the trigger payload otherwise, validated against the
// step's input schema.
func (i *Instance) resolveInput(s *Step) (any, error) {
	var input any
	if len(s.variables) > 0 {
		resolved := make(map[string]any, len(s.variables))
		for name, path := range s.variables {
			resolved[name] = ResolvePath(path, i.ec)
		}
		input = resolved
	} else {
		input = i.ec.TriggerData()
	}

	if s.inputSchema != nil {
		if err := s.inputSchema.Validate(input); err != nil {
			return nil, &ValidationError{Subject: fmt.Sprintf("step %q input", s.id), Err: err}
		}
	}
	return input, nil
}

func (i *Instance) failStep(ctx context.Context, id StepID, span *Span, err error) {
	stepErr := &StepError{Step: id, Err: err}
	i.logger.Error("step failed", "step", id, "error", err)
	span.SetAttr("outcome", "failed")
	span.SetAttr("error", err.Error())
	i.telemetry.RecordEvent(span, "step_failed", map[string]any{"step": string(id)})
	i.telemetry.RecordMetric("workflow_steps_failed", 1, map[string]string{"workflow": i.workflowName})
	i.recordStepResult(ctx, id, StepResult{Status: StepStatusFailed, Error: stepErr.Error()})
}

// suspendedWhileExecuting reports whether the run suspended while the given
// step's executor was in flight. Any step still executing at that point is
// recorded suspended and re-executed when the wave is replayed.
func (i *Instance) suspendedWhileExecuting(id StepID) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state.MachineState != StateSuspended {
		return false
	}
	return i.state.Steps[id].Status == StepStatusExecuting
}

// suspendFromStep is the hook installed on the execution context. Per the
// suspension contract, the recorded step id is the first step of the
// in-flight wave.
func (i *Instance) suspendFromStep(token string) error {
	i.mu.Lock()
	if i.state.MachineState != StateRunning {
		i.mu.Unlock()
		return fmt.Errorf("workflow: cannot suspend from state %q", i.state.MachineState)
	}
	var stepID StepID
	if len(i.state.CurrentSteps) > 0 {
		stepID = i.state.CurrentSteps[0]
	}
	i.mu.Unlock()

	i.fire(context.Background(), eventSuspend)
	i.updateState(context.Background(), func(s *WorkflowState) {
		s.Suspended = &Suspension{StepID: stepID, ResumeToken: token}
	})
	i.logger.Info("run suspended", "step", stepID, "token", token)
	return nil
}

// recordStepResult applies one step status transition: state map, context
// snapshot, watcher notification, and both persistence paths.
func (i *Instance) recordStepResult(ctx context.Context, id StepID, r StepResult) {
	i.ec.recordResult(id, r)
	i.updateState(ctx, func(s *WorkflowState) {
		if s.Steps == nil {
			s.Steps = map[StepID]StepResult{}
		}
		s.Steps[id] = r
	})

	if i.repo != nil {
		pid := i.persistenceID()
		if pid != "" {
			if err := i.repo.UpdateStepResult(ctx, pid, id, r); err != nil {
				i.logger.Warn("step result persistence failed", "step", id, "error", err)
			}
		}
	}
}

// updateState mutates the run state under the lock, then notifies watchers
// and persists the full snapshot. Persistence failures are logged, never
// fatal.
func (i *Instance) updateState(ctx context.Context, mutate func(*WorkflowState)) {
	i.mu.Lock()
	mutate(&i.state)
	snapshot := i.state.Clone()
	watchers := append([]func(WorkflowState){}, i.watchers...)
	i.mu.Unlock()

	for _, fn := range watchers {
		fn(snapshot)
	}

	if i.repo != nil {
		pid, err := i.repo.SaveWorkflow(ctx, i.workflowName, snapshot)
		if err != nil {
			i.logger.Warn("state persistence failed", "error", err)
			return
		}
		i.mu.Lock()
		i.state.PersistenceID = pid
		i.mu.Unlock()
	}
}

// fire routes a lifecycle event through the state-machine template.
func (i *Instance) fire(ctx context.Context, event string) {
	i.updateState(ctx, func(s *WorkflowState) {
		s.MachineState = i.machine.Transition(s.MachineState, event)
	})
}

// finish moves the run to a terminal state, closes the root span, disposes
// the event bus, and fires completion callbacks.
func (i *Instance) finish(ctx context.Context, event string) {
	i.fire(ctx, event)
	i.updateState(ctx, func(s *WorkflowState) {
		s.CurrentSteps = nil
		s.Suspended = nil
	})

	final := i.machineState()
	i.rootSpan.SetAttr("outcome", string(final))
	i.telemetry.EndSpan(i.rootSpan)
	i.telemetry.RecordMetric("workflow_runs_finished", 1, map[string]string{
		"workflow": i.workflowName,
		"state":    string(final),
	})
	i.logger.Info("run finished", "state", final)

	i.ec.close()
	i.notifyFinish()
}

func (i *Instance) notifyFinish() {
	i.mu.Lock()
	snapshot := i.state.Clone()
	fns := i.finishFns
	i.finishFns = nil
	i.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}

func (i *Instance) machineState() MachineState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state.MachineState
}

func (i *Instance) persistenceID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state.PersistenceID
}

// PersistenceID returns the id under which the run's state is stored, empty
// until the first successful save.
func (i *Instance) PersistenceID() string {
	return i.persistenceID()
}
