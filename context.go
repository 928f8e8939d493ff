package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ExecutionContext is the single object handed to every step executor of a
// run. It exposes prior step results, the trigger payload, run-scoped
// variables, suspend/resume hooks, and the run's event bus.
//
// One context exists per run and is reused across all its steps. It offers
// no per-field locking: concurrent writes to the same variable from sibling
// steps of a parallel wave are a caller hazard to avoid.
type ExecutionContext struct {
	mu sync.Mutex

	runID     uuid.UUID
	trigger   any
	results   map[StepID]StepResult
	variables map[string]any

	suspendFn func(token string) error
	repo      Repository
	logger    *slog.Logger

	handlers   []EventHandler
	waiters    map[string][]chan Event
	seenEvents map[string]Event
	closed     bool
	done       chan struct{}
}

func newExecutionContext(runID uuid.UUID, trigger any, repo Repository, logger *slog.Logger, handlers []EventHandler) *ExecutionContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecutionContext{
		runID:      runID,
		trigger:    trigger,
		results:    map[StepID]StepResult{},
		variables:  map[string]any{},
		repo:       repo,
		logger:     logger,
		handlers:   handlers,
		waiters:    map[string][]chan Event{},
		seenEvents: map[string]Event{},
		done:       make(chan struct{}),
	}
}

// RunID returns the run's identifier.
func (c *ExecutionContext) RunID() uuid.UUID { return c.runID }

// TriggerData returns the payload the run was created with.
func (c *ExecutionContext) TriggerData() any { return c.trigger }

// Repository returns the run's persistence backend, or nil.
func (c *ExecutionContext) Repository() Repository { return c.repo }

// GetStepResult returns the recorded result for a step, if any.
func (c *ExecutionContext) GetStepResult(id StepID) (StepResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.results[id]
	return r, ok
}

// Steps returns a snapshot of all recorded step results.
func (c *ExecutionContext) Steps() map[StepID]StepResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[StepID]StepResult, len(c.results))
	for id, r := range c.results {
		out[id] = r
	}
	return out
}

// SetVariable writes a run-scoped variable.
func (c *ExecutionContext) SetVariable(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[name] = value
}

// GetVariable reads a run-scoped variable.
func (c *ExecutionContext) GetVariable(name string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.variables[name]
	return v, ok
}

// Log writes through the run's structured logger with the run id attached.
func (c *ExecutionContext) Log(msg string, args ...any) {
	c.logger.Info(msg, append([]any{"run_id", c.runID}, args...)...)
}

// Suspend suspends the run, recording token as the resume correlation token.
// It fails with ErrNoSuspendHandler when no instance hook is installed.
func (c *ExecutionContext) Suspend(token string) error {
	c.mu.Lock()
	fn := c.suspendFn
	c.mu.Unlock()
	if fn == nil {
		return ErrNoSuspendHandler
	}
	return fn(token)
}

// EmitEvent publishes an event on the run's bus: global handlers fire,
// blocked WaitForEvent calls wake, and the event is remembered for
// event-gated steps.
func (c *ExecutionContext) EmitEvent(ev Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.seenEvents[ev.Type] = ev
	waiting := c.waiters[ev.Type]
	delete(c.waiters, ev.Type)
	handlers := c.handlers
	c.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
	for _, ch := range waiting {
		ch <- ev
	}
}

// HasSeenEvent reports whether an event of the given type has been emitted
// on this run.
func (c *ExecutionContext) HasSeenEvent(eventType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seenEvents[eventType]
	return ok
}

// WaitForEvent blocks until the next event of the given type is emitted on
// the run's bus. A positive timeout bounds the wait and fails with
// ErrEventTimeout on expiry; zero waits until the event, context
// cancellation, or context disposal.
func (c *ExecutionContext) WaitForEvent(ctx context.Context, eventType string, timeout time.Duration) (Event, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Event{}, ErrContextClosed
	}
	ch := make(chan Event, 1)
	c.waiters[eventType] = append(c.waiters[eventType], ch)
	c.mu.Unlock()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timeoutCh = t.C
	}

	select {
	case ev := <-ch:
		return ev, nil
	case <-timeoutCh:
		c.removeWaiter(eventType, ch)
		return Event{}, ErrEventTimeout
	case <-ctx.Done():
		c.removeWaiter(eventType, ch)
		return Event{}, ctx.Err()
	case <-c.done:
		return Event{}, ErrContextClosed
	}
}

func (c *ExecutionContext) removeWaiter(eventType string, ch chan Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.waiters[eventType]
	for i, w := range list {
		if w == ch {
			c.waiters[eventType] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// recordResult is called by the instance after every step status transition.
func (c *ExecutionContext) recordResult(id StepID, r StepResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[id] = r
}

func (c *ExecutionContext) setSuspendHandler(fn func(token string) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suspendFn = fn
}

// close detaches all listeners. Blocked WaitForEvent calls fail with
// ErrContextClosed; later emits are dropped.
func (c *ExecutionContext) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.waiters = map[string][]chan Event{}
	c.suspendFn = nil
	close(c.done)
}

// variablesSnapshot returns a copy of the run variables for path resolution.
func (c *ExecutionContext) variablesSnapshot() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		out[k] = v
	}
	return out
}

// view exposes the context as a value tree for direct-path resolution.
func (c *ExecutionContext) view() map[string]any {
	steps := map[string]any{}
	for id, r := range c.Steps() {
		steps[string(id)] = map[string]any{
			"output": r.Output,
			"status": string(r.Status),
			"error":  r.Error,
		}
	}
	return map[string]any{
		"steps":     steps,
		"trigger":   c.trigger,
		"variables": c.variablesSnapshot(),
	}
}
