package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RunnerConfig configures runner behavior.
type RunnerConfig struct {
	PollInterval time.Duration // Poll frequency
	Concurrency  int           // Number of concurrent resume handlers
	Logger       *slog.Logger
}

// ResumeDecider inspects a suspended run and decides whether the runner
// should resume it, optionally supplying an event to emit first. Returning
// false leaves the run suspended for a later poll.
type ResumeDecider func(ctx context.Context, inst *Instance) (resume bool, ev *Event)

// Runner polls the repository for suspended runs of one workflow and
// resumes them. It is the bridge between external process restarts and the
// engine's suspend/resume model: a run suspended in one process can be
// picked up and driven forward by a runner in another.
type Runner struct {
	workflow *Workflow
	decide   ResumeDecider
	config   RunnerConfig
	logger   *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	claimed  map[string]struct{}
	stopOnce sync.Once
}

// NewRunner creates a runner for the given workflow. A nil decider resumes
// every suspended run unconditionally.
func NewRunner(w *Workflow, decide ResumeDecider, config RunnerConfig) *Runner {
	if config.PollInterval == 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.Concurrency == 0 {
		config.Concurrency = 1
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if decide == nil {
		decide = func(ctx context.Context, inst *Instance) (bool, *Event) { return true, nil }
	}

	return &Runner{
		workflow: w,
		decide:   decide,
		config:   config,
		logger:   logger.With("workflow", w.Name()),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		claimed:  map[string]struct{}{},
	}
}

// Run starts the runner. Blocks until Stop is called or the context is
// cancelled.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.doneCh)

	runnerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i := 0; i < r.config.Concurrency; i++ {
		r.wg.Add(1)
		go r.pollLoop(runnerCtx)
	}

	select {
	case <-r.stopCh:
		cancel()
	case <-ctx.Done():
		cancel()
	}

	r.wg.Wait()
	return nil
}

// Stop gracefully stops the runner and waits for in-flight resumes.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	<-r.doneCh
}

func (r *Runner) pollLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.pollAndResume(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("runner poll failed", "error", err)
			}
		}
	}
}

// pollAndResume lists suspended runs and drives each unclaimed one forward.
func (r *Runner) pollAndResume(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if r.workflow.repo == nil {
		return fmt.Errorf("runner: workflow has no repository")
	}

	ids, err := r.workflow.repo.ListWorkflows(ctx, ListFilter{
		WorkflowName: r.workflow.Name(),
		MachineState: StateSuspended,
	})
	if err != nil {
		return fmt.Errorf("list suspended workflows: %w", err)
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !r.claim(id) {
			continue
		}
		r.resumeOne(ctx, id)
		r.release(id)
	}
	return nil
}

func (r *Runner) resumeOne(ctx context.Context, persistenceID string) {
	inst, err := r.workflow.RestoreRun(ctx, persistenceID)
	if err != nil {
		r.logger.Warn("restore failed", "persistence_id", persistenceID, "error", err)
		return
	}
	if inst == nil {
		return
	}

	resume, ev := r.decide(ctx, inst)
	if !resume {
		return
	}

	if ev != nil {
		err = inst.ResumeWithEvent(ctx, *ev)
	} else {
		err = inst.Resume(ctx)
	}
	if err != nil {
		r.logger.Warn("resume failed", "persistence_id", persistenceID, "error", err)
		return
	}
	r.logger.Info("run resumed", "persistence_id", persistenceID, "state", inst.State().MachineState)
}

// claim marks a persistence id as in-flight so concurrent poll loops do not
// resume the same run twice.
func (r *Runner) claim(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.claimed[id]; ok {
		return false
	}
	r.claimed[id] = struct{}{}
	return true
}

func (r *Runner) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claimed, id)
}
