package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	workflow "github.com/Neusym/a2-sub001"
)

func TestRunnerResumesSuspendedRuns(t *testing.T) {
	t.Parallel()
	repo := workflow.NewMemoryRepository()
	w := workflow.NewWorkflow("onboarding",
		workflow.WithLogger(quietLogger()),
		workflow.WithRepository(repo),
	)
	require.NoError(t, w.Step(workflow.NewStep("kyc", func(ctx context.Context, input any, run *workflow.ExecutionContext) (any, error) {
		if !run.HasSeenEvent("kyc-approved") {
			return nil, run.Suspend("kyc-wait")
		}
		return "verified", nil
	})))

	inst, err := w.CreateRun(nil)
	require.NoError(t, err)
	require.NoError(t, inst.Start(context.Background()))
	require.Equal(t, workflow.StateSuspended, inst.State().MachineState)
	pid := inst.PersistenceID()
	require.NotEmpty(t, pid)

	runner := workflow.NewRunner(w,
		func(ctx context.Context, inst *workflow.Instance) (bool, *workflow.Event) {
			return true, &workflow.Event{Type: "kyc-approved"}
		},
		workflow.RunnerConfig{PollInterval: 10 * time.Millisecond, Logger: quietLogger()},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = runner.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		loaded, err := repo.LoadWorkflow(context.Background(), pid)
		return err == nil && loaded.MachineState == workflow.StateCompleted
	}, 5*time.Second, 20*time.Millisecond, "runner never drove the run to completion")

	runner.Stop()
	<-done

	loaded, err := repo.LoadWorkflow(context.Background(), pid)
	require.NoError(t, err)
	assert.Equal(t, workflow.StepStatusCompleted, loaded.Steps["kyc"].Status)
	assert.Equal(t, "verified", loaded.Steps["kyc"].Output)
}

func TestRunnerDeciderCanDecline(t *testing.T) {
	t.Parallel()
	repo := workflow.NewMemoryRepository()
	w := workflow.NewWorkflow("held",
		workflow.WithLogger(quietLogger()),
		workflow.WithRepository(repo),
	)
	require.NoError(t, w.Step(workflow.NewStep("gate", func(ctx context.Context, input any, run *workflow.ExecutionContext) (any, error) {
		return nil, run.Suspend("hold")
	})))

	inst, err := w.CreateRun(nil)
	require.NoError(t, err)
	require.NoError(t, inst.Start(context.Background()))
	pid := inst.PersistenceID()

	runner := workflow.NewRunner(w,
		func(ctx context.Context, inst *workflow.Instance) (bool, *workflow.Event) {
			return false, nil
		},
		workflow.RunnerConfig{PollInterval: 10 * time.Millisecond, Logger: quietLogger()},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = runner.Run(ctx)
	}()

	// Give the runner a few poll cycles; the run must stay suspended.
	time.Sleep(100 * time.Millisecond)
	runner.Stop()
	<-done

	loaded, err := repo.LoadWorkflow(context.Background(), pid)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateSuspended, loaded.MachineState)
}
