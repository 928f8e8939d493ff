package workflow_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	workflow "github.com/Neusym/a2-sub001"
)

// setupTestDB provides a PostgreSQL pool for integration tests.
//
// Two modes:
//  1. Testcontainers (default): starts a disposable PostgreSQL container.
//  2. External database: set WORKFLOW_TEST_DATABASE_URL to reuse one.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	dbURL := os.Getenv("WORKFLOW_TEST_DATABASE_URL")
	if dbURL == "" {
		container, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("workflow_test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		if err != nil {
			t.Skipf("Skipping integration test: could not start postgres container: %v", err)
		}
		t.Cleanup(func() {
			_ = container.Terminate(context.Background())
		})

		dbURL, err = container.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	require.NoError(t, pool.Ping(ctx))
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresRepositoryRoundTrip(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()

	repo := workflow.NewPostgresRepository(pool, "")
	require.NoError(t, repo.EnsureSchema(ctx))

	saved := sampleState()
	id, err := repo.SaveWorkflow(ctx, "orders", saved)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	loaded, err := repo.LoadWorkflow(ctx, id)
	require.NoError(t, err)
	saved.PersistenceID = id
	assert.Equal(t, saved, loaded)

	// Upsert under the same id replaces the snapshot.
	saved.MachineState = workflow.StateCompleted
	saved.Suspended = nil
	again, err := repo.SaveWorkflow(ctx, "orders", saved)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	loaded, err = repo.LoadWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateCompleted, loaded.MachineState)
	assert.Nil(t, loaded.Suspended)

	_, err = repo.LoadWorkflow(ctx, "0193adc8-0000-7000-8000-000000000000")
	assert.ErrorIs(t, err, workflow.ErrWorkflowNotFound)
}

func TestPostgresRepositoryStepResultsAndListing(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()

	repo := workflow.NewPostgresRepository(pool, "engine")
	require.NoError(t, repo.EnsureSchema(ctx))

	idSuspended, err := repo.SaveWorkflow(ctx, "orders", sampleState())
	require.NoError(t, err)

	completed := sampleState()
	completed.MachineState = workflow.StateCompleted
	completed.Suspended = nil
	idCompleted, err := repo.SaveWorkflow(ctx, "orders", completed)
	require.NoError(t, err)

	require.NoError(t, repo.UpdateStepResult(ctx, idSuspended, "review", workflow.StepResult{
		Status: workflow.StepStatusCompleted,
		Output: "approved",
	}))

	orders, err := repo.ListWorkflows(ctx, workflow.ListFilter{WorkflowName: "orders"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{idSuspended, idCompleted}, orders)

	stuck, err := repo.ListWorkflows(ctx, workflow.ListFilter{
		WorkflowName: "orders",
		MachineState: workflow.StateSuspended,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{idSuspended}, stuck)

	none, err := repo.ListWorkflows(ctx, workflow.ListFilter{WorkflowName: "billing"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPostgresBackedRunLifecycle(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()

	repo := workflow.NewPostgresRepository(pool, "")
	require.NoError(t, repo.EnsureSchema(ctx))

	w := workflow.NewWorkflow("payments",
		workflow.WithLogger(quietLogger()),
		workflow.WithRepository(repo),
	)
	require.NoError(t, w.Step(workflow.NewStep("charge", func(c context.Context, input any, run *workflow.ExecutionContext) (any, error) {
		if !run.HasSeenEvent("3ds-confirmed") {
			return nil, run.Suspend("3ds")
		}
		return "charged", nil
	})))
	require.NoError(t, w.Step(workflow.NewStep("receipt", echoExecutor).After("charge", workflow.DependencySuccess)))

	inst, err := w.CreateRun(map[string]any{"amount": 25})
	require.NoError(t, err)
	require.NoError(t, inst.Start(ctx))
	require.Equal(t, workflow.StateSuspended, inst.State().MachineState)

	pid := inst.PersistenceID()
	require.NotEmpty(t, pid)

	// A fresh instance restored from Postgres picks up where the run left off.
	restored, err := w.RestoreRun(ctx, pid)
	require.NoError(t, err)
	require.NotNil(t, restored)
	require.Equal(t, workflow.StateSuspended, restored.State().MachineState)

	require.NoError(t, restored.ResumeWithEvent(ctx, workflow.Event{Type: "3ds-confirmed"}))

	loaded, err := repo.LoadWorkflow(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateCompleted, loaded.MachineState)
	assert.Equal(t, workflow.StepStatusCompleted, loaded.Steps["charge"].Status)
	assert.Equal(t, "charged", loaded.Steps["charge"].Output)
	assert.Equal(t, workflow.StepStatusCompleted, loaded.Steps["receipt"].Status)
}
