package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Neusym/a2-sub001/internal/storage"
)

// PostgresRepository is a Repository backed by Postgres: the full state
// snapshot lives in one jsonb row per run, individual step transitions in a
// companion table.
type PostgresRepository struct {
	store *storage.Store
	codec Codec
}

// NewPostgresRepository creates a repository over the given pool. schema is
// optional; when set, tables are created under it.
func NewPostgresRepository(pool *pgxpool.Pool, schema string) *PostgresRepository {
	return &PostgresRepository{store: storage.NewStore(pool, schema), codec: JSONCodec{}}
}

// WithCodec replaces the codec used for persisted payloads.
func (r *PostgresRepository) WithCodec(codec Codec) *PostgresRepository {
	r.codec = codec
	return r
}

// EnsureSchema creates the backing tables if they do not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	return r.store.EnsureSchema(ctx)
}

func (r *PostgresRepository) SaveWorkflow(ctx context.Context, workflowName string, state WorkflowState) (string, error) {
	id := state.PersistenceID
	if id == "" {
		id = newPersistenceID()
	}
	state.PersistenceID = id

	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("parse persistence id %q: %w", id, err)
	}

	raw, err := r.codec.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}

	err = r.store.UpsertState(ctx, &storage.StateModel{
		PersistenceID: storage.UUIDToPgtype(parsed),
		WorkflowName:  workflowName,
		MachineState:  string(state.MachineState),
		State:         raw,
	})
	if err != nil {
		return "", fmt.Errorf("save workflow: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) LoadWorkflow(ctx context.Context, persistenceID string) (WorkflowState, error) {
	parsed, err := uuid.Parse(persistenceID)
	if err != nil {
		return WorkflowState{}, fmt.Errorf("parse persistence id %q: %w", persistenceID, err)
	}

	m, err := r.store.GetState(ctx, storage.UUIDToPgtype(parsed))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return WorkflowState{}, ErrWorkflowNotFound
		}
		return WorkflowState{}, fmt.Errorf("load workflow: %w", err)
	}

	var state WorkflowState
	if err := r.codec.Unmarshal(m.State, &state); err != nil {
		return WorkflowState{}, fmt.Errorf("unmarshal state: %w", err)
	}
	return state, nil
}

func (r *PostgresRepository) UpdateStepResult(ctx context.Context, persistenceID string, stepID StepID, result StepResult) error {
	parsed, err := uuid.Parse(persistenceID)
	if err != nil {
		return fmt.Errorf("parse persistence id %q: %w", persistenceID, err)
	}

	raw, err := r.codec.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal step result: %w", err)
	}

	if err := r.store.UpsertStepResult(ctx, storage.UUIDToPgtype(parsed), string(stepID), raw); err != nil {
		return fmt.Errorf("save step result: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListWorkflows(ctx context.Context, filter ListFilter) ([]string, error) {
	ids, err := r.store.ListStates(ctx, filter.WorkflowName, string(filter.MachineState))
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, storage.PgtypeToUUID(id).String())
	}
	return out, nil
}
