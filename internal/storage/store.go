package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// ErrNotFound indicates no row exists for the requested persistence id.
var ErrNotFound = errors.New("storage: state not found")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS %[1]sworkflow_states (
	persistence_id UUID PRIMARY KEY,
	workflow_name  TEXT NOT NULL,
	machine_state  TEXT NOT NULL,
	state_json     JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS workflow_states_name_state_idx
	ON %[1]sworkflow_states (workflow_name, machine_state);

CREATE TABLE IF NOT EXISTS %[1]sstep_results (
	persistence_id UUID NOT NULL,
	step_id        TEXT NOT NULL,
	result_json    JSONB NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (persistence_id, step_id)
);
`

// SchemaSQL returns the DDL for the store's tables, schema-qualified when a
// schema is configured.
func (s *Store) SchemaSQL() string {
	prefix := ""
	if s.schema != "" {
		prefix = s.schema + "."
	}
	return fmt.Sprintf(schemaSQL, prefix)
}

// EnsureSchema creates the store's tables if they do not exist. When a
// schema is configured, the schema itself is created first.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s.schema != "" {
		if _, err := s.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+s.schema); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	for _, stmt := range strings.Split(s.SchemaSQL(), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// UpsertState writes a full state snapshot, inserting or replacing the row.
func (s *Store) UpsertState(ctx context.Context, m *StateModel) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (persistence_id, workflow_name, machine_state, state_json, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (persistence_id) DO UPDATE
		SET workflow_name = EXCLUDED.workflow_name,
			machine_state = EXCLUDED.machine_state,
			state_json = EXCLUDED.state_json,
			updated_at = now()
	`, s.tableName("workflow_states"))

	_, err := s.pool.Exec(ctx, query, m.PersistenceID, m.WorkflowName, m.MachineState, m.State)
	return err
}

// GetState retrieves a state snapshot by persistence id.
func (s *Store) GetState(ctx context.Context, persistenceID pgtype.UUID) (*StateModel, error) {
	query := fmt.Sprintf(`
		SELECT persistence_id, workflow_name, machine_state, state_json, updated_at
		FROM %s
		WHERE persistence_id = $1
	`, s.tableName("workflow_states"))

	m := &StateModel{}
	err := s.pool.QueryRow(ctx, query, persistenceID).Scan(
		&m.PersistenceID, &m.WorkflowName, &m.MachineState, &m.State, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// UpsertStepResult records one step result transition.
func (s *Store) UpsertStepResult(ctx context.Context, persistenceID pgtype.UUID, stepID string, result json.RawMessage) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (persistence_id, step_id, result_json, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (persistence_id, step_id) DO UPDATE
		SET result_json = EXCLUDED.result_json,
			updated_at = now()
	`, s.tableName("step_results"))

	_, err := s.pool.Exec(ctx, query, persistenceID, stepID, result)
	return err
}

// GetStepResults returns all recorded step results for a run, keyed by step id.
func (s *Store) GetStepResults(ctx context.Context, persistenceID pgtype.UUID) (map[string]json.RawMessage, error) {
	query := fmt.Sprintf(`
		SELECT step_id, result_json
		FROM %s
		WHERE persistence_id = $1
	`, s.tableName("step_results"))

	rows, err := s.pool.Query(ctx, query, persistenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]json.RawMessage{}
	for rows.Next() {
		var stepID string
		var result json.RawMessage
		if err := rows.Scan(&stepID, &result); err != nil {
			return nil, err
		}
		out[stepID] = result
	}
	return out, rows.Err()
}

// ListStates returns the persistence ids matching the filters, newest first.
// Empty filter values match anything.
func (s *Store) ListStates(ctx context.Context, workflowName, machineState string) ([]pgtype.UUID, error) {
	query := fmt.Sprintf(`
		SELECT persistence_id
		FROM %s
		WHERE ($1 = '' OR workflow_name = $1)
			AND ($2 = '' OR machine_state = $2)
		ORDER BY updated_at DESC
	`, s.tableName("workflow_states"))

	rows, err := s.pool.Query(ctx, query, workflowName, machineState)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pgtype.UUID
	for rows.Next() {
		var id pgtype.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
