package storage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for persisted run state.
type Store struct {
	pool   *pgxpool.Pool
	schema string
}

// NewStore creates a new storage instance. schema is optional; when set,
// tables are schema-qualified ("myapp" → "myapp.workflow_states").
func NewStore(pool *pgxpool.Pool, schema string) *Store {
	return &Store{pool: pool, schema: schema}
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) tableName(base string) string {
	if s.schema == "" {
		return base
	}
	return s.schema + "." + base
}

// StateModel is one persisted run-state row.
type StateModel struct {
	PersistenceID pgtype.UUID
	WorkflowName  string
	MachineState  string
	State         json.RawMessage
	UpdatedAt     time.Time
}

// StepResultModel is one persisted step-result row, kept alongside the full
// state snapshot as a per-transition audit trail.
type StepResultModel struct {
	PersistenceID pgtype.UUID
	StepID        string
	Result        json.RawMessage
	UpdatedAt     time.Time
}

// UUIDToPgtype converts a google/uuid.UUID to pgtype.UUID.
func UUIDToPgtype(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{
		Bytes: id,
		Valid: true,
	}
}

// PgtypeToUUID converts a pgtype.UUID to google/uuid.UUID.
func PgtypeToUUID(id pgtype.UUID) uuid.UUID {
	if !id.Valid {
		return uuid.Nil
	}
	return id.Bytes
}
