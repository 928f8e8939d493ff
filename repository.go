package workflow

import (
	"context"
	"sync"
)

// ListFilter narrows a ListWorkflows call. Zero-valued fields match anything.
type ListFilter struct {
	WorkflowName string
	MachineState MachineState
}

// Repository is the persistence backend collaborator. The engine calls it
// opportunistically: failures are logged and swallowed, never fatal to a run.
type Repository interface {
	// SaveWorkflow persists a state snapshot and returns its persistence id,
	// minting one when state.PersistenceID is empty.
	SaveWorkflow(ctx context.Context, workflowName string, state WorkflowState) (string, error)

	// LoadWorkflow returns the state stored under persistenceID, or
	// ErrWorkflowNotFound.
	LoadWorkflow(ctx context.Context, persistenceID string) (WorkflowState, error)

	// UpdateStepResult records a single step result transition.
	UpdateStepResult(ctx context.Context, persistenceID string, stepID StepID, result StepResult) error

	// ListWorkflows returns the persistence ids matching the filter.
	ListWorkflows(ctx context.Context, filter ListFilter) ([]string, error)
}

type memoryEntry struct {
	workflowName string
	state        WorkflowState
}

// MemoryRepository is an in-process Repository, used as the reference
// implementation and in tests. States are round-tripped through the codec
// so stored snapshots behave exactly like persisted ones.
type MemoryRepository struct {
	mu      sync.RWMutex
	codec   Codec
	entries map[string]memoryEntry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{codec: JSONCodec{}, entries: map[string]memoryEntry{}}
}

func (r *MemoryRepository) SaveWorkflow(ctx context.Context, workflowName string, state WorkflowState) (string, error) {
	id := state.PersistenceID
	if id == "" {
		id = newPersistenceID()
	}
	state.PersistenceID = id

	stored, err := r.roundTrip(state)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = memoryEntry{workflowName: workflowName, state: stored}
	return id, nil
}

func (r *MemoryRepository) LoadWorkflow(ctx context.Context, persistenceID string) (WorkflowState, error) {
	r.mu.RLock()
	entry, ok := r.entries[persistenceID]
	r.mu.RUnlock()
	if !ok {
		return WorkflowState{}, ErrWorkflowNotFound
	}
	return r.roundTrip(entry.state)
}

func (r *MemoryRepository) UpdateStepResult(ctx context.Context, persistenceID string, stepID StepID, result StepResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[persistenceID]
	if !ok {
		return ErrWorkflowNotFound
	}
	state := entry.state.Clone()
	if state.Steps == nil {
		state.Steps = map[StepID]StepResult{}
	}
	state.Steps[stepID] = result
	entry.state = state
	r.entries[persistenceID] = entry
	return nil
}

func (r *MemoryRepository) ListWorkflows(ctx context.Context, filter ListFilter) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, entry := range r.entries {
		if filter.WorkflowName != "" && entry.workflowName != filter.WorkflowName {
			continue
		}
		if filter.MachineState != "" && entry.state.MachineState != filter.MachineState {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (r *MemoryRepository) roundTrip(state WorkflowState) (WorkflowState, error) {
	raw, err := r.codec.Marshal(state)
	if err != nil {
		return WorkflowState{}, err
	}
	var out WorkflowState
	if err := r.codec.Unmarshal(raw, &out); err != nil {
		return WorkflowState{}, err
	}
	return out, nil
}
