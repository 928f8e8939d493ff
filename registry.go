package workflow

import (
	"context"
	"fmt"
	"sync"
)

// Executor is the black-box unit of work behind a step: it receives the
// step's resolved input and the run's execution context, and returns an
// output or fails. The engine never inspects what an executor does.
type Executor func(ctx context.Context, input any, run *ExecutionContext) (any, error)

// AgentRegistry maps agent names to executors.
//
// Registration is rejected for duplicates; lookup is by name at run time,
// so a step may reference an agent registered after the step itself.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]Executor
}

func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{agents: map[string]Executor{}}
}

// Register adds an executor under name.
func (r *AgentRegistry) Register(name string, ex Executor) error {
	if name == "" {
		return fmt.Errorf("agent name is empty")
	}
	if ex == nil {
		return fmt.Errorf("agent executor is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[name]; ok {
		return fmt.Errorf("agent already registered: %s", name)
	}
	r.agents[name] = ex
	return nil
}

func (r *AgentRegistry) get(name string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.agents[name]
	return ex, ok
}
