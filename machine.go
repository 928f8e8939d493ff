package workflow

// Machine events driven by the instance.
const (
	eventStart     = "START"
	eventComplete  = "COMPLETE"
	eventFail      = "FAIL"
	eventSuspend   = "SUSPEND"
	eventResume    = "RESUME"
	eventTerminate = "TERMINATE"
	eventRetry     = "RETRY"
)

// StateDef declares the transitions available from one state.
type StateDef struct {
	On    map[string]MachineState
	Final bool
}

// StateMachine is a declarative finite-state template: states plus a
// transition table. It carries no runtime state; the instance interprets it.
type StateMachine struct {
	ID      string
	Initial MachineState
	States  map[MachineState]StateDef
}

// Transition returns the state reached by firing event from state. If the
// state has no matching transition, the state is returned unchanged.
func (m StateMachine) Transition(state MachineState, event string) MachineState {
	def, ok := m.States[state]
	if !ok {
		return state
	}
	next, ok := def.On[event]
	if !ok {
		return state
	}
	return next
}

// IsFinal reports whether state is declared final.
func (m StateMachine) IsFinal(state MachineState) bool {
	return m.States[state].Final
}

// newRunStateMachine returns the canonical run lifecycle template.
func newRunStateMachine() StateMachine {
	return StateMachine{
		ID:      "workflow-run",
		Initial: StateIdle,
		States: map[MachineState]StateDef{
			StateIdle: {
				On: map[string]MachineState{eventStart: StateRunning},
			},
			StateRunning: {
				On: map[string]MachineState{
					eventComplete: StateCompleted,
					eventFail:     StateFailed,
					eventSuspend:  StateSuspended,
				},
			},
			StateSuspended: {
				On: map[string]MachineState{
					eventResume:    StateRunning,
					eventTerminate: StateTerminated,
				},
			},
			StateFailed: {
				On: map[string]MachineState{eventRetry: StateRunning},
			},
			StateCompleted:  {Final: true},
			StateTerminated: {Final: true},
		},
	}
}
