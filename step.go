package workflow

// Dependency links a step to one or more upstream steps. A single dependency
// names one target and the outcome that satisfies it; a compound dependency
// names several targets combined with all/any. Either form may carry an
// extra condition that must also hold.
type Dependency struct {
	Target     StepID
	Targets    []StepID
	Kind       DependencyKind
	Combinator Combinator
	Condition  *Condition

	compound bool
}

// LoopConfig is a hint describing how a step wants to be repeated. The
// engine records it but does not interpret it; callers drive loops from
// their own executors.
type LoopConfig struct {
	MaxIterations int
	Condition     *Condition
}

// BranchConfig is a hint naming the steps a branching step selects between.
// Like LoopConfig it is carried, not interpreted.
type BranchConfig struct {
	When  *Condition
	Steps []StepID
}

// Step is one unit of work in a workflow: an id, an executor, dependencies,
// and optional condition/retry/schema configuration. Steps are built with
// the fluent setters below and are immutable once a run has started; none
// of the setters are safe to call concurrently with execution.
type Step struct {
	id           StepID
	executor     Executor
	agent        string
	deps         []Dependency
	condition    *Condition
	retry        *RetryConfig
	inputSchema  Schema
	outputSchema Schema
	loop         *LoopConfig
	branch       *BranchConfig
	variables    map[string]string
	afterEvent   string
}

// NewStep creates a step with the given id and executor. The executor may be
// nil when the step is bound to a registered agent via UseAgent.
func NewStep(id StepID, executor Executor) *Step {
	return &Step{id: id, executor: executor}
}

// ID returns the step's identifier.
func (s *Step) ID() StepID { return s.id }

// WithRetry sets the step's retry policy.
func (s *Step) WithRetry(cfg RetryConfig) *Step {
	s.retry = &cfg
	return s
}

// When sets the step's condition. The step is skipped (executor never
// invoked) when the condition evaluates false at schedule time.
func (s *Step) When(c Condition) *Step {
	s.condition = &c
	return s
}

// And extends the step's condition with a conjunct.
func (s *Step) And(c Condition) *Step {
	if s.condition == nil {
		return s.When(c)
	}
	combined := And(*s.condition, c)
	s.condition = &combined
	return s
}

// Or extends the step's condition with a disjunct.
func (s *Step) Or(c Condition) *Step {
	if s.condition == nil {
		return s.When(c)
	}
	combined := Or(*s.condition, c)
	s.condition = &combined
	return s
}

// After appends a dependency on target, satisfied by the given outcome.
// Optional extra conditions are ANDed onto the dependency.
func (s *Step) After(target StepID, kind DependencyKind, extra ...Condition) *Step {
	dep := Dependency{Target: target, Kind: kind}
	attachCondition(&dep, extra)
	s.deps = append(s.deps, dep)
	return s
}

// AfterAll appends a compound dependency satisfied once every target has
// completed.
func (s *Step) AfterAll(targets ...StepID) *Step {
	s.deps = append(s.deps, Dependency{Targets: targets, Combinator: CombinatorAll, compound: true})
	return s
}

// AfterAny appends a compound dependency satisfied once any target has
// completed.
func (s *Step) AfterAny(targets ...StepID) *Step {
	s.deps = append(s.deps, Dependency{Targets: targets, Combinator: CombinatorAny, compound: true})
	return s
}

// WhenDependency attaches an extra condition to the most recently added
// dependency.
func (s *Step) WhenDependency(c Condition) *Step {
	if len(s.deps) > 0 {
		s.deps[len(s.deps)-1].Condition = &c
	}
	return s
}

// AfterEvent gates the step on an event: it does not become ready until an
// event of the given type has been seen on the run's bus.
func (s *Step) AfterEvent(eventType string) *Step {
	s.afterEvent = eventType
	return s
}

// WithLoop records a loop hint.
func (s *Step) WithLoop(cfg LoopConfig) *Step {
	s.loop = &cfg
	return s
}

// WithBranch records a branch hint.
func (s *Step) WithBranch(cfg BranchConfig) *Step {
	s.branch = &cfg
	return s
}

// WithVariable maps an input field to a dotted-path reference, resolved
// against run-time state just before the executor is invoked.
func (s *Step) WithVariable(name, path string) *Step {
	if s.variables == nil {
		s.variables = map[string]string{}
	}
	s.variables[name] = path
	return s
}

// WithInputSchema sets the validator applied to the step's resolved input.
func (s *Step) WithInputSchema(schema Schema) *Step {
	s.inputSchema = schema
	return s
}

// WithOutputSchema sets the validator applied to the executor's output
// before it is recorded.
func (s *Step) WithOutputSchema(schema Schema) *Step {
	s.outputSchema = schema
	return s
}

// UseAgent binds the step to a named executor from the workflow's agent
// registry, looked up at run time.
func (s *Step) UseAgent(name string) *Step {
	s.agent = name
	return s
}

// dependencyTargets returns every step id this step depends on.
func (s *Step) dependencyTargets() []StepID {
	var out []StepID
	for _, d := range s.deps {
		if d.compound {
			out = append(out, d.Targets...)
		} else {
			out = append(out, d.Target)
		}
	}
	return out
}

func attachCondition(dep *Dependency, extra []Condition) {
	switch len(extra) {
	case 0:
	case 1:
		dep.Condition = &extra[0]
	default:
		combined := And(extra...)
		dep.Condition = &combined
	}
}

// clone returns a copy of the step safe to hand to a run. Dependency and
// variable slices/maps are copied; the executor and schemas are shared.
func (s *Step) clone() *Step {
	out := *s
	out.deps = append([]Dependency(nil), s.deps...)
	if s.variables != nil {
		out.variables = make(map[string]string, len(s.variables))
		for k, v := range s.variables {
			out.variables[k] = v
		}
	}
	return &out
}
