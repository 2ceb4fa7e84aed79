package evolve

// TaskState tracks a task through preparation and execution.
type TaskState string

const (
	StatePending         TaskState = "pending"
	StateNotRequired     TaskState = "not-required"
	StateReadyToSimulate TaskState = "ready-to-simulate"
	StateNeedsUserInput  TaskState = "needs-user-input"
	StateApplied         TaskState = "applied"
)

// Task is a unit of work queued on an Evolver.
type Task interface {
	ID() string
	AppLabel() string
	State() TaskState
	// EvolutionRequired reports whether the task changes the database.
	EvolutionRequired() bool
	// CanSimulate reports whether every change could be simulated.
	CanSimulate() bool
	// SQL returns the statements the task runs.
	SQL() []string
	// NewEvolutions returns the evolution labels recorded once applied.
	NewEvolutions() []string
	String() string
}

// taskBase holds the state shared by every task.
type taskBase struct {
	id       string
	appLabel string
	state    TaskState

	evolutionRequired bool
	canSimulate       bool
	sql               []string
	newEvolutions     []string
}

func newTaskBase(id, appLabel string) taskBase {
	return taskBase{id: id, appLabel: appLabel, state: StatePending}
}

func (t *taskBase) ID() string              { return t.id }
func (t *taskBase) AppLabel() string        { return t.appLabel }
func (t *taskBase) State() TaskState        { return t.state }
func (t *taskBase) EvolutionRequired() bool { return t.evolutionRequired }
func (t *taskBase) CanSimulate() bool       { return t.canSimulate }
func (t *taskBase) SQL() []string           { return append([]string(nil), t.sql...) }
func (t *taskBase) NewEvolutions() []string { return append([]string(nil), t.newEvolutions...) }

// settle moves a prepared task out of StatePending.
func (t *taskBase) settle(needsInput bool) {
	switch {
	case !t.evolutionRequired:
		t.state = StateNotRequired
	case needsInput:
		t.state = StateNeedsUserInput
	default:
		t.state = StateReadyToSimulate
	}
}
