package evolve

// Listener observes an Evolver. Embed BaseListener to implement only the
// callbacks you need.
type Listener interface {
	Evolving(e *Evolver)
	Evolved(e *Evolver)
	EvolvingFailed(e *Evolver, err error)
	CreatingModels(e *Evolver, appLabel string, modelNames []string)
	CreatedModels(e *Evolver, appLabel string, modelNames []string)
	ApplyingEvolution(e *Evolver, task *EvolveAppTask, labels []string)
	AppliedEvolution(e *Evolver, task *EvolveAppTask, labels []string)
}

// BaseListener implements Listener with no-ops.
type BaseListener struct{}

func (BaseListener) Evolving(*Evolver) {}
func (BaseListener) Evolved(*Evolver) {}
func (BaseListener) EvolvingFailed(*Evolver, error) {}
func (BaseListener) CreatingModels(*Evolver, string, []string) {}
func (BaseListener) CreatedModels(*Evolver, string, []string) {}
func (BaseListener) ApplyingEvolution(*Evolver, *EvolveAppTask, []string) {}
func (BaseListener) AppliedEvolution(*Evolver, *EvolveAppTask, []string) {}

func (e *Evolver) notify(fn func(l Listener)) {
	for _, l := range e.listeners {
		fn(l)
	}
}
