package evolve

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyEvolved is returned by a second call to Evolve.
	ErrAlreadyEvolved = errors.New("Evolver.Evolve() has already been run once. It cannot be run again.")
	// ErrReservedApp is returned when the registry declares the evolver's
	// own app label.
	ErrReservedApp = errors.New("app label is reserved")
)

// EvolutionTaskAlreadyQueuedError is returned when a task with the same ID
// is queued twice.
type EvolutionTaskAlreadyQueuedError struct {
	TaskID string
	Msg    string
}

func (e *EvolutionTaskAlreadyQueuedError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("A task with ID %q is already queued.", e.TaskID)
}

// QueueEvolverTaskError is returned when a task is queued after the
// queued tasks were prepared.
type QueueEvolverTaskError struct {
	TaskID string
}

func (e *QueueEvolverTaskError) Error() string {
	return "Evolution tasks have already been prepared. New tasks cannot be added."
}

// NeedsUserInputError blocks an evolution whose mutations still carry
// placeholder initial values.
type NeedsUserInputError struct {
	AppLabels []string
}

func (e *NeedsUserInputError) Error() string {
	return fmt.Sprintf("Cannot evolve %s: initial values must be supplied for new or changed fields. "+
		"Write the evolution to a file and replace each placeholder.", strings.Join(quoted(e.AppLabels), ", "))
}

// EvolutionIncompleteError reports an app whose simulated signature does
// not match its registered models after the pending evolutions.
type EvolutionIncompleteError struct {
	AppLabel string
	Diff     string
}

func (e *EvolutionIncompleteError) Error() string {
	return fmt.Sprintf("Your models contain changes that Evolution cannot resolve automatically for %q. "+
		"Write an evolution covering:\n%s", e.AppLabel, e.Diff)
}

func quoted(labels []string) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = fmt.Sprintf("%q", l)
	}
	return out
}
