package mutations

import (
	"errors"
	"fmt"
)

var (
	// ErrSimulationFailure matches every SimulationFailure.
	ErrSimulationFailure = errors.New("simulation failure")
	// ErrCannotSimulate matches every CannotSimulate.
	ErrCannotSimulate = errors.New("cannot simulate")
	// ErrNotImplemented is returned when a mutation asks for a change the
	// SQL layer has no rendering for.
	ErrNotImplemented = errors.New("evolution not implemented")
)

// SimulationFailure is returned when a mutation cannot be applied to a
// signature.
type SimulationFailure struct {
	Kind Kind
	// Subject names what was being changed, e.g. `Cannot add the field
	// "isbn" to model "books.Book".`
	Subject string
	Reason  string
}

func (e *SimulationFailure) Error() string {
	return e.Subject + " " + e.Reason
}

// Is reports whether target is ErrSimulationFailure.
func (e *SimulationFailure) Is(target error) bool {
	return target == ErrSimulationFailure
}

// CannotSimulate is returned by mutations whose effect on the signature is
// unknown, such as raw SQL without an update function. The SQL still runs
// but the simulated signature can no longer be trusted.
type CannotSimulate struct {
	Kind   Kind
	Reason string
}

func (e *CannotSimulate) Error() string {
	if e.Reason == "" {
		return "Cannot simulate the mutation."
	}
	return fmt.Sprintf("Cannot simulate the mutation. %s", e.Reason)
}

// Is reports whether target is ErrCannotSimulate.
func (e *CannotSimulate) Is(target error) bool {
	return target == ErrCannotSimulate
}

func notImplementedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotImplemented, fmt.Sprintf(format, args...))
}
