package mutations

import (
	"fmt"

	"github.com/satishbabariya/schema-evolution/internal/signature"
)

// SQLMutation runs hand-written SQL. Update keeps the signature in step
// with what the SQL does; without it the mutation cannot be simulated.
type SQLMutation struct {
	Tag    string
	SQL    []string
	Update func(appLabel string, project *signature.ProjectSignature) error
}

func (m *SQLMutation) Kind() Kind { return KindSQL }

func (m *SQLMutation) subject(appLabel string) string {
	return fmt.Sprintf("Cannot run the SQL mutation %q on application %q.", m.Tag, appLabel)
}

func (m *SQLMutation) IsMutable(c *MutateContext) bool { return true }

func (m *SQLMutation) Simulate(s *Simulation) error {
	if m.Update == nil {
		return &CannotSimulate{Kind: KindSQL, Reason: fmt.Sprintf("SQL mutation %q has no signature update function.", m.Tag)}
	}
	if err := m.Update(s.AppLabel, s.Project); err != nil {
		return s.Fail(err.Error())
	}
	return nil
}

func (m *SQLMutation) Mutate(c *MutateContext) ([]string, error) {
	return append([]string(nil), m.SQL...), nil
}
