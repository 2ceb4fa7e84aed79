package migrations

import (
	"fmt"
	"time"

	"github.com/satishbabariya/schema-evolution/internal/debug"
	"github.com/satishbabariya/schema-evolution/internal/executor"
	"github.com/satishbabariya/schema-evolution/internal/graph"
)

// Apply runs migrations in order inside s and records each one. In a
// collecting session only the statements are recorded.
func Apply(s *executor.Session, set *Set, rec *Recorder, targets []graph.MigrationTarget) error {
	for _, target := range targets {
		m, ok := set.Get(target)
		if !ok {
			return fmt.Errorf("migration %s was not found", target)
		}

		start := time.Now()
		debug.Info("applying migration", "app", target.AppLabel, "migration", target.Name)
		if err := s.Execute(target.AppLabel, m.Statements); err != nil {
			return err
		}
		if s.Collecting() {
			continue
		}
		err := rec.WithTx(s.Tx()).Record(s.Context(), Record{
			Target:        target,
			AppliedAt:     time.Now().UTC(),
			Checksum:      m.Checksum,
			ExecutionTime: time.Since(start).Milliseconds(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}
