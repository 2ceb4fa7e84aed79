package mutations

import (
	"errors"
	"fmt"
	"strings"

	"github.com/satishbabariya/schema-evolution/internal/graph"
	"github.com/satishbabariya/schema-evolution/internal/signature"
	"github.com/satishbabariya/schema-evolution/internal/sqlgen"
)

// DeleteApplication drops every table owned by an app.
type DeleteApplication struct{}

func (m *DeleteApplication) Kind() Kind { return KindDeleteApplication }

func (m *DeleteApplication) subject(appLabel string) string {
	return fmt.Sprintf("Cannot delete the application %q.", appLabel)
}

func (m *DeleteApplication) IsMutable(c *MutateContext) bool { return true }

func (m *DeleteApplication) Simulate(s *Simulation) error {
	app, err := s.AppSig()
	if err != nil {
		return err
	}
	for _, name := range app.ModelNames() {
		if err := app.RemoveModelSig(name); err != nil {
			return err
		}
	}
	return nil
}

func (m *DeleteApplication) Mutate(c *MutateContext) ([]string, error) {
	tables, err := m.dropOrder(c)
	if err != nil {
		return nil, err
	}
	var sql []string
	for _, table := range tables {
		sql = append(sql, c.Generator.DropTable(table)...)
	}
	return sql, nil
}

// PostMutate forgets the dropped tables.
func (m *DeleteApplication) PostMutate(c *MutateContext) error {
	if c.State == nil {
		return nil
	}
	tables, err := m.dropOrder(c)
	if err != nil {
		return err
	}
	for _, table := range tables {
		c.State.RemoveTable(table)
	}
	return nil
}

// dropOrder returns the app's tables so that every table is dropped before
// the tables it references.
func (m *DeleteApplication) dropOrder(c *MutateContext) ([]string, error) {
	app := c.Project.AppSig(c.AppLabel)
	if app == nil {
		return nil, fmt.Errorf("application %q: %w", c.AppLabel, signature.ErrMissingSignature)
	}

	var models []*signature.ModelSignature
	for _, model := range app.ModelSigs() {
		if !c.routedHere(model.ModelName) {
			continue
		}
		models = append(models, model)
		models = append(models, sqlgen.ThroughModels(c.AppLabel, model)...)
	}

	// Tables that reference each other have no safe order. Each loop is
	// broken at the reference that closes it, and the tables are dropped
	// with constraint checks off.
	broken := make(map[[2]string]bool)
	for {
		tables, err := m.orderTables(c, models, broken)
		var cycle *graph.CycleError
		if !errors.As(err, &cycle) {
			return tables, err
		}
		node, dep := cycle.Edge()
		broken[[2]string{node, dep}] = true
	}
}

func (m *DeleteApplication) orderTables(c *MutateContext, models []*signature.ModelSignature, broken map[[2]string]bool) ([]string, error) {
	g := graph.New()
	owned := make(map[string]bool)
	for _, model := range models {
		if owned[model.TableName] {
			continue
		}
		owned[model.TableName] = true
		if _, err := g.AddNode(model.TableName, nil); err != nil {
			return nil, err
		}
	}
	for _, model := range models {
		for _, field := range model.FieldSigs() {
			if field.FieldType != signature.FieldForeignKey && field.FieldType != signature.FieldOneToOne {
				continue
			}
			refTable, _ := sqlgen.ReferencedColumn(c.Project, field)
			if !owned[refTable] || refTable == model.TableName || broken[[2]string{refTable, model.TableName}] {
				continue
			}
			if err := g.AddDependency(refTable, model.TableName); err != nil {
				return nil, err
			}
		}
	}
	if err := g.Finalize(); err != nil {
		return nil, err
	}
	ordered, err := g.Ordered()
	if err != nil {
		return nil, err
	}
	tables := make([]string, len(ordered))
	for i, n := range ordered {
		tables[i] = n.Key
	}
	return tables, nil
}

// MoveToMigrations hands an app over to migrations. MarkApplied lists the
// migrations whose changes the app's evolutions already made.
type MoveToMigrations struct {
	MarkApplied []string
}

func (m *MoveToMigrations) Kind() Kind { return KindMoveToMigrations }

func (m *MoveToMigrations) subject(appLabel string) string {
	return fmt.Sprintf("Cannot move the application %q to migrations.", appLabel)
}

func (m *MoveToMigrations) IsMutable(c *MutateContext) bool { return true }

func (m *MoveToMigrations) Simulate(s *Simulation) error {
	app, err := s.AppSig()
	if err != nil {
		return err
	}
	app.UpgradeMethod = signature.UpgradeMigrations
	app.AddAppliedMigrations(m.MarkApplied...)
	return nil
}

func (m *MoveToMigrations) Mutate(c *MutateContext) ([]string, error) { return nil, nil }

// Dependencies places the evolution after the migrations it marks applied.
func (m *MoveToMigrations) Dependencies(appLabel string) graph.Dependencies {
	var deps graph.Dependencies
	for _, name := range m.MarkApplied {
		deps.AfterMigrations = append(deps.AfterMigrations, graph.MigrationTarget{AppLabel: appLabel, Name: name})
	}
	return deps
}

// RenameAppLabel moves an app's signature to a new label and rewrites
// relations pointing into it. When ModelNames is set only those models
// move. No SQL is needed since table names are unchanged.
type RenameAppLabel struct {
	OldAppLabel    string
	NewAppLabel    string
	LegacyAppLabel string
	ModelNames     []string
}

func (m *RenameAppLabel) Kind() Kind { return KindRenameAppLabel }

func (m *RenameAppLabel) subject(appLabel string) string {
	return fmt.Sprintf("Cannot rename the application %q to %q.", m.OldAppLabel, m.NewAppLabel)
}

func (m *RenameAppLabel) IsMutable(c *MutateContext) bool { return true }

func (m *RenameAppLabel) Simulate(s *Simulation) error {
	old := s.Project.AppSig(m.OldAppLabel)
	if old == nil {
		return s.Fail("The application could not be found in the signature.")
	}

	moved := old.ModelNames()
	if len(m.ModelNames) > 0 {
		moved = m.ModelNames
	}
	target := s.Project.AppSig(m.NewAppLabel)
	if target == nil || target == old {
		target = signature.NewAppSignature(m.NewAppLabel)
		target.UpgradeMethod = old.UpgradeMethod
		target.SetAppliedMigrations(old.AppliedMigrations())
	}
	target.LegacyAppLabel = m.LegacyAppLabel
	if target.LegacyAppLabel == "" {
		target.LegacyAppLabel = old.LegacyAppLabel
	}

	for _, name := range moved {
		model := old.ModelSig(name)
		if model == nil {
			return s.Fail(fmt.Sprintf("The model %q could not be found in the signature.", name))
		}
		if err := old.RemoveModelSig(name); err != nil {
			return err
		}
		target.AddModelSig(model)
	}
	if old.IsEmpty() {
		if err := s.Project.RemoveAppSig(old.AppID); err != nil {
			return err
		}
	}
	s.Project.AddAppSig(target)

	oldPrefix := old.AppID + "."
	for _, app := range s.Project.AppSigs() {
		for _, model := range app.ModelSigs() {
			for _, field := range model.FieldSigs() {
				if !strings.HasPrefix(field.RelatedModel, oldPrefix) {
					continue
				}
				if target.ModelSig(strings.TrimPrefix(field.RelatedModel, oldPrefix)) != nil {
					field.RelatedModel = m.NewAppLabel + "." + strings.TrimPrefix(field.RelatedModel, oldPrefix)
				}
			}
		}
	}
	return nil
}

func (m *RenameAppLabel) Mutate(c *MutateContext) ([]string, error) { return nil, nil }
