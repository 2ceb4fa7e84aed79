// Package migrations loads SQL migrations for migration-backed apps, plans
// them by dependency and records which have been applied.
//
// Migrations live in <dir>/<app>/<name>.sql. Each migration depends on the
// previous one in its app, by name order, and may declare more with header
// comments:
//
//	-- depends-on: accounts.0001_initial
package migrations

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/satishbabariya/schema-evolution/internal/graph"
)

const dependsOnPrefix = "-- depends-on:"

// Migration is one SQL migration file.
type Migration struct {
	Target       graph.MigrationTarget
	Dependencies []graph.MigrationTarget
	Statements   []string
	Checksum     string
}

// Set holds every known migration.
type Set struct {
	byApp  map[string][]*Migration
	byName map[graph.MigrationTarget]*Migration
}

// NewSet builds a set from migrations. Per-app order follows the names.
func NewSet(migs ...*Migration) (*Set, error) {
	s := &Set{
		byApp:  make(map[string][]*Migration),
		byName: make(map[graph.MigrationTarget]*Migration),
	}
	for _, m := range migs {
		if _, ok := s.byName[m.Target]; ok {
			return nil, fmt.Errorf("migration %s is declared twice", m.Target)
		}
		s.byName[m.Target] = m
		s.byApp[m.Target.AppLabel] = append(s.byApp[m.Target.AppLabel], m)
	}
	for _, list := range s.byApp {
		sort.Slice(list, func(i, j int) bool { return list[i].Target.Name < list[j].Target.Name })
	}
	return s, nil
}

// Load reads every migration under dir. A missing dir yields an empty set.
func Load(fs afero.Fs, dir string) (*Set, error) {
	apps, err := afero.ReadDir(fs, dir)
	if errors.Is(err, os.ErrNotExist) {
		return NewSet()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migs []*Migration
	for _, app := range apps {
		if !app.IsDir() {
			continue
		}
		files, err := afero.ReadDir(fs, filepath.Join(dir, app.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migrations for %q: %w", app.Name(), err)
		}
		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) != ".sql" {
				continue
			}
			data, err := afero.ReadFile(fs, filepath.Join(dir, app.Name(), f.Name()))
			if err != nil {
				return nil, fmt.Errorf("failed to read migration %s/%s: %w", app.Name(), f.Name(), err)
			}
			target := graph.MigrationTarget{AppLabel: app.Name(), Name: strings.TrimSuffix(f.Name(), ".sql")}
			m, err := Parse(target, string(data))
			if err != nil {
				return nil, err
			}
			migs = append(migs, m)
		}
	}
	return NewSet(migs...)
}

// Parse reads a migration script.
func Parse(target graph.MigrationTarget, script string) (*Migration, error) {
	m := &Migration{Target: target, Checksum: Checksum(script)}
	sc := bufio.NewScanner(strings.NewReader(script))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, dependsOnPrefix) {
			continue
		}
		for _, ref := range strings.Split(strings.TrimPrefix(line, dependsOnPrefix), ",") {
			ref = strings.TrimSpace(ref)
			if ref == "" {
				continue
			}
			app, name, ok := strings.Cut(ref, ".")
			if !ok || app == "" || name == "" {
				return nil, fmt.Errorf("migration %s: dependency %q must be of the form app.name", target, ref)
			}
			m.Dependencies = append(m.Dependencies, graph.MigrationTarget{AppLabel: app, Name: name})
		}
	}
	m.Statements = SplitStatements(script)
	return m, nil
}

// Checksum returns the hex SHA-256 of a script.
func Checksum(script string) string {
	sum := sha256.Sum256([]byte(script))
	return hex.EncodeToString(sum[:])
}

// Get returns a migration by target.
func (s *Set) Get(t graph.MigrationTarget) (*Migration, bool) {
	m, ok := s.byName[t]
	return m, ok
}

// AppLabels lists the apps with migrations.
func (s *Set) AppLabels() []string {
	out := make([]string, 0, len(s.byApp))
	for label := range s.byApp {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// Names lists an app's migrations in order.
func (s *Set) Names(appLabel string) []string {
	list := s.byApp[appLabel]
	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.Target.Name
	}
	return out
}

// Parents returns each migration's direct dependencies: the previous
// migration in its app plus the declared ones.
func (s *Set) Parents() map[graph.MigrationTarget][]graph.MigrationTarget {
	parents := make(map[graph.MigrationTarget][]graph.MigrationTarget, len(s.byName))
	for _, list := range s.byApp {
		for i, m := range list {
			var deps []graph.MigrationTarget
			if i > 0 {
				deps = append(deps, list[i-1].Target)
			}
			deps = append(deps, m.Dependencies...)
			parents[m.Target] = deps
		}
	}
	return parents
}

// Plan orders the migrations of the given apps, and those they depend on,
// with every migration after its dependencies. No apps means all apps.
func (s *Set) Plan(appLabels ...string) ([]graph.MigrationTarget, map[graph.MigrationTarget][]graph.MigrationTarget, error) {
	if len(appLabels) == 0 {
		appLabels = s.AppLabels()
	}
	parents := s.Parents()

	g := graph.New()
	keys := make(map[string]graph.MigrationTarget, len(s.byName))
	for _, label := range s.AppLabels() {
		for _, m := range s.byApp[label] {
			key := graph.MigrationKey(m.Target)
			keys[key] = m.Target
			if _, err := g.AddNode(key, m.Target); err != nil {
				return nil, nil, err
			}
		}
	}
	for target, deps := range parents {
		for _, dep := range deps {
			if err := g.AddDependency(graph.MigrationKey(target), graph.MigrationKey(dep)); err != nil {
				return nil, nil, err
			}
		}
	}
	if err := g.Finalize(); err != nil {
		return nil, nil, fmt.Errorf("failed to plan migrations: %w", err)
	}

	wanted := make(map[string]bool)
	var visit func(n *graph.Node)
	visit = func(n *graph.Node) {
		if wanted[n.Key] {
			return
		}
		wanted[n.Key] = true
		for _, dep := range n.Dependencies() {
			visit(dep)
		}
	}
	for _, label := range appLabels {
		for _, m := range s.byApp[label] {
			n, err := g.Node(graph.MigrationKey(m.Target))
			if err != nil {
				return nil, nil, err
			}
			visit(n)
		}
	}

	ordered, err := g.Ordered()
	if err != nil {
		return nil, nil, err
	}
	plan := make([]graph.MigrationTarget, 0, len(wanted))
	for _, n := range ordered {
		if wanted[n.Key] {
			plan = append(plan, keys[n.Key])
		}
	}
	planParents := make(map[graph.MigrationTarget][]graph.MigrationTarget, len(plan))
	for _, t := range plan {
		planParents[t] = parents[t]
	}
	return plan, planParents, nil
}
