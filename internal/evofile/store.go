package evofile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/satishbabariya/schema-evolution/internal/graph"
	"github.com/satishbabariya/schema-evolution/internal/mutations"
)

const (
	sequenceFile = "sequence.yaml"
	fileExt      = ".evo"
)

var labelPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Sequence is an app's sequence.yaml: the ordered evolution labels and the
// ordering constraints for the app as a whole.
type Sequence struct {
	Evolutions       []string `yaml:"sequence"`
	AfterEvolutions  []string `yaml:"after_evolutions,omitempty"`
	BeforeEvolutions []string `yaml:"before_evolutions,omitempty"`
	AfterMigrations  []string `yaml:"after_migrations,omitempty"`
	BeforeMigrations []string `yaml:"before_migrations,omitempty"`
}

// Dependencies converts the app-level constraints.
func (s *Sequence) Dependencies() (graph.Dependencies, error) {
	var deps graph.Dependencies
	for _, ref := range s.AfterEvolutions {
		deps.AfterEvolutions = append(deps.AfterEvolutions, ParseEvolutionTarget(ref))
	}
	for _, ref := range s.BeforeEvolutions {
		deps.BeforeEvolutions = append(deps.BeforeEvolutions, ParseEvolutionTarget(ref))
	}
	for _, ref := range s.AfterMigrations {
		t, ok := ParseMigrationTarget(ref)
		if !ok {
			return deps, fmt.Errorf("migration reference %q must be of the form app.name", ref)
		}
		deps.AfterMigrations = append(deps.AfterMigrations, t)
	}
	for _, ref := range s.BeforeMigrations {
		t, ok := ParseMigrationTarget(ref)
		if !ok {
			return deps, fmt.Errorf("migration reference %q must be of the form app.name", ref)
		}
		deps.BeforeMigrations = append(deps.BeforeMigrations, t)
	}
	return deps, nil
}

// Store reads and writes evolution files under <dir>/<app>/.
type Store struct {
	fs  afero.Fs
	dir string
}

// NewStore creates a store rooted at dir.
func NewStore(fs afero.Fs, dir string) *Store {
	return &Store{fs: fs, dir: dir}
}

func (s *Store) appDir(appLabel string) string {
	return filepath.Join(s.dir, appLabel)
}

// Sequence reads an app's sequence. Apps without evolutions have an empty
// sequence.
func (s *Store) Sequence(appLabel string) (*Sequence, error) {
	data, err := afero.ReadFile(s.fs, filepath.Join(s.appDir(appLabel), sequenceFile))
	if errors.Is(err, os.ErrNotExist) {
		return &Sequence{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read evolution sequence for %q: %w", appLabel, err)
	}
	var seq Sequence
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&seq); err != nil {
		return nil, fmt.Errorf("failed to parse evolution sequence for %q: %w", appLabel, err)
	}
	for _, label := range seq.Evolutions {
		if !labelPattern.MatchString(label) {
			return nil, fmt.Errorf("evolution sequence for %q: invalid label %q", appLabel, label)
		}
	}
	return &seq, nil
}

// SaveSequence writes an app's sequence.
func (s *Store) SaveSequence(appLabel string, seq *Sequence) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(seq); err != nil {
		return fmt.Errorf("failed to encode evolution sequence: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := s.fs.MkdirAll(s.appDir(appLabel), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(s.fs, filepath.Join(s.appDir(appLabel), sequenceFile), buf.Bytes(), 0o644)
}

// Load reads one evolution.
func (s *Store) Load(appLabel, label string) (*Evolution, error) {
	path := filepath.Join(s.appDir(appLabel), label+fileExt)
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open evolution %s.%s: %w", appLabel, label, err)
	}
	defer f.Close()

	ev, err := Parse(path, f)
	if err != nil {
		return nil, err
	}
	ev.AppLabel = appLabel
	ev.Label = label
	return ev, nil
}

// LoadAll reads every evolution in an app's sequence, in order.
func (s *Store) LoadAll(appLabel string) ([]*Evolution, error) {
	seq, err := s.Sequence(appLabel)
	if err != nil {
		return nil, err
	}
	out := make([]*Evolution, 0, len(seq.Evolutions))
	for _, label := range seq.Evolutions {
		ev, err := s.Load(appLabel, label)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// Pending returns the evolutions in an app's sequence that are not in
// applied, in sequence order.
func (s *Store) Pending(appLabel string, applied []string) ([]*Evolution, error) {
	seq, err := s.Sequence(appLabel)
	if err != nil {
		return nil, err
	}
	var out []*Evolution
	for _, label := range seq.Evolutions {
		if slices.Contains(applied, label) {
			continue
		}
		ev, err := s.Load(appLabel, label)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// Write stores a new evolution and appends it to the app's sequence.
func (s *Store) Write(appLabel, label string, deps graph.Dependencies, muts []mutations.Mutation) error {
	if !labelPattern.MatchString(label) {
		return fmt.Errorf("invalid evolution label %q", label)
	}
	seq, err := s.Sequence(appLabel)
	if err != nil {
		return err
	}
	if slices.Contains(seq.Evolutions, label) {
		return fmt.Errorf("evolution %s.%s already exists", appLabel, label)
	}
	text, err := Format(deps, muts)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(s.appDir(appLabel), 0o755); err != nil {
		return err
	}
	path := filepath.Join(s.appDir(appLabel), label+fileExt)
	if err := afero.WriteFile(s.fs, path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("failed to write evolution %s.%s: %w", appLabel, label, err)
	}
	seq.Evolutions = append(seq.Evolutions, label)
	return s.SaveSequence(appLabel, seq)
}
