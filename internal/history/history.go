// Package history stores project signature versions and the evolutions
// applied with them.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/satishbabariya/schema-evolution/internal/executor"
	"github.com/satishbabariya/schema-evolution/internal/introspect"
	"github.com/satishbabariya/schema-evolution/internal/signature"
)

const (
	// VersionTable holds one row per stored project signature.
	VersionTable = "evolution_version"
	// EvolutionTable holds one row per applied evolution.
	EvolutionTable = "evolution_applied"
)

// ErrNoVersion is returned when no version has been stored.
var ErrNoVersion = errors.New("no stored signature version")

// Version is a stored project signature.
type Version struct {
	ID        int64
	When      time.Time
	Signature string
}

// Project decodes the stored signature.
func (v *Version) Project() (*signature.ProjectSignature, error) {
	return signature.DecodeText(v.Signature)
}

// Evolution records that an evolution was applied as of a version.
type Evolution struct {
	ID        int64
	VersionID int64
	AppLabel  string
	Label     string
}

// Store reads and writes versions and evolutions.
type Store struct {
	db       executor.DBTX
	provider introspect.Provider
	now      func() time.Time
}

// New creates a store on db.
func New(db executor.DBTX, provider introspect.Provider) *Store {
	return &Store{db: db, provider: provider, now: func() time.Time { return time.Now().UTC() }}
}

// WithTx returns a copy of the store that runs on q.
func (s *Store) WithTx(q executor.DBTX) *Store {
	c := *s
	c.db = q
	return &c
}

// SetClock overrides the timestamp source.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) q(query string) string { return executor.Rebind(s.provider, query) }

func (s *Store) when() string { return executor.QuoteIdent(s.provider, "when") }

// EnsureTables creates the history tables when missing.
func (s *Store) EnsureTables(ctx context.Context) error {
	for _, stmt := range s.createTablesSQL() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create history tables: %w", err)
		}
	}
	return nil
}

func (s *Store) createTablesSQL() []string {
	switch s.provider {
	case introspect.Postgres:
		return []string{
			`CREATE TABLE IF NOT EXISTS evolution_version (
				id SERIAL PRIMARY KEY,
				signature TEXT NOT NULL,
				"when" TIMESTAMP NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS evolution_applied (
				id SERIAL PRIMARY KEY,
				version_id INTEGER NOT NULL REFERENCES evolution_version (id) ON DELETE CASCADE,
				app_label VARCHAR(200) NOT NULL,
				label VARCHAR(100) NOT NULL
			)`,
		}
	case introspect.MySQL:
		return []string{
			"CREATE TABLE IF NOT EXISTS evolution_version (" +
				"id INT AUTO_INCREMENT PRIMARY KEY, " +
				"signature LONGTEXT NOT NULL, " +
				"`when` DATETIME(6) NOT NULL)",
			"CREATE TABLE IF NOT EXISTS evolution_applied (" +
				"id INT AUTO_INCREMENT PRIMARY KEY, " +
				"version_id INT NOT NULL, " +
				"app_label VARCHAR(200) NOT NULL, " +
				"label VARCHAR(100) NOT NULL, " +
				"FOREIGN KEY (version_id) REFERENCES evolution_version (id) ON DELETE CASCADE)",
		}
	default:
		return []string{
			`CREATE TABLE IF NOT EXISTS evolution_version (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				signature TEXT NOT NULL,
				"when" DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS evolution_applied (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				version_id INTEGER NOT NULL REFERENCES evolution_version (id) ON DELETE CASCADE,
				app_label VARCHAR(200) NOT NULL,
				label VARCHAR(100) NOT NULL
			)`,
		}
	}
}

// SaveVersion stores project as the newest version.
func (s *Store) SaveVersion(ctx context.Context, project *signature.ProjectSignature) (*Version, error) {
	text, err := signature.EncodeText(project)
	if err != nil {
		return nil, err
	}
	v := &Version{When: s.now(), Signature: text}

	query := fmt.Sprintf("INSERT INTO evolution_version (signature, %s) VALUES (?, ?)", s.when())
	if s.provider == introspect.Postgres {
		err = s.db.QueryRowContext(ctx, s.q(query+" RETURNING id"), v.Signature, v.When).Scan(&v.ID)
	} else {
		var res sql.Result
		res, err = s.db.ExecContext(ctx, s.q(query), v.Signature, v.When)
		if err == nil {
			v.ID, err = res.LastInsertId()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to store signature version: %w", err)
	}
	return v, nil
}

// CurrentVersion returns the newest version. Ties on the timestamp go to
// the highest id.
func (s *Store) CurrentVersion(ctx context.Context) (*Version, error) {
	query := fmt.Sprintf("SELECT id, %[1]s, signature FROM evolution_version ORDER BY %[1]s DESC, id DESC LIMIT 1", s.when())
	v := &Version{}
	err := s.db.QueryRowContext(ctx, query).Scan(&v.ID, &v.When, &v.Signature)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoVersion
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query current version: %w", err)
	}
	return v, nil
}

// Version returns a version by id.
func (s *Store) Version(ctx context.Context, id int64) (*Version, error) {
	query := fmt.Sprintf("SELECT id, %s, signature FROM evolution_version WHERE id = ?", s.when())
	v := &Version{}
	err := s.db.QueryRowContext(ctx, s.q(query), id).Scan(&v.ID, &v.When, &v.Signature)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrNoVersion, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query version %d: %w", id, err)
	}
	return v, nil
}

// Versions lists every version, newest first.
func (s *Store) Versions(ctx context.Context) ([]*Version, error) {
	query := fmt.Sprintf("SELECT id, %[1]s, signature FROM evolution_version ORDER BY %[1]s DESC, id DESC", s.when())
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	var out []*Version
	for rows.Next() {
		v := &Version{}
		if err := rows.Scan(&v.ID, &v.When, &v.Signature); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// DeleteVersion removes a version and the evolutions recorded with it.
func (s *Store) DeleteVersion(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, s.q("DELETE FROM evolution_applied WHERE version_id = ?"), id); err != nil {
		return fmt.Errorf("failed to delete evolutions of version %d: %w", id, err)
	}
	res, err := s.db.ExecContext(ctx, s.q("DELETE FROM evolution_version WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("failed to delete version %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: id %d", ErrNoVersion, id)
	}
	return nil
}

// RecordEvolutions stores applied evolutions for an app against a version.
func (s *Store) RecordEvolutions(ctx context.Context, versionID int64, appLabel string, labels ...string) error {
	query := s.q("INSERT INTO evolution_applied (version_id, app_label, label) VALUES (?, ?, ?)")
	for _, label := range labels {
		if _, err := s.db.ExecContext(ctx, query, versionID, appLabel, label); err != nil {
			return fmt.Errorf("failed to record evolution %s.%s: %w", appLabel, label, err)
		}
	}
	return nil
}

// Evolutions lists applied evolutions in the order they were recorded.
// With no app labels every app is listed.
func (s *Store) Evolutions(ctx context.Context, appLabels ...string) ([]Evolution, error) {
	query := "SELECT id, version_id, app_label, label FROM evolution_applied"
	args := make([]any, len(appLabels))
	if len(appLabels) > 0 {
		marks := make([]string, len(appLabels))
		for i, label := range appLabels {
			marks[i] = "?"
			args[i] = label
		}
		query += " WHERE app_label IN (" + strings.Join(marks, ", ") + ")"
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query evolutions: %w", err)
	}
	defer rows.Close()

	var out []Evolution
	for rows.Next() {
		var ev Evolution
		if err := rows.Scan(&ev.ID, &ev.VersionID, &ev.AppLabel, &ev.Label); err != nil {
			return nil, fmt.Errorf("failed to scan evolution: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// AppliedLabels returns the applied evolution labels per app.
func (s *Store) AppliedLabels(ctx context.Context) (map[string][]string, error) {
	evs, err := s.Evolutions(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string)
	for _, ev := range evs {
		out[ev.AppLabel] = append(out[ev.AppLabel], ev.Label)
	}
	return out, nil
}

// DeleteEvolutions forgets applied evolutions of an app. It returns the
// number of rows removed.
func (s *Store) DeleteEvolutions(ctx context.Context, appLabel string, labels ...string) (int64, error) {
	var total int64
	query := s.q("DELETE FROM evolution_applied WHERE app_label = ? AND label = ?")
	for _, label := range labels {
		res, err := s.db.ExecContext(ctx, query, appLabel, label)
		if err != nil {
			return total, fmt.Errorf("failed to delete evolution %s.%s: %w", appLabel, label, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
