package migrations

import (
	"context"
	"fmt"
	"time"

	"github.com/satishbabariya/schema-evolution/internal/executor"
	"github.com/satishbabariya/schema-evolution/internal/graph"
	"github.com/satishbabariya/schema-evolution/internal/introspect"
)

// RecorderTable holds one row per applied migration.
const RecorderTable = "evolution_migrations"

// Record is an applied migration.
type Record struct {
	Target        graph.MigrationTarget
	AppliedAt     time.Time
	Checksum      string
	ExecutionTime int64 // milliseconds
}

// Recorder tracks applied migrations.
type Recorder struct {
	db       executor.DBTX
	provider introspect.Provider
}

// NewRecorder creates a recorder on db.
func NewRecorder(db executor.DBTX, provider introspect.Provider) *Recorder {
	return &Recorder{db: db, provider: provider}
}

// WithTx returns a copy of the recorder that runs on q.
func (r *Recorder) WithTx(q executor.DBTX) *Recorder {
	return &Recorder{db: q, provider: r.provider}
}

// EnsureTable creates the recorder table when missing.
func (r *Recorder) EnsureTable(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, r.createTableSQL()); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}
	return nil
}

func (r *Recorder) createTableSQL() string {
	switch r.provider {
	case introspect.Postgres:
		return `CREATE TABLE IF NOT EXISTS evolution_migrations (
			id SERIAL PRIMARY KEY,
			app_label VARCHAR(200) NOT NULL,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP NOT NULL,
			checksum VARCHAR(64) NOT NULL,
			execution_time INTEGER,
			UNIQUE (app_label, name)
		)`
	case introspect.MySQL:
		return `CREATE TABLE IF NOT EXISTS evolution_migrations (
			id INT AUTO_INCREMENT PRIMARY KEY,
			app_label VARCHAR(200) NOT NULL,
			name VARCHAR(255) NOT NULL,
			applied_at DATETIME(6) NOT NULL,
			checksum VARCHAR(64) NOT NULL,
			execution_time INT,
			UNIQUE (app_label, name)
		)`
	default:
		return `CREATE TABLE IF NOT EXISTS evolution_migrations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			app_label TEXT NOT NULL,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL,
			checksum TEXT NOT NULL,
			execution_time INTEGER,
			UNIQUE (app_label, name)
		)`
	}
}

// Record stores an applied migration.
func (r *Recorder) Record(ctx context.Context, rec Record) error {
	query := executor.Rebind(r.provider,
		"INSERT INTO evolution_migrations (app_label, name, applied_at, checksum, execution_time) VALUES (?, ?, ?, ?, ?)")
	_, err := r.db.ExecContext(ctx, query,
		rec.Target.AppLabel, rec.Target.Name, rec.AppliedAt, rec.Checksum, rec.ExecutionTime)
	if err != nil {
		return fmt.Errorf("failed to record migration %s: %w", rec.Target, err)
	}
	return nil
}

// Applied returns every applied migration in the order applied.
func (r *Recorder) Applied(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT app_label, name, applied_at, checksum, execution_time FROM evolution_migrations ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Target.AppLabel, &rec.Target.Name, &rec.AppliedAt, &rec.Checksum, &rec.ExecutionTime); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AppliedTargets returns the applied migrations as graph targets.
func (r *Recorder) AppliedTargets(ctx context.Context) ([]graph.MigrationTarget, error) {
	recs, err := r.Applied(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]graph.MigrationTarget, len(recs))
	for i, rec := range recs {
		out[i] = rec.Target
	}
	return out, nil
}

// AppliedByApp groups applied migration names by app.
func (r *Recorder) AppliedByApp(ctx context.Context) (map[string][]string, error) {
	targets, err := r.AppliedTargets(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string)
	for _, t := range targets {
		out[t.AppLabel] = append(out[t.AppLabel], t.Name)
	}
	return out, nil
}
