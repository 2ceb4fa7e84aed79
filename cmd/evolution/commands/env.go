package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/afero"

	"github.com/satishbabariya/schema-evolution/internal/config"
	"github.com/satishbabariya/schema-evolution/internal/evofile"
	"github.com/satishbabariya/schema-evolution/internal/evolve"
	"github.com/satishbabariya/schema-evolution/internal/history"
	"github.com/satishbabariya/schema-evolution/internal/introspect"
	"github.com/satishbabariya/schema-evolution/internal/migrations"
	"github.com/satishbabariya/schema-evolution/internal/registry"
)

// errAborted is returned when the user declines a confirmation.
var errAborted = errors.New("aborted by user")

// Env carries the loaded configuration into the commands.
type Env struct {
	Config *config.Config
	Fs     afero.Fs
}

func (e *Env) openDB(ctx context.Context) (*sql.DB, introspect.Provider, error) {
	provider, err := e.Config.ParsedProvider()
	if err != nil {
		return nil, "", err
	}
	if e.Config.DatabaseURL == "" {
		return nil, "", errors.New("no database URL configured; set DATABASE_URL or database_url")
	}
	db, err := sql.Open(provider.DriverName(), e.Config.DatabaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, provider, nil
}

func (e *Env) registry() (*registry.FileRegistry, error) {
	return registry.Load(e.Fs, e.Config.ModelsPath)
}

func (e *Env) evolutions() *evofile.Store {
	return evofile.NewStore(e.Fs, e.Config.EvolutionsDir)
}

func (e *Env) migrations() (*migrations.Set, error) {
	return migrations.Load(e.Fs, e.Config.MigrationsDir)
}

func (e *Env) history(db *sql.DB, provider introspect.Provider) *history.Store {
	return history.New(db, provider)
}

// newEvolver builds an Evolver on db from the configured files.
func (e *Env) newEvolver(ctx context.Context, db *sql.DB, provider introspect.Provider, configure func(*evolve.Options)) (*evolve.Evolver, error) {
	reg, err := e.registry()
	if err != nil {
		return nil, err
	}
	set, err := e.migrations()
	if err != nil {
		return nil, err
	}
	opts := evolve.Options{
		DB:         db,
		Provider:   provider,
		Database:   e.Config.DatabaseName,
		Registry:   reg,
		Evolutions: e.evolutions(),
		Migrations: set,
	}
	if configure != nil {
		configure(&opts)
	}
	return evolve.New(ctx, opts)
}
