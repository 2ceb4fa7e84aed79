package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satishbabariya/schema-evolution/internal/introspect"
)

// unsetenv clears key for the test and restores it afterwards.
func unsetenv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestLoadDefaults(t *testing.T) {
	unsetenv(t, "DATABASE_URL")
	unsetenv(t, "EVOLUTION_PROVIDER")

	cfg, err := Load(afero.NewMemMapFs())
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.DatabaseName)
	assert.Equal(t, "models.yaml", cfg.ModelsPath)
	assert.Equal(t, "evolutions", cfg.EvolutionsDir)
	assert.Equal(t, "migrations", cfg.MigrationsDir)
	assert.False(t, cfg.Debug)

	_, err = cfg.ParsedProvider()
	assert.ErrorContains(t, err, "no database provider configured")
}

func TestLoadConfigFileAndEnvironment(t *testing.T) {
	unsetenv(t, "DATABASE_URL")
	unsetenv(t, "EVOLUTION_MODELS_PATH")
	t.Setenv("EVOLUTION_PROVIDER", "postgres")

	wd, err := os.Getwd()
	require.NoError(t, err)
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, filepath.Join(wd, ".evolution.yaml"), []byte(`
provider: sqlite
models_path: schema/models.yaml
debug: true
required_version: ">= 0.1.0"
`), 0o644))
	require.NoError(t, afero.WriteFile(fs, ".env", []byte("DATABASE_URL=file:dev.db\n"), 0o644))

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Provider)
	assert.Equal(t, "schema/models.yaml", cfg.ModelsPath)
	assert.True(t, cfg.Debug)
	assert.Equal(t, ">= 0.1.0", cfg.RequiredVersion)
	assert.Equal(t, "file:dev.db", cfg.DatabaseURL)

	p, err := cfg.ParsedProvider()
	require.NoError(t, err)
	assert.Equal(t, introspect.Postgres, p)
}

func TestEnvLocalOverridesEnv(t *testing.T) {
	unsetenv(t, "DATABASE_URL")

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, ".env", []byte("DATABASE_URL=file:dev.db\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, ".env.local", []byte("DATABASE_URL=file:local.db\n"), 0o644))

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, "file:local.db", cfg.DatabaseURL)
}

func TestSaveWritesConfigFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	path, err := Save(fs, &Config{Provider: "mysql", DatabaseName: "default", ModelsPath: "models.yaml"})
	require.NoError(t, err)
	assert.Equal(t, ".evolution.yaml", filepath.Base(path))

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "provider: mysql")
}
