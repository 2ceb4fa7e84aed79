// Package config loads the evolution tool's settings from a config file,
// the environment and .env files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/satishbabariya/schema-evolution/internal/introspect"
)

// AppFs is the filesystem config and project files are read from.
var AppFs = afero.NewOsFs()

const (
	configName = ".evolution"
	envPrefix  = "EVOLUTION"
)

// Config holds the tool's settings.
type Config struct {
	Provider        string
	DatabaseURL     string
	DatabaseName    string
	ModelsPath      string
	EvolutionsDir   string
	MigrationsDir   string
	Debug           bool
	RequiredVersion string
}

// ParsedProvider validates the configured provider.
func (c *Config) ParsedProvider() (introspect.Provider, error) {
	if c.Provider == "" {
		return "", errors.New("no database provider configured; set provider or EVOLUTION_PROVIDER")
	}
	return introspect.ParseProvider(c.Provider)
}

// LoadConfig reads .evolution.yaml from the working directory, the home
// directory or ~/.config/evolution, then applies EVOLUTION_* variables.
// Variables from .env and .env.local are loaded first; .env.local wins.
func LoadConfig() (*Config, error) {
	return Load(AppFs)
}

// Load is LoadConfig on an explicit filesystem.
func Load(fs afero.Fs) (*Config, error) {
	home, err := homedir.Dir()
	if err != nil {
		return nil, err
	}

	if err := loadEnvFile(fs, ".env", false); err != nil {
		return nil, err
	}
	if err := loadEnvFile(fs, ".env.local", true); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetFs(fs)
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(home)
	v.AddConfigPath(filepath.Join(home, ".config", "evolution"))

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	v.SetDefault("database_name", "default")
	v.SetDefault("models_path", "models.yaml")
	v.SetDefault("evolutions_dir", "evolutions")
	v.SetDefault("migrations_dir", "migrations")
	v.SetDefault("debug", false)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{
		Provider:        v.GetString("provider"),
		DatabaseURL:     v.GetString("database_url"),
		DatabaseName:    v.GetString("database_name"),
		ModelsPath:      v.GetString("models_path"),
		EvolutionsDir:   v.GetString("evolutions_dir"),
		MigrationsDir:   v.GetString("migrations_dir"),
		Debug:           v.GetBool("debug"),
		RequiredVersion: v.GetString("required_version"),
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	return cfg, nil
}

// loadEnvFile sets variables from a dotenv file. Existing variables are
// kept unless override is set.
func loadEnvFile(fs afero.Fs, path string, override bool) error {
	data, err := afero.ReadFile(fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	vars, err := godotenv.Parse(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for key, value := range vars {
		if _, set := os.LookupEnv(key); set && !override {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}
	return nil
}

// SaveConfig writes cfg to ~/.config/evolution/.evolution.yaml and returns
// the path written.
func SaveConfig(cfg *Config) (string, error) {
	return Save(AppFs, cfg)
}

// Save is SaveConfig on an explicit filesystem.
func Save(fs afero.Fs, cfg *Config) (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}

	v := viper.New()
	v.SetFs(fs)
	v.Set("provider", cfg.Provider)
	v.Set("database_name", cfg.DatabaseName)
	v.Set("models_path", cfg.ModelsPath)
	v.Set("evolutions_dir", cfg.EvolutionsDir)
	v.Set("migrations_dir", cfg.MigrationsDir)
	v.Set("debug", cfg.Debug)
	if cfg.RequiredVersion != "" {
		v.Set("required_version", cfg.RequiredVersion)
	}

	dir := filepath.Join(home, ".config", "evolution")
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, configName+".yaml")
	if err := v.WriteConfigAs(path); err != nil {
		return "", err
	}
	return path, nil
}
