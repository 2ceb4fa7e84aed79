// Package commands implements the evolution CLI.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/satishbabariya/schema-evolution/internal/config"
	"github.com/satishbabariya/schema-evolution/internal/debug"
	"github.com/satishbabariya/schema-evolution/internal/version"
)

// NewRootCommand builds the evolution command tree.
func NewRootCommand() *cobra.Command {
	env := &Env{Fs: config.AppFs}
	var (
		provider    string
		databaseURL string
		modelsPath  string
		verbose     bool
	)

	root := &cobra.Command{
		Use:           "evolution",
		Short:         "Evolve a database schema to match its models",
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(env.Fs)
			if err != nil {
				return err
			}
			if provider != "" {
				cfg.Provider = provider
			}
			if databaseURL != "" {
				cfg.DatabaseURL = databaseURL
			}
			if modelsPath != "" {
				cfg.ModelsPath = modelsPath
			}
			debug.Init(cfg.Debug || verbose)
			env.Config = cfg
			return version.CheckRequired(version.Version, cfg.RequiredVersion)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&provider, "provider", "", "database provider (sqlite, postgres, mysql)")
	flags.StringVar(&databaseURL, "database-url", "", "database connection string")
	flags.StringVar(&modelsPath, "models", "", "path to the models file")
	flags.BoolVar(&verbose, "debug", false, "enable debug logging")

	root.AddCommand(
		NewEvolveCommand(env),
		NewListEvolutionsCommand(env),
		NewMarkEvolutionAppliedCommand(env),
		NewWipeEvolutionCommand(env),
		NewProjectSigCommand(env),
		NewWatchCommand(env),
		NewVersionCommand(),
	)
	return root
}
