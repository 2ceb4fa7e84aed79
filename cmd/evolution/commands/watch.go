package commands

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/satishbabariya/schema-evolution/internal/evolve"
	"github.com/satishbabariya/schema-evolution/internal/ui"
	"github.com/satishbabariya/schema-evolution/internal/watch"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Report pending changes whenever the models or evolutions change",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			db, provider, err := env.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			report := func() error {
				evolver, err := env.newEvolver(ctx, db, provider, func(o *evolve.Options) { o.DryRun = true })
				if err != nil {
					return err
				}
				d := evolver.InitialDiff()
				if d.IsEmpty(false) {
					ui.PrintSuccess("The database signature matches the models.")
					return nil
				}
				return ui.PrintMarkdown(d.Markdown())
			}

			dirs := []string{env.Config.EvolutionsDir}
			if entries, err := afero.ReadDir(env.Fs, env.Config.EvolutionsDir); err == nil {
				for _, entry := range entries {
					if entry.IsDir() {
						dirs = append(dirs, filepath.Join(env.Config.EvolutionsDir, entry.Name()))
					}
				}
			}
			w, err := watch.NewWatcher([]string{env.Config.ModelsPath}, dirs, report)
			if err != nil {
				return err
			}
			ui.PrintInfo("Watching %s for changes. Press Ctrl+C to stop.", env.Config.ModelsPath)
			return w.Run(ctx, func(err error) { ui.PrintError("%v", err) })
		},
	}
}
