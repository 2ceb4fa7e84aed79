package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/satishbabariya/schema-evolution/internal/evolve"
	"github.com/satishbabariya/schema-evolution/internal/graph"
	"github.com/satishbabariya/schema-evolution/internal/ui"
)

type evolveOptions struct {
	hint    bool
	sql     bool
	write   string
	execute bool
	purge   bool
	noInput bool
}

// NewEvolveCommand creates the evolve command.
func NewEvolveCommand(env *Env) *cobra.Command {
	var opts evolveOptions
	cmd := &cobra.Command{
		Use:   "evolve [app...]",
		Short: "Evolve the database to match the registered models",
		Long: `Evolve the database to match the registered models.

Without --execute the command only reports what would change. --hint builds
the evolution from the difference between the stored signature and the
models instead of from evolution files; --write saves that evolution under
the given label. --sql prints the SQL that would run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.write != "" && !opts.hint {
				return errors.New("--write requires --hint")
			}
			if opts.sql && opts.execute {
				return errors.New("--sql and --execute cannot be combined")
			}
			return runEvolve(cmd.Context(), env, args, opts)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.hint, "hint", false, "generate the evolution from the model differences")
	flags.BoolVar(&opts.sql, "sql", false, "print the SQL instead of executing it")
	flags.StringVarP(&opts.write, "write", "w", "", "write the hinted evolution under this label")
	flags.BoolVarP(&opts.execute, "execute", "x", false, "apply the evolution to the database")
	flags.BoolVar(&opts.purge, "purge", false, "drop the tables of apps that are no longer registered")
	flags.BoolVar(&opts.noInput, "noinput", false, "do not prompt for confirmation")
	return cmd
}

func runEvolve(ctx context.Context, env *Env, apps []string, opts evolveOptions) error {
	db, provider, err := env.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	evolver, err := env.newEvolver(ctx, db, provider, func(o *evolve.Options) {
		o.Hinted = opts.hint
		o.DryRun = !opts.execute
		o.Listeners = []evolve.Listener{progressListener{}}
	})
	if err != nil {
		return err
	}

	if len(apps) == 0 {
		err = evolver.QueueEvolveAllApps()
	} else {
		for _, app := range apps {
			if err = evolver.QueueEvolveApp(app); err != nil {
				break
			}
		}
	}
	if err != nil {
		return err
	}
	if opts.purge {
		if err := evolver.QueuePurgeOldApps(); err != nil {
			return err
		}
	}

	required, err := evolver.EvolutionRequired()
	if err != nil {
		return err
	}
	if !required {
		ui.PrintSuccess("No evolution required.")
		return nil
	}

	if opts.hint {
		if err := printHints(env, evolver, opts.write); err != nil {
			return err
		}
	}
	if !opts.purge && len(evolver.InitialDiff().DeletedApps) > 0 {
		for _, app := range evolver.InitialDiff().DeletedApps {
			ui.PrintWarning("The application %s is no longer registered; use --purge to drop its tables.", app.AppLabel)
		}
	}

	switch {
	case opts.sql:
		if err := evolver.Evolve(ctx); err != nil {
			return err
		}
		ui.PrintSQL(evolver.CollectedSQL())
		return nil
	case opts.execute:
		return executeEvolution(ctx, evolver, opts.noInput)
	}

	ok, err := evolver.CanSimulate()
	if err != nil {
		return err
	}
	remaining, err := evolver.DiffEvolutions()
	if err != nil {
		return err
	}
	if ok && !remaining.IsEmpty(!opts.purge) {
		ui.PrintWarning("The stored evolutions do not cover every change:")
		if err := ui.PrintMarkdown(remaining.Markdown()); err != nil {
			return err
		}
		return nil
	}
	ui.PrintInfo("Evolution required. Run with --execute to apply it, or --sql to see the SQL.")
	return nil
}

func printHints(env *Env, evolver *evolve.Evolver, label string) error {
	contents, err := evolver.EvolutionContent()
	if err != nil {
		return err
	}
	if len(contents) == 0 {
		ui.PrintInfo("No hinted evolution is needed.")
		return nil
	}
	for _, c := range contents {
		ui.PrintSection(fmt.Sprintf("#----- Evolution for %s", c.Task.AppLabel()))
		fmt.Fprintln(ui.Out, strings.TrimRight(c.Content, "\n"))
	}
	if label == "" {
		return nil
	}

	store := env.evolutions()
	for _, c := range contents {
		if err := store.Write(c.Task.AppLabel(), label, graph.Dependencies{}, c.Task.Mutations()); err != nil {
			return err
		}
		ui.PrintSuccess("Wrote evolution %s.%s", c.Task.AppLabel(), label)
	}
	return nil
}

func executeEvolution(ctx context.Context, evolver *evolve.Evolver, noInput bool) error {
	ok, err := ui.Confirm(fmt.Sprintf("You have requested a database evolution. This will alter tables and data in the %q database. Continue?", evolver.Database()), noInput)
	if err != nil {
		return err
	}
	if !ok {
		return errAborted
	}

	if err := evolver.Evolve(ctx); err != nil {
		var needsInput *evolve.NeedsUserInputError
		if errors.As(err, &needsInput) {
			ui.PrintError("Evolutions for %s need a value only you can supply. Edit the evolution and try again.", strings.Join(needsInput.AppLabels, ", "))
		}
		return err
	}
	ui.PrintSuccess("Evolution successful.")
	return nil
}

// progressListener reports evolution progress.
type progressListener struct {
	evolve.BaseListener
}

func (progressListener) CreatingModels(_ *evolve.Evolver, app string, names []string) {
	ui.PrintInfo("Creating models for %s: %s", app, strings.Join(names, ", "))
}

func (progressListener) ApplyingEvolution(_ *evolve.Evolver, task *evolve.EvolveAppTask, labels []string) {
	if task.Hinted() {
		ui.PrintInfo("Applying hinted evolution for %s", task.AppLabel())
		return
	}
	ui.PrintInfo("Applying %s: %s", task.AppLabel(), strings.Join(labels, ", "))
}

func (progressListener) EvolvingFailed(_ *evolve.Evolver, err error) {
	ui.PrintError("Evolution failed: %v", err)
}
