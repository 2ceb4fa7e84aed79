package commands

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/satishbabariya/schema-evolution/internal/history"
	"github.com/satishbabariya/schema-evolution/internal/ui"
)

// NewListEvolutionsCommand creates the list-evolutions command.
func NewListEvolutionsCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "list-evolutions [app...]",
		Short: "List the evolutions applied to the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, provider, err := env.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			store := env.history(db, provider)
			evolutions, err := store.Evolutions(ctx, args...)
			if err != nil {
				return err
			}
			if len(evolutions) == 0 {
				ui.PrintInfo("No evolutions have been applied.")
				return nil
			}
			versions, err := store.Versions(ctx)
			if err != nil {
				return err
			}
			applied := make(map[int64]string, len(versions))
			for _, v := range versions {
				applied[v.ID] = humanize.Time(v.When)
			}

			rows := make([][]string, len(evolutions))
			for i, ev := range evolutions {
				rows[i] = []string{ev.AppLabel, ev.Label, strconv.FormatInt(ev.VersionID, 10), applied[ev.VersionID]}
			}
			return ui.PrintTable([]string{"App", "Evolution", "Version", "Applied"}, rows)
		},
	}
}

// NewMarkEvolutionAppliedCommand creates the mark-evolution-applied command.
func NewMarkEvolutionAppliedCommand(env *Env) *cobra.Command {
	var (
		app     string
		all     bool
		noInput bool
	)
	cmd := &cobra.Command{
		Use:   "mark-evolution-applied --app APP (--all | label...)",
		Short: "Record evolutions as applied without running them",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return errors.New("pass either --all or one or more evolution labels")
			}
			ctx := cmd.Context()
			db, provider, err := env.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			store := env.history(db, provider)
			current, err := store.CurrentVersion(ctx)
			if errors.Is(err, history.ErrNoVersion) {
				return errors.New("the database has no stored signature; run evolve --execute first")
			}
			if err != nil {
				return err
			}

			seq, err := env.evolutions().Sequence(app)
			if err != nil {
				return err
			}
			appliedByApp, err := store.AppliedLabels(ctx)
			if err != nil {
				return err
			}
			applied := appliedByApp[app]

			labels := args
			if all {
				labels = nil
				for _, label := range seq.Evolutions {
					if !slices.Contains(applied, label) {
						labels = append(labels, label)
					}
				}
			}
			for _, label := range labels {
				if !slices.Contains(seq.Evolutions, label) {
					return fmt.Errorf("%s.%s is not a known evolution", app, label)
				}
				if slices.Contains(applied, label) {
					return fmt.Errorf("%s.%s is already applied", app, label)
				}
			}
			if len(labels) == 0 {
				ui.PrintInfo("Every evolution for %s is already applied.", app)
				return nil
			}

			ui.PrintList(prefixed(app, labels))
			ok, err := ui.Confirm("These evolutions will be marked as applied without running them. Continue?", noInput)
			if err != nil {
				return err
			}
			if !ok {
				return errAborted
			}
			if err := store.RecordEvolutions(ctx, current.ID, app, labels...); err != nil {
				return err
			}
			ui.PrintSuccess("Marked %d evolution(s) as applied.", len(labels))
			return nil
		},
	}
	cmd.Flags().StringVar(&app, "app", "", "app the evolutions belong to")
	cmd.Flags().BoolVar(&all, "all", false, "mark every unapplied evolution of the app")
	cmd.Flags().BoolVar(&noInput, "noinput", false, "do not prompt for confirmation")
	_ = cmd.MarkFlagRequired("app")
	return cmd
}

// NewWipeEvolutionCommand creates the wipe-evolution command.
func NewWipeEvolutionCommand(env *Env) *cobra.Command {
	var (
		app     string
		noInput bool
	)
	cmd := &cobra.Command{
		Use:   "wipe-evolution --app APP label...",
		Short: "Forget that evolutions were applied",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, provider, err := env.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			ui.PrintList(prefixed(app, args))
			ok, err := ui.Confirm("These evolutions will be removed from the history. They will run again on the next evolve. Continue?", noInput)
			if err != nil {
				return err
			}
			if !ok {
				return errAborted
			}
			n, err := env.history(db, provider).DeleteEvolutions(ctx, app, args...)
			if err != nil {
				return err
			}
			ui.PrintSuccess("Wiped %d evolution record(s).", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&app, "app", "", "app the evolutions belong to")
	cmd.Flags().BoolVar(&noInput, "noinput", false, "do not prompt for confirmation")
	_ = cmd.MarkFlagRequired("app")
	return cmd
}

// NewProjectSigCommand creates the evolution-project-sig command.
func NewProjectSigCommand(env *Env) *cobra.Command {
	var (
		show, list, del bool
		id              int64
		noInput         bool
	)
	cmd := &cobra.Command{
		Use:   "evolution-project-sig (--show | --list | --delete) [--id N]",
		Short: "Show, list or delete stored project signatures",
		RunE: func(cmd *cobra.Command, args []string) error {
			picked := 0
			for _, b := range []bool{show, list, del} {
				if b {
					picked++
				}
			}
			if picked != 1 {
				return errors.New("pass exactly one of --show, --list or --delete")
			}
			if del && id == 0 {
				return errors.New("--delete requires --id")
			}

			ctx := cmd.Context()
			db, provider, err := env.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			store := env.history(db, provider)

			switch {
			case list:
				versions, err := store.Versions(ctx)
				if err != nil {
					return err
				}
				rows := make([][]string, len(versions))
				for i, v := range versions {
					apps := "?"
					if project, err := v.Project(); err == nil {
						apps = strings.Join(project.AppIDs(), ", ")
					}
					rows[i] = []string{strconv.FormatInt(v.ID, 10), humanize.Time(v.When), apps}
				}
				return ui.PrintTable([]string{"ID", "Stored", "Apps"}, rows)

			case show:
				var v *history.Version
				if id == 0 {
					v, err = store.CurrentVersion(ctx)
				} else {
					v, err = store.Version(ctx, id)
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(ui.Out, strings.TrimPrefix(v.Signature, "json!"))
				return nil
			}

			ok, err := ui.Confirm(fmt.Sprintf("Delete stored signature %d and its evolution records?", id), noInput)
			if err != nil {
				return err
			}
			if !ok {
				return errAborted
			}
			if err := store.DeleteVersion(ctx, id); err != nil {
				return err
			}
			ui.PrintSuccess("Deleted signature %d.", id)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&show, "show", false, "print a stored signature")
	flags.BoolVar(&list, "list", false, "list stored signatures")
	flags.BoolVar(&del, "delete", false, "delete a stored signature")
	flags.Int64Var(&id, "id", 0, "signature id (defaults to the current one for --show)")
	flags.BoolVar(&noInput, "noinput", false, "do not prompt for confirmation")
	return cmd
}

func prefixed(app string, labels []string) []string {
	out := make([]string, len(labels))
	for i, label := range labels {
		out[i] = app + "." + label
	}
	return out
}
