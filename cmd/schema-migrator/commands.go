package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"schema-migrator/internal/migration/domain/model"
	"schema-migrator/internal/shared/errors"

	"github.com/spf13/cobra"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "schema-migrator",
		Short: "Versioned schema migrations for document databases",
		Long: `schema-migrator applies versioned YAML migrations to a MongoDB or ArangoDB
database and records each applied version in a ledger collection.

Configuration comes from the environment (and an optional .env file);
flags override it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.CountVarP(&a.verbose, "verbose", "v", "increase log verbosity")
	flags.StringVar(&a.overrides.SchemaPath, "path", "", "migration directory (SCHEMA_PATH)")
	flags.StringVar(&a.overrides.Host, "db-host", "", "database host (DB_HOST)")
	flags.StringVar(&a.overrides.Name, "db-name", "", "database name (DB_NAME)")
	flags.StringVar(&a.overrides.User, "db-user", "", "database user (DB_USER)")
	flags.StringVar(&a.overrides.Password, "db-password", "", "database password (DB_PASSWORD)")
	flags.StringVar(&a.overrides.Driver, "driver", "", "database driver: mongodb or arangodb (DB_DRIVER)")
	flags.StringVar(&a.overrides.LedgerCollection, "ledger-collection", "", "ledger collection name (LEDGER_COLLECTION)")

	root.AddCommand(
		newCheckCmd(a),
		newMigrateCmd(a),
		newRollbackCmd(a),
		newCreateMigrationCmd(a),
		newTruncateCmd(a),
		newStatusCmd(a),
	)
	return root
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load and validate the migration files without connecting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			module, err := a.module(cmd.Context())
			if err != nil {
				return err
			}
			defer module.Close()

			migrations, err := module.Admin.Check()
			if err != nil {
				return err
			}
			for _, m := range migrations {
				note := ""
				if m.DownDerived {
					note = gray(" (down derived)")
				}
				a.printf("  %d %s: %d up, %d down%s\n", m.Version, m.Name, len(m.Up), len(m.Down), note)
			}
			a.printf("%s %d migration(s) in %s\n", green("OK"), len(migrations), module.Config.SchemaPath)
			return nil
		},
	}
}

func newMigrateCmd(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply every pending migration in version order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			module, err := a.module(cmd.Context())
			if err != nil {
				return err
			}
			defer module.Close()

			if dryRun {
				plan, err := module.Admin.Plan(cmd.Context(), model.DirectionUp, 0)
				if err != nil {
					return err
				}
				a.printPlan(model.DirectionUp, plan)
				return nil
			}

			applied, err := module.Admin.MigrateUp(cmd.Context())
			if applied > 0 || err == nil {
				a.printf("%s %d migration(s)\n", green("Applied"), applied)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show the pending migrations without applying them")
	return cmd
}

func newRollbackCmd(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "rollback [COUNT]",
		Short: "Revert the COUNT most recently applied migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count := 1
			if len(args) == 1 {
				n, err := parseCount(args[0])
				if err != nil {
					return err
				}
				count = n
			}

			module, err := a.module(cmd.Context())
			if err != nil {
				return err
			}
			defer module.Close()

			if dryRun {
				plan, err := module.Admin.Plan(cmd.Context(), model.DirectionDown, count)
				if err != nil {
					return err
				}
				a.printPlan(model.DirectionDown, plan)
				return nil
			}

			reverted, err := module.Admin.Rollback(cmd.Context(), count)
			if reverted > 0 || err == nil {
				a.printf("%s %d migration(s)\n", green("Rolled back"), reverted)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show the migrations that would be reverted")
	return cmd
}

func parseCount(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 0 {
		return 0, errors.NewValidationError(fmt.Sprintf("COUNT must be a non-negative integer, got %q", arg)).
			WithComponent("cli")
	}
	return n, nil
}

func newCreateMigrationCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create_migration NAME",
		Short: "Write an empty, timestamp-versioned migration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			module, err := a.module(cmd.Context())
			if err != nil {
				return err
			}
			defer module.Close()

			path, err := module.Admin.CreateMigration(args[0])
			if err != nil {
				return err
			}
			a.printf("%s %s\n", green("Created"), path)
			return nil
		},
	}
}

func newTruncateCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "truncate_database",
		Short: "Drop every non-system collection, the ledger included",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.NewValidationError("truncate_database drops all data; pass --yes to confirm").
					WithComponent("cli")
			}

			module, err := a.module(cmd.Context())
			if err != nil {
				return err
			}
			defer module.Close()

			dropped, err := module.Admin.Truncate(cmd.Context())
			for _, name := range dropped {
				a.printf("  %s %s\n", red("dropped"), name)
			}
			if err != nil {
				return err
			}
			a.printf("%s %d collection(s)\n", green("Truncated"), len(dropped))
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm dropping every collection")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Compare the migration files with the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			module, err := a.module(cmd.Context())
			if err != nil {
				return err
			}
			defer module.Close()

			report, err := module.Admin.Status(cmd.Context())
			if err != nil {
				return err
			}
			a.printStatus(report)
			return nil
		},
	}
}

func (a *app) printPlan(direction model.Direction, plan []*model.Migration) {
	if len(plan) == 0 {
		a.printf("Nothing to %s\n", verb(direction))
		return
	}
	a.printf("%s would %s %d migration(s):\n", bold("Dry run:"), verb(direction), len(plan))
	for _, m := range plan {
		a.printf("  %s\n", cyan(m.ID()))
		for _, op := range m.Operations(direction) {
			a.printf("    %s\n", op.String())
		}
	}
}

func verb(direction model.Direction) string {
	if direction == model.DirectionDown {
		return "roll back"
	}
	return "apply"
}

func (a *app) printStatus(report *model.StatusReport) {
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATE\tAPPLIED AT")
	for _, s := range report.Migrations {
		state := yellow("pending")
		appliedAt := "-"
		if s.Applied {
			state = green("applied")
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
			}
		}
		if s.Drifted {
			state += red(" (changed since applied)")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Version, s.Name, state, appliedAt)
	}
	for _, o := range report.Orphans {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", o.Version, o.Name, red("orphaned"), o.AppliedAt.UTC().Format("2006-01-02 15:04:05"))
	}
	_ = w.Flush()
	a.printf("%d pending, %d orphaned\n", report.Pending(), len(report.Orphans))
}
