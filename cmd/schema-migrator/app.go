package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"schema-migrator/internal/migration"
	"schema-migrator/internal/migration/config"
	"schema-migrator/internal/shared/errors"
	"schema-migrator/internal/shared/logger"

	"github.com/fatih/color"
)

// knownLimitation is printed when a migration fails part way through
const knownLimitation = `Known limitation: operations of a failed migration that ran before the failing
one are not rolled back. Inspect the database, correct it by hand, then re-run
the command; applied migrations are skipped.`

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// app holds what the commands share: global flags, output streams and the store connector
type app struct {
	verbose   int
	overrides config.Overrides
	out       io.Writer
	errOut    io.Writer
	connect   migration.StoreConnector
}

func newApp(out, errOut io.Writer) *app {
	return &app{
		out:     out,
		errOut:  errOut,
		connect: migration.ConnectStore,
	}
}

// module resolves configuration and wires a migration module for one command
func (a *app) module(ctx context.Context) (*migration.MigrationModule, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	overrides := a.overrides
	if a.verbose > 0 {
		overrides.LogLevel = logger.LevelFromVerbosity(a.verbose)
	}
	if err := cfg.Apply(overrides); err != nil {
		return nil, err
	}
	cfg.Log.Output = a.errOut

	log := logger.New(cfg.Log)
	log.Debugf("Configuration: %s", cfg)

	return migration.NewMigrationModuleWithConnector(ctx, cfg, log, a.connect)
}

func (a *app) printf(format string, args ...interface{}) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *app) printError(err error) {
	kind := errors.TypeOf(err)
	if kind == "" {
		kind = errors.ErrorTypeInternal
	}
	fmt.Fprintf(a.errOut, "%s %s\n", red(string(kind)+":"), err.Error())

	var appErr *errors.AppError
	if errors.As(err, &appErr) && len(appErr.Details) > 0 {
		keys := make([]string, 0, len(appErr.Details))
		for key := range appErr.Details {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(a.errOut, "  %s: %v\n", gray(key), appErr.Details[key])
		}
	}
	if errors.IsMigration(err) {
		fmt.Fprintln(a.errOut, yellow(knownLimitation))
	}
}
