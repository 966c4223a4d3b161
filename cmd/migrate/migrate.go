package migrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"

	"github.com/stokaro/behave/cmd/connection"
	"github.com/stokaro/behave/migration/migrator"
)

// Migration file generation flags
const (
	nameFlag      = "name"
	outputDirFlag = "output-dir"
)

type options struct {
	settings      *connection.Settings
	migrationsDir string
}

var createFlags = map[string]cobraflags.Flag{
	nameFlag: &cobraflags.StringFlag{
		Name:  nameFlag,
		Value: "",
		Usage: "Name for the migration (required)",
	},
	outputDirFlag: &cobraflags.StringFlag{
		Name:  outputDirFlag,
		Value: "./migrations",
		Usage: "Directory where migration files will be saved",
	},
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(settings *connection.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate [up|down|to|status|create]",
		Short: "Apply schema migrations",
		Long: `Apply versioned schema migrations to a SQL database.

Migrations come from --migrations-dir. Without it, the support tables of the
configured behaviors are migrated: log entries of loggable entities,
translations of translatable entities and closure tables of closure trees.

Examples:
  behave migrate up --config behave.yaml
  behave migrate to 3 --dsn sqlite://app.db --migrations-dir ./migrations
  behave migrate create --name add_categories`,
	}
	o := &options{settings: settings}
	cmd.PersistentFlags().StringVar(&o.migrationsDir, "migrations-dir", "", "Directory with NNNNNNNNNN_name.up.sql / .down.sql files. When empty, the tables used by the configured behaviors are migrated")
	cmd.AddCommand(
		newRunCommand(o, "up", "Apply all pending migrations", cobra.NoArgs, func(ctx context.Context, m *migrator.Migrator, _ []string) error {
			return m.MigrateUp(ctx)
		}),
		newRunCommand(o, "down", "Revert the last applied migration", cobra.NoArgs, func(ctx context.Context, m *migrator.Migrator, _ []string) error {
			return m.MigrateDown(ctx)
		}),
		newRunCommand(o, "to VERSION", "Migrate up or down to a version", cobra.ExactArgs(1), func(ctx context.Context, m *migrator.Migrator, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil || version < 0 {
				return fmt.Errorf("invalid version %q", args[0])
			}
			return m.MigrateTo(ctx, version)
		}),
		newStatusCommand(o),
		newCreateCommand(),
	)
	return cmd
}

type migrateFunc func(ctx context.Context, m *migrator.Migrator, args []string) error

func newRunCommand(o *options, use, short string, args cobra.PositionalArgs, fn migrateFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), o, func(ctx context.Context, m *migrator.Migrator) error {
				if err := fn(ctx, m, args); err != nil {
					return err
				}
				version, err := m.GetCurrentVersion(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Current version: %d\n", version)
				return nil
			})
		},
	}
}

func newStatusCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd.Context(), o, func(ctx context.Context, m *migrator.Migrator) error {
				status, err := m.GetMigrationStatus(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Current version: %d\n", status.CurrentVersion)
				fmt.Fprintf(out, "Total migrations: %d\n", status.TotalMigrations)
				if !status.HasPendingChanges {
					fmt.Fprintln(out, "No pending migrations")
					return nil
				}
				fmt.Fprintf(out, "Pending migrations: %v\n", status.PendingMigrations)
				return nil
			})
		},
	}
}

func withMigrator(ctx context.Context, o *options, fn func(context.Context, *migrator.Migrator) error) error {
	target, err := connection.Open(ctx, o.settings)
	if err != nil {
		return err
	}
	defer target.Close(ctx)
	if target.DB == nil {
		return fmt.Errorf("migrations need a SQL database, got %s", target.Dialect)
	}

	var provider migrator.MigrationProvider
	if o.migrationsDir != "" {
		provider, err = migrator.NewFSMigrationProvider(os.DirFS(o.migrationsDir))
		if err != nil {
			return err
		}
	} else {
		entries, err := target.Entries("")
		if err != nil {
			return err
		}
		provider, err = migrator.SupportMigrations(target.Dialect, entries...)
		if err != nil {
			return err
		}
	}
	return fn(ctx, migrator.NewMigrator(target.DB, target.Dialect, provider))
}

func newCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Generate empty migration files for manual editing",
		Long: `Generate empty up and down migration files named after the current
UTC time, so that they sort after existing migrations.`,
		Args: cobra.NoArgs,
		RunE: createCommand,
	}
	cobraflags.RegisterMap(cmd, createFlags)
	return cmd
}

func createCommand(cmd *cobra.Command, _ []string) error {
	name := createFlags[nameFlag].GetString()
	if name == "" {
		return fmt.Errorf("--%s is required", nameFlag)
	}
	dir := createFlags[outputDirFlag].GetString()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}

	version, err := strconv.Atoi(time.Now().UTC().Format("20060102150405"))
	if err != nil {
		return err
	}
	for _, direction := range []string{"up", "down"} {
		path := filepath.Join(dir, migrator.GenerateMigrationFileName(version, name, direction))
		body := fmt.Sprintf("-- Migration: %s (%s)\n", name, direction)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return fmt.Errorf("error writing migration file: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
	}
	return nil
}
