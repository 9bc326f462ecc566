package cli

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/pratik-mahalle/vitalsync/internal/config"
	"github.com/pratik-mahalle/vitalsync/internal/repository/postgres"
)

// NewMigrateCmd manages the server's database schema. It reads the same
// environment as the API server, not the CLI config file.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the vitalsync database schema",
		Annotations:   localOnly(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDB(func(db *sql.DB, cfg config.DatabaseConfig) error {
					if err := postgres.RunMigrations(db, cfg); err != nil {
						return err
					}
					return printVersion(cmd, db, cfg)
				})
			},
		},
		newMigrateDownCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDB(func(db *sql.DB, cfg config.DatabaseConfig) error {
					return printVersion(cmd, db, cfg)
				})
			},
		},
	)

	return cmd
}

func newMigrateDownCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps <= 0 {
				return fmt.Errorf("--steps must be positive")
			}
			return withDB(func(db *sql.DB, cfg config.DatabaseConfig) error {
				if err := postgres.RollbackMigrations(db, cfg, steps); err != nil {
					return err
				}
				return printVersion(cmd, db, cfg)
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	return cmd
}

func withDB(fn func(*sql.DB, config.DatabaseConfig) error) (err error) {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := postgres.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() { err = multierr.Append(err, db.Close()) }()

	return fn(db, cfg.Database)
}

func printVersion(cmd *cobra.Command, db *sql.DB, cfg config.DatabaseConfig) error {
	version, dirty, err := postgres.MigrationVersion(db, cfg)
	if err != nil {
		return err
	}
	state := "clean"
	if dirty {
		state = "dirty"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s schema at version %d (%s)\n", cfg.Driver, version, state)
	return nil
}
