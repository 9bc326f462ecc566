package postgres

import (
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/pratik-mahalle/vitalsync/internal/config"
	"github.com/pratik-mahalle/vitalsync/migrations"
)

// NewMigrator creates a migrate instance for the configured driver. For
// postgres it opens its own connection from the config; for sqlite it runs
// on db, because an in-memory database only exists on that handle.
func NewMigrator(db *sql.DB, cfg config.DatabaseConfig) (*migrate.Migrate, error) {
	files, err := migrations.Source(cfg.Driver)
	if err != nil {
		return nil, err
	}
	source, err := iofs.New(files, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	switch cfg.Driver {
	case "postgres":
		m, err := migrate.NewWithSourceInstance("iofs", source, PostgresURL(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to create migrator: %w", err)
		}
		return m, nil
	case "sqlite":
		driver, err := sqlite.WithInstance(db, &sqlite.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlite migration driver: %w", err)
		}
		m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
		if err != nil {
			return nil, fmt.Errorf("failed to create migrator: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// RunMigrations applies all pending migrations. Being up to date is not an
// error.
func RunMigrations(db *sql.DB, cfg config.DatabaseConfig) error {
	m, err := NewMigrator(db, cfg)
	if err != nil {
		return err
	}
	defer closeMigrator(m, cfg.Driver)

	if err := m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// RollbackMigrations reverts steps migrations.
func RollbackMigrations(db *sql.DB, cfg config.DatabaseConfig, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d", steps)
	}
	m, err := NewMigrator(db, cfg)
	if err != nil {
		return err
	}
	defer closeMigrator(m, cfg.Driver)

	if err := m.Steps(-steps); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	return nil
}

// MigrationVersion reports the applied schema version. Version 0 means no
// migration has run.
func MigrationVersion(db *sql.DB, cfg config.DatabaseConfig) (version uint, dirty bool, err error) {
	m, err := NewMigrator(db, cfg)
	if err != nil {
		return 0, false, err
	}
	defer closeMigrator(m, cfg.Driver)

	version, dirty, err = m.Version()
	if stderrors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// closeMigrator releases the migrator. The sqlite driver closes the *sql.DB
// it was handed, so only the source is released there.
func closeMigrator(m *migrate.Migrate, driver string) {
	if driver == "sqlite" {
		return
	}
	_, _ = m.Close()
}
