package migrator

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/Informasjonsforvaltning/fdk-resource-service/sql/migrations"
)

// Migrator is responsible for migrating postgres tables
type Migrator struct {
	// Handle is the sql.DB handle used to execute migration statements
	Handle *sql.DB
	// MigrationsTable is the table used to store the current version of the schema
	MigrationsTable string
	// ShouldForceSetLowerVersion forces the schema version down to the latest known migration
	// when the database has been migrated by a newer release.
	ShouldForceSetLowerVersion bool
}

// Migrate applies every pending migration found in the embedded migrationsDir.
func (m *Migrator) Migrate(migrationsDir string) error {
	src, err := iofs.New(migrations.FS, migrationsDir)
	if err != nil {
		return fmt.Errorf("opening migrations source %q: %w", migrationsDir, err)
	}

	driver, err := postgres.WithInstance(m.Handle, &postgres.Config{MigrationsTable: m.MigrationsTable})
	if err != nil {
		return fmt.Errorf("creating postgres migration driver: %w", err)
	}

	migration, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	if m.ShouldForceSetLowerVersion {
		if err := m.forceSetLowerVersion(migration, src); err != nil {
			return err
		}
	}

	if err := migration.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations from %q: %w", migrationsDir, err)
	}
	return nil
}

func (m *Migrator) forceSetLowerVersion(migration *migrate.Migrate, src source.Driver) error {
	current, _, err := migration.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading current migration version: %w", err)
	}

	latest, err := latestVersion(src)
	if err != nil {
		return err
	}
	if current <= latest {
		return nil
	}
	if err := migration.Force(int(latest)); err != nil {
		return fmt.Errorf("forcing migration version %d: %w", latest, err)
	}
	return nil
}

func latestVersion(src source.Driver) (uint, error) {
	version, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("reading first migration: %w", err)
	}
	for {
		next, err := src.Next(version)
		if errors.Is(err, fs.ErrNotExist) {
			return version, nil
		}
		if err != nil {
			return 0, fmt.Errorf("reading next migration after %d: %w", version, err)
		}
		version = next
	}
}
