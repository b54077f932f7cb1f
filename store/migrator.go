package store

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	// Register the database drivers used by migration URLs.
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
)

// Migration files live in migration/{driver}/ and follow the golang-migrate
// naming scheme {version}_{title}.up.sql / {version}_{title}.down.sql.

//go:embed migration
var migrationFS embed.FS

// Migrate applies every pending up migration for the configured driver.
func (s *Store) Migrate(ctx context.Context) error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	defer closeMigrate(m)

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Debug("database schema is up to date", slog.String("driver", s.profile.Driver))
			return nil
		}
		return errors.Wrap(err, "failed to apply migrations")
	}

	version, _, err := m.Version()
	if err != nil {
		return errors.Wrap(err, "failed to read schema version")
	}
	slog.Info("database migrated", slog.String("driver", s.profile.Driver), slog.Uint64("version", uint64(version)))
	return nil
}

// RollbackMigrations reverts the given number of migrations.
func (s *Store) RollbackMigrations(ctx context.Context, steps int) error {
	if steps <= 0 {
		return errors.New("steps must be positive")
	}
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	defer closeMigrate(m)

	if err := m.Steps(-steps); err != nil {
		return errors.Wrapf(err, "failed to roll back %d migrations", steps)
	}
	return nil
}

// MigrationVersion returns the applied schema version and whether it is dirty.
func (s *Store) MigrationVersion(ctx context.Context) (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	defer closeMigrate(m)

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to read schema version")
	}
	return version, dirty, nil
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	if s.profile == nil {
		return nil, errors.New("profile is nil")
	}
	src, err := iofs.New(migrationFS, "migration/"+s.profile.Driver)
	if err != nil {
		return nil, errors.Wrapf(err, "no migrations for driver %s", s.profile.Driver)
	}
	databaseURL, err := migrationURL(s.profile.Driver, s.profile.DSN)
	if err != nil {
		return nil, err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create migrator")
	}
	return m, nil
}

// migrationURL converts a driver DSN into the URL form golang-migrate expects.
func migrationURL(driver, dsn string) (string, error) {
	switch driver {
	case "sqlite":
		return "sqlite://" + strings.TrimPrefix(dsn, "file:"), nil
	case "postgres":
		if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
			return "", errors.New("postgres dsn must be a postgres:// URL to run migrations")
		}
		return dsn, nil
	default:
		return "", fmt.Errorf("unknown db driver: %s", driver)
	}
}

func closeMigrate(m *migrate.Migrate) {
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		slog.Warn("failed to close migration source", slog.String("error", srcErr.Error()))
	}
	if dbErr != nil {
		slog.Warn("failed to close migration database", slog.String("error", dbErr.Error()))
	}
}
