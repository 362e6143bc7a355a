package postgres

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog/log"
)

// RunMigrations applies every pending migration from sourceURL.
func RunMigrations(dsn string, sourceURL string) error {
	return withMigrator(dsn, sourceURL, func(m *migrate.Migrate) error {
		return m.Up()
	})
}

// RollbackMigrations reverts the last steps migrations.
func RollbackMigrations(dsn string, sourceURL string, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("rollback steps must be positive, got %d", steps)
	}
	return withMigrator(dsn, sourceURL, func(m *migrate.Migrate) error {
		return m.Steps(-steps)
	})
}

func withMigrator(dsn, sourceURL string, apply func(*migrate.Migrate) error) error {
	m, err := migrate.New(sourceURL, dsn)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := apply(m); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info().Msg("Session schema already up to date")
			return nil
		}
		return fmt.Errorf("failed to migrate session schema: %w", err)
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		log.Info().Msg("Session schema rolled back to empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read session schema version: %w", err)
	}
	log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Session schema migrated")
	return nil
}
