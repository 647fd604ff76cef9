// Package db applies the schema migrations embedded in migrations/.
package db

import (
	"embed"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // pgx v5 driver
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/murmurhq/murmur/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate brings the schema up to date, applying only the migrations
// not yet recorded in schema_migrations. A dirty version is never
// touched; it needs a manual `migrate force` first.
//
// connURL is a postgres:// or postgresql:// URL.
func Migrate(connURL string, logger log.Logger) error {
	if logger == nil {
		logger = log.NewNop()
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("opening embedded migrations: %w", err)
	}

	migrateURL, err := toMigrateURL(connURL)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL)
	if err != nil {
		return fmt.Errorf("connecting for migrations: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			logger.Warn("closing migration source", "error", srcErr)
		}
		if dbErr != nil {
			logger.Warn("closing migration connection", "error", dbErr)
		}
	}()

	version, dirty, verErr := m.Version()
	if verErr != nil && !errors.Is(verErr, migrate.ErrNilVersion) {
		return fmt.Errorf("checking migration version: %w", verErr)
	}
	if dirty {
		return fmt.Errorf("schema is dirty at version %d, run `migrate force %d` after inspecting it", version, version)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug("schema already up to date", "version", version)
			return nil
		}
		if postVersion, postDirty, postErr := m.Version(); postErr == nil && postDirty {
			logger.Error("migration left the schema dirty",
				"version", postVersion,
				"hint", fmt.Sprintf("fix the migration and run: migrate force %d", postVersion))
		}
		return fmt.Errorf("applying migrations: %w", err)
	}

	finalVersion, _, verErr := m.Version()
	if verErr != nil {
		logger.Warn("migrations applied but version check failed", "error", verErr)
		return nil
	}
	logger.Info("migrations applied", "version", finalVersion)
	return nil
}

// toMigrateURL rewrites the scheme to pgx5 for golang-migrate's driver.
func toMigrateURL(connURL string) (string, error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", fmt.Errorf("parsing database URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		u.Scheme = "pgx5"
		return u.String(), nil
	default:
		return "", fmt.Errorf("unsupported database URL scheme %q", u.Scheme)
	}
}
