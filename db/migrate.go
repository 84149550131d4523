package db

import (
	"database/sql"
	"embed"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/draywest/exportd/errors"
)

//go:embed sqlite/migrations/*.sql
var migrationFS embed.FS

const migrationDir = "sqlite/migrations"

// Migrate applies every embedded migration not yet recorded in
// schema_migrations, each in its own transaction. Safe to run on every
// startup. If logger is provided, logs progress; otherwise silent.
func Migrate(database *sql.DB, logger *zap.SugaredLogger) error {
	names, err := migrationNames()
	if err != nil {
		return err
	}

	applied := 0
	for _, name := range names {
		version := strings.SplitN(name, "_", 2)[0]

		done, err := alreadyApplied(database, version)
		if err != nil {
			// The bookkeeping table itself does not exist until
			// migration 000 runs.
			if version != "000" {
				return errors.WrapInternal(err, "check schema_migrations")
			}
		}
		if done {
			if logger != nil {
				logger.Debugw("Skipping migration (already applied)", "migration", name)
			}
			continue
		}

		if logger != nil {
			logger.Infow("Applying migration", "migration", name)
		}
		if err := applyMigration(database, name, version); err != nil {
			return err
		}
		applied++
	}

	if logger != nil {
		logger.Infow("Migrations complete", "applied", applied, "total", len(names))
	}
	return nil
}

func migrationNames() ([]string, error) {
	entries, err := migrationFS.ReadDir(migrationDir)
	if err != nil {
		return nil, errors.WrapInternal(err, "read embedded migrations")
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	// Lexicographic order matches the numeric prefixes.
	sort.Strings(names)
	return names, nil
}

func alreadyApplied(database *sql.DB, version string) (bool, error) {
	var exists bool
	err := database.QueryRow(
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version,
	).Scan(&exists)
	return exists, err
}

// applyMigration runs one migration file and records its version, both
// inside a single transaction. Migration 000 creates schema_migrations
// and then records itself.
func applyMigration(database *sql.DB, name, version string) error {
	ddl, err := migrationFS.ReadFile(filepath.Join(migrationDir, name))
	if err != nil {
		return errors.WrapInternal(err, "read migration "+name)
	}

	tx, err := database.Begin()
	if err != nil {
		return errors.WrapInternal(err, "begin migration "+name)
	}
	if _, err := tx.Exec(string(ddl)); err != nil {
		tx.Rollback()
		return errors.WrapInternal(err, "execute migration "+name)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		tx.Rollback()
		return errors.WrapInternal(err, "record migration "+name)
	}
	if err := tx.Commit(); err != nil {
		return errors.WrapInternal(err, "commit migration "+name)
	}
	return nil
}
