package commands

import (
	"database/sql"

	"github.com/draywest/exportd/config"
	"github.com/draywest/exportd/db"
	"github.com/draywest/exportd/errors"
	"github.com/draywest/exportd/logger"
)

// openDatabase opens and migrates the configured database. An explicit
// path overrides the configured one.
func openDatabase(path string) (*sql.DB, error) {
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, errors.Wrap(err, "failed to load configuration")
		}
		path = cfg.Database.Path
	}

	database, err := db.Open(path, logger.Logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}
