package migrations

import (
	"database/sql"
	_ "embed"

	"github.com/geyserpipe/geyserpipe/internal/db"
	"github.com/geyserpipe/geyserpipe/internal/logger"
	"github.com/geyserpipe/geyserpipe/pkg/config"
)

//go:embed 001_account_state.sql
var mig001sqlite string

//go:embed 001_account_state.postgres.sql
var mig001postgres string

// RunMigrations brings the account-state schema of the configured backend up
// to date.
func RunMigrations(log *logger.Logger, conn *sql.DB, cfg config.StoreConfig) error {
	mig001 := mig001sqlite
	if cfg.Driver == config.DriverPostgres {
		mig001 = mig001postgres
	}

	migrations := []db.Migration{
		{
			ID:  "001_account_state.sql",
			SQL: mig001,
		},
	}

	return db.RunMigrationsDB(log, conn, db.Dialect(cfg), migrations)
}
