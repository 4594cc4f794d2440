package db

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/russross/meddler"

	"github.com/geyserpipe/geyserpipe/pkg/config"
)

// NewSQLiteDB creates a new SQLite DB with sane defaults for a single-writer
// commit sink.
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	return sql.Open("sqlite3", fmt.Sprintf(
		"file:%s?_txlock=immediate&_foreign_keys=on&_journal_mode=WAL&_busy_timeout=30000",
		dbPath,
	))
}

// NewSQLiteDBFromConfig creates a new SQLite DB with the given configuration.
func NewSQLiteDBFromConfig(cfg config.StoreConfig) (*sql.DB, error) {
	connStr := fmt.Sprintf(
		"file:%s?_txlock=immediate&_foreign_keys=on&_journal_mode=%s&_busy_timeout=%d",
		cfg.Path,
		cfg.JournalMode,
		cfg.BusyTimeout,
	)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)

	if _, err := db.Exec(fmt.Sprintf("PRAGMA synchronous = %s", cfg.Synchronous)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragma: %w", err)
	}

	return db, nil
}

// NewPostgresDB creates a new Postgres DB through the pgx stdlib driver.
func NewPostgresDB(url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// NewPostgresDBFromConfig creates a new Postgres DB with the given configuration.
func NewPostgresDBFromConfig(cfg config.StoreConfig) (*sql.DB, error) {
	db, err := NewPostgresDB(cfg.URL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)

	return db, nil
}

// NewFromConfig opens the backend selected by the store configuration and
// points meddler at the matching placeholder dialect. Drivers are process-wide
// but exclusive in practice: one pipeline runs against one backend.
func NewFromConfig(cfg config.StoreConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		meddler.Default = meddler.SQLite
		return NewSQLiteDBFromConfig(cfg)
	case config.DriverPostgres:
		meddler.Default = meddler.PostgreSQL
		return NewPostgresDBFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

// Dialect returns the sql-migrate dialect name for the configured driver.
func Dialect(cfg config.StoreConfig) string {
	if cfg.Driver == config.DriverPostgres {
		return "postgres"
	}
	return "sqlite3"
}
