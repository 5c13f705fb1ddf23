package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver

	"github.com/nerrad567/gray-logic-enocean/internal/infrastructure/config"
)

const (
	dirMode  = 0o750
	fileMode = 0o600

	// pingTimeout bounds the connectivity check in Open.
	pingTimeout = 5 * time.Second

	// maxConnLifetime recycles the single connection now and then so a
	// replaced database file is picked up.
	maxConnLifetime = time.Hour
)

// DB is the bridge's SQLite store. It holds the sender survey and the
// teach-in log written by the EnOcean recorder.
//
// The embedded *sql.DB is exposed so repositories can prepare their own
// statements. The pool is limited to one connection: the recorder is the
// only writer and SQLite serialises writers anyway.
type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the database file named by cfg.Path.
//
// The parent directory is created with mode 0750 and the file is
// restricted to 0600. cfg.BusyTimeout is in seconds. With cfg.WALMode the
// journal is switched to WAL so list_devices requests can read while
// telegrams are recorded.
//
// Parameters:
//   - cfg: Database section of the process config
//
// Returns:
//   - *DB: Open database, verified with a ping
//   - error: If the directory, file or connection cannot be set up
func Open(cfg config.DatabaseConfig) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirMode); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(maxConnLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// The driver creates the file lazily; after the ping it exists.
	if err := os.Chmod(cfg.Path, fileMode); err != nil {
		sqlDB.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("restricting database file: %w", err)
	}

	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// dsn builds the go-sqlite3 connection string for cfg.
// See https://github.com/mattn/go-sqlite3#connection-string.
func dsn(cfg config.DatabaseConfig) string {
	params := url.Values{}
	params.Set("_busy_timeout", strconv.Itoa(cfg.BusyTimeout*int(time.Second/time.Millisecond)))
	params.Set("_foreign_keys", "on")
	// Upserts take the write lock up front instead of upgrading a read lock.
	params.Set("_txlock", "immediate")
	if cfg.WALMode {
		params.Set("_journal_mode", "WAL")
		params.Set("_synchronous", "NORMAL")
	}
	return "file:" + cfg.Path + "?" + params.Encode()
}

// Close runs PRAGMA optimize and closes the database. Safe on a DB whose
// connection was never opened.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	//nolint:errcheck // advisory; the close below is what matters
	db.DB.Exec("PRAGMA optimize")
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs a trivial query against the database.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
