// Package sqlite persists completed voice sessions and their transcripts.
package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/leafline/voicecapture/pkg/logger"
	_ "modernc.org/sqlite"
)

// Store owns the database connection shared by the record types.
type Store struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewStore opens (or creates) the database at dbPath.
func NewStore(dbPath string, log *logger.Logger) (*Store, error) {
	storeLogger := log.Named("sqlite")

	storeLogger.Info("Initializing SQLite storage",
		logger.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA cache_size=10000"); err != nil {
		return nil, fmt.Errorf("failed to set cache size: %w", err)
	}

	return &Store{db: db, logger: storeLogger}, nil
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
