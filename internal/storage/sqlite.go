// File: internal/storage/sqlite.go
package storage

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/smartdevs17/stacks-mempool-notifier/pkg/utils"
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage using SQLite
type SQLiteStorage struct {
	*sqlStorage
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		sqlStorage: newSQLStorage(config, dialect{
			name:          "sqlite",
			driver:        "sqlite",
			insertIgnore:  "INSERT OR IGNORE INTO",
			timestampType: "DATETIME",
			migrations:    GetSQLiteMigrations(),
		}),
	}
}

// Connect establishes database connection
func (s *SQLiteStorage) Connect() error {
	path := s.config.ConnectionString
	if err := checkSQLitePath(path); err != nil {
		return err
	}
	inMemory := path == ":memory:" || strings.HasPrefix(path, "file::memory:")

	// Ensure directory exists
	if !inMemory {
		dir := filepath.Dir(strings.TrimPrefix(path, "file:"))
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
			}
		}
	}

	if err := s.open(path); err != nil {
		return err
	}

	// SQLite has one writer and :memory: databases are per connection
	s.db.SetMaxOpenConns(1)

	if !inMemory {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err.Error())
		}
	}
	if _, err := s.db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to set busy timeout", err.Error())
	}

	s.logger.WithField("path", utils.RedactDSN(path)).Info("SQLite database connected")
	return nil
}
