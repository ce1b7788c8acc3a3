package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/stacks-mempool-notifier/pkg/utils"
)

// Migration represents a database migration
type Migration struct {
	Version     string    `db:"version"`
	Description string    `db:"description"`
	SQL         []string  `db:"-"`
	AppliedAt   time.Time `db:"applied_at"`
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create recipients table",
			SQL: []string{
				`CREATE TABLE IF NOT EXISTS recipients (
					user_id TEXT PRIMARY KEY,
					wallet TEXT,
					connected BOOLEAN NOT NULL DEFAULT FALSE,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_recipients_connected ON recipients(connected)`,
			},
		},
		{
			Version:     "002",
			Description: "Index recipients by wallet",
			SQL: []string{
				`CREATE INDEX IF NOT EXISTS idx_recipients_wallet ON recipients(wallet)`,
			},
		},
	}
}

// GetPostgreSQLMigrations returns PostgreSQL migration scripts
func GetPostgreSQLMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create recipients table",
			SQL: []string{
				`CREATE TABLE IF NOT EXISTS recipients (
					user_id VARCHAR(64) PRIMARY KEY,
					wallet VARCHAR(128),
					connected BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_recipients_connected ON recipients(connected)`,
			},
		},
		{
			Version:     "002",
			Description: "Index recipients by wallet",
			SQL: []string{
				`CREATE INDEX IF NOT EXISTS idx_recipients_wallet ON recipients(wallet)`,
			},
		},
	}
}

// GetMySQLMigrations returns MySQL migration scripts
func GetMySQLMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create recipients table",
			SQL: []string{
				`CREATE TABLE IF NOT EXISTS recipients (
					user_id VARCHAR(64) NOT NULL PRIMARY KEY,
					wallet VARCHAR(128) NULL,
					connected BOOLEAN NOT NULL DEFAULT FALSE,
					created_at DATETIME(6) NOT NULL,
					updated_at DATETIME(6) NOT NULL,
					INDEX idx_recipients_connected (connected)
				) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			},
		},
		{
			Version:     "002",
			Description: "Index recipients by wallet",
			SQL: []string{
				`CREATE INDEX idx_recipients_wallet ON recipients(wallet)`,
			},
		},
	}
}

const migrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version VARCHAR(16) PRIMARY KEY,
	description VARCHAR(255) NOT NULL,
	applied_at %s NOT NULL
)`

// applyMigrations applies every migration not yet recorded in schema_migrations
func (s *sqlStorage) applyMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(migrationsTable, s.dialect.timestampType)); err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to create migrations table", err)
	}

	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return err
	}

	for _, migration := range s.dialect.migrations {
		if applied[migration.Version] {
			continue
		}

		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		if err := s.applyMigration(ctx, migration); err != nil {
			return utils.WrapAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version), err)
		}
	}

	return nil
}

func (s *sqlStorage) applyMigration(ctx context.Context, migration *Migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range migration.SQL {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		s.rebind(`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`),
		migration.Version, migration.Description, time.Now().UTC()); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *sqlStorage) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to read applied migrations", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to scan migration version", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *sqlStorage) schemaVersion(ctx context.Context) (string, error) {
	var version sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return "", err
	}
	return version.String, nil
}
