// File: internal/storage/postgres.go
package storage

import (
	"context"
	"time"

	_ "github.com/lib/pq"
	"github.com/smartdevs17/stacks-mempool-notifier/pkg/utils"
)

// PostgreSQLStorage implements Storage using PostgreSQL
type PostgreSQLStorage struct {
	*sqlStorage
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(config *StorageConfig) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		sqlStorage: newSQLStorage(config, dialect{
			name:          "postgres",
			driver:        "postgres",
			numbered:      true,
			insertIgnore:  "INSERT INTO",
			ignoreSuffix:  " ON CONFLICT (user_id) DO NOTHING",
			timestampType: "TIMESTAMPTZ",
			migrations:    GetPostgreSQLMigrations(),
		}),
	}
}

// Connect establishes database connection
func (p *PostgreSQLStorage) Connect() error {
	if err := p.open(p.config.ConnectionString); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.db.PingContext(ctx); err != nil {
		p.db.Close()
		p.db = nil
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err)
	}

	p.logger.Info("PostgreSQL database connected")
	return nil
}
