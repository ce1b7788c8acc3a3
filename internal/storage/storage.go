// File: internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/smartdevs17/stacks-mempool-notifier/internal/models"
)

var (
	// ErrNotFound is returned when a recipient does not exist
	ErrNotFound = errors.New("recipient not found")
	// ErrAlreadyExists is returned when adding a recipient twice
	ErrAlreadyExists = errors.New("recipient already exists")
)

// Storage defines the interface for recipient storage operations
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Recipient operations
	GetRecipient(ctx context.Context, userID string) (*models.Recipient, error)
	ListRecipients(ctx context.Context) ([]*models.Recipient, error)
	AddRecipient(ctx context.Context, userID string) (*models.Recipient, error)
	UpdateWallet(ctx context.Context, userID, wallet string) (*models.Recipient, error)
	DeleteRecipient(ctx context.Context, userID string) error
	SeedRecipients(ctx context.Context, userIDs []string) (int, error)

	// RecipientIDs lists chat ids for broadcasting
	RecipientIDs(ctx context.Context) ([]string, error)

	// Statistics and monitoring
	GetStorageStats(ctx context.Context) (*StorageStats, error)
}

// StorageStats provides storage statistics
type StorageStats struct {
	Type                string     `json:"type"`
	TotalRecipients     int64      `json:"total_recipients"`
	ConnectedRecipients int64      `json:"connected_recipients"`
	LatestRecipient     *time.Time `json:"latest_recipient,omitempty"`
	SchemaVersion       string     `json:"schema_version"`
	OpenConnections     int        `json:"open_connections"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}
