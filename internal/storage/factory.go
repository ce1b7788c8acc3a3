// File: internal/storage/factory.go
package storage

import (
	"strings"

	"github.com/smartdevs17/stacks-mempool-notifier/internal/config"
	"github.com/smartdevs17/stacks-mempool-notifier/pkg/utils"
)

// TypeNone disables recipient storage; the configured default recipients are used instead
const TypeNone = "none"

var supportedTypes = []string{"sqlite", "postgres", "postgresql", "mysql"}

// NewStorage creates a new storage instance based on configuration
func NewStorage(cfg *config.StorageConfig) (Storage, error) {
	storageConfig := &StorageConfig{
		Type:             cfg.Type,
		ConnectionString: cfg.ConnectionString,
		MaxConnections:   cfg.MaxConnections,
		MaxIdleTime:      cfg.MaxIdleTime,
	}

	switch strings.ToLower(cfg.Type) {
	case "sqlite":
		return NewSQLiteStorage(storageConfig), nil
	case "postgres", "postgresql":
		return NewPostgreSQLStorage(storageConfig), nil
	case "mysql":
		return NewMySQLStorage(storageConfig), nil
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"Unsupported storage type", cfg.Type)
	}
}

// ValidateStorageConfig validates storage configuration
func ValidateStorageConfig(cfg *config.StorageConfig) error {
	if cfg.Type == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Storage type is required", "")
	}

	if strings.EqualFold(cfg.Type, TypeNone) {
		return nil
	}

	if cfg.ConnectionString == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Storage connection string is required", "")
	}

	if strings.EqualFold(cfg.Type, "sqlite") {
		if err := checkSQLitePath(cfg.ConnectionString); err != nil {
			return err
		}
	}

	if cfg.MaxConnections < 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Max connections must not be negative", "")
	}

	for _, t := range supportedTypes {
		if strings.EqualFold(cfg.Type, t) {
			return nil
		}
	}

	return utils.NewAppError(utils.ErrCodeConfiguration,
		"Unsupported storage type",
		"Supported types: "+strings.Join(supportedTypes, ", "))
}


// checkSQLitePath rejects server URLs, which SQLite would otherwise treat as a file name
func checkSQLitePath(path string) error {
	switch scheme := utils.DSNScheme(path); scheme {
	case "", "file":
		return nil
	default:
		return utils.NewAppError(utils.ErrCodeConfiguration,
			"SQLite storage needs a file path, got a "+scheme+" URL",
			utils.RedactDSN(path))
	}
}
