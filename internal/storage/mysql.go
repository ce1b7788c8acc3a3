package storage

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/smartdevs17/stacks-mempool-notifier/pkg/utils"
)

// MySQLStorage implements Storage using MySQL
type MySQLStorage struct {
	*sqlStorage
}

// NewMySQLStorage creates a new MySQL storage instance
func NewMySQLStorage(config *StorageConfig) *MySQLStorage {
	return &MySQLStorage{
		sqlStorage: newSQLStorage(config, dialect{
			name:          "mysql",
			driver:        "mysql",
			insertIgnore:  "INSERT IGNORE INTO",
			timestampType: "DATETIME(6)",
			migrations:    GetMySQLMigrations(),
		}),
	}
}

// mysqlDSN accepts the driver's DSN or a mysql:// URL and makes sure
// DATETIME columns scan into time.Time
func mysqlDSN(dsn string) (string, error) {
	var cfg *mysql.Config
	if utils.DSNScheme(dsn) == "mysql" {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", err
		}
		cfg = mysql.NewConfig()
		cfg.Net = "tcp"
		cfg.Addr = u.Host
		cfg.DBName = strings.TrimPrefix(u.Path, "/")
		if u.User != nil {
			cfg.User = u.User.Username()
			cfg.Passwd, _ = u.User.Password()
		}
	} else {
		parsed, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", err
		}
		cfg = parsed
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

// Connect establishes database connection
func (m *MySQLStorage) Connect() error {
	dsn, err := mysqlDSN(m.config.ConnectionString)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeConfiguration, "Invalid MySQL connection string", err)
	}

	if err := m.open(dsn); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.db.PingContext(ctx); err != nil {
		m.db.Close()
		m.db = nil
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to ping MySQL database", err)
	}

	m.logger.Info("MySQL database connected")
	return nil
}
