// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/smartdevs17/stacks-mempool-notifier/pkg/utils"
)

// Config holds all configuration for the application
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Stacks        StacksConfig       `mapstructure:"stacks"`
	Scanner       ScannerConfig      `mapstructure:"scanner"`
	Tracker       TrackerConfig      `mapstructure:"tracker"`
	Dedup         DedupConfig        `mapstructure:"dedup"`
	Telegram      TelegramConfig     `mapstructure:"telegram"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Kafka         KafkaConfig        `mapstructure:"kafka"`
	Tracing       TracingConfig      `mapstructure:"tracing"`
	Server        ServerConfig       `mapstructure:"server"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// StacksConfig contains Stacks API connection configuration
type StacksConfig struct {
	NodeURL        string        `mapstructure:"node_url"`
	ExplorerURL    string        `mapstructure:"explorer_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

// ScannerConfig contains mempool scanning configuration
type ScannerConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	PageSize          int           `mapstructure:"page_size"`
	ContractSuffixes  []string      `mapstructure:"contract_suffixes"`
	CaseInsensitive   bool          `mapstructure:"case_insensitive"`
	NotifyOnDetection bool          `mapstructure:"notify_on_detection"`
}

// TrackerConfig contains confirmation tracking configuration
type TrackerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`
	MaxDuration  time.Duration `mapstructure:"max_duration"`
	MaxActive    int           `mapstructure:"max_active"`
}

// DedupConfig contains seen/confirmed set configuration
type DedupConfig struct {
	Backend   string        `mapstructure:"backend"` // memory, redis
	Capacity  int           `mapstructure:"capacity"`
	TTL       time.Duration `mapstructure:"ttl"`
	RedisAddr string        `mapstructure:"redis_addr"`
	RedisDB   int           `mapstructure:"redis_db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// TelegramConfig contains chat bot configuration
type TelegramConfig struct {
	Token               string        `mapstructure:"token"`
	APIEndpoint         string        `mapstructure:"api_endpoint"`
	WebhookURL          string        `mapstructure:"webhook_url"`
	WebhookSecret       string        `mapstructure:"webhook_secret"`
	ConnectURL          string        `mapstructure:"connect_url"`
	AdminIDs            []string      `mapstructure:"admin_ids"`
	DefaultRecipients   []string      `mapstructure:"default_recipients"`
	ConversationTimeout time.Duration `mapstructure:"conversation_timeout"`
}

// NotificationConfig contains notification fan-out configuration
type NotificationConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	SendTimeout   time.Duration `mapstructure:"send_timeout"`
}

// StorageConfig contains recipient store configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres, mysql, none
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
}

// KafkaConfig contains event publishing configuration
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// TracingConfig contains OpenTelemetry configuration
type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
	AdminToken    string        `mapstructure:"admin_token"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	return LoadWithViper(viper.New(), configPath)
}

// LoadWithViper loads configuration into the given viper instance
func LoadWithViper(v *viper.Viper, configPath string) (*Config, error) {
	// .env is optional; variables already set in the environment win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("NOTIFIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Original deployment variable names
	v.BindEnv("telegram.token", "TELEGRAM_TOKEN", "NOTIFIER_TELEGRAM_TOKEN")
	v.BindEnv("stacks.node_url", "STACKS_NODE_URL", "NOTIFIER_STACKS_NODE_URL")
	v.BindEnv("storage.connection_string", "DATABASE_URL", "MONGO_URI", "NOTIFIER_STORAGE_CONNECTION_STRING")
	v.BindEnv("server.port", "PORT", "NOTIFIER_SERVER_PORT")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(configPath == "" && errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	config.Stacks.NodeURL = strings.TrimRight(config.Stacks.NodeURL, "/")
	config.Storage.Type = inferStorageType(config.Storage.Type, config.Storage.ConnectionString)
	config.Telegram.AdminIDs = splitList(config.Telegram.AdminIDs)
	config.Telegram.DefaultRecipients = splitList(config.Telegram.DefaultRecipients)
	config.Scanner.ContractSuffixes = splitList(config.Scanner.ContractSuffixes)
	config.Kafka.Brokers = splitList(config.Kafka.Brokers)

	if config.Tracker.ErrorBackoff <= 0 {
		config.Tracker.ErrorBackoff = 2 * config.Tracker.PollInterval
	}

	return &config, nil
}

// inferStorageType picks the driver from a database URL when the type was
// left at the sqlite default, so DATABASE_URL=postgres://... works on its own
func inferStorageType(storageType, connectionString string) string {
	if !strings.EqualFold(storageType, "sqlite") {
		return storageType
	}
	switch utils.DSNScheme(connectionString) {
	case "postgres", "postgresql":
		return "postgres"
	case "mysql":
		return "mysql"
	}
	return storageType
}

// splitList flattens comma separated entries, which is how list values arrive from env vars
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "stacks-mempool-notifier")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	// Stacks defaults
	v.SetDefault("stacks.node_url", "https://stacks-node-api.mainnet.stacks.co")
	v.SetDefault("stacks.explorer_url", "")
	v.SetDefault("stacks.request_timeout", "30s")
	v.SetDefault("stacks.retry_attempts", 5)
	v.SetDefault("stacks.retry_delay", "1s")

	// Scanner defaults
	v.SetDefault("scanner.poll_interval", "3s")
	v.SetDefault("scanner.page_size", 20)
	v.SetDefault("scanner.contract_suffixes", []string{"stxcity"})
	v.SetDefault("scanner.case_insensitive", false)
	v.SetDefault("scanner.notify_on_detection", true)

	// Tracker defaults
	v.SetDefault("tracker.poll_interval", "3s")
	v.SetDefault("tracker.error_backoff", "0s") // 0 means twice the poll interval
	v.SetDefault("tracker.max_duration", "30m")
	v.SetDefault("tracker.max_active", 0)

	// Dedup defaults
	v.SetDefault("dedup.backend", "memory")
	v.SetDefault("dedup.capacity", 10000)
	v.SetDefault("dedup.ttl", "24h")
	v.SetDefault("dedup.redis_addr", "")
	v.SetDefault("dedup.redis_db", 0)
	v.SetDefault("dedup.key_prefix", "stacks-notifier")

	// Telegram defaults
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.api_endpoint", "")
	v.SetDefault("telegram.webhook_url", "")
	v.SetDefault("telegram.webhook_secret", "")
	v.SetDefault("telegram.connect_url", "")
	v.SetDefault("telegram.admin_ids", []string{})
	v.SetDefault("telegram.default_recipients", []string{})
	v.SetDefault("telegram.conversation_timeout", "5m")

	// Notification defaults
	v.SetDefault("notifications.max_concurrent", 5)
	v.SetDefault("notifications.send_timeout", "10s")

	// Storage defaults
	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.connection_string", "./data/recipients.db")
	v.SetDefault("storage.max_connections", 10)
	v.SetDefault("storage.max_idle_time", "15m")

	// Kafka defaults
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "stacks-contract-events")

	// Tracing defaults
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "stacks-mempool-notifier")

	// Server defaults
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.enable_health", true)
	v.SetDefault("server.admin_token", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram bot token is required (TELEGRAM_TOKEN)")
	}
	if c.Stacks.NodeURL == "" {
		return fmt.Errorf("stacks node URL is required")
	}
	if c.Stacks.RetryAttempts < 0 {
		return fmt.Errorf("stacks retry attempts must not be negative")
	}
	if !strings.EqualFold(c.Storage.Type, "none") && c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required (DATABASE_URL)")
	}
	if strings.EqualFold(c.Storage.Type, "sqlite") {
		if scheme := utils.DSNScheme(c.Storage.ConnectionString); scheme != "" && scheme != "file" {
			return fmt.Errorf("unsupported %s connection string %s: use a postgres:// or mysql:// URL, or a sqlite file path",
				scheme, utils.RedactDSN(c.Storage.ConnectionString))
		}
	}
	if strings.EqualFold(c.Storage.Type, "none") && len(c.Telegram.DefaultRecipients) == 0 {
		return fmt.Errorf("default recipients are required when storage is disabled")
	}
	if c.Scanner.PollInterval <= 0 {
		return fmt.Errorf("scanner poll interval must be positive")
	}
	if c.Scanner.PageSize <= 0 || c.Scanner.PageSize > 50 {
		return fmt.Errorf("scanner page size must be between 1 and 50")
	}
	if len(c.Scanner.ContractSuffixes) == 0 {
		return fmt.Errorf("at least one contract suffix is required")
	}
	if c.Tracker.PollInterval <= 0 {
		return fmt.Errorf("tracker poll interval must be positive")
	}
	switch strings.ToLower(c.Dedup.Backend) {
	case "memory":
		if c.Dedup.Capacity <= 0 {
			return fmt.Errorf("dedup capacity must be positive")
		}
	case "redis":
		if c.Dedup.RedisAddr == "" {
			return fmt.Errorf("dedup redis address is required for the redis backend")
		}
	default:
		return fmt.Errorf("unsupported dedup backend: %s", c.Dedup.Backend)
	}
	if c.Notifications.MaxConcurrent <= 0 {
		return fmt.Errorf("notifications max concurrent must be positive")
	}
	return nil
}

