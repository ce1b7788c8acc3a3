package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/stacks-mempool-notifier/internal/bot"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/config"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/dedup"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/events"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/metrics"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/monitor"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/notification"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/server"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/stacks"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/storage"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/telemetry"
	"github.com/smartdevs17/stacks-mempool-notifier/pkg/utils"
)

// Application wires every component of the notifier
type Application struct {
	config  *config.Config
	logger  *logrus.Entry
	metrics *metrics.Manager

	shutdownTracer telemetry.ShutdownFunc
	storage        storage.Storage
	dedup          *dedup.Sets
	telegram       *tgbotapi.BotAPI
	notifier       *notification.Notifier
	publisher      events.Publisher
	trackers       *monitor.TrackerPool
	scanner        *monitor.MempoolScanner
	bot            *bot.Handler
	server         *server.HTTPServer

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, err
	}

	if err := app.initializeComponents(); err != nil {
		app.Stop()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.logger = utils.ComponentLogger("app")
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Info("Logger initialized")
	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	steps := []struct {
		name string
		fn   func() error
	}{
		{"tracing", app.initializeTracing},
		{"metrics", app.initializeMetrics},
		{"storage", app.initializeStorage},
		{"dedup", app.initializeDedup},
		{"telegram", app.initializeTelegram},
		{"events", app.initializeEvents},
		{"monitor", app.initializeMonitor},
		{"server", app.initializeServer},
	}

	for _, step := range steps {
		if err := step.fn(); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}

	app.logger.Info("All components initialized successfully")
	return nil
}

func (app *Application) initializeTracing() error {
	shutdown, err := telemetry.InitTracer(app.ctx, app.config.Tracing.ServiceName, app.config.App.Version, app.config.Tracing.Endpoint)
	app.shutdownTracer = shutdown
	if err != nil {
		// Tracing is optional; the service keeps running with a no-op provider
		app.logger.WithError(err).Warn("Failed to initialize tracing")
	}
	return nil
}

func (app *Application) initializeMetrics() error {
	if app.config.Server.EnableMetrics {
		app.metrics = metrics.NewManager()
	}
	return nil
}

// initializeStorage connects the recipient store, or leaves it nil when disabled
func (app *Application) initializeStorage() error {
	if strings.EqualFold(app.config.Storage.Type, storage.TypeNone) {
		app.logger.WithField("recipients", len(app.config.Telegram.DefaultRecipients)).
			Info("Recipient storage disabled, using default recipients")
		return nil
	}

	store, err := openStorage(&app.config.Storage)
	if err != nil {
		return err
	}
	app.storage = storage.NewStorageWithMetrics(store, app.metrics.GetPrometheusMetrics())

	if len(app.config.Telegram.DefaultRecipients) > 0 {
		if _, err := app.storage.SeedRecipients(app.ctx, app.config.Telegram.DefaultRecipients); err != nil {
			return fmt.Errorf("failed to seed default recipients: %w", err)
		}
	}
	return nil
}

func (app *Application) initializeDedup() error {
	cfg := app.config.Dedup
	sets, err := dedup.NewSets(app.ctx, dedup.Config{
		Backend:   cfg.Backend,
		Capacity:  cfg.Capacity,
		TTL:       cfg.TTL,
		RedisAddr: cfg.RedisAddr,
		RedisDB:   cfg.RedisDB,
		KeyPrefix: cfg.KeyPrefix,
	})
	if err != nil {
		return err
	}
	app.dedup = sets
	return nil
}

// initializeTelegram authenticates the bot and builds the notifier and command handler
func (app *Application) initializeTelegram() error {
	tgCfg := app.config.Telegram

	api, err := newBotAPI(tgCfg)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeConfiguration, "Failed to authenticate telegram bot", err)
	}
	app.telegram = api
	app.logger.WithField("bot", api.Self.UserName).Info("Telegram bot authenticated")

	var source notification.RecipientSource = notification.StaticRecipients(tgCfg.DefaultRecipients)
	if app.storage != nil {
		source = app.storage
	}

	app.notifier = notification.NewNotifier(notification.NotifierConfig{
		MaxConcurrent: app.config.Notifications.MaxConcurrent,
		SendTimeout:   app.config.Notifications.SendTimeout,
	}, notification.NewTelegramSender(api), source, app.metrics.GetPrometheusMetrics())

	// Bot commands manage stored recipients, so they need a store
	if app.storage != nil {
		app.bot = bot.NewHandler(bot.Config{
			ConnectURL:          tgCfg.ConnectURL,
			AdminIDs:            tgCfg.AdminIDs,
			ConversationTimeout: tgCfg.ConversationTimeout,
		}, app.storage, app.notifier, app.metrics.GetPrometheusMetrics())
	}
	return nil
}

func newBotAPI(cfg config.TelegramConfig) (*tgbotapi.BotAPI, error) {
	if cfg.APIEndpoint != "" {
		return tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, cfg.APIEndpoint)
	}
	return tgbotapi.NewBotAPI(cfg.Token)
}

func (app *Application) initializeEvents() error {
	if len(app.config.Kafka.Brokers) == 0 {
		app.publisher = events.NopPublisher{}
		return nil
	}

	publisher, err := events.NewKafkaPublisher(events.KafkaConfig{
		Brokers: app.config.Kafka.Brokers,
		Topic:   app.config.Kafka.Topic,
	}, app.metrics.GetPrometheusMetrics())
	if err != nil {
		return err
	}
	app.publisher = publisher
	return nil
}

// initializeMonitor builds the fetcher, tracker pool and mempool scanner
func (app *Application) initializeMonitor() error {
	m := app.metrics.GetPrometheusMetrics()
	stacksCfg := app.config.Stacks

	fetcher := stacks.NewFetcher(stacks.FetcherConfig{
		Retries:      stacksCfg.RetryAttempts,
		InitialDelay: stacksCfg.RetryDelay,
		Timeout:      stacksCfg.RequestTimeout,
	}, nil, m)
	client := stacks.NewClient(stacksCfg.NodeURL, stacksCfg.ExplorerURL, fetcher)

	trackerCfg := app.config.Tracker
	app.trackers = monitor.NewTrackerPool(monitor.TrackerConfig{
		PollInterval: trackerCfg.PollInterval,
		ErrorBackoff: trackerCfg.ErrorBackoff,
		MaxDuration:  trackerCfg.MaxDuration,
		MaxActive:    trackerCfg.MaxActive,
	}, client, app.dedup.Confirmed, app.notifier, app.publisher, m)

	scannerCfg := app.config.Scanner
	app.scanner = monitor.NewMempoolScanner(
		client,
		monitor.NewContractMatcher(scannerCfg.ContractSuffixes, scannerCfg.CaseInsensitive),
		app.dedup.Seen,
		app.notifier,
		app.publisher,
		app.trackers,
		m,
		&monitor.ScannerConfig{
			PollInterval:      scannerCfg.PollInterval,
			PageSize:          scannerCfg.PageSize,
			NotifyOnDetection: scannerCfg.NotifyOnDetection,
		},
	)
	return nil
}

// initializeServer initializes the HTTP server
func (app *Application) initializeServer() error {
	serverCfg := &server.ServerConfig{
		Port:          app.config.Server.Port,
		Host:          app.config.Server.Host,
		ReadTimeout:   app.config.Server.ReadTimeout,
		WriteTimeout:  app.config.Server.WriteTimeout,
		EnableMetrics: app.config.Server.EnableMetrics,
		EnableHealth:  app.config.Server.EnableHealth,
		WebhookSecret: app.config.Telegram.WebhookSecret,
		AdminToken:    app.config.Server.AdminToken,
		Version:       AppVersion,
	}

	var handler server.UpdateHandler
	if app.bot != nil {
		handler = app.bot
	}

	var err error
	app.server, err = server.NewHTTPServer(serverCfg, app.storage, app.scanner, app.notifier, handler, app.metrics)
	return err
}

// registerWebhook points Telegram at our /webhook endpoint
func (app *Application) registerWebhook() error {
	tgCfg := app.config.Telegram
	if tgCfg.WebhookURL == "" {
		app.logger.Info("No webhook URL configured, bot commands are disabled")
		return nil
	}

	params := tgbotapi.Params{}
	params["url"] = tgCfg.WebhookURL
	params.AddNonEmpty("secret_token", tgCfg.WebhookSecret)

	resp, err := app.telegram.MakeRequest("setWebhook", params)
	if err != nil {
		return fmt.Errorf("failed to register webhook: %w", err)
	}
	if !resp.Ok {
		return fmt.Errorf("telegram rejected webhook: %s", resp.Description)
	}

	app.logger.WithField("url", tgCfg.WebhookURL).Info("Telegram webhook registered")
	return nil
}

// Start starts the application
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	}).Info("Starting Stacks mempool notifier")

	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := app.registerWebhook(); err != nil {
		// The scanner works without inbound commands
		app.logger.WithError(err).Error("Webhook registration failed")
	}

	if err := app.scanner.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start mempool scanner: %w", err)
	}

	app.logger.WithFields(logrus.Fields{
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"stacks_node":    app.config.Stacks.NodeURL,
		"suffixes":       app.config.Scanner.ContractSuffixes,
	}).Info("Stacks mempool notifier started successfully")

	return nil
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	app.logger.Info("Stopping Stacks mempool notifier")

	app.cancel()

	// Stop components in reverse order
	if app.server != nil {
		if err := app.server.Stop(); err != nil && err != http.ErrServerClosed {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}

	if app.scanner != nil {
		if err := app.scanner.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop mempool scanner")
		}
	} else if app.trackers != nil {
		app.trackers.Stop()
	}

	if app.publisher != nil {
		if err := app.publisher.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close event publisher")
		}
	}

	if app.dedup != nil {
		if err := app.dedup.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close dedup backend")
		}
	}

	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close storage")
		}
	}

	if app.shutdownTracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.shutdownTracer(ctx); err != nil {
			app.logger.WithError(err).Error("Failed to flush traces")
		}
	}

	app.logger.Info("Stacks mempool notifier stopped")
	return nil
}

// openStorage creates, connects and migrates the configured store
func openStorage(cfg *config.StorageConfig) (storage.Storage, error) {
	if err := storage.ValidateStorageConfig(cfg); err != nil {
		return nil, err
	}

	store, err := storage.NewStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	if err := store.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to storage: %w", err)
	}

	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run storage migrations: %w", err)
	}

	return store, nil
}
