// File: internal/server/server.go
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/stacks-mempool-notifier/internal/metrics"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/monitor"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/notification"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/storage"
	"github.com/smartdevs17/stacks-mempool-notifier/pkg/utils"
)

// TelegramSecretHeader carries the secret token configured with setWebhook
const TelegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          int           `json:"port"`
	Host          string        `json:"host"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	EnableMetrics bool          `json:"enable_metrics"`
	EnableHealth  bool          `json:"enable_health"`
	WebhookSecret string        `json:"-"`
	AdminToken    string        `json:"-"`
	Version       string        `json:"version"`
}

// UpdateHandler processes an inbound Telegram update
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update) error
}

// HTTPServer represents the HTTP server
type HTTPServer struct {
	config         *ServerConfig
	server         *http.Server
	router         *mux.Router
	storage        storage.Storage
	monitor        monitor.Monitor
	notifier       *notification.Notifier
	bot            UpdateHandler
	metricsManager *metrics.Manager
	validate       *validator.Validate
	logger         *logrus.Entry

	stopMetrics chan struct{}
}

// NewHTTPServer creates a new HTTP server. storage, bot and metricsManager may be nil.
func NewHTTPServer(
	config *ServerConfig,
	storage storage.Storage,
	monitor monitor.Monitor,
	notifier *notification.Notifier,
	bot UpdateHandler,
	metricsManager *metrics.Manager,
) (*HTTPServer, error) {
	if config == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Server config is required")
	}

	server := &HTTPServer{
		config:         config,
		storage:        storage,
		monitor:        monitor,
		notifier:       notifier,
		bot:            bot,
		metricsManager: metricsManager,
		validate:       validator.New(),
		logger:         utils.ComponentLogger("http"),
		stopMetrics:    make(chan struct{}),
	}

	// Setup router
	server.setupRouter()

	// Create HTTP server
	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return server, nil
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	// Middleware
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	s.router.HandleFunc("/", s.rootHandler).Methods("GET")

	// Telegram webhook and wallet connection callback
	s.router.HandleFunc("/webhook", s.webhookHandler).Methods("POST")
	s.router.HandleFunc("/update-wallet", s.updateWalletHandler).Methods("POST", "OPTIONS")

	// API routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Health check endpoint
	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
	}

	// Metrics endpoint
	if s.config.EnableMetrics {
		if s.metricsManager != nil {
			s.router.Handle("/metrics", s.metricsManager.Handler())
		}
		api.HandleFunc("/stats", s.statsHandler).Methods("GET")
	}

	// Recipient endpoints expose chat ids and wallets, so they need the admin token
	recipients := api.PathPrefix("/recipients").Subrouter()
	recipients.Use(s.adminAuthMiddleware)
	recipients.HandleFunc("", s.listRecipientsHandler).Methods("GET")
	recipients.HandleFunc("/{id}", s.getRecipientHandler).Methods("GET")
}

// Router exposes the configured routes
func (s *HTTPServer) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	// Update system and component metrics so they appear on first scrape
	if s.metricsManager != nil {
		s.updateComponentMetrics()
		go s.systemMetricsUpdater()
	}

	// Create a channel to receive startup errors
	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	// Give the server a moment to start and check for immediate binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// systemMetricsUpdater updates system metrics periodically
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.updateComponentMetrics()
		case <-s.stopMetrics:
			return
		}
	}
}

func (s *HTTPServer) updateComponentMetrics() {
	s.metricsManager.UpdateSystemMetrics()

	m := s.metricsManager.GetPrometheusMetrics()
	if s.storage != nil {
		m.UpdateComponentHealth("storage", s.storage.Ping() == nil)
	}
	if s.monitor != nil {
		m.UpdateComponentHealth("monitor", s.monitor.GetHealth().Healthy)
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	select {
	case <-s.stopMetrics:
	default:
		close(s.stopMetrics)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Middleware

// loggingMiddleware logs HTTP requests
func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"duration":   time.Since(start),
			"user_agent": r.UserAgent(),
			"remote_ip":  r.RemoteAddr,
		}).Debug("HTTP request")
	})
}

// adminAuthMiddleware requires "Authorization: Bearer <token>". The token is
// server.admin_token, or the webhook secret when no admin token is set.
// With neither configured every request is refused.
func (s *HTTPServer) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.config.AdminToken
		if token == "" {
			token = s.config.WebhookSecret
		}

		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(token)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
			s.writeError(w, http.StatusUnauthorized, "Unauthorized", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// corsMiddleware handles CORS
func (s *HTTPServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// rootHandler answers uptime probes
func (s *HTTPServer) rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Server is running"))
}

// Health Handlers

// healthHandler returns component health
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	healthy := true
	components := make(map[string]interface{})

	if s.monitor != nil {
		health := s.monitor.GetHealth()
		components["monitor"] = health
		healthy = healthy && health.Healthy
	}

	if s.storage != nil {
		storageHealth := map[string]interface{}{"healthy": true}
		if err := s.storage.Ping(); err != nil {
			storageHealth["healthy"] = false
			storageHealth["error"] = err.Error()
			healthy = false
		}
		components["storage"] = storageHealth
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	resp := map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		"version":    s.config.Version,
		"components": components,
	}
	if s.metricsManager != nil {
		resp["uptime"] = s.metricsManager.Uptime().String()
	}
	s.writeJSON(w, code, resp)
}

// statsHandler returns application statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"timestamp":       time.Now(),
		"metrics_enabled": s.config.EnableMetrics,
	}

	if s.storage != nil {
		storageStats, err := s.storage.GetStorageStats(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "Failed to retrieve storage stats", err)
			return
		}
		stats["storage"] = storageStats
	}
	if s.monitor != nil {
		stats["monitor"] = s.monitor.GetStats()
	}
	if s.notifier != nil {
		stats["notification"] = s.notifier.GetStats()
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// Recipient Handlers

func (s *HTTPServer) listRecipientsHandler(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Recipient storage is disabled", nil)
		return
	}

	recipients, err := s.storage.ListRecipients(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list recipients", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"recipients": recipients,
		"count":      len(recipients),
	})
}

func (s *HTTPServer) getRecipientHandler(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Recipient storage is disabled", nil)
		return
	}

	recipient, err := s.storage.GetRecipient(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "User not found.", nil)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to get recipient", err)
		return
	}

	s.writeJSON(w, http.StatusOK, recipient)
}

// webhookHandler receives Telegram updates
func (s *HTTPServer) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if secret := s.config.WebhookSecret; secret != "" {
		got := r.Header.Get(TelegramSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "Invalid webhook secret", nil)
			return
		}
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid update payload", err)
		return
	}

	if s.bot != nil {
		if err := s.bot.HandleUpdate(r.Context(), update); err != nil {
			// Telegram redelivers non-2xx updates, so failures are only logged
			s.logger.WithFields(logrus.Fields{
				"update_id": update.UpdateID,
				"error":     err,
			}).Error("Failed to handle update")
		}
	}

	w.WriteHeader(http.StatusOK)
}

// UpdateWalletRequest links a wallet to a chat user
type UpdateWalletRequest struct {
	UserID flexibleID `json:"userId" validate:"required"`
	Wallet string     `json:"wallet" validate:"required,max=128"`
}

// flexibleID accepts chat ids sent as JSON strings or numbers
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexibleID(n.String())
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexibleID(strings.TrimSpace(s))
	return nil
}

// updateWalletHandler stores the wallet chosen on the connect page
func (s *HTTPServer) updateWalletHandler(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Recipient storage is disabled", nil)
		return
	}

	var req UpdateWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}
	req.Wallet = strings.TrimSpace(req.Wallet)
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	recipient, err := s.storage.UpdateWallet(r.Context(), string(req.UserID), req.Wallet)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "User not found.", nil)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Internal server error.", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":   "Wallet updated successfully.",
		"recipient": recipient,
	})
}

// Utility Methods

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
			"error":   err,
		}).Warn("HTTP error")
	}

	s.writeJSON(w, status, errorResponse)
}
