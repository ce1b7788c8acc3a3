// File: internal/monitor/monitor.go
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/dedup"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/events"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/metrics"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/models"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/notification"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/stacks"
	"github.com/smartdevs17/stacks-mempool-notifier/pkg/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Monitor defines the mempool monitor interface
type Monitor interface {
	// Lifecycle management
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool

	// Scanning
	ScanOnce(ctx context.Context) (*CycleResult, error)

	// Statistics and monitoring
	GetStats() *MonitorStats
	GetHealth() *HealthStatus
}

// MempoolScanner polls the mempool and reacts to matching contract deploys
type MempoolScanner struct {
	// Dependencies
	api       stacks.API
	matcher   *ContractMatcher
	seen      dedup.Set
	notifier  notification.Broadcaster
	publisher events.Publisher
	trackers  *TrackerPool
	metrics   *metrics.PrometheusMetrics
	tracer    trace.Tracer
	logger    *logrus.Entry

	// Configuration
	config *ScannerConfig

	// State management
	mu       sync.RWMutex
	running  bool
	stopped  bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Serialises cycles so matches are handled in listing order
	cycleMu sync.Mutex

	// Statistics
	statsMu sync.RWMutex
	stats   *MonitorStats
}

// ScannerConfig holds scanner configuration
type ScannerConfig struct {
	PollInterval      time.Duration `json:"poll_interval"`
	PageSize          int           `json:"page_size"`
	NotifyOnDetection bool          `json:"notify_on_detection"`
}

// CycleResult contains the result of one polling cycle
type CycleResult struct {
	StartedAt      time.Time     `json:"started_at"`
	Scanned        int           `json:"scanned"`
	Matched        int           `json:"matched"`
	Detected       []string      `json:"detected,omitempty"`
	Duplicates     int           `json:"duplicates"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// MonitorStats provides monitoring statistics
type MonitorStats struct {
	StartTime            time.Time         `json:"start_time"`
	Uptime               time.Duration     `json:"uptime"`
	IsRunning            bool              `json:"is_running"`
	TotalCycles          uint64            `json:"total_cycles"`
	FailedCycles         uint64            `json:"failed_cycles"`
	TotalScanned         uint64            `json:"total_scanned"`
	TotalDetected        uint64            `json:"total_detected"`
	DuplicatesSuppressed uint64            `json:"duplicates_suppressed"`
	ActiveTrackers       int               `json:"active_trackers"`
	TrackerOutcomes      map[string]uint64 `json:"tracker_outcomes"`
	ContractSuffixes     []string          `json:"contract_suffixes"`
	LastCycleAt          *time.Time        `json:"last_cycle_at,omitempty"`
	LastSuccessAt        *time.Time        `json:"last_success_at,omitempty"`
	ErrorCount           uint64            `json:"error_count"`
	LastError            *string           `json:"last_error,omitempty"`
	LastErrorTime        *time.Time        `json:"last_error_time,omitempty"`
}

// HealthStatus provides health information
type HealthStatus struct {
	Healthy        bool          `json:"healthy"`
	Running        bool          `json:"running"`
	LastSuccessAge time.Duration `json:"last_success_age"`
	ActiveTrackers int           `json:"active_trackers"`
	Issues         []string      `json:"issues,omitempty"`
}

// NewMempoolScanner creates a new scanner. publisher and m may be nil.
func NewMempoolScanner(
	api stacks.API,
	matcher *ContractMatcher,
	seen dedup.Set,
	notifier notification.Broadcaster,
	publisher events.Publisher,
	trackers *TrackerPool,
	m *metrics.PrometheusMetrics,
	config *ScannerConfig,
) *MempoolScanner {
	if config.PollInterval <= 0 {
		config.PollInterval = 3 * time.Second
	}
	if config.PageSize <= 0 {
		config.PageSize = 20
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	return &MempoolScanner{
		api:       api,
		matcher:   matcher,
		seen:      seen,
		notifier:  notifier,
		publisher: publisher,
		trackers:  trackers,
		metrics:   m,
		tracer:    otel.Tracer("stacks-mempool-notifier/monitor"),
		logger:    utils.ComponentLogger("scanner"),
		config:    config,
		stopChan:  make(chan struct{}),
		stats: &MonitorStats{
			StartTime:       time.Now(),
			TrackerOutcomes: map[string]uint64{},
		},
	}
}

// Start starts the polling loop; the first cycle runs immediately.
// A scanner that has been stopped cannot be started again.
func (ms *MempoolScanner) Start(ctx context.Context) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Scanner already running", "")
	}
	if ms.stopped {
		return utils.NewAppError(utils.ErrCodeInternal, "Scanner cannot be restarted after Stop", "")
	}

	ms.running = true
	ms.statsMu.Lock()
	ms.stats.StartTime = time.Now()
	ms.stats.IsRunning = true
	ms.statsMu.Unlock()

	ms.wg.Add(1)
	go ms.monitoringLoop(ctx)

	ms.logger.WithFields(logrus.Fields{
		"poll_interval": ms.config.PollInterval.String(),
		"page_size":     ms.config.PageSize,
		"suffixes":      ms.matcher.Suffixes(),
	}).Info("Mempool scanner started")

	return nil
}

// Stop stops the polling loop and every running tracker
func (ms *MempoolScanner) Stop() error {
	ms.mu.Lock()
	if !ms.running {
		ms.mu.Unlock()
		return nil
	}
	ms.running = false
	ms.stopped = true
	ms.mu.Unlock()

	ms.logger.Info("Stopping mempool scanner")

	ms.stopOnce.Do(func() {
		close(ms.stopChan)
	})
	ms.wg.Wait()

	if ms.trackers != nil {
		ms.trackers.Stop()
	}

	ms.statsMu.Lock()
	ms.stats.IsRunning = false
	ms.statsMu.Unlock()

	ms.logger.Info("Mempool scanner stopped")
	return nil
}

// IsRunning returns whether the scanner is running
func (ms *MempoolScanner) IsRunning() bool {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.running
}

// monitoringLoop is the main polling loop
func (ms *MempoolScanner) monitoringLoop(ctx context.Context) {
	defer ms.wg.Done()

	ticker := time.NewTicker(ms.config.PollInterval)
	defer ticker.Stop()

	ms.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			ms.logger.Info("Scanner loop stopped by context")
			return
		case <-ms.stopChan:
			ms.logger.Info("Scanner loop stopped by stop signal")
			return
		case <-ticker.C:
			ms.runCycle(ctx)
		}
	}
}

func (ms *MempoolScanner) runCycle(ctx context.Context) {
	if _, err := ms.ScanOnce(ctx); err != nil && ctx.Err() == nil {
		ms.logger.WithField("error", err).Error("Mempool polling cycle failed, skipping")
	}
}

// ScanOnce runs a single polling cycle. A fetch failure fails the whole
// cycle; per-transaction problems are logged and do not.
func (ms *MempoolScanner) ScanOnce(ctx context.Context) (*CycleResult, error) {
	ms.cycleMu.Lock()
	defer ms.cycleMu.Unlock()

	ctx, span := ms.tracer.Start(ctx, "mempool.scan")
	defer span.End()

	result := &CycleResult{StartedAt: time.Now()}

	txs, err := ms.api.GetMempool(ctx, ms.config.PageSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		ms.recordCycle(result, err)
		return result, err
	}

	result.Scanned = len(txs)
	matches := ms.matcher.Filter(txs)
	result.Matched = len(matches)

	for _, tx := range matches {
		if ctx.Err() != nil {
			break
		}

		added, err := ms.seen.Add(ctx, tx.TxID)
		if err != nil {
			ms.logger.WithFields(logrus.Fields{
				"tx_id": tx.TxID,
				"error": err,
			}).Error("Failed to record seen transaction")
			continue
		}
		if !added {
			result.Duplicates++
			continue
		}

		ms.handleDetected(ctx, tx)
		result.Detected = append(result.Detected, tx.TxID)
	}

	span.SetAttributes(
		attribute.Int("mempool.scanned", result.Scanned),
		attribute.Int("mempool.matched", result.Matched),
		attribute.Int("mempool.detected", len(result.Detected)),
	)
	ms.recordCycle(result, nil)

	return result, nil
}

// handleDetected notifies, publishes and starts tracking a new deploy
func (ms *MempoolScanner) handleDetected(ctx context.Context, tx *models.Transaction) {
	detectedAt := time.Now()
	logger := ms.logger.WithFields(logrus.Fields{
		"tx_id":       tx.TxID,
		"contract_id": tx.ContractID(),
	})
	logger.Info("New smart contract detected")

	if ms.metrics != nil {
		ms.metrics.RecordContractDetected()
	}

	if ms.config.NotifyOnDetection {
		msg := notification.ContractDetectedMessage(tx.ContractID(), tx.TxID, ms.api.TxURL(tx.TxID))
		if _, err := ms.notifier.Broadcast(ctx, msg); err != nil {
			logger.WithField("error", err).Error("Failed to broadcast detection")
		}
	}

	if err := ms.publisher.Publish(ctx, &models.ContractEvent{
		Type:       models.EventContractDetected,
		TxID:       tx.TxID,
		ContractID: tx.ContractID(),
		Status:     models.TxStatusPending,
		Timestamp:  detectedAt.UTC(),
	}); err != nil {
		logger.WithField("error", err).Warn("Failed to publish detection event")
	}

	if ms.trackers != nil {
		ms.trackers.Track(tx, detectedAt)
	}
}

func (ms *MempoolScanner) recordCycle(result *CycleResult, err error) {
	result.ProcessingTime = time.Since(result.StartedAt)

	status := "success"
	if err != nil {
		status = "error"
	}
	if ms.metrics != nil {
		ms.metrics.RecordMempoolPoll(status, result.Scanned, result.ProcessingTime)
	}

	ms.statsMu.Lock()
	defer ms.statsMu.Unlock()

	now := time.Now()
	ms.stats.TotalCycles++
	ms.stats.LastCycleAt = &now
	ms.stats.TotalScanned += uint64(result.Scanned)
	ms.stats.TotalDetected += uint64(len(result.Detected))
	ms.stats.DuplicatesSuppressed += uint64(result.Duplicates)

	if err != nil {
		ms.stats.FailedCycles++
		ms.stats.ErrorCount++
		msg := err.Error()
		ms.stats.LastError = &msg
		ms.stats.LastErrorTime = &now
		return
	}
	ms.stats.LastSuccessAt = &now

	if len(result.Detected) > 0 {
		ms.logger.WithFields(logrus.Fields{
			"scanned":  result.Scanned,
			"matched":  result.Matched,
			"detected": len(result.Detected),
		}).Debug("Mempool cycle processed")
	}
}

// GetStats returns a snapshot of the scanner statistics
func (ms *MempoolScanner) GetStats() *MonitorStats {
	ms.statsMu.RLock()
	stats := *ms.stats
	ms.statsMu.RUnlock()

	stats.Uptime = time.Since(stats.StartTime)
	stats.ContractSuffixes = ms.matcher.Suffixes()
	stats.TrackerOutcomes = map[string]uint64{}
	if ms.trackers != nil {
		stats.ActiveTrackers = ms.trackers.Active()
		stats.TrackerOutcomes = ms.trackers.Outcomes()
	}
	return &stats
}

// GetHealth reports unhealthy when no cycle succeeded within five poll intervals
func (ms *MempoolScanner) GetHealth() *HealthStatus {
	stats := ms.GetStats()
	health := &HealthStatus{
		Healthy:        true,
		Running:        stats.IsRunning,
		ActiveTrackers: stats.ActiveTrackers,
	}

	if !stats.IsRunning {
		health.Healthy = false
		health.Issues = append(health.Issues, "scanner is not running")
	}

	threshold := 5 * ms.config.PollInterval
	switch {
	case stats.LastSuccessAt != nil:
		health.LastSuccessAge = time.Since(*stats.LastSuccessAt)
		if health.LastSuccessAge > threshold {
			health.Healthy = false
			health.Issues = append(health.Issues, "no successful mempool poll recently")
		}
	case stats.IsRunning && time.Since(stats.StartTime) > threshold:
		health.Healthy = false
		health.Issues = append(health.Issues, "no successful mempool poll yet")
	}

	return health
}
