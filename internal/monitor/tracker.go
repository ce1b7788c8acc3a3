// File: internal/monitor/tracker.go
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
)

// Tracker outcomes
const (
	OutcomeConfirmed = "confirmed"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
	OutcomeAbandoned = "abandoned"
	OutcomeStopped   = "stopped"
)

// TrackerConfig holds confirmation tracking configuration
type TrackerConfig struct {
	PollInterval time.Duration `json:"poll_interval"`
	ErrorBackoff time.Duration `json:"error_backoff"`
	MaxDuration  time.Duration `json:"max_duration"`
	MaxActive    int           `json:"max_active"`
}

// TrackedTx describes a running tracker
type TrackedTx struct {
	TxID       string    `json:"tx_id"`
	ContractID string    `json:"contract_id"`
	DetectedAt time.Time `json:"detected_at"`
	Polls      int       `json:"polls"`
}

type tracker struct {
	TrackedTx
	cancel context.CancelFunc
}

// TrackerPool runs one confirmation watcher per detected transaction
type TrackerPool struct {
	config    TrackerConfig
	api       stacks.API
	confirmed dedup.Set
	notifier  notification.Broadcaster
	publisher events.Publisher
	metrics   *metrics.PrometheusMetrics
	logger    *logrus.Entry

	mu       sync.Mutex
	baseCtx  context.Context
	stopAll  context.CancelFunc
	stopped  bool
	trackers map[string]*tracker
	wg       sync.WaitGroup

	outcomeMu sync.Mutex
	outcomes  map[string]uint64
}

// NewTrackerPool creates a tracker pool. publisher and m may be nil.
func NewTrackerPool(
	config TrackerConfig,
	api stacks.API,
	confirmed dedup.Set,
	notifier notification.Broadcaster,
	publisher events.Publisher,
	m *metrics.PrometheusMetrics,
) *TrackerPool {
	if config.PollInterval <= 0 {
		config.PollInterval = 3 * time.Second
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = 2 * config.PollInterval
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &TrackerPool{
		config:    config,
		api:       api,
		confirmed: confirmed,
		notifier:  notifier,
		publisher: publisher,
		metrics:   m,
		logger:    utils.ComponentLogger("tracker"),
		baseCtx:   ctx,
		stopAll:   cancel,
		trackers:  make(map[string]*tracker),
		outcomes:  make(map[string]uint64),
	}
}

// Track starts watching tx until it reaches a terminal status. It returns
// false when tx is already tracked, the pool is full or stopped.
func (p *TrackerPool) Track(tx *models.Transaction, detectedAt time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return false
	}
	if _, exists := p.trackers[tx.TxID]; exists {
		return false
	}
	if p.config.MaxActive > 0 && len(p.trackers) >= p.config.MaxActive {
		p.logger.WithFields(logrus.Fields{
			"tx_id":      tx.TxID,
			"max_active": p.config.MaxActive,
		}).Warn("Tracker pool full, not tracking transaction")
		if p.metrics != nil {
			p.metrics.RecordTrackerRejected()
		}
		return false
	}

	ctx, cancel := context.WithCancel(p.baseCtx)
	t := &tracker{
		TrackedTx: TrackedTx{
			TxID:       tx.TxID,
			ContractID: tx.ContractID(),
			DetectedAt: detectedAt,
		},
		cancel: cancel,
	}
	p.trackers[tx.TxID] = t
	p.updateActive()

	p.wg.Add(1)
	go p.run(ctx, t)

	p.logger.WithFields(logrus.Fields{
		"tx_id":       t.TxID,
		"contract_id": t.ContractID,
		"active":      len(p.trackers),
	}).Info("Tracking transaction until confirmation")
	return true
}

// Cancel stops the tracker of txID, if any
func (p *TrackerPool) Cancel(txID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.trackers[txID]
	if ok {
		t.cancel()
	}
	return ok
}

// Stop cancels every tracker and waits for them to exit
func (p *TrackerPool) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.stopAll()
	p.mu.Unlock()

	p.wg.Wait()
}

// Wait blocks until all running trackers have finished
func (p *TrackerPool) Wait() {
	p.wg.Wait()
}

// Active returns the number of running trackers
func (p *TrackerPool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.trackers)
}

// IsTracking reports whether txID has a running tracker
func (p *TrackerPool) IsTracking(txID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.trackers[txID]
	return ok
}

// Tracked returns a snapshot of the running trackers
func (p *TrackerPool) Tracked() []TrackedTx {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]TrackedTx, 0, len(p.trackers))
	for _, t := range p.trackers {
		out = append(out, t.TrackedTx)
	}
	return out
}

// Outcomes returns how many trackers finished with each outcome
func (p *TrackerPool) Outcomes() map[string]uint64 {
	p.outcomeMu.Lock()
	defer p.outcomeMu.Unlock()

	out := make(map[string]uint64, len(p.outcomes))
	for k, v := range p.outcomes {
		out[k] = v
	}
	return out
}

func (p *TrackerPool) run(ctx context.Context, t *tracker) {
	outcome := OutcomeStopped
	defer func() {
		p.finish(t, outcome)
	}()

	logger := p.logger.WithFields(logrus.Fields{
		"tx_id":       t.TxID,
		"contract_id": t.ContractID,
	})

	var deadline <-chan time.Time
	if p.config.MaxDuration > 0 {
		maxTimer := time.NewTimer(p.config.MaxDuration)
		defer maxTimer.Stop()
		deadline = maxTimer.C
	}

	timer := time.NewTimer(p.config.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Tracker stopped")
			return
		case <-deadline:
			logger.WithField("max_duration", p.config.MaxDuration.String()).
				Warn("Transaction not confirmed in time, abandoning tracker")
			p.publish(&models.ContractEvent{
				Type:       models.EventTrackingAbandoned,
				TxID:       t.TxID,
				ContractID: t.ContractID,
				Status:     models.TxStatusPending,
			})
			outcome = OutcomeAbandoned
			return
		case <-timer.C:
		}

		done, result, next := p.poll(ctx, t, logger)
		if done {
			outcome = result
			return
		}
		timer.Reset(next)
	}
}

// poll checks the transaction once. It reports whether the tracker is done,
// its outcome, and the delay before the next poll.
func (p *TrackerPool) poll(ctx context.Context, t *tracker, logger *logrus.Entry) (bool, string, time.Duration) {
	p.mu.Lock()
	t.Polls++
	p.mu.Unlock()

	tx, err := p.api.GetTransaction(ctx, t.TxID)
	if err != nil {
		if ctx.Err() != nil {
			return true, OutcomeStopped, 0
		}
		if p.metrics != nil {
			p.metrics.RecordTrackerPollError()
		}
		logger.WithField("error", err).Error("Failed to fetch transaction status")
		return false, "", p.config.ErrorBackoff
	}

	contractID := tx.ContractID()
	if contractID == "" {
		contractID = t.ContractID
	}

	switch {
	case tx.TxStatus.IsSuccess():
		added, err := p.confirmed.Add(ctx, t.TxID)
		if err != nil {
			logger.WithField("error", err).Error("Failed to record confirmation")
			return false, "", p.config.ErrorBackoff
		}
		if !added {
			logger.Debug("Confirmation already announced")
			return true, OutcomeDuplicate, 0
		}

		if p.metrics != nil {
			p.metrics.RecordConfirmation(time.Since(t.DetectedAt))
		}
		logger.Info("Transaction confirmed")

		msg := notification.ContractConfirmedMessage(contractID, t.TxID, p.api.TxURL(t.TxID))
		if _, err := p.notifier.Broadcast(ctx, msg); err != nil {
			logger.WithField("error", err).Error("Failed to broadcast confirmation")
		}
		p.publish(&models.ContractEvent{
			Type:       models.EventContractConfirmed,
			TxID:       t.TxID,
			ContractID: contractID,
			Status:     tx.TxStatus,
		})
		return true, OutcomeConfirmed, 0

	case tx.TxStatus.IsFailed():
		logger.WithField("status", tx.TxStatus).Warn("Transaction failed, stopping tracker")
		p.publish(&models.ContractEvent{
			Type:       models.EventContractFailed,
			TxID:       t.TxID,
			ContractID: contractID,
			Status:     tx.TxStatus,
		})
		return true, OutcomeFailed, 0
	}

	return false, "", p.config.PollInterval
}

func (p *TrackerPool) publish(event *models.ContractEvent) {
	// Detached from the tracker context; terminal events still go out after cancel
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.publisher.Publish(ctx, event); err != nil {
		p.logger.WithFields(logrus.Fields{
			"tx_id": event.TxID,
			"type":  event.Type,
			"error": err,
		}).Warn("Failed to publish contract event")
	}
}

func (p *TrackerPool) finish(t *tracker, outcome string) {
	p.mu.Lock()
	delete(p.trackers, t.TxID)
	p.updateActive()
	p.mu.Unlock()

	t.cancel()

	p.outcomeMu.Lock()
	p.outcomes[outcome]++
	p.outcomeMu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordTrackerOutcome(outcome)
	}
	p.wg.Done()
}

// updateActive must be called with p.mu held
func (p *TrackerPool) updateActive() {
	if p.metrics != nil {
		p.metrics.UpdateActiveTrackers(len(p.trackers))
	}
}
