// File: internal/notification/notification.go
package notification

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/metrics"
	"github.com/smartdevs17/stacks-mempool-notifier/pkg/utils"
	"golang.org/x/sync/errgroup"
)

const DefaultMaxConcurrent = 5

// Sender delivers one message to one recipient
type Sender interface {
	Name() string
	Send(ctx context.Context, recipient string, msg Message) error
}

// RecipientSource yields the current list of recipient chat ids
type RecipientSource interface {
	RecipientIDs(ctx context.Context) ([]string, error)
}

// StaticRecipients is a fixed recipient list
type StaticRecipients []string

func (s StaticRecipients) RecipientIDs(context.Context) ([]string, error) {
	out := make([]string, len(s))
	copy(out, s)
	return out, nil
}

// Broadcaster is implemented by Notifier and used by the monitor
type Broadcaster interface {
	Broadcast(ctx context.Context, msg Message) (*BroadcastResult, error)
}

// NotifierConfig holds notifier configuration
type NotifierConfig struct {
	MaxConcurrent int
	SendTimeout   time.Duration
}

// Failure is a single failed delivery
type Failure struct {
	Recipient string `json:"recipient"`
	Error     string `json:"error"`
}

// BroadcastResult summarises one broadcast
type BroadcastResult struct {
	ID         string        `json:"id"`
	Kind       string        `json:"kind"`
	Recipients int           `json:"recipients"`
	Delivered  int           `json:"delivered"`
	Failed     []Failure     `json:"failed,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// NotificationStats provides notification statistics
type NotificationStats struct {
	TotalBroadcasts          uint64     `json:"total_broadcasts"`
	TotalNotificationsSent   uint64     `json:"total_notifications_sent"`
	TotalNotificationsFailed uint64     `json:"total_notifications_failed"`
	LastError                *string    `json:"last_error,omitempty"`
	LastErrorTime            *time.Time `json:"last_error_time,omitempty"`
}

// Notifier fans a message out to every current recipient
type Notifier struct {
	config  NotifierConfig
	sender  Sender
	source  RecipientSource
	metrics *metrics.PrometheusMetrics
	logger  *logrus.Entry

	broadcasts uint64
	sent       uint64
	failed     uint64

	mu            sync.Mutex
	lastError     string
	lastErrorTime time.Time
}

// NewNotifier creates a notifier. m may be nil.
func NewNotifier(config NotifierConfig, sender Sender, source RecipientSource, m *metrics.PrometheusMetrics) *Notifier {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Notifier{
		config:  config,
		sender:  sender,
		source:  source,
		metrics: m,
		logger:  utils.ComponentLogger("notifier"),
	}
}

// Broadcast sends msg to every recipient. Individual delivery failures are
// logged and reported in the result; only a failure to list recipients
// returns an error.
func (n *Notifier) Broadcast(ctx context.Context, msg Message) (*BroadcastResult, error) {
	start := time.Now()

	recipients, err := n.source.RecipientIDs(ctx)
	if err != nil {
		n.recordError(err)
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "failed to load recipients", err)
	}

	result := &BroadcastResult{
		ID:         utils.GenerateID(),
		Kind:       msg.Kind,
		Recipients: len(recipients),
	}
	atomic.AddUint64(&n.broadcasts, 1)

	var (
		mu    sync.Mutex
		group errgroup.Group
	)
	group.SetLimit(n.config.MaxConcurrent)

	for _, recipient := range recipients {
		recipient := recipient
		group.Go(func() error {
			err := n.deliver(ctx, recipient, msg)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, Failure{Recipient: recipient, Error: err.Error()})
			} else {
				result.Delivered++
			}
			return nil
		})
	}
	group.Wait()

	result.Duration = time.Since(start)

	entry := n.logger.WithFields(logrus.Fields{
		"broadcast_id": result.ID,
		"kind":         msg.Kind,
		"recipients":   result.Recipients,
		"delivered":    result.Delivered,
		"failed":       len(result.Failed),
	})
	if len(result.Failed) > 0 {
		entry.Warn("Broadcast completed with failures")
	} else {
		entry.Info("Broadcast completed")
	}

	return result, nil
}

// Send delivers msg to a single recipient, used for bot replies
func (n *Notifier) Send(ctx context.Context, recipient string, msg Message) error {
	return n.deliver(ctx, recipient, msg)
}

func (n *Notifier) deliver(ctx context.Context, recipient string, msg Message) error {
	if n.config.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.config.SendTimeout)
		defer cancel()
	}

	start := time.Now()
	err := n.sender.Send(ctx, recipient, msg)
	if err != nil {
		atomic.AddUint64(&n.failed, 1)
		n.recordError(err)
		if n.metrics != nil {
			n.metrics.RecordNotificationFailure(n.sender.Name(), msg.Kind)
		}
		n.logger.WithFields(logrus.Fields{
			"recipient": recipient,
			"kind":      msg.Kind,
			"error":     err,
		}).Error("Failed to deliver notification")
		return err
	}

	atomic.AddUint64(&n.sent, 1)
	if n.metrics != nil {
		n.metrics.RecordNotificationSent(n.sender.Name(), msg.Kind, time.Since(start))
	}
	return nil
}

func (n *Notifier) recordError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastError = err.Error()
	n.lastErrorTime = time.Now()
}

// GetStats returns delivery counters
func (n *Notifier) GetStats() *NotificationStats {
	stats := &NotificationStats{
		TotalBroadcasts:          atomic.LoadUint64(&n.broadcasts),
		TotalNotificationsSent:   atomic.LoadUint64(&n.sent),
		TotalNotificationsFailed: atomic.LoadUint64(&n.failed),
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lastError != "" {
		lastError := n.lastError
		lastErrorTime := n.lastErrorTime
		stats.LastError = &lastError
		stats.LastErrorTime = &lastErrorTime
	}
	return stats
}
