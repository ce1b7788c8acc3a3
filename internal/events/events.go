package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/metrics"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/models"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/telemetry"
	"github.com/smartdevs17/stacks-mempool-notifier/pkg/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Publisher emits contract lifecycle events to downstream consumers
type Publisher interface {
	Publish(ctx context.Context, event *models.ContractEvent) error
	Close() error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *models.ContractEvent) error { return nil }
func (NopPublisher) Close() error                                         { return nil }

// messageWriter is the part of kafka.Writer used by the publisher
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig holds the producer settings
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaPublisher writes events as JSON keyed by transaction id, so all
// events of one deployment land on the same partition in order
type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	metrics *metrics.PrometheusMetrics
	logger  *logrus.Entry
}

// NewKafkaPublisher creates a publisher. m may be nil.
func NewKafkaPublisher(cfg KafkaConfig, m *metrics.PrometheusMetrics) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		cfg.Topic = "stacks-contract-events"
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           100 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return newKafkaPublisher(writer, cfg.Topic, m), nil
}

func newKafkaPublisher(writer messageWriter, topic string, m *metrics.PrometheusMetrics) *KafkaPublisher {
	return &KafkaPublisher{
		writer:  writer,
		topic:   topic,
		metrics: m,
		logger:  utils.ComponentLogger("events"),
	}
}

// Publish writes one event
func (p *KafkaPublisher) Publish(ctx context.Context, event *models.ContractEvent) error {
	ctx, span := otel.Tracer("stacks-mempool-notifier/events").Start(ctx, "kafka.publish")
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.destination.name", p.topic),
		attribute.String("event.type", string(event.Type)),
		attribute.String("stacks.tx_id", event.TxID),
	)

	msg, err := encode(event)
	if err != nil {
		p.record(event, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		return err
	}
	telemetry.InjectKafkaHeaders(ctx, &msg.Headers)

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.record(event, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		p.logger.WithFields(logrus.Fields{
			"type":  event.Type,
			"tx_id": event.TxID,
			"error": err,
		}).Error("Failed to publish contract event")
		return utils.WrapAppError(utils.ErrCodeExternal, "failed to publish contract event", err)
	}

	p.record(event, "success")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func (p *KafkaPublisher) record(event *models.ContractEvent, status string) {
	if p.metrics != nil {
		p.metrics.RecordEventPublished(string(event.Type), status)
	}
}

func encode(event *models.ContractEvent) (kafka.Message, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, utils.WrapAppError(utils.ErrCodeInternal, "failed to encode contract event", err)
	}
	return kafka.Message{
		Key:   []byte(event.TxID),
		Value: payload,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	}, nil
}
