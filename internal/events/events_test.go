package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/metrics"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	writer := &fakeWriter{}
	m := metrics.NewPrometheusMetrics(prometheus.NewRegistry())
	publisher := newKafkaPublisher(writer, "events", m)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	err := publisher.Publish(context.Background(), &models.ContractEvent{
		Type:       models.EventContractDetected,
		TxID:       "0xabc",
		ContractID: "SP1.foo-stxcity",
		Status:     models.TxStatusPending,
		Timestamp:  ts,
	})
	require.NoError(t, err)
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, "0xabc", string(msg.Key))
	assert.Equal(t, ts, msg.Time)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "contract_detected", decoded["type"])
	assert.Equal(t, "SP1.foo-stxcity", decoded["contract_id"])
	assert.Equal(t, "pending", decoded["status"])

	assert.Equal(t, "event-type", msg.Headers[0].Key)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublishedTotal.WithLabelValues("contract_detected", "success")))

	require.NoError(t, publisher.Close())
	assert.True(t, writer.closed)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	writer := &fakeWriter{err: errors.New("leader not available")}
	m := metrics.NewPrometheusMetrics(prometheus.NewRegistry())
	publisher := newKafkaPublisher(writer, "events", m)

	event := &models.ContractEvent{Type: models.EventContractFailed, TxID: "0x01"}
	err := publisher.Publish(context.Background(), event)
	require.Error(t, err)
	assert.False(t, event.Timestamp.IsZero())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublishedTotal.WithLabelValues("contract_failed", "error")))
}

func TestNewKafkaPublisher_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{}, nil)
	assert.Error(t, err)

	publisher, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "stacks-contract-events", publisher.topic)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), &models.ContractEvent{}))
	assert.NoError(t, p.Close())
}
