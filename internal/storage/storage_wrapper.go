package storage

import (
	"context"
	"errors"
	"time"

	"github.com/smartdevs17/stacks-mempool-notifier/internal/metrics"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/models"
)

const recipientsTable = "recipients"

// StorageWithMetrics wraps a storage implementation with metrics
type StorageWithMetrics struct {
	Storage
	metrics *metrics.PrometheusMetrics
}

// NewStorageWithMetrics creates a storage wrapper with metrics
func NewStorageWithMetrics(storage Storage, m *metrics.PrometheusMetrics) *StorageWithMetrics {
	return &StorageWithMetrics{
		Storage: storage,
		metrics: m,
	}
}

func (s *StorageWithMetrics) record(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}

	status := "success"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case errors.Is(err, ErrAlreadyExists):
		status = "exists"
	case err != nil:
		status = "error"
	}

	s.metrics.RecordDatabaseOperation(operation, recipientsTable, status, time.Since(start))
}

// GetRecipient reads a recipient and records metrics
func (s *StorageWithMetrics) GetRecipient(ctx context.Context, userID string) (*models.Recipient, error) {
	start := time.Now()
	recipient, err := s.Storage.GetRecipient(ctx, userID)
	s.record("select", start, err)
	return recipient, err
}

// ListRecipients lists recipients and records metrics
func (s *StorageWithMetrics) ListRecipients(ctx context.Context) ([]*models.Recipient, error) {
	start := time.Now()
	recipients, err := s.Storage.ListRecipients(ctx)
	s.record("list", start, err)
	return recipients, err
}

// RecipientIDs lists chat ids and records metrics
func (s *StorageWithMetrics) RecipientIDs(ctx context.Context) ([]string, error) {
	start := time.Now()
	ids, err := s.Storage.RecipientIDs(ctx)
	s.record("list_ids", start, err)
	return ids, err
}

// AddRecipient adds a recipient and records metrics
func (s *StorageWithMetrics) AddRecipient(ctx context.Context, userID string) (*models.Recipient, error) {
	start := time.Now()
	recipient, err := s.Storage.AddRecipient(ctx, userID)
	s.record("insert", start, err)
	return recipient, err
}

// UpdateWallet updates a wallet and records metrics
func (s *StorageWithMetrics) UpdateWallet(ctx context.Context, userID, wallet string) (*models.Recipient, error) {
	start := time.Now()
	recipient, err := s.Storage.UpdateWallet(ctx, userID, wallet)
	s.record("update", start, err)
	return recipient, err
}

// DeleteRecipient deletes a recipient and records metrics
func (s *StorageWithMetrics) DeleteRecipient(ctx context.Context, userID string) error {
	start := time.Now()
	err := s.Storage.DeleteRecipient(ctx, userID)
	s.record("delete", start, err)
	return err
}

// SeedRecipients seeds recipients and records metrics
func (s *StorageWithMetrics) SeedRecipients(ctx context.Context, userIDs []string) (int, error) {
	start := time.Now()
	added, err := s.Storage.SeedRecipients(ctx, userIDs)
	s.record("seed", start, err)
	return added, err
}
