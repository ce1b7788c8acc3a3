package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/stacks-mempool-notifier/internal/models"
	"github.com/smartdevs17/stacks-mempool-notifier/pkg/utils"
)

// dialect captures what differs between the supported SQL databases
type dialect struct {
	name          string
	driver        string
	numbered      bool   // $1, $2 placeholders instead of ?
	insertIgnore  string // statement prefix that skips duplicate keys
	ignoreSuffix  string
	timestampType string
	migrations    []*Migration
}

// sqlStorage implements the recipient operations shared by every dialect
type sqlStorage struct {
	db      *sql.DB
	config  *StorageConfig
	dialect dialect
	logger  *logrus.Entry
}

func newSQLStorage(config *StorageConfig, d dialect) *sqlStorage {
	return &sqlStorage{
		config:  config,
		dialect: d,
		logger:  utils.ComponentLogger("storage").WithField("dialect", d.name),
	}
}

func (s *sqlStorage) open(dsn string) error {
	db, err := sql.Open(s.dialect.driver, dsn)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, fmt.Sprintf("Failed to open %s database", s.dialect.name), err)
	}

	// Configure connection pool
	if s.config.MaxConnections > 0 {
		db.SetMaxOpenConns(s.config.MaxConnections)
		db.SetMaxIdleConns(max(1, s.config.MaxConnections/2))
	}
	if s.config.MaxIdleTime > 0 {
		db.SetConnMaxIdleTime(s.config.MaxIdleTime)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *sqlStorage) Close() error {
	if s.db != nil {
		// The handle is kept so later calls fail with "database is closed"
		err := s.db.Close()
		s.logger.Info("Database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *sqlStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Migrate runs database migrations
func (s *sqlStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	s.logger.Info("Starting database migrations")
	if err := s.applyMigrations(context.Background()); err != nil {
		return err
	}
	s.logger.Info("Database migrations completed")
	return nil
}

// rebind converts ? placeholders for dialects with numbered parameters
func (s *sqlStorage) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const recipientColumns = `user_id, wallet, connected, created_at, updated_at`

func (s *sqlStorage) insertRecipientQuery() string {
	return s.rebind(s.dialect.insertIgnore + ` recipients (` + recipientColumns + `) VALUES (?, ?, ?, ?, ?)` + s.dialect.ignoreSuffix)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecipient(row rowScanner) (*models.Recipient, error) {
	var (
		recipient models.Recipient
		wallet    sql.NullString
	)
	if err := row.Scan(&recipient.UserID, &wallet, &recipient.Connected, &recipient.CreatedAt, &recipient.UpdatedAt); err != nil {
		return nil, err
	}
	if wallet.Valid && wallet.String != "" {
		w := wallet.String
		recipient.Wallet = &w
	}
	return &recipient, nil
}

// GetRecipient returns a single recipient
func (s *sqlStorage) GetRecipient(ctx context.Context, userID string) (*models.Recipient, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+recipientColumns+` FROM recipients WHERE user_id = ?`), userID)

	recipient, err := scanRecipient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to get recipient", err)
	}
	return recipient, nil
}

// ListRecipients returns every recipient, oldest first
func (s *sqlStorage) ListRecipients(ctx context.Context) ([]*models.Recipient, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recipientColumns+` FROM recipients ORDER BY created_at, user_id`)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to list recipients", err)
	}
	defer rows.Close()

	recipients := make([]*models.Recipient, 0)
	for rows.Next() {
		recipient, err := scanRecipient(rows)
		if err != nil {
			return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to scan recipient", err)
		}
		recipients = append(recipients, recipient)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to iterate recipients", err)
	}
	return recipients, nil
}

// RecipientIDs returns every recipient chat id, oldest first
func (s *sqlStorage) RecipientIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM recipients ORDER BY created_at, user_id`)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to list recipient ids", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to scan recipient id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AddRecipient inserts a new recipient without a wallet
func (s *sqlStorage) AddRecipient(ctx context.Context, userID string) (*models.Recipient, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "User id is required")
	}
	if !models.IsValidChatID(userID) {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "User id must be a numeric chat id or an @channel", userID)
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, s.insertRecipientQuery(), userID, nil, false, now, now)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to add recipient", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to add recipient", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, userID)
	}

	s.logger.WithField("user_id", userID).Info("Recipient added")
	return &models.Recipient{UserID: userID, CreatedAt: now, UpdatedAt: now}, nil
}

// UpdateWallet links a wallet to a recipient and marks it connected
func (s *sqlStorage) UpdateWallet(ctx context.Context, userID, wallet string) (*models.Recipient, error) {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE recipients SET wallet = ?, connected = ?, updated_at = ? WHERE user_id = ?`),
		wallet, true, time.Now().UTC(), userID)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to update wallet", err)
	}

	// Re-read rather than trusting RowsAffected, which MySQL reports as 0 for unchanged rows
	recipient, err := s.GetRecipient(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"wallet":  wallet,
	}).Info("Recipient wallet updated")
	return recipient, nil
}

// DeleteRecipient removes a recipient
func (s *sqlStorage) DeleteRecipient(ctx context.Context, userID string) error {
	result, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM recipients WHERE user_id = ?`), userID)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to delete recipient", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to delete recipient", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, userID)
	}

	s.logger.WithField("user_id", userID).Info("Recipient removed")
	return nil
}

// SeedRecipients inserts the ids that are missing and returns how many were added
func (s *sqlStorage) SeedRecipients(ctx context.Context, userIDs []string) (int, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.insertRecipientQuery())
	if err != nil {
		return 0, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to prepare statement", err)
	}
	defer stmt.Close()

	added := 0
	now := time.Now().UTC()
	for _, userID := range userIDs {
		userID = strings.TrimSpace(userID)
		if userID == "" {
			continue
		}
		if !models.IsValidChatID(userID) {
			s.logger.WithField("user_id", userID).Warn("Skipping invalid default recipient")
			continue
		}

		result, err := stmt.ExecContext(ctx, userID, nil, false, now, now)
		if err != nil {
			return 0, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to seed recipient", err)
		}
		if affected, _ := result.RowsAffected(); affected > 0 {
			added++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to commit transaction", err)
	}

	s.logger.WithFields(logrus.Fields{
		"requested": len(userIDs),
		"added":     added,
	}).Info("Default recipients seeded")
	return added, nil
}

// GetStorageStats returns recipient statistics
func (s *sqlStorage) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{Type: s.dialect.name}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN connected THEN 1 ELSE 0 END), 0) FROM recipients`).
		Scan(&stats.TotalRecipients, &stats.ConnectedRecipients)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to count recipients", err)
	}

	var latest time.Time
	err = s.db.QueryRowContext(ctx, `SELECT created_at FROM recipients ORDER BY created_at DESC LIMIT 1`).Scan(&latest)
	switch {
	case err == nil:
		stats.LatestRecipient = &latest
	case !errors.Is(err, sql.ErrNoRows):
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to read latest recipient", err)
	}

	if version, err := s.schemaVersion(ctx); err == nil {
		stats.SchemaVersion = version
	}
	stats.OpenConnections = s.db.Stats().OpenConnections

	return stats, nil
}
