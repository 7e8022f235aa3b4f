// Package postgres provides a PostgreSQL implementation of the reconcile.Store interface.
// Records live in the billing_event_ledger table; the terminal-status guard is
// part of the upsert so concurrent redeliveries cannot reopen a message.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/billingsync/pkg/billing"
	"github.com/mihaimyh/billingsync/pkg/reconcile"
)

// Storage implements reconcile.Store using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
	logger billing.Logger

	// stopCleanup cancels the background cleanup goroutine
	stopCleanup func()
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// Cleanup configuration
	CleanupEnabled  bool
	CleanupInterval time.Duration // How often to run cleanup
	RecordTTL       time.Duration // Records processed longer ago are deleted

	// Logger receives cleanup failures. Defaults to NoopLogger.
	Logger billing.Logger
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		CleanupEnabled:  true,
		CleanupInterval: 1 * time.Hour,
		RecordTTL:       7 * 24 * time.Hour,
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS billing_event_ledger (
	message_id    TEXT PRIMARY KEY,
	resource_type TEXT NOT NULL DEFAULT '',
	resource_id   TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	error         TEXT NOT NULL DEFAULT '',
	attempts      INTEGER NOT NULL DEFAULT 0,
	processed_at  TIMESTAMPTZ NOT NULL,
	lease_until   TIMESTAMPTZ
);
ALTER TABLE billing_event_ledger ADD COLUMN IF NOT EXISTS lease_until TIMESTAMPTZ;
CREATE INDEX IF NOT EXISTS billing_event_ledger_processed_at_idx
	ON billing_event_ledger (processed_at);
`

// New creates a new PostgreSQL ledger
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = &billing.NoopLogger{}
	}

	cleanupCtx, cancel := context.WithCancel(context.Background())
	s := &Storage{
		pool:        pool,
		config:      config,
		logger:      logger,
		stopCleanup: cancel,
	}

	if config.CleanupEnabled && config.CleanupInterval > 0 && config.RecordTTL > 0 {
		go s.startCleanup(cleanupCtx)
	}

	return s, nil
}

// Migrate creates the ledger table if it does not exist.
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate ledger schema: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL connection pool and stops background cleanup
func (s *Storage) Close() {
	if s.stopCleanup != nil {
		s.stopCleanup()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// GetEventRecord implements reconcile.Store
func (s *Storage) GetEventRecord(ctx context.Context, messageID string) (*reconcile.EventRecord, error) {
	var rec reconcile.EventRecord
	var status string
	var leaseUntil *time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT message_id, resource_type, resource_id, status, error, attempts, processed_at, lease_until
			FROM billing_event_ledger WHERE message_id = $1`,
		messageID).Scan(
		&rec.MessageID,
		&rec.ResourceType,
		&rec.ResourceID,
		&status,
		&rec.Error,
		&rec.Attempts,
		&rec.ProcessedAt,
		&leaseUntil,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event record: %w", err)
	}

	rec.Status = reconcile.Status(status)
	rec.ProcessedAt = rec.ProcessedAt.UTC()
	if leaseUntil != nil {
		rec.LeaseUntil = leaseUntil.UTC()
	}
	return &rec, nil
}

// SaveEventRecord implements reconcile.Store
func (s *Storage) SaveEventRecord(ctx context.Context, rec *reconcile.EventRecord) error {
	if rec == nil || rec.MessageID == "" {
		return reconcile.ErrInvalidRecord
	}

	processedAt := rec.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO billing_event_ledger (message_id, resource_type, resource_id, status, error, attempts, processed_at, lease_until)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (message_id) DO UPDATE SET
				resource_type = EXCLUDED.resource_type,
				resource_id = EXCLUDED.resource_id,
				status = EXCLUDED.status,
				error = EXCLUDED.error,
				attempts = EXCLUDED.attempts,
				processed_at = EXCLUDED.processed_at,
				lease_until = EXCLUDED.lease_until
			WHERE billing_event_ledger.status NOT IN ('succeeded', 'skipped', 'rejected')
				OR EXCLUDED.status IN ('succeeded', 'skipped', 'rejected')`,
		rec.MessageID, rec.ResourceType, rec.ResourceID, string(rec.Status), rec.Error, rec.Attempts, processedAt.UTC(), nullTime(rec.LeaseUntil),
	)
	if err != nil {
		return fmt.Errorf("failed to save event record: %w", err)
	}
	return nil
}

// ClaimEventRecord implements reconcile.Store. The upsert only updates a
// claimable row, so when it returns nothing another delivery holds the
// lease or the message is done.
func (s *Storage) ClaimEventRecord(ctx context.Context, claim *reconcile.EventRecord) (*reconcile.EventRecord, bool, error) {
	if claim == nil || claim.MessageID == "" {
		return nil, false, reconcile.ErrInvalidRecord
	}

	next := *claim
	next.Status = reconcile.StatusInProgress
	next.Error = ""
	next.ProcessedAt = claim.ProcessedAt.UTC()
	next.LeaseUntil = claim.LeaseUntil.UTC()

	err := s.pool.QueryRow(ctx,
		`INSERT INTO billing_event_ledger (message_id, resource_type, resource_id, status, error, attempts, processed_at, lease_until)
			VALUES ($1, $2, $3, $4, '', 1, $5, $6)
			ON CONFLICT (message_id) DO UPDATE SET
				resource_type = EXCLUDED.resource_type,
				resource_id = EXCLUDED.resource_id,
				status = EXCLUDED.status,
				error = '',
				attempts = billing_event_ledger.attempts + 1,
				processed_at = EXCLUDED.processed_at,
				lease_until = EXCLUDED.lease_until
			WHERE billing_event_ledger.status NOT IN ('succeeded', 'skipped', 'rejected', 'in_progress')
				OR (billing_event_ledger.status = 'in_progress'
					AND (billing_event_ledger.lease_until IS NULL OR billing_event_ledger.lease_until <= EXCLUDED.processed_at))
			RETURNING attempts`,
		next.MessageID, next.ResourceType, next.ResourceID, string(next.Status), next.ProcessedAt, next.LeaseUntil,
	).Scan(&next.Attempts)

	if errors.Is(err, pgx.ErrNoRows) {
		cur, err := s.GetEventRecord(ctx, claim.MessageID)
		return cur, false, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to claim event record: %w", err)
	}
	return &next, true, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

// startCleanup runs periodic cleanup of old records until ctx is canceled.
func (s *Storage) startCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Cleanup(ctx); err != nil {
				s.logger.Warn("ledger cleanup failed", billing.F("error", err))
			}
		}
	}
}

// Cleanup deletes records processed more than RecordTTL ago and returns
// how many were removed.
func (s *Storage) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.config.RecordTTL)
	tag, err := s.pool.Exec(ctx, `DELETE FROM billing_event_ledger WHERE processed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup event records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping checks the PostgreSQL connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var _ reconcile.Store = (*Storage)(nil)
