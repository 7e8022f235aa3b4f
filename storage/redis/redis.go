// Package redis provides a Redis implementation of the reconcile.Store interface.
// Records are stored as hashes and written through a Lua script so the
// terminal-status guard is atomic. Claims run as WATCH transactions.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/billingsync/pkg/reconcile"
)

// Storage implements reconcile.Store using Redis
type Storage struct {
	client redis.UniversalClient
	config Config
	save   *redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "billingsync:ledger:")
	KeyPrefix string

	// RecordTTL is the TTL of ledger records (0 = no expiration).
	// Pub/Sub stops redelivering after 7 days, so longer TTLs buy nothing.
	RecordTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "billingsync:ledger:",
		RecordTTL: 7 * 24 * time.Hour,
	}
}

// saveScript writes the record unless a terminal record would be replaced by
// a non-terminal one. Returns 1 when written.
const saveScript = `
local current = redis.call('HGET', KEYS[1], 'status')
local terminal = {succeeded = true, skipped = true, rejected = true}
if current and terminal[current] and not terminal[ARGV[1]] then
	return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'data', ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('EXPIRE', KEYS[1], ttl)
end
return 1
`

// New creates a new Redis ledger.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultConfig().KeyPrefix
	}

	return &Storage{
		client: client,
		config: config,
		save:   redis.NewScript(saveScript),
	}, nil
}

func (s *Storage) key(messageID string) string {
	return s.config.KeyPrefix + messageID
}

// maxClaimAttempts bounds the WATCH retries of one claim.
const maxClaimAttempts = 3

// GetEventRecord implements reconcile.Store
func (s *Storage) GetEventRecord(ctx context.Context, messageID string) (*reconcile.EventRecord, error) {
	return decodeRecord(s.client.HGet(ctx, s.key(messageID), "data").Bytes())
}

func decodeRecord(data []byte, err error) (*reconcile.EventRecord, error) {
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event record: %w", err)
	}

	var rec reconcile.EventRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode event record: %w", err)
	}
	return &rec, nil
}

// ClaimEventRecord implements reconcile.Store. The key is watched while the
// current record is read, so a concurrent claim aborts this transaction and
// the retry sees the winner's lease.
func (s *Storage) ClaimEventRecord(ctx context.Context, claim *reconcile.EventRecord) (*reconcile.EventRecord, bool, error) {
	if claim == nil || claim.MessageID == "" {
		return nil, false, reconcile.ErrInvalidRecord
	}

	key := s.key(claim.MessageID)
	var (
		rec     *reconcile.EventRecord
		claimed bool
	)
	txf := func(tx *redis.Tx) error {
		cur, err := decodeRecord(tx.HGet(ctx, key, "data").Bytes())
		if err != nil {
			return err
		}
		if !cur.Claimable(claim.ProcessedAt) {
			rec, claimed = cur, false
			return nil
		}

		next := reconcile.NextClaim(cur, claim)
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to encode event record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "status", string(next.Status), "data", data)
			if s.config.RecordTTL > 0 {
				pipe.Expire(ctx, key, s.config.RecordTTL)
			}
			return nil
		})
		if err != nil {
			return err
		}
		rec, claimed = next, true
		return nil
	}

	for i := 0; i < maxClaimAttempts; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to claim event record: %w", err)
		}
		return rec, claimed, nil
	}
	return nil, false, fmt.Errorf("failed to claim event record: %w", redis.TxFailedErr)
}

// SaveEventRecord implements reconcile.Store
func (s *Storage) SaveEventRecord(ctx context.Context, rec *reconcile.EventRecord) error {
	if rec == nil || rec.MessageID == "" {
		return reconcile.ErrInvalidRecord
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode event record: %w", err)
	}

	ttl := int64(s.config.RecordTTL / time.Second)
	if err := s.save.Run(ctx, s.client, []string{s.key(rec.MessageID)}, string(rec.Status), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save event record: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var _ reconcile.Store = (*Storage)(nil)
