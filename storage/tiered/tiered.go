// Package tiered provides a Hot/Cold ledger that puts fast ephemeral storage
// (Hot, e.g. Redis) in front of durable storage (Cold, e.g. Postgres).
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mihaimyh/billingsync/pkg/reconcile"
)

// Config configures the tiered ledger
type Config struct {
	// Hot is the L1 cache ledger (e.g., Redis, Memory)
	Hot reconcile.Store

	// Cold is the L2 ledger (e.g., Postgres, Firestore) and the source of truth
	Cold reconcile.Store

	// AsyncColdWrites makes SaveEventRecord write Hot synchronously and queue
	// the Cold write. If false, Cold is written first and Hot after it.
	AsyncColdWrites bool

	// SyncBufferSize is the size of the buffered channel for async writes.
	// Default: 1000
	SyncBufferSize int

	// AsyncErrorHandler is called when an async Cold write fails.
	AsyncErrorHandler func(error)
}

// Storage implements reconcile.Store over two ledgers:
// - Read-Through: GetEventRecord (Hot → Cold → populate Hot)
// - Write-Through: SaveEventRecord (Cold → Hot), or Hot + async Cold
type Storage struct {
	hot  reconcile.Store
	cold reconcile.Store
	conf Config

	syncQueue chan func() error
	shutdown  chan struct{}
	wg        sync.WaitGroup
}

// New creates a new tiered ledger.
func New(config Config) (*Storage, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered storage: both hot and cold storage are required")
	}

	if config.SyncBufferSize <= 0 {
		config.SyncBufferSize = 1000
	}

	s := &Storage{
		hot:       config.Hot,
		cold:      config.Cold,
		conf:      config,
		syncQueue: make(chan func() error, config.SyncBufferSize),
		shutdown:  make(chan struct{}),
	}

	if config.AsyncColdWrites {
		s.startWorker()
	}

	return s, nil
}

// Close stops the async worker after draining queued writes.
func (s *Storage) Close() error {
	if s.conf.AsyncColdWrites {
		select {
		case <-s.shutdown:
		default:
			close(s.shutdown)
			s.wg.Wait()
		}
	}
	return nil
}

// startWorker applies queued Cold writes in order.
func (s *Storage) startWorker() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case job := <-s.syncQueue:
				s.runJob(job)
			case <-s.shutdown:
				for {
					select {
					case job := <-s.syncQueue:
						s.runJob(job)
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Storage) runJob(job func() error) {
	if err := job(); err != nil && s.conf.AsyncErrorHandler != nil {
		s.conf.AsyncErrorHandler(fmt.Errorf("tiered sync failed: %w", err))
	}
}

// --- Strategy: Read-Through (Hot → Cold → Populate Hot) ---

// GetEventRecord implements reconcile.Store
func (s *Storage) GetEventRecord(ctx context.Context, messageID string) (*reconcile.EventRecord, error) {
	rec, err := s.hot.GetEventRecord(ctx, messageID)
	if err == nil && rec != nil {
		return rec, nil
	}

	rec, err = s.cold.GetEventRecord(ctx, messageID)
	if err != nil || rec == nil {
		return rec, err
	}

	_ = s.hot.SaveEventRecord(ctx, rec) //nolint:errcheck // Cache fill - errors are non-critical
	return rec, nil
}

// --- Strategy: Write-Through (Cold → Hot) ---

// SaveEventRecord implements reconcile.Store
func (s *Storage) SaveEventRecord(ctx context.Context, rec *reconcile.EventRecord) error {
	if rec == nil || rec.MessageID == "" {
		return reconcile.ErrInvalidRecord
	}

	if !s.conf.AsyncColdWrites {
		if err := s.cold.SaveEventRecord(ctx, rec); err != nil {
			return err
		}
		_ = s.hot.SaveEventRecord(ctx, rec) //nolint:errcheck // Best effort - Cold is source of truth
		return nil
	}

	if err := s.hot.SaveEventRecord(ctx, rec); err != nil {
		return err
	}

	recCopy := *rec
	job := func() error {
		return s.cold.SaveEventRecord(context.Background(), &recCopy)
	}
	select {
	case s.syncQueue <- job:
		return nil
	default:
		// Queue full: fall back to a synchronous write rather than drop it.
		return job()
	}
}

// --- Strategy: Claim on the tier written first ---

// ClaimEventRecord implements reconcile.Store. With synchronous writes Cold
// holds the lease and Hot caches the result. With async Cold writes Hot is
// written first and holds the lease, after Cold has been checked for a
// finished record that Hot no longer has.
func (s *Storage) ClaimEventRecord(ctx context.Context, claim *reconcile.EventRecord) (*reconcile.EventRecord, bool, error) {
	if claim == nil || claim.MessageID == "" {
		return nil, false, reconcile.ErrInvalidRecord
	}

	if !s.conf.AsyncColdWrites {
		rec, claimed, err := s.cold.ClaimEventRecord(ctx, claim)
		if err != nil {
			return nil, false, err
		}
		if rec != nil {
			_ = s.hot.SaveEventRecord(ctx, rec) //nolint:errcheck // Cache fill - errors are non-critical
		}
		return rec, claimed, nil
	}

	if cached, err := s.hot.GetEventRecord(ctx, claim.MessageID); err == nil && cached == nil {
		done, err := s.cold.GetEventRecord(ctx, claim.MessageID)
		if err != nil {
			return nil, false, err
		}
		if done != nil && done.Status.Terminal() {
			_ = s.hot.SaveEventRecord(ctx, done) //nolint:errcheck // Cache fill - errors are non-critical
			return done, false, nil
		}
	}
	return s.hot.ClaimEventRecord(ctx, claim)
}

// Ping checks both tiers.
func (s *Storage) Ping(ctx context.Context) error {
	if err := s.hot.Ping(ctx); err != nil {
		return fmt.Errorf("hot storage: %w", err)
	}
	if err := s.cold.Ping(ctx); err != nil {
		return fmt.Errorf("cold storage: %w", err)
	}
	return nil
}

var _ reconcile.Store = (*Storage)(nil)
