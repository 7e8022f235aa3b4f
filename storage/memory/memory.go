// Package memory provides an in-memory implementation of the reconcile.Store interface.
// This implementation is primarily intended for testing and single-instance deployments.
package memory

import (
	"context"
	"sync"

	"github.com/mihaimyh/billingsync/pkg/reconcile"
)

// Storage implements reconcile.Store using an in-memory map
type Storage struct {
	mu      sync.RWMutex
	records map[string]*reconcile.EventRecord
}

// New creates a new in-memory ledger
func New() *Storage {
	return &Storage{
		records: make(map[string]*reconcile.EventRecord),
	}
}

// GetEventRecord implements reconcile.Store
func (s *Storage) GetEventRecord(_ context.Context, messageID string) (*reconcile.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[messageID]
	if !ok {
		return nil, nil
	}

	// Return a copy to prevent external mutations
	recCopy := *rec
	return &recCopy, nil
}

// SaveEventRecord implements reconcile.Store
func (s *Storage) SaveEventRecord(_ context.Context, rec *reconcile.EventRecord) error {
	if rec == nil || rec.MessageID == "" {
		return reconcile.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.records[rec.MessageID]; ok && cur.Status.Terminal() && !rec.Status.Terminal() {
		return nil
	}
	recCopy := *rec
	s.records[rec.MessageID] = &recCopy
	return nil
}

// ClaimEventRecord implements reconcile.Store
func (s *Storage) ClaimEventRecord(_ context.Context, claim *reconcile.EventRecord) (*reconcile.EventRecord, bool, error) {
	if claim == nil || claim.MessageID == "" {
		return nil, false, reconcile.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.records[claim.MessageID]
	if !cur.Claimable(claim.ProcessedAt) {
		recCopy := *cur
		return &recCopy, false, nil
	}
	next := reconcile.NextClaim(cur, claim)
	s.records[claim.MessageID] = next
	recCopy := *next
	return &recCopy, true, nil
}

// Ping implements reconcile.Store
func (s *Storage) Ping(_ context.Context) error {
	return nil
}

// Len returns the number of stored records.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

var _ reconcile.Store = (*Storage)(nil)
