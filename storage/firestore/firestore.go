// Package firestore provides a Firestore implementation of the reconcile.Store interface.
// Each ledger record is one document keyed by the Pub/Sub message id.
package firestore

import (
	"context"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/billingsync/pkg/reconcile"
)

// Storage implements reconcile.Store using Google Cloud Firestore
type Storage struct {
	client     *firestore.Client
	collection string
}

// Config holds Firestore storage configuration
type Config struct {
	// Collection is the Firestore collection holding ledger records
	// Default: "billing_event_ledger"
	Collection string
}

// New creates a new Firestore ledger
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	if config.Collection == "" {
		config.Collection = "billing_event_ledger"
	}

	return &Storage{
		client:     client,
		collection: config.Collection,
	}, nil
}

// GetEventRecord implements reconcile.Store
func (s *Storage) GetEventRecord(ctx context.Context, messageID string) (*reconcile.EventRecord, error) {
	snap, err := s.client.Collection(s.collection).Doc(messageID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get event record: %w", err)
	}
	if !snap.Exists() {
		return nil, nil
	}
	return recordFromData(messageID, snap.Data()), nil
}

// SaveEventRecord implements reconcile.Store. The read and the write run in
// one transaction so a terminal record cannot be overwritten concurrently.
func (s *Storage) SaveEventRecord(ctx context.Context, rec *reconcile.EventRecord) error {
	if rec == nil || rec.MessageID == "" {
		return reconcile.ErrInvalidRecord
	}

	doc := s.client.Collection(s.collection).Doc(rec.MessageID)
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil && snap.Exists() {
			current := reconcile.Status(getString(snap.Data(), "status"))
			if current.Terminal() && !rec.Status.Terminal() {
				return nil
			}
		}
		return tx.Set(doc, recordData(rec))
	})
	if err != nil {
		return fmt.Errorf("failed to save event record: %w", err)
	}
	return nil
}

// ClaimEventRecord implements reconcile.Store. Firestore retries the
// transaction when a concurrent claim touched the document, and the retry
// sees the winner's lease.
func (s *Storage) ClaimEventRecord(ctx context.Context, claim *reconcile.EventRecord) (*reconcile.EventRecord, bool, error) {
	if claim == nil || claim.MessageID == "" {
		return nil, false, reconcile.ErrInvalidRecord
	}

	var (
		rec     *reconcile.EventRecord
		claimed bool
	)
	doc := s.client.Collection(s.collection).Doc(claim.MessageID)
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		var cur *reconcile.EventRecord
		snap, err := tx.Get(doc)
		switch {
		case err != nil && status.Code(err) != codes.NotFound:
			return err
		case err == nil && snap.Exists():
			cur = recordFromData(claim.MessageID, snap.Data())
		}

		if !cur.Claimable(claim.ProcessedAt) {
			rec, claimed = cur, false
			return nil
		}
		next := reconcile.NextClaim(cur, claim)
		if cur == nil {
			err = tx.Create(doc, recordData(next))
		} else {
			err = tx.Set(doc, recordData(next))
		}
		if err != nil {
			return err
		}
		rec, claimed = next, true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to claim event record: %w", err)
	}
	return rec, claimed, nil
}

// Ping checks that the collection can be read.
func (s *Storage) Ping(ctx context.Context) error {
	iter := s.client.Collection(s.collection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && err != iterator.Done {
		return fmt.Errorf("firestore ping failed: %w", err)
	}
	return nil
}

// Close closes the Firestore client
func (s *Storage) Close() error {
	return s.client.Close()
}

func recordData(rec *reconcile.EventRecord) map[string]interface{} {
	processedAt := rec.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now()
	}
	data := map[string]interface{}{
		"resourceType": rec.ResourceType,
		"resourceId":   rec.ResourceID,
		"status":       string(rec.Status),
		"error":        rec.Error,
		"attempts":     rec.Attempts,
		"processedAt":  processedAt.UTC(),
	}
	if !rec.LeaseUntil.IsZero() {
		data["leaseUntil"] = rec.LeaseUntil.UTC()
	}
	return data
}

func recordFromData(messageID string, data map[string]interface{}) *reconcile.EventRecord {
	return &reconcile.EventRecord{
		MessageID:    messageID,
		ResourceType: getString(data, "resourceType"),
		ResourceID:   getString(data, "resourceId"),
		Status:       reconcile.Status(getString(data, "status")),
		Error:        getString(data, "error"),
		Attempts:     getInt(data, "attempts"),
		ProcessedAt:  getTime(data, "processedAt").UTC(),
		LeaseUntil:   leaseFromData(data),
	}
}

func leaseFromData(data map[string]interface{}) time.Time {
	lease := getTime(data, "leaseUntil")
	if lease.IsZero() {
		return lease
	}
	return lease.UTC()
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getInt(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(math.Round(v))
	default:
		return 0
	}
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}

var _ reconcile.Store = (*Storage)(nil)
