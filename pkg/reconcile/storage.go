package reconcile

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidRecord is returned when saving a record without a message id.
var ErrInvalidRecord = errors.New("invalid event record")

// Status is the outcome of processing one push message.
type Status string

const (
	// StatusSucceeded means every remote call for the entity completed.
	StatusSucceeded Status = "succeeded"
	// StatusSkipped means the entity was not eligible or no longer exists.
	StatusSkipped Status = "skipped"
	// StatusRejected means processing failed with an error that retrying cannot fix.
	StatusRejected Status = "rejected"
	// StatusFailed means processing failed transiently and the message was redelivered.
	StatusFailed Status = "failed"
	// StatusInProgress means a delivery holds the processing lease until LeaseUntil.
	StatusInProgress Status = "in_progress"
)

// Terminal reports whether a message with this status must not be processed again.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusSkipped || s == StatusRejected
}

// EventRecord is the ledger entry of one push message.
type EventRecord struct {
	MessageID    string    `json:"messageId"`
	ResourceType string    `json:"resourceType"`
	ResourceID   string    `json:"resourceId"`
	Status       Status    `json:"status"`
	Error        string    `json:"error,omitempty"`
	Attempts     int       `json:"attempts"`
	ProcessedAt  time.Time `json:"processedAt"`
	LeaseUntil   time.Time `json:"leaseUntil,omitzero"`
}

// Claimable reports whether a delivery claiming at now may take over the
// message. A nil record is claimable.
func (r *EventRecord) Claimable(now time.Time) bool {
	if r == nil {
		return true
	}
	if r.Status == StatusInProgress {
		return !now.Before(r.LeaseUntil)
	}
	return !r.Status.Terminal()
}

// NextClaim returns the record stored when claim succeeds over current.
// Attempts counts deliveries, including ones whose lease expired.
func NextClaim(current, claim *EventRecord) *EventRecord {
	next := *claim
	next.Status = StatusInProgress
	next.Error = ""
	next.Attempts = 1
	if current != nil {
		next.Attempts = current.Attempts + 1
	}
	return &next
}

// Store persists the event ledger used to drop redelivered messages.
// All methods use concrete types from this package to avoid import cycles.
type Store interface {
	// GetEventRecord retrieves the record of a message.
	// Returns nil if no record found (not an error)
	GetEventRecord(ctx context.Context, messageID string) (*EventRecord, error)

	// SaveEventRecord inserts or replaces the record of a message. A
	// terminal record is never replaced by a non-terminal one, so a late
	// failed attempt cannot reopen a message that already completed.
	SaveEventRecord(ctx context.Context, rec *EventRecord) error

	// ClaimEventRecord takes the processing lease of claim.MessageID before
	// any remote call is made. claim carries the claim time in ProcessedAt
	// and the lease deadline in LeaseUntil. When the current record is
	// Claimable the claim is stored as in_progress and returned with
	// claimed set. Otherwise the current record is returned unchanged.
	ClaimEventRecord(ctx context.Context, claim *EventRecord) (rec *EventRecord, claimed bool, err error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}
