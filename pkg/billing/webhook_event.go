package billing

import "time"

// SyncEvent describes one processed push message. It is passed to the
// webhook handler's OnProcessed callback after the ledger has been updated.
type SyncEvent struct {
	// MessageID is the Pub/Sub message id (the ledger key)
	MessageID string

	// ResourceType is "product", "customer" or "order"
	ResourceType string

	// ResourceID is the commerce platform id of the entity
	ResourceID string

	// Status is the ledger status ("succeeded", "skipped", "rejected", "failed")
	Status string

	// Err is the reconciliation error, nil on success
	Err error

	// Retry is true when the message was handed back for redelivery
	Retry bool

	// Duration is the time spent processing the message
	Duration time.Duration

	// ProcessedAt is when processing finished
	ProcessedAt time.Time
}
