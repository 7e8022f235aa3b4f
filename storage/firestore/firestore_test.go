package firestore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/mihaimyh/billingsync/pkg/reconcile"
)

const testProjectID = "test-project"

// setupTestStorage connects to the emulator named by FIRESTORE_EMULATOR_HOST
// and returns a ledger on a fresh collection.
func setupTestStorage(t *testing.T) *Storage {
	t.Helper()

	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set, skipping Firestore tests")
	}

	ctx := context.Background()
	client, err := firestore.NewClient(ctx, testProjectID)
	if err != nil {
		t.Fatalf("Failed to create Firestore client: %v", err)
	}

	storage, err := New(client, Config{
		Collection: fmt.Sprintf("test_ledger_%d", time.Now().UnixNano()),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func TestNew_RequiresClient(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Error("Expected error for nil client")
	}
}

func TestStorage_GetSaveEventRecord(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	rec, err := storage.GetEventRecord(ctx, "msg-1")
	if err != nil {
		t.Fatalf("GetEventRecord failed: %v", err)
	}
	if rec != nil {
		t.Fatalf("Expected nil record, got %+v", rec)
	}

	want := &reconcile.EventRecord{
		MessageID:    "msg-1",
		ResourceType: "customer",
		ResourceID:   "cust-1",
		Status:       reconcile.StatusSucceeded,
		Attempts:     2,
		ProcessedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := storage.SaveEventRecord(ctx, want); err != nil {
		t.Fatalf("SaveEventRecord failed: %v", err)
	}

	got, err := storage.GetEventRecord(ctx, "msg-1")
	if err != nil {
		t.Fatalf("GetEventRecord failed: %v", err)
	}
	if *got != *want {
		t.Errorf("record mismatch: got %+v, want %+v", got, want)
	}
	if err := storage.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestStorage_TerminalRecordIsNotDowngraded(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	_ = storage.SaveEventRecord(ctx, &reconcile.EventRecord{MessageID: "msg-1", Status: reconcile.StatusSkipped, Attempts: 1})
	if err := storage.SaveEventRecord(ctx, &reconcile.EventRecord{MessageID: "msg-1", Status: reconcile.StatusFailed, Attempts: 2}); err != nil {
		t.Fatalf("SaveEventRecord failed: %v", err)
	}

	got, _ := storage.GetEventRecord(ctx, "msg-1")
	if got.Status != reconcile.StatusSkipped || got.Attempts != 1 {
		t.Errorf("Expected terminal record to be kept, got %+v", got)
	}
}

func TestRecordFromData(t *testing.T) {
	at := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	rec := recordFromData("msg-9", map[string]interface{}{
		"resourceType": "order",
		"resourceId":   "order-1",
		"status":       "failed",
		"error":        "boom",
		"attempts":     int64(3),
		"processedAt":  at,
	})

	want := reconcile.EventRecord{
		MessageID:    "msg-9",
		ResourceType: "order",
		ResourceID:   "order-1",
		Status:       reconcile.StatusFailed,
		Error:        "boom",
		Attempts:     3,
		ProcessedAt:  at,
	}
	if *rec != want {
		t.Errorf("got %+v, want %+v", rec, want)
	}

	if n := getInt(map[string]interface{}{"n": 2.6}, "n"); n != 3 {
		t.Errorf("getInt(float) = %d, want 3", n)
	}
	if s := getString(map[string]interface{}{"s": 1}, "s"); s != "" {
		t.Errorf("getString(non-string) = %q, want empty", s)
	}
}

func TestRecordData_Lease(t *testing.T) {
	at := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	claim := &reconcile.EventRecord{MessageID: "msg-1", Status: reconcile.StatusInProgress, ProcessedAt: at, LeaseUntil: at.Add(time.Minute)}

	data := recordData(claim)
	if got := recordFromData("msg-1", data); !got.LeaseUntil.Equal(claim.LeaseUntil) {
		t.Errorf("LeaseUntil = %v, want %v", got.LeaseUntil, claim.LeaseUntil)
	}

	done := recordData(&reconcile.EventRecord{MessageID: "msg-1", Status: reconcile.StatusSucceeded, ProcessedAt: at})
	if _, ok := done["leaseUntil"]; ok {
		t.Error("finished record should not carry a lease")
	}
	if got := recordFromData("msg-1", done); !got.LeaseUntil.IsZero() {
		t.Errorf("LeaseUntil = %v, want zero", got.LeaseUntil)
	}
}

func TestStorage_ClaimEventRecord(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	claim := &reconcile.EventRecord{MessageID: "msg-1", ResourceType: "customer", ResourceID: "cust-1",
		ProcessedAt: now, LeaseUntil: now.Add(time.Minute)}

	rec, claimed, err := storage.ClaimEventRecord(ctx, claim)
	if err != nil || !claimed || rec.Attempts != 1 {
		t.Fatalf("first claim: claimed=%v rec=%+v err=%v", claimed, rec, err)
	}

	rec, claimed, err = storage.ClaimEventRecord(ctx, claim)
	if err != nil || claimed || rec.Status != reconcile.StatusInProgress {
		t.Fatalf("live lease: claimed=%v rec=%+v err=%v", claimed, rec, err)
	}

	later := *claim
	later.ProcessedAt = now.Add(2 * time.Minute)
	later.LeaseUntil = now.Add(3 * time.Minute)
	rec, claimed, err = storage.ClaimEventRecord(ctx, &later)
	if err != nil || !claimed || rec.Attempts != 2 {
		t.Errorf("stale lease: claimed=%v rec=%+v err=%v", claimed, rec, err)
	}
}
