package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/zenvinnovations/keysync/internal/keysync/store"
	"github.com/zenvinnovations/keysync/internal/keysync/store/memory"
)

func TestHealthStore_RoundTrip(t *testing.T) {
	hs := memory.NewHealthStore(time.Hour)
	ctx := context.Background()

	if err := hs.SetStatus(ctx, "room-1", store.HealthRecord{
		AccessPointID:   "room-1",
		FirmwareVersion: "1.2.0",
	}); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	rec, ok, err := hs.GetStatus(ctx, "room-1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if !ok {
		t.Fatal("expected a record")
	}
	if rec.FirmwareVersion != "1.2.0" {
		t.Errorf("fw = %q, want 1.2.0", rec.FirmwareVersion)
	}
	if rec.ReportedAt.IsZero() {
		t.Error("ReportedAt should default to now")
	}

	_, ok, err = hs.GetStatus(ctx, "room-2")
	if err != nil {
		t.Fatalf("GetStatus missing: %v", err)
	}
	if ok {
		t.Error("expected no record for an unreported device")
	}
}

func TestHealthStore_TTLExpiry(t *testing.T) {
	hs := memory.NewHealthStore(time.Minute)
	ctx := context.Background()

	stale := store.HealthRecord{
		AccessPointID: "room-1",
		ReportedAt:    time.Now().UTC().Add(-2 * time.Minute),
	}
	if err := hs.SetStatus(ctx, "room-1", stale); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	if _, ok, _ := hs.GetStatus(ctx, "room-1"); ok {
		t.Error("record past the TTL should read as absent")
	}
}

func TestHealthStore_ZeroTTLKeepsForever(t *testing.T) {
	hs := memory.NewHealthStore(0)
	ctx := context.Background()

	old := store.HealthRecord{
		AccessPointID: "room-1",
		ReportedAt:    time.Now().UTC().AddDate(-1, 0, 0),
	}
	if err := hs.SetStatus(ctx, "room-1", old); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	if _, ok, _ := hs.GetStatus(ctx, "room-1"); !ok {
		t.Error("TTL of 0 should keep records indefinitely")
	}
}
