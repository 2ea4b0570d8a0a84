package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/zenvinnovations/keysync/internal/keysync/service"
)

func TestResyncer_DisabledWhenIntervalZero(t *testing.T) {
	svc, _ := newTestLedgerService(nil)
	r := service.NewResyncer(svc, 0, silentLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Start(ctx)
	// Stop should return immediately without error.
	r.Stop()
}

func TestResyncer_StopIsIdempotent(t *testing.T) {
	svc, _ := newTestLedgerService(&fakePublisher{})
	r := service.NewResyncer(svc, time.Hour, silentLogger())

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	cancel()
	// Multiple stops should not panic.
	r.Stop()
	r.Stop()
}

func TestResyncer_FlushesBacklogOnStartup(t *testing.T) {
	pub := &fakePublisher{}
	svc, _ := newTestLedgerService(pub)
	ctx := context.Background()

	mustCreateAP(t, svc, "room-1", nil)
	_ = svc.Dirty().MarkDirty(ctx, "room-1")
	pub.reset()

	// A long interval isolates the immediate startup pass.
	r := service.NewResyncer(svc, time.Hour, silentLogger())
	r.Start(ctx)
	defer r.Stop()

	// Wait for the flag to clear: it is the last step of the pass, so at
	// that point the publish has already happened.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if dirty, _ := svc.Dirty().IsDirty(ctx, "room-1"); !dirty {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if dirty, _ := svc.Dirty().IsDirty(ctx, "room-1"); dirty {
		t.Fatal("room-1 should be clean after the resync pass")
	}

	sent := pub.published()
	if len(sent) != 1 || sent[0].accessPointID != "room-1" {
		t.Fatalf("expected the startup pass to republish room-1, got %+v", sent)
	}
}
