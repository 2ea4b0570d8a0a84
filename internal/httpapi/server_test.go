package httpapi_test

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zenvinnovations/keysync/internal/httpapi"
	"github.com/zenvinnovations/keysync/internal/keysync/service"
	"github.com/zenvinnovations/keysync/internal/keysync/store/memory"
	"github.com/zenvinnovations/keysync/internal/keysync/types"
)

// newTestServer wires up the full dependency graph using in-memory stores
// and returns an httptest.Server plus the ledger service for seeding state.
func newTestServer(t *testing.T) (*httptest.Server, *service.LedgerService) {
	t.Helper()

	ledger := memory.NewLedgerStore()
	dirty := service.NewDirtyTracker(ledger)
	healthSvc := service.NewHealthService(memory.NewHealthStore(time.Hour))
	ledgerSvc := service.NewLedgerService(ledger, dirty, nil, healthSvc, types.DefaultFacilities, log.New(io.Discard, "", 0))

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:        log.New(io.Discard, "", 0),
		Addr:          ":0",
		LedgerService: ledgerSvc,
		HealthService: healthSvc,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, ledgerSvc
}

// ── Snapshot inspection ──────────────────────────────────────────────────────

func TestInspectSnapshot_OK(t *testing.T) {
	ts, svc := newTestServer(t)
	ctx := context.Background()

	if err := svc.CreateAccessPoint(ctx, "room-1", nil); err != nil {
		t.Fatalf("CreateAccessPoint: %v", err)
	}
	if err := svc.ActivateCredential(ctx, "C1", "room-1", "General"); err != nil {
		t.Fatalf("ActivateCredential: %v", err)
	}

	resp, err := http.Get(ts.URL + "/v1/snapshots/room-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var snap types.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snap.Cards) != 1 || snap.Cards[0].UID != "C1" || !snap.Cards[0].Active {
		t.Errorf("unexpected cards: %+v", snap.Cards)
	}
}

func TestInspectSnapshot_UnknownAccessPoint404(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/snapshots/no-such-door")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

// ── Sync trigger ─────────────────────────────────────────────────────────────

func TestSync_OKAndClearsDirty(t *testing.T) {
	ts, svc := newTestServer(t)
	ctx := context.Background()

	if err := svc.CreateAccessPoint(ctx, "room-1", nil); err != nil {
		t.Fatalf("CreateAccessPoint: %v", err)
	}

	resp, err := http.Post(ts.URL+"/v1/snapshots/room-1/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var sr httpapi.SyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !sr.Synced {
		t.Error("expected synced=true")
	}
	// New access points start dirty; the snapshot carries the pre-clear value.
	if !sr.Snapshot.Updated {
		t.Error("expected the snapshot to carry updated=true")
	}

	if dirty, _ := svc.Dirty().IsDirty(ctx, "room-1"); dirty {
		t.Error("dirty flag should be cleared after the sync")
	}
}

func TestSync_Unknown404(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/snapshots/no-such-door/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

// ── Dirty flag ───────────────────────────────────────────────────────────────

func TestDirtyEndpoint(t *testing.T) {
	ts, svc := newTestServer(t)
	ctx := context.Background()

	if err := svc.CreateAccessPoint(ctx, "room-1", nil); err != nil {
		t.Fatalf("CreateAccessPoint: %v", err)
	}

	resp, err := http.Get(ts.URL + "/v1/access-points/room-1/dirty")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		AccessPointID string `json:"access_point_id"`
		Dirty         bool   `json:"dirty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.AccessPointID != "room-1" || !body.Dirty {
		t.Errorf("unexpected body: %+v", body)
	}
}

// ── Device health ────────────────────────────────────────────────────────────

func TestHealthEndpoint(t *testing.T) {
	ts, svc := newTestServer(t)
	ctx := context.Background()

	if err := svc.CreateAccessPoint(ctx, "room-1", nil); err != nil {
		t.Fatalf("CreateAccessPoint: %v", err)
	}

	// No report yet.
	resp, err := http.Get(ts.URL + "/v1/health/room-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before any report, got %d", resp.StatusCode)
	}

	// A device sync carrying telemetry records a report.
	if err := svc.HandleDeviceSync(ctx, "room-1", types.DeviceRequest{
		Request:         types.SyncRequestKind,
		FirmwareVersion: "1.2.0",
		UptimeSeconds:   42,
	}); err != nil {
		t.Fatalf("HandleDeviceSync: %v", err)
	}

	resp, err = http.Get(ts.URL + "/v1/health/room-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var rec struct {
		AccessPointID   string `json:"access_point_id"`
		FirmwareVersion string `json:"fw_version"`
		UptimeSeconds   uint64 `json:"uptime_s"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.AccessPointID != "room-1" || rec.FirmwareVersion != "1.2.0" || rec.UptimeSeconds != 42 {
		t.Errorf("unexpected record: %+v", rec)
	}
}
