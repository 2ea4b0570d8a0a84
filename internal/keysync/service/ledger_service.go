package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zenvinnovations/keysync/internal/keysync/store"
	"github.com/zenvinnovations/keysync/internal/keysync/types"
)

var (
	ErrInvalidUID         = errors.New("uid is required")
	ErrInvalidAccessPoint = errors.New("access_point_id is required")
	ErrUnknownAccessPoint = errors.New("unknown access point")
	ErrUnknownFacility    = errors.New("unknown facility")
	ErrUnknownGuest       = errors.New("unknown guest")
	ErrGuestWindow        = errors.New("guest checkout must be after checkin")

	// ErrPublishFailed means the ledger write succeeded but the snapshot
	// could not be delivered; the access point stays dirty and a later
	// trigger or the resyncer will converge.  Not fatal for callers.
	ErrPublishFailed = errors.New("snapshot publish failed")
)

// Publisher delivers a compiled snapshot to the device channel for one
// access point.  Implemented by the sync transport.
type Publisher interface {
	PublishSnapshot(ctx context.Context, accessPointID string, snap types.Snapshot) error
}

// LedgerService is the admin surface onto the access ledger: every mutation
// marks the affected access points dirty before returning, then pushes
// fresh snapshots best-effort when a publisher is wired.
type LedgerService struct {
	ledger     store.Ledger
	dirty      *DirtyTracker
	pub        Publisher // nil = no reactive push
	health     *HealthService
	facilities map[string]struct{}
	logger     *log.Logger
}

func NewLedgerService(ledger store.Ledger, dirty *DirtyTracker, pub Publisher, health *HealthService, facilities []string, logger *log.Logger) *LedgerService {
	fset := make(map[string]struct{}, len(facilities))
	for _, f := range facilities {
		f = strings.TrimSpace(f)
		if f != "" {
			fset[f] = struct{}{}
		}
	}
	return &LedgerService{
		ledger:     ledger,
		dirty:      dirty,
		pub:        pub,
		health:     health,
		facilities: fset,
		logger:     logger,
	}
}

func (s *LedgerService) Dirty() *DirtyTracker { return s.dirty }

// ── Access points and facility mappings ──────────────────────────────────────

func (s *LedgerService) CreateAccessPoint(ctx context.Context, id string, facility *string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrInvalidAccessPoint
	}
	if facility != nil {
		if _, ok := s.facilities[*facility]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownFacility, *facility)
		}
	}
	if err := s.ledger.PutAccessPoint(ctx, id, facility); err != nil {
		return err
	}
	if err := s.dirty.MarkDirty(ctx, id); err != nil {
		return err
	}
	s.syncAfterWrite(ctx)
	return nil
}

func (s *LedgerService) DeleteAccessPoint(ctx context.Context, id string) error {
	if err := s.ledger.DeleteAccessPoint(ctx, id); err != nil {
		return err
	}
	// Cascaded guest deletions can change any facility snapshot.
	if err := s.dirty.MarkAllFacilitiesDirty(ctx); err != nil {
		return err
	}
	s.syncAfterWrite(ctx)
	return nil
}

func (s *LedgerService) SetFacilityMapping(ctx context.Context, facility, accessPointID string) error {
	if _, ok := s.facilities[facility]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFacility, facility)
	}
	if err := s.requireAccessPoint(ctx, accessPointID); err != nil {
		return err
	}
	if err := s.ledger.SetFacility(ctx, accessPointID, &facility); err != nil {
		return err
	}
	if err := s.dirty.MarkDirty(ctx, accessPointID); err != nil {
		return err
	}
	s.syncAfterWrite(ctx)
	return nil
}

func (s *LedgerService) ClearFacilityMapping(ctx context.Context, accessPointID string) error {
	if err := s.requireAccessPoint(ctx, accessPointID); err != nil {
		return err
	}
	if err := s.ledger.SetFacility(ctx, accessPointID, nil); err != nil {
		return err
	}
	if err := s.dirty.MarkDirty(ctx, accessPointID); err != nil {
		return err
	}
	s.syncAfterWrite(ctx)
	return nil
}

// ── Credentials ──────────────────────────────────────────────────────────────

// ActivateCredential activates a credential on an access point and, when a
// tier is given, records the package assignment scoped to that access
// point.
func (s *LedgerService) ActivateCredential(ctx context.Context, uid, accessPointID, tier string) error {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return ErrInvalidUID
	}
	if err := s.requireAccessPoint(ctx, accessPointID); err != nil {
		return err
	}
	if err := s.ledger.SetActivation(ctx, uid, accessPointID, true); err != nil {
		return err
	}
	if tier = strings.TrimSpace(tier); tier != "" {
		if err := s.ledger.PutPackage(ctx, uid, types.NormalizeTier(tier), &accessPointID); err != nil {
			return err
		}
	}
	if err := s.markCredentialDirty(ctx, uid, accessPointID); err != nil {
		return err
	}
	s.syncAfterWrite(ctx)
	return nil
}

func (s *LedgerService) DeactivateCredential(ctx context.Context, uid, accessPointID string) error {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return ErrInvalidUID
	}
	if err := s.requireAccessPoint(ctx, accessPointID); err != nil {
		return err
	}
	if err := s.ledger.SetActivation(ctx, uid, accessPointID, false); err != nil {
		return err
	}
	if err := s.markCredentialDirty(ctx, uid, accessPointID); err != nil {
		return err
	}
	s.syncAfterWrite(ctx)
	return nil
}

// AssignPackage records a package assignment; a nil accessPointID makes it
// unscoped.  Package changes can surface through the entitlement matrix on
// any facility, so all facility access points are marked as well.
func (s *LedgerService) AssignPackage(ctx context.Context, uid, tier string, accessPointID *string) error {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return ErrInvalidUID
	}
	if err := s.ledger.PutPackage(ctx, uid, types.NormalizeTier(tier), accessPointID); err != nil {
		return err
	}
	if err := s.dirty.MarkDirtyForCredential(ctx, uid); err != nil {
		return err
	}
	if err := s.dirty.MarkAllFacilitiesDirty(ctx); err != nil {
		return err
	}
	s.syncAfterWrite(ctx)
	return nil
}

// RemovePackages deletes every package assignment for the credential.
// Standing direct activation records are untouched.
func (s *LedgerService) RemovePackages(ctx context.Context, uid string) error {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return ErrInvalidUID
	}
	if err := s.ledger.DeletePackages(ctx, uid); err != nil {
		return err
	}
	if err := s.dirty.MarkDirtyForCredential(ctx, uid); err != nil {
		return err
	}
	if err := s.dirty.MarkAllFacilitiesDirty(ctx); err != nil {
		return err
	}
	s.syncAfterWrite(ctx)
	return nil
}

// ── Entitlement matrix ───────────────────────────────────────────────────────

// UpsertMatrixEntry replaces one (tier, facility) cell.  Facility names
// outside the configured closed set are ignored.
func (s *LedgerService) UpsertMatrixEntry(ctx context.Context, tier, facility string, hasAccess bool) error {
	if _, ok := s.facilities[facility]; !ok {
		return nil
	}
	if err := s.ledger.UpsertMatrixEntry(ctx, types.NormalizeTier(tier), facility, hasAccess); err != nil {
		return err
	}
	// A matrix row affects a whole tier; the reach cannot be resolved to
	// specific credentials, so every facility access point is marked.
	if err := s.dirty.MarkAllFacilitiesDirty(ctx); err != nil {
		return err
	}
	s.syncAfterWrite(ctx)
	return nil
}

// ── Guests ───────────────────────────────────────────────────────────────────

// RegisterGuest creates a guest stay, activates the guest's credential on
// the home room, and records the package assignment when a tier is given.
func (s *LedgerService) RegisterGuest(ctx context.Context, name, uid, roomID string, checkin, checkout time.Time, tier string) (store.GuestRecord, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return store.GuestRecord{}, ErrInvalidUID
	}
	if !checkout.After(checkin) {
		return store.GuestRecord{}, ErrGuestWindow
	}
	if err := s.requireAccessPoint(ctx, roomID); err != nil {
		return store.GuestRecord{}, err
	}

	g := store.GuestRecord{
		ID:       uuid.NewString(),
		Name:     strings.TrimSpace(name),
		UID:      uid,
		RoomID:   roomID,
		Checkin:  checkin.UTC(),
		Checkout: checkout.UTC(),
	}
	if err := s.ledger.PutGuest(ctx, g); err != nil {
		return store.GuestRecord{}, err
	}
	if err := s.ledger.SetActivation(ctx, uid, roomID, true); err != nil {
		return store.GuestRecord{}, err
	}
	if tier = strings.TrimSpace(tier); tier != "" {
		if err := s.ledger.PutPackage(ctx, uid, types.NormalizeTier(tier), &roomID); err != nil {
			return store.GuestRecord{}, err
		}
	}
	if err := s.markGuestDirty(ctx, roomID); err != nil {
		return store.GuestRecord{}, err
	}
	s.syncAfterWrite(ctx)
	return g, nil
}

func (s *LedgerService) UpdateGuest(ctx context.Context, g store.GuestRecord) error {
	if !g.Checkout.After(g.Checkin) {
		return ErrGuestWindow
	}
	prev, ok, err := s.ledger.GetGuest(ctx, g.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGuest, g.ID)
	}
	if err := s.requireAccessPoint(ctx, g.RoomID); err != nil {
		return err
	}
	if err := s.ledger.PutGuest(ctx, g); err != nil {
		return err
	}
	if prev.RoomID != g.RoomID {
		if err := s.dirty.MarkDirty(ctx, prev.RoomID); err != nil {
			return err
		}
	}
	if err := s.markGuestDirty(ctx, g.RoomID); err != nil {
		return err
	}
	s.syncAfterWrite(ctx)
	return nil
}

func (s *LedgerService) DeleteGuest(ctx context.Context, id string) error {
	g, ok, err := s.ledger.GetGuest(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGuest, id)
	}
	if err := s.ledger.DeleteGuest(ctx, id); err != nil {
		return err
	}
	if err := s.markGuestDirty(ctx, g.RoomID); err != nil {
		return err
	}
	s.syncAfterWrite(ctx)
	return nil
}

// ── Snapshots ────────────────────────────────────────────────────────────────

// InspectSnapshot compiles the current snapshot for one access point with
// no side effects: nothing is published and the dirty flag is untouched.
func (s *LedgerService) InspectSnapshot(ctx context.Context, accessPointID string) (types.Snapshot, error) {
	in, err := s.ledger.CompileInput(ctx)
	if err != nil {
		return types.Snapshot{}, err
	}
	snaps := CompileSnapshots(in, accessPointID, time.Now().UTC())
	snap, ok := snaps[accessPointID]
	if !ok {
		return types.Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownAccessPoint, accessPointID)
	}
	return snap, nil
}

// RequestSnapshot runs the full cycle for one access point: compile,
// publish, clear the dirty flag.  The returned snapshot carries the
// pre-clear flag value, so the caller (and the device) can tell a forced
// update from a routine one.  On publish failure the flag stays set and the
// error wraps ErrPublishFailed.
func (s *LedgerService) RequestSnapshot(ctx context.Context, accessPointID string) (types.Snapshot, error) {
	in, err := s.ledger.CompileInput(ctx)
	if err != nil {
		return types.Snapshot{}, err
	}
	snaps := CompileSnapshots(in, accessPointID, time.Now().UTC())
	snap, ok := snaps[accessPointID]
	if !ok {
		return types.Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownAccessPoint, accessPointID)
	}

	if s.pub != nil {
		if err := s.pub.PublishSnapshot(ctx, accessPointID, snap); err != nil {
			return snap, fmt.Errorf("access point %s: %w", accessPointID, errors.Join(ErrPublishFailed, err))
		}
	}
	if err := s.dirty.ClearDirty(ctx, accessPointID); err != nil {
		return snap, err
	}
	return snap, nil
}

// SyncDirty compiles once and republishes every dirty access point,
// clearing flags as publishes succeed.  Returns how many were synced.
func (s *LedgerService) SyncDirty(ctx context.Context) (int, error) {
	if s.pub == nil {
		return 0, nil
	}
	ids, err := s.ledger.DirtyAccessPointIDs(ctx)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	in, err := s.ledger.CompileInput(ctx)
	if err != nil {
		return 0, err
	}
	snaps := CompileSnapshots(in, "", time.Now().UTC())

	synced := 0
	for _, id := range ids {
		snap, ok := snaps[id]
		if !ok {
			continue // deleted since the dirty list was read
		}
		if err := s.pub.PublishSnapshot(ctx, id, snap); err != nil {
			s.logger.Printf("sync: publish %s: %v", id, err)
			continue
		}
		if err := s.dirty.ClearDirty(ctx, id); err != nil {
			return synced, err
		}
		synced++
	}
	return synced, nil
}

// HandleDeviceSync services a device pull request: record any health
// telemetry it carries, then run the snapshot cycle for the device's
// access point.
func (s *LedgerService) HandleDeviceSync(ctx context.Context, accessPointID string, req types.DeviceRequest) error {
	if s.health != nil && req.HasStatus() {
		if err := s.health.Record(ctx, accessPointID, req); err != nil {
			s.logger.Printf("device sync: record health %s: %v", accessPointID, err)
		}
	}
	_, err := s.RequestSnapshot(ctx, accessPointID)
	return err
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (s *LedgerService) requireAccessPoint(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrInvalidAccessPoint
	}
	_, ok, err := s.ledger.GetAccessPoint(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccessPoint, id)
	}
	return nil
}

func (s *LedgerService) markCredentialDirty(ctx context.Context, uid, accessPointID string) error {
	if err := s.dirty.MarkDirty(ctx, accessPointID); err != nil {
		return err
	}
	return s.dirty.MarkDirtyForCredential(ctx, uid)
}

// markGuestDirty covers a guest change: the home room plus, conservatively,
// every facility access point the guest's entitlements may reach.
func (s *LedgerService) markGuestDirty(ctx context.Context, roomID string) error {
	if err := s.dirty.MarkDirty(ctx, roomID); err != nil {
		return err
	}
	return s.dirty.MarkAllFacilitiesDirty(ctx)
}

// syncAfterWrite is the best-effort reactive push after a mutation.  The
// ledger is already correct; a failure here only delays device sync, which
// the dirty flags record, so it is logged and not surfaced to the caller.
func (s *LedgerService) syncAfterWrite(ctx context.Context) {
	if s.pub == nil {
		return
	}
	if _, err := s.SyncDirty(ctx); err != nil {
		s.logger.Printf("sync after write: %v", err)
	}
}
