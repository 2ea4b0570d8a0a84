package service

import (
	"context"

	"github.com/zenvinnovations/keysync/internal/keysync/store"
)

// DirtyTracker records which access points have device-side state that may
// not match the latest compiled snapshot.  It is observable state, not a
// queue: marking an already-dirty access point is a no-op, and the flag is
// only cleared after a snapshot is successfully delivered.
type DirtyTracker struct {
	ledger store.Ledger
}

func NewDirtyTracker(ledger store.Ledger) *DirtyTracker {
	return &DirtyTracker{ledger: ledger}
}

func (t *DirtyTracker) MarkDirty(ctx context.Context, accessPointID string) error {
	return t.ledger.SetDirty(ctx, accessPointID, true)
}

// MarkDirtyForCredential marks every access point the credential currently
// touches through direct activations.  If the credential has no activation
// records the affected set is ambiguous (the change may still surface
// through the matrix), so every facility access point is marked instead —
// over-notifying is safe, under-notifying is not.
func (t *DirtyTracker) MarkDirtyForCredential(ctx context.Context, uid string) error {
	ids, err := t.ledger.AccessPointIDsForCredential(ctx, uid)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return t.MarkAllFacilitiesDirty(ctx)
	}
	for _, id := range ids {
		if err := t.ledger.SetDirty(ctx, id, true); err != nil {
			return err
		}
	}
	return nil
}

// MarkAllFacilitiesDirty is the conservative fallback for changes whose
// reach cannot be resolved to specific access points (matrix rows affect a
// whole tier, guest entitlements span facilities).
func (t *DirtyTracker) MarkAllFacilitiesDirty(ctx context.Context) error {
	ids, err := t.ledger.FacilityAccessPointIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := t.ledger.SetDirty(ctx, id, true); err != nil {
			return err
		}
	}
	return nil
}

func (t *DirtyTracker) ClearDirty(ctx context.Context, accessPointID string) error {
	return t.ledger.SetDirty(ctx, accessPointID, false)
}

func (t *DirtyTracker) IsDirty(ctx context.Context, accessPointID string) (bool, error) {
	return t.ledger.IsDirty(ctx, accessPointID)
}
