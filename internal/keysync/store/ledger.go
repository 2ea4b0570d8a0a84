package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps any backing-store failure at the ledger boundary.
// Callers match it with errors.Is; compilation and mutations abort on it
// and nothing partial is published.
var ErrUnavailable = errors.New("access ledger unavailable")

// AccessPointRow is one physical door/facility controller.  Facility is nil
// for regular room access points; a non-nil facility makes the access point
// the mapped controller for that shared facility (the mapping is a
// bijection, enforced by the store).  Dirty means device-side state may be
// stale.
type AccessPointRow struct {
	ID       string
	Facility *string
	Dirty    bool
}

// ActivationRow is one (credential, access point) activation record.
// Active is scoped to the pair, not global to the credential.
type ActivationRow struct {
	UID           string
	AccessPointID string
	Active        bool
}

// PackageRow assigns a package tier to a credential, optionally scoped to
// one access point (nil = unscoped).
type PackageRow struct {
	UID           string
	Tier          string
	AccessPointID *string
}

// MatrixRow is one entitlement matrix cell: does the tier grant access to
// the facility.
type MatrixRow struct {
	Tier      string
	Facility  string
	HasAccess bool
}

// GuestRecord is one guest stay.  The guest is active iff
// checkin <= now < checkout.
type GuestRecord struct {
	ID       string
	Name     string
	UID      string
	RoomID   string
	Checkin  time.Time
	Checkout time.Time
}

// CompileInput is the point-in-time view of everything snapshot compilation
// reads.  Implementations must load all five tables inside a single read
// transaction (or equivalent) so the compiler never sees a torn mix of
// pre- and post-mutation rows.  The tables are small and bounded.
type CompileInput struct {
	AccessPoints []AccessPointRow
	Activations  []ActivationRow
	Packages     []PackageRow
	Matrix       []MatrixRow
	Guests       []GuestRecord
}

// Ledger is the durable store of credentials, package assignments,
// entitlement rules, facility mappings and guest stays, plus the
// per-access-point dirty flag.  Write operations are atomic per logical
// change.
type Ledger interface {
	// CompileInput returns a consistent view of all compilation inputs.
	CompileInput(ctx context.Context) (CompileInput, error)

	// Access points and facility mappings.
	PutAccessPoint(ctx context.Context, id string, facility *string) error
	SetFacility(ctx context.Context, id string, facility *string) error
	DeleteAccessPoint(ctx context.Context, id string) error
	GetAccessPoint(ctx context.Context, id string) (AccessPointRow, bool, error)
	FacilityAccessPointIDs(ctx context.Context) ([]string, error)

	// Credential activations and package assignments.
	SetActivation(ctx context.Context, uid, accessPointID string, active bool) error
	AccessPointIDsForCredential(ctx context.Context, uid string) ([]string, error)
	PutPackage(ctx context.Context, uid, tier string, accessPointID *string) error
	DeletePackages(ctx context.Context, uid string) error

	// Entitlement matrix.
	UpsertMatrixEntry(ctx context.Context, tier, facility string, hasAccess bool) error

	// Guest stays.
	PutGuest(ctx context.Context, g GuestRecord) error
	DeleteGuest(ctx context.Context, id string) error
	GetGuest(ctx context.Context, id string) (GuestRecord, bool, error)

	// Dirty flag.
	SetDirty(ctx context.Context, accessPointID string, dirty bool) error
	IsDirty(ctx context.Context, accessPointID string) (bool, error)
	DirtyAccessPointIDs(ctx context.Context) ([]string, error)
}
