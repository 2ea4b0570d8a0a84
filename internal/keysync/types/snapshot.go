package types

// CardEntry is one credential row in a compiled snapshot.  Type carries the
// resolved package tier (universal > access-point-scoped > unscoped >
// General).
type CardEntry struct {
	UID    string `json:"uid"`
	Type   string `json:"type"`
	Active bool   `json:"active"`
}

// GuestEntry is one currently-checked-in guest whose computed access set
// includes the snapshot's access point.  AccessRooms is the full computed
// set: home room plus matrix-entitled facility access points, sorted.
type GuestEntry struct {
	Name        string   `json:"name"`
	UID         string   `json:"uid"`
	Checkin     string   `json:"checkin"`
	Checkout    string   `json:"checkout"`
	PackageType string   `json:"package_type"`
	AccessRooms []string `json:"access_rooms"`
}

// Snapshot is the compiled, point-in-time authorization state for one
// access point.  Updated carries the dirty flag value as of compilation, so
// a device receiving it can tell a forced update from a routine one.
// Snapshots are ephemeral: recomputed on demand, never persisted.
type Snapshot struct {
	Cards   []CardEntry  `json:"cards"`
	Guests  []GuestEntry `json:"guests"`
	Updated bool         `json:"updated"`
}
