package service

import (
	"sort"
	"time"

	"github.com/zenvinnovations/keysync/internal/keysync/store"
	"github.com/zenvinnovations/keysync/internal/keysync/types"
)

// CompileSnapshots derives the authoritative per-access-point authorization
// state from a point-in-time ledger view.  target selects one access point
// ("" compiles all).  Pure function: byte-identical output for identical
// input, whatever order the ledger returned its rows in.
//
// Tier resolution precedence, the single source of truth for every path
// below: universal (MasterCard/ServiceCard, any scope) > tier scoped to the
// access point at hand > unscoped tier > General.
func CompileSnapshots(in store.CompileInput, target string, now time.Time) map[string]types.Snapshot {
	idx := newLedgerIndex(in)

	ids := idx.accessPointIDs
	if target != "" {
		found := false
		for _, id := range ids {
			if id == target {
				found = true
				break
			}
		}
		if !found {
			return map[string]types.Snapshot{}
		}
		ids = []string{target}
	}

	guests := idx.activeGuests(now)

	out := make(map[string]types.Snapshot, len(ids))
	for _, apID := range ids {
		out[apID] = types.Snapshot{
			Cards:   idx.cardsFor(apID),
			Guests:  guestsFor(apID, guests),
			Updated: idx.dirty[apID],
		}
	}
	return out
}

// ledgerIndex holds the compile input reshaped for lookup.
type ledgerIndex struct {
	accessPointIDs []string          // sorted
	facilityOf     map[string]string // facility access point id -> facility name
	facilityAP     map[string]string // facility name -> access point id
	dirty          map[string]bool

	matrix map[string]map[string]bool // tier -> facility -> allowed

	universalTier  map[string]string            // uid -> MasterCard/ServiceCard
	scopedTier     map[[2]string]string         // (uid, access point) -> non-universal tier
	unscopedTier   map[string]string            // uid -> non-universal tier
	knownUIDs      []string                     // sorted union of package/activation uids
	activation     map[[2]string]bool           // (uid, access point) -> active
	activationSeen map[[2]string]struct{}       // records that exist, active or not
	activeAnywhere map[string]bool              // uid has at least one active activation
	guests         []store.GuestRecord
}

func newLedgerIndex(in store.CompileInput) *ledgerIndex {
	idx := &ledgerIndex{
		facilityOf:     make(map[string]string),
		facilityAP:     make(map[string]string),
		dirty:          make(map[string]bool),
		matrix:         make(map[string]map[string]bool),
		universalTier:  make(map[string]string),
		scopedTier:     make(map[[2]string]string),
		unscopedTier:   make(map[string]string),
		activation:     make(map[[2]string]bool),
		activationSeen: make(map[[2]string]struct{}),
		activeAnywhere: make(map[string]bool),
		guests:         in.Guests,
	}

	for _, ap := range in.AccessPoints {
		idx.accessPointIDs = append(idx.accessPointIDs, ap.ID)
		idx.dirty[ap.ID] = ap.Dirty
		if ap.Facility != nil {
			idx.facilityOf[ap.ID] = *ap.Facility
			idx.facilityAP[*ap.Facility] = ap.ID
		}
	}
	sort.Strings(idx.accessPointIDs)

	for _, m := range in.Matrix {
		row := idx.matrix[m.Tier]
		if row == nil {
			row = make(map[string]bool)
			idx.matrix[m.Tier] = row
		}
		row[m.Facility] = m.HasAccess
	}

	uids := make(map[string]struct{})
	for _, p := range in.Packages {
		uids[p.UID] = struct{}{}
		switch {
		case types.IsUniversalTier(p.Tier):
			// If both universal tiers are assigned, MasterCard wins.
			if cur, ok := idx.universalTier[p.UID]; !ok || p.Tier < cur {
				idx.universalTier[p.UID] = p.Tier
			}
		case p.AccessPointID != nil:
			idx.scopedTier[[2]string{p.UID, *p.AccessPointID}] = p.Tier
		default:
			idx.unscopedTier[p.UID] = p.Tier
		}
	}
	for _, a := range in.Activations {
		uids[a.UID] = struct{}{}
		key := [2]string{a.UID, a.AccessPointID}
		idx.activation[key] = a.Active
		idx.activationSeen[key] = struct{}{}
		if a.Active {
			idx.activeAnywhere[a.UID] = true
		}
	}
	for uid := range uids {
		idx.knownUIDs = append(idx.knownUIDs, uid)
	}
	sort.Strings(idx.knownUIDs)

	return idx
}

// resolveTier returns the single display tier for a credential at one
// access point.
func (idx *ledgerIndex) resolveTier(uid, apID string) string {
	if t, ok := idx.universalTier[uid]; ok {
		return t
	}
	if t, ok := idx.scopedTier[[2]string{uid, apID}]; ok {
		return t
	}
	if t, ok := idx.unscopedTier[uid]; ok {
		return t
	}
	return types.TierGeneral
}

// cardsFor assembles the deduplicated card list for one access point.
// Assembly order fixes precedence between paths: a direct activation
// record's active flag stands, matrix-derived grants never downgrade it,
// and a universal tier overrides everything with active=true.
func (idx *ledgerIndex) cardsFor(apID string) []types.CardEntry {
	entries := make(map[string]types.CardEntry)

	for key, active := range idx.activation {
		if key[1] != apID {
			continue
		}
		uid := key[0]
		entries[uid] = types.CardEntry{
			UID:    uid,
			Type:   idx.resolveTier(uid, apID),
			Active: active,
		}
	}

	// Matrix-driven facility grants apply regardless of direct activation
	// records, but never replace one that exists.
	if facility, ok := idx.facilityOf[apID]; ok {
		for _, uid := range idx.knownUIDs {
			tier := idx.resolveTier(uid, apID)
			if types.IsUniversalTier(tier) {
				continue // handled below
			}
			if !idx.matrix[tier][facility] {
				continue
			}
			if _, exists := entries[uid]; exists {
				continue
			}
			entries[uid] = types.CardEntry{UID: uid, Type: tier, Active: true}
		}
	}

	// Universal tiers unlock every access point, but only for credentials
	// with at least one active activation record somewhere.
	for uid, tier := range idx.universalTier {
		if !idx.activeAnywhere[uid] {
			continue
		}
		entries[uid] = types.CardEntry{UID: uid, Type: tier, Active: true}
	}

	cards := make([]types.CardEntry, 0, len(entries))
	for _, e := range entries {
		cards = append(cards, e)
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].UID < cards[j].UID })
	return cards
}

// compiledGuest pairs a wire guest entry with its computed access set for
// membership checks during assembly.
type compiledGuest struct {
	entry types.GuestEntry
	rooms map[string]struct{}
}

// activeGuests computes, for each currently-checked-in guest, its wire
// entry and access set (home room plus matrix-entitled facilities, or all
// facilities for universal tiers).  A guest whose (credential, home room)
// activation is explicitly inactive is skipped.
func (idx *ledgerIndex) activeGuests(now time.Time) []compiledGuest {
	var out []compiledGuest
	for _, g := range idx.guests {
		if now.Before(g.Checkin) || !now.Before(g.Checkout) {
			continue
		}
		key := [2]string{g.UID, g.RoomID}
		if _, seen := idx.activationSeen[key]; seen && !idx.activation[key] {
			continue
		}

		tier := idx.resolveTier(g.UID, g.RoomID)
		rooms := map[string]struct{}{g.RoomID: {}}
		for facility, apID := range idx.facilityAP {
			if types.IsUniversalTier(tier) || idx.matrix[tier][facility] {
				rooms[apID] = struct{}{}
			}
		}

		accessRooms := make([]string, 0, len(rooms))
		for id := range rooms {
			accessRooms = append(accessRooms, id)
		}
		sort.Strings(accessRooms)

		out = append(out, compiledGuest{
			entry: types.GuestEntry{
				Name:        g.Name,
				UID:         g.UID,
				Checkin:     g.Checkin.UTC().Format(time.RFC3339),
				Checkout:    g.Checkout.UTC().Format(time.RFC3339),
				PackageType: tier,
				AccessRooms: accessRooms,
			},
			rooms: rooms,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].entry.Name != out[j].entry.Name {
			return out[i].entry.Name < out[j].entry.Name
		}
		return out[i].entry.UID < out[j].entry.UID
	})
	return out
}

func guestsFor(apID string, guests []compiledGuest) []types.GuestEntry {
	var out []types.GuestEntry
	for _, g := range guests {
		if _, ok := g.rooms[apID]; ok {
			out = append(out, g.entry)
		}
	}
	return out
}
