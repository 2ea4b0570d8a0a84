package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/zenvinnovations/keysync/internal/keysync/store"
)

type pairKey struct {
	uid   string
	scope string // access point id; "" = unscoped for packages
}

type accessPoint struct {
	facility *string
	dirty    bool
}

// LedgerStore is an in-memory store.Ledger for tests and dev environments.
type LedgerStore struct {
	mu           sync.RWMutex
	accessPoints map[string]*accessPoint
	activations  map[pairKey]bool
	packages     map[pairKey]string
	matrix       map[pairKey]bool // uid field holds the tier here
	guests       map[string]store.GuestRecord
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		accessPoints: make(map[string]*accessPoint),
		activations:  make(map[pairKey]bool),
		packages:     make(map[pairKey]string),
		matrix:       make(map[pairKey]bool),
		guests:       make(map[string]store.GuestRecord),
	}
}

func (s *LedgerStore) CompileInput(_ context.Context) (store.CompileInput, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var in store.CompileInput
	for id, ap := range s.accessPoints {
		row := store.AccessPointRow{ID: id, Dirty: ap.dirty}
		if ap.facility != nil {
			f := *ap.facility
			row.Facility = &f
		}
		in.AccessPoints = append(in.AccessPoints, row)
	}
	sort.Slice(in.AccessPoints, func(i, j int) bool { return in.AccessPoints[i].ID < in.AccessPoints[j].ID })

	for k, active := range s.activations {
		in.Activations = append(in.Activations, store.ActivationRow{
			UID: k.uid, AccessPointID: k.scope, Active: active,
		})
	}
	for k, tier := range s.packages {
		row := store.PackageRow{UID: k.uid, Tier: tier}
		if k.scope != "" {
			sc := k.scope
			row.AccessPointID = &sc
		}
		in.Packages = append(in.Packages, row)
	}
	for k, has := range s.matrix {
		in.Matrix = append(in.Matrix, store.MatrixRow{Tier: k.uid, Facility: k.scope, HasAccess: has})
	}
	for _, g := range s.guests {
		in.Guests = append(in.Guests, g)
	}
	return in, nil
}

func (s *LedgerStore) PutAccessPoint(_ context.Context, id string, facility *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ap, ok := s.accessPoints[id]
	if !ok {
		ap = &accessPoint{}
		s.accessPoints[id] = ap
	}
	ap.facility = copyString(facility)
	return nil
}

func (s *LedgerStore) SetFacility(_ context.Context, id string, facility *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ap, ok := s.accessPoints[id]; ok {
		ap.facility = copyString(facility)
	}
	return nil
}

func (s *LedgerStore) DeleteAccessPoint(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accessPoints, id)
	for k := range s.activations {
		if k.scope == id {
			delete(s.activations, k)
		}
	}
	for k := range s.packages {
		if k.scope == id {
			delete(s.packages, k)
		}
	}
	for gid, g := range s.guests {
		if g.RoomID == id {
			delete(s.guests, gid)
		}
	}
	return nil
}

func (s *LedgerStore) GetAccessPoint(_ context.Context, id string) (store.AccessPointRow, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ap, ok := s.accessPoints[id]
	if !ok {
		return store.AccessPointRow{}, false, nil
	}
	row := store.AccessPointRow{ID: id, Facility: copyString(ap.facility), Dirty: ap.dirty}
	return row, true, nil
}

func (s *LedgerStore) FacilityAccessPointIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, ap := range s.accessPoints {
		if ap.facility != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *LedgerStore) SetActivation(_ context.Context, uid, accessPointID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activations[pairKey{uid, accessPointID}] = active
	return nil
}

func (s *LedgerStore) AccessPointIDsForCredential(_ context.Context, uid string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for k := range s.activations {
		if k.uid == uid {
			ids = append(ids, k.scope)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *LedgerStore) PutPackage(_ context.Context, uid, tier string, accessPointID *string) error {
	scope := ""
	if accessPointID != nil {
		scope = *accessPointID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packages[pairKey{uid, scope}] = tier
	return nil
}

func (s *LedgerStore) DeletePackages(_ context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.packages {
		if k.uid == uid {
			delete(s.packages, k)
		}
	}
	return nil
}

func (s *LedgerStore) UpsertMatrixEntry(_ context.Context, tier, facility string, hasAccess bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matrix[pairKey{tier, facility}] = hasAccess
	return nil
}

func (s *LedgerStore) PutGuest(_ context.Context, g store.GuestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guests[g.ID] = g
	return nil
}

func (s *LedgerStore) DeleteGuest(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.guests, id)
	return nil
}

func (s *LedgerStore) GetGuest(_ context.Context, id string) (store.GuestRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.guests[id]
	return g, ok, nil
}

func (s *LedgerStore) SetDirty(_ context.Context, accessPointID string, dirty bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ap, ok := s.accessPoints[accessPointID]; ok {
		ap.dirty = dirty
	}
	return nil
}

func (s *LedgerStore) IsDirty(_ context.Context, accessPointID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ap, ok := s.accessPoints[accessPointID]; ok {
		return ap.dirty, nil
	}
	return false, nil
}

func (s *LedgerStore) DirtyAccessPointIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, ap := range s.accessPoints {
		if ap.dirty {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
