package memory

import (
	"context"
	"sync"
	"time"

	"github.com/zenvinnovations/keysync/internal/keysync/store"
)

// HealthStore is an in-memory store.HealthStore for tests and dev.  Entries
// older than the TTL are treated as absent on read; a TTL of 0 keeps them
// forever.
type HealthStore struct {
	mu   sync.RWMutex
	ttl  time.Duration
	data map[string]store.HealthRecord
}

func NewHealthStore(ttl time.Duration) *HealthStore {
	return &HealthStore{
		ttl:  ttl,
		data: make(map[string]store.HealthRecord),
	}
}

func (s *HealthStore) SetStatus(_ context.Context, accessPointID string, rec store.HealthRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ReportedAt.IsZero() {
		rec.ReportedAt = time.Now().UTC()
	}
	s.data[accessPointID] = rec
	return nil
}

func (s *HealthStore) GetStatus(_ context.Context, accessPointID string) (store.HealthRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[accessPointID]
	if !ok {
		return store.HealthRecord{}, false, nil
	}
	if s.ttl > 0 && time.Since(rec.ReportedAt) > s.ttl {
		return store.HealthRecord{}, false, nil
	}
	return rec, true, nil
}
