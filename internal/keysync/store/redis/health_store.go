package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zenvinnovations/keysync/internal/keysync/store"
)

const keyPrefix = "keysync:health:"

// HealthStore keeps the latest device health report per access point in
// Redis, one JSON value per device with a TTL so stale devices age out.
type HealthStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewHealthStore(client *redis.Client, ttl time.Duration) *HealthStore {
	return &HealthStore{client: client, ttl: ttl}
}

func (s *HealthStore) SetStatus(ctx context.Context, accessPointID string, rec store.HealthRecord) error {
	if rec.ReportedAt.IsZero() {
		rec.ReportedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("SetStatus marshal: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+accessPointID, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("SetStatus: %w", err)
	}
	return nil
}

func (s *HealthStore) GetStatus(ctx context.Context, accessPointID string) (store.HealthRecord, bool, error) {
	payload, err := s.client.Get(ctx, keyPrefix+accessPointID).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.HealthRecord{}, false, nil
	}
	if err != nil {
		return store.HealthRecord{}, false, fmt.Errorf("GetStatus: %w", err)
	}
	var rec store.HealthRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return store.HealthRecord{}, false, fmt.Errorf("GetStatus unmarshal: %w", err)
	}
	return rec, true, nil
}
