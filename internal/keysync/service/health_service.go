package service

import (
	"context"
	"time"

	"github.com/zenvinnovations/keysync/internal/keysync/store"
	"github.com/zenvinnovations/keysync/internal/keysync/types"
)

// HealthService records device status telemetry carried on sync requests
// and serves the latest report per access point.
type HealthService struct {
	store store.HealthStore
}

func NewHealthService(hs store.HealthStore) *HealthService {
	return &HealthService{store: hs}
}

func (s *HealthService) Record(ctx context.Context, accessPointID string, req types.DeviceRequest) error {
	return s.store.SetStatus(ctx, accessPointID, store.HealthRecord{
		AccessPointID:   accessPointID,
		FirmwareVersion: req.FirmwareVersion,
		UptimeSeconds:   req.UptimeSeconds,
		RSSIDbm:         req.RSSIDbm,
		IP:              req.IP,
		ReportedAt:      time.Now().UTC(),
	})
}

func (s *HealthService) Latest(ctx context.Context, accessPointID string) (store.HealthRecord, bool, error) {
	return s.store.GetStatus(ctx, accessPointID)
}
