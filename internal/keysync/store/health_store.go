package store

import (
	"context"
	"time"
)

// HealthRecord is the latest status report from one device.  Kept out of
// the access ledger: device health is operational telemetry, not policy.
type HealthRecord struct {
	AccessPointID   string    `json:"access_point_id"`
	FirmwareVersion string    `json:"fw_version,omitempty"`
	UptimeSeconds   uint64    `json:"uptime_s,omitempty"`
	RSSIDbm         *int      `json:"rssi_dbm,omitempty"`
	IP              string    `json:"ip,omitempty"`
	ReportedAt      time.Time `json:"reported_at"`
}

// HealthStore keeps the most recent health report per device.  Entries
// expire after the store's TTL so devices that stop reporting age out.
type HealthStore interface {
	SetStatus(ctx context.Context, accessPointID string, rec HealthRecord) error
	GetStatus(ctx context.Context, accessPointID string) (HealthRecord, bool, error)
}
