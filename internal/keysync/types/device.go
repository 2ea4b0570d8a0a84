package types

// SyncRequestKind is the request value a device sends on its own topic to
// ask for a fresh snapshot.  Any other well-formed payload on a device
// topic is treated as an echo and only acknowledged.
const SyncRequestKind = "sync"

// DeviceRequest is the inbound device message on a per-access-point topic.
// Status fields are optional; when present they are recorded in the device
// health store.
type DeviceRequest struct {
	Request         string `json:"request"`
	FirmwareVersion string `json:"fw_version,omitempty"`
	UptimeSeconds   uint64 `json:"uptime_s,omitempty"`
	RSSIDbm         *int   `json:"rssi_dbm,omitempty"`
	IP              string `json:"ip,omitempty"`
}

func (r DeviceRequest) IsSync() bool { return r.Request == SyncRequestKind }

// HasStatus reports whether the request carries any health telemetry worth
// recording.
func (r DeviceRequest) HasStatus() bool {
	return r.FirmwareVersion != "" || r.UptimeSeconds != 0 || r.RSSIDbm != nil || r.IP != ""
}
