package model

import "time"

// EventType names a framed event on a push or observer stream.
type EventType string

const (
	EventConnected       EventType = "CONNECTED"
	EventStatus          EventType = "STATUS"
	EventLog             EventType = "LOG"
	EventRefreshManifest EventType = "REFRESH_MANIFEST"
	EventPlayVideo       EventType = "play_video"
)

// StatusChange is broadcast to observers whenever a device's status is set.
type StatusChange struct {
	DeviceID  string       `json:"deviceId"`
	Status    DeviceStatus `json:"status"`
	Previous  DeviceStatus `json:"previous,omitempty"`
	Reason    string       `json:"reason"`
	Timestamp time.Time    `json:"timestamp"`
}

// LogEntry is a diagnostic line shown on the per-device admin log stream.
type LogEntry struct {
	DeviceID  string         `json:"deviceId"`
	Kind      string         `json:"kind"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// PlayCommand instructs a device to start a playlist index at an absolute wall-clock time.
type PlayCommand struct {
	VehicleID       string `json:"vehicle_id"`
	VideoIndex      int    `json:"video_index"`
	StartAtEpochMs  int64  `json:"start_at_epoch_ms"`
	PlaylistVersion string `json:"playlist_version"`
	Sequence        uint64 `json:"seq"`
	AssetID         string `json:"asset_id,omitempty"`
	DurationMs      int64  `json:"duration_ms"`
}
