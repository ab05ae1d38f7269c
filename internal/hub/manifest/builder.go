package manifest

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/autopeer-io/adfleet/internal/hub/core"
	"github.com/autopeer-io/adfleet/internal/hub/core/model"
	"github.com/autopeer-io/adfleet/internal/pkg/metrics"
	"github.com/autopeer-io/adfleet/internal/pkg/util"
	"github.com/autopeer-io/adfleet/pkg/log"
)

// SyncModeQuantized aligns loop boundaries to epoch-relative cycles.
const SyncModeQuantized = "QUANTIZED_WALL_CLOCK"

// Manifest is the content description served to a device.
type Manifest struct {
	Version        string            `json:"version"`
	DeviceID       string            `json:"device_id"`
	RefreshSeconds int64             `json:"refresh_seconds"`
	Assets         []Asset           `json:"assets"`
	Playlist       []Entry           `json:"playlist"`
	Role           model.DeviceRole  `json:"role"`
	VehicleID      *string           `json:"vehicle_id"`
	VehicleWiFi    *model.WiFiConfig `json:"vehicle_wifi"`
	SyncConfig     SyncConfig        `json:"sync_config"`
}

// Asset is a unique media URL to download.
type Asset struct {
	ID   string          `json:"asset_id"`
	URL  string          `json:"url"`
	Type model.MediaType `json:"type"`
}

// Entry is one scheduled playback of an asset.
type Entry struct {
	Index      int    `json:"index"`
	AssetID    string `json:"asset_id"`
	CampaignID string `json:"campaign_id"`
	DurationMs int64  `json:"duration_ms"`
}

// SyncConfig tells devices how to phase-align their loops.
type SyncConfig struct {
	Mode            string `json:"mode"`
	AnchorEpochMs   int64  `json:"anchor_epoch_ms"`
	CycleDurationMs int64  `json:"cycle_duration_ms"`
}

// Builder assembles device manifests.
type Builder struct {
	vehicles core.VehicleRepository
	resolver *Resolver
	refresh  time.Duration
	log      log.Logger
}

// NewBuilder creates a builder. refresh is advertised as refresh_seconds.
func NewBuilder(vehicles core.VehicleRepository, resolver *Resolver, refresh time.Duration) *Builder {
	return &Builder{
		vehicles: vehicles,
		resolver: resolver,
		refresh:  refresh,
		log:      log.WithName("manifest"),
	}
}

// Build derives the manifest of d. The result depends only on the device,
// its vehicle and the active campaign content.
func (b *Builder) Build(ctx context.Context, d *model.Device) (*Manifest, error) {
	start := time.Now()
	defer func() { metrics.ManifestBuildLatency.Observe(time.Since(start).Seconds()) }()

	var vehicle *model.Vehicle
	if d.VehicleID != "" {
		v, err := b.vehicles.Get(ctx, d.VehicleID)
		switch {
		case err == nil:
			vehicle = v
		case errors.Is(err, util.ErrNotFound):
			b.log.Warn("Device paired to unknown vehicle", "deviceID", d.ID, "vehicleID", d.VehicleID)
		default:
			return nil, fmt.Errorf("failed to load vehicle %s: %w", d.VehicleID, err)
		}
	}

	playlist, err := b.resolver.Resolve(ctx, DeviceCampaignIDs(d, vehicle))
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		Version:        playlist.Version,
		DeviceID:       d.ID,
		RefreshSeconds: int64(b.refresh / time.Second),
		Assets:         []Asset{},
		Playlist:       make([]Entry, 0, len(playlist.Items)),
		Role:           d.Role,
		SyncConfig: SyncConfig{
			Mode:            SyncModeQuantized,
			AnchorEpochMs:   0,
			CycleDurationMs: CycleDurationMs(playlist.TotalMs()),
		},
	}
	if m.Role == "" {
		m.Role = model.DeviceRoleStandalone
	}
	if vehicle != nil {
		id := vehicle.ID
		m.VehicleID = &id
		m.VehicleWiFi = vehicle.WiFi
	}

	seen := make(map[string]struct{}, len(playlist.Items))
	for i, it := range playlist.Items {
		if _, ok := seen[it.AssetID]; !ok {
			seen[it.AssetID] = struct{}{}
			m.Assets = append(m.Assets, Asset{ID: it.AssetID, URL: it.URL, Type: it.Type})
		}
		m.Playlist = append(m.Playlist, Entry{
			Index:      i,
			AssetID:    it.AssetID,
			CampaignID: it.CampaignID,
			DurationMs: it.DurationMs,
		})
	}
	return m, nil
}

// Encode serializes m and returns the body with its quoted ETag.
func Encode(m *Manifest) ([]byte, string, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode manifest: %w", err)
	}
	sum := blake3.Sum256(body)
	return body, `"` + hex.EncodeToString(sum[:]) + `"`, nil
}

// ETagMatches evaluates an If-None-Match header against etag.
func ETagMatches(header, etag string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	if header == "*" {
		return true
	}
	want := strings.TrimPrefix(etag, "W/")
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == want {
			return true
		}
	}
	return false
}
