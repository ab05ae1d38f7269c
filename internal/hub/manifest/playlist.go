package manifest

import (
	"context"
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/zeebo/blake3"

	"github.com/autopeer-io/adfleet/internal/hub/core"
	"github.com/autopeer-io/adfleet/internal/hub/core/model"
	"github.com/autopeer-io/adfleet/pkg/log"
)

const (
	// DefaultItemDurationSec applies to items without a usable duration.
	DefaultItemDurationSec = 10

	// CycleQuantumMs is the loop boundary all devices align to.
	CycleQuantumMs = 60000

	// durationMsThreshold separates values given in seconds from values
	// already in milliseconds.
	durationMsThreshold = 1000
)

// Item is one resolved playlist entry.
type Item struct {
	AssetID    string
	URL        string
	Type       model.MediaType
	CampaignID string
	DurationMs int64
}

// Playlist is the ordered, normalized content of a campaign set.
type Playlist struct {
	Version string
	Items   []Item
}

// TotalMs is the sum of item durations.
func (p *Playlist) TotalMs() int64 {
	var total int64
	for _, it := range p.Items {
		total += it.DurationMs
	}
	return total
}

// Len returns the number of items.
func (p *Playlist) Len() int {
	return len(p.Items)
}

// CycleDurationMs rounds totalMs up to a whole number of minutes, never
// below one minute.
func CycleDurationMs(totalMs int64) int64 {
	cycles := (totalMs + CycleQuantumMs - 1) / CycleQuantumMs
	return max(CycleQuantumMs, cycles*CycleQuantumMs)
}

// NormalizeDurationMs converts a stored item duration to milliseconds.
func NormalizeDurationMs(d *float64) int64 {
	if d == nil || *d <= 0 {
		return DefaultItemDurationSec * 1000
	}
	if *d > durationMsThreshold {
		return int64(*d)
	}
	return int64(*d * 1000)
}

// AssetID derives the asset id of a media URL.
func AssetID(url string) string {
	sum := blake3.Sum256([]byte(url))
	return hex.EncodeToString(sum[:16])
}

// DeviceCampaignIDs resolves the campaigns a device should render: its own
// list, then its legacy single campaign, then its vehicle's list.
func DeviceCampaignIDs(d *model.Device, v *model.Vehicle) []string {
	if len(d.CampaignIDs) > 0 {
		return d.CampaignIDs
	}
	if d.CampaignID != "" {
		return []string{d.CampaignID}
	}
	if v != nil && len(v.CampaignIDs) > 0 {
		return v.CampaignIDs
	}
	return nil
}

// VehicleCampaignIDs resolves the campaigns a vehicle session plays: the
// vehicle's list, or else the assignment of its master (or first) device.
func VehicleCampaignIDs(v *model.Vehicle, devices []*model.Device) []string {
	if len(v.CampaignIDs) > 0 {
		return v.CampaignIDs
	}
	ordered := slices.Clone(devices)
	slices.SortStableFunc(ordered, func(a, b *model.Device) int {
		am, bm := a.Role == model.DeviceRoleMaster, b.Role == model.DeviceRoleMaster
		switch {
		case am && !bm:
			return -1
		case bm && !am:
			return 1
		}
		return 0
	})
	for _, d := range ordered {
		if ids := DeviceCampaignIDs(d, nil); len(ids) > 0 {
			return ids
		}
	}
	return nil
}

// Resolver turns campaign id lists into playlists.
type Resolver struct {
	campaigns core.CampaignRepository
	log       log.Logger
}

// NewResolver creates a resolver reading campaigns from repo.
func NewResolver(repo core.CampaignRepository) *Resolver {
	return &Resolver{campaigns: repo, log: log.WithName("manifest")}
}

// Resolve fetches the active campaigns among ids and concatenates their
// playlists in the order of ids. Items without a URL are skipped.
func (r *Resolver) Resolve(ctx context.Context, ids []string) (*Playlist, error) {
	p := &Playlist{}
	if len(ids) == 0 {
		p.Version = playlistVersion(nil)
		return p, nil
	}

	campaigns, err := r.campaigns.ListActive(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}

	position := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, seen := position[id]; !seen {
			position[id] = i
		}
	}
	slices.SortStableFunc(campaigns, func(a, b *model.Campaign) int {
		return position[a.ID] - position[b.ID]
	})

	for _, c := range campaigns {
		for i, raw := range c.Playlist {
			if raw.URL == "" {
				r.log.Warn("Skipping playlist item without URL", "campaignID", c.ID, "index", i)
				continue
			}
			typ := raw.Type
			if typ == "" {
				typ = model.MediaTypeVideo
			}
			p.Items = append(p.Items, Item{
				AssetID:    AssetID(raw.URL),
				URL:        raw.URL,
				Type:       typ,
				CampaignID: c.ID,
				DurationMs: NormalizeDurationMs(raw.Duration),
			})
		}
	}
	p.Version = playlistVersion(p.Items)
	return p, nil
}

func playlistVersion(items []Item) string {
	h := blake3.New()
	for _, it := range items {
		_, _ = fmt.Fprintf(h, "%s|%s|%d\n", it.AssetID, it.CampaignID, it.DurationMs)
	}
	return hex.EncodeToString(h.Sum(nil)[:8])
}
