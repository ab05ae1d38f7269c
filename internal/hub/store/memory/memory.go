// Package memory is an in-process record store used for development and tests.
package memory

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/autopeer-io/adfleet/internal/hub/core"
	"github.com/autopeer-io/adfleet/internal/hub/core/model"
	"github.com/autopeer-io/adfleet/internal/hub/store"
	"github.com/autopeer-io/adfleet/internal/pkg/util"
)

var (
	_ core.Repository = (*Store)(nil)
	_ store.Seeder    = (*Store)(nil)
)

// Store keeps every record in maps guarded by a single lock.
// Values handed out are copies.
type Store struct {
	mu          sync.RWMutex
	devices     map[string]*model.Device
	vehicles    map[string]*model.Vehicle
	campaigns   map[string]*model.Campaign
	impressions []*model.Impression
}

// New returns an empty store.
func New() *Store {
	return &Store{
		devices:   make(map[string]*model.Device),
		vehicles:  make(map[string]*model.Vehicle),
		campaigns: make(map[string]*model.Campaign),
	}
}

func (s *Store) Device() core.DeviceRepository         { return (*devices)(s) }
func (s *Store) Vehicle() core.VehicleRepository       { return (*vehicles)(s) }
func (s *Store) Campaign() core.CampaignRepository     { return (*campaigns)(s) }
func (s *Store) Impression() core.ImpressionRepository { return (*impressions)(s) }

// Seed replaces records with the entries of seed.
func (s *Store) Seed(_ context.Context, seed *store.Seed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range seed.Devices {
		s.devices[d.ID] = d.ToDevice()
	}
	for _, v := range seed.Vehicles {
		s.vehicles[v.ID] = v.ToVehicle()
	}
	for _, c := range seed.Campaigns {
		s.campaigns[c.ID] = c.ToCampaign()
	}
	return nil
}

// PutDevice inserts or replaces a device record.
func (s *Store) PutDevice(d *model.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.ID] = cloneDevice(d)
}

// PutVehicle inserts or replaces a vehicle record.
func (s *Store) PutVehicle(v *model.Vehicle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	cp.CampaignIDs = slices.Clone(v.CampaignIDs)
	s.vehicles[v.ID] = &cp
}

// PutCampaign inserts or replaces a campaign record.
func (s *Store) PutCampaign(c *model.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	cp.Playlist = slices.Clone(c.Playlist)
	s.campaigns[c.ID] = &cp
}

// Impressions returns a copy of every stored impression.
func (s *Store) Impressions() []*model.Impression {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.impressions)
}

func cloneDevice(d *model.Device) *model.Device {
	cp := *d
	cp.CampaignIDs = slices.Clone(d.CampaignIDs)
	return &cp
}

type devices Store

func (r *devices) Get(_ context.Context, id string) (*model.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("device %s: %w", id, util.ErrNotFound)
	}
	return cloneDevice(d), nil
}

func (r *devices) Authenticate(ctx context.Context, id, token string) (*model.Device, error) {
	d, err := r.Get(ctx, id)
	if errors.Is(err, util.ErrNotFound) {
		return nil, util.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if d.Token == "" || subtle.ConstantTimeCompare([]byte(d.Token), []byte(token)) != 1 {
		return nil, util.ErrUnauthorized
	}
	return d, nil
}

func (r *devices) ListByVehicle(_ context.Context, vehicleID string) ([]*model.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Device
	for _, d := range r.devices {
		if d.VehicleID == vehicleID {
			out = append(out, cloneDevice(d))
		}
	}
	slices.SortFunc(out, func(a, b *model.Device) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out, nil
}

func (r *devices) UpdateCampaigns(_ context.Context, id string, campaignIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("device %s: %w", id, util.ErrNotFound)
	}
	d.CampaignIDs = slices.Clone(campaignIDs)
	return nil
}

func (r *devices) SetPairing(_ context.Context, id, vehicleID string, role model.DeviceRole) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("device %s: %w", id, util.ErrNotFound)
	}
	if vehicleID != "" {
		if _, ok := r.vehicles[vehicleID]; !ok {
			return fmt.Errorf("vehicle %s: %w", vehicleID, util.ErrNotFound)
		}
	} else {
		role = model.DeviceRoleStandalone
	}
	d.VehicleID = vehicleID
	d.Role = role
	return nil
}

func (r *devices) WriteStatus(_ context.Context, update *model.DeviceStatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[update.DeviceID]
	if !ok {
		return fmt.Errorf("device %s: %w", update.DeviceID, util.ErrNotFound)
	}
	update.Apply(d)
	return nil
}

func (r *devices) BatchUpdateStatus(ctx context.Context, update *model.DeviceStatusUpdate) error {
	return r.WriteStatus(ctx, update)
}

type vehicles Store

func (r *vehicles) Get(_ context.Context, id string) (*model.Vehicle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vehicles[id]
	if !ok {
		return nil, fmt.Errorf("vehicle %s: %w", id, util.ErrNotFound)
	}
	cp := *v
	cp.CampaignIDs = slices.Clone(v.CampaignIDs)
	return &cp, nil
}

func (r *vehicles) ListActive(_ context.Context) ([]*model.Vehicle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Vehicle
	for _, v := range r.vehicles {
		if v.Active {
			cp := *v
			cp.CampaignIDs = slices.Clone(v.CampaignIDs)
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *vehicles) UpdateCampaigns(_ context.Context, id string, campaignIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.vehicles[id]
	if !ok {
		return fmt.Errorf("vehicle %s: %w", id, util.ErrNotFound)
	}
	v.CampaignIDs = slices.Clone(campaignIDs)
	return nil
}

func (r *vehicles) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.vehicles[id]; !ok {
		return fmt.Errorf("vehicle %s: %w", id, util.ErrNotFound)
	}
	delete(r.vehicles, id)
	for _, d := range r.devices {
		if d.VehicleID == id {
			d.VehicleID = ""
			d.Role = model.DeviceRoleStandalone
		}
	}
	return nil
}

type campaigns Store

func (r *campaigns) ListActive(_ context.Context, ids []string) ([]*model.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Campaign
	for _, id := range ids {
		c, ok := r.campaigns[id]
		if !ok || c.Status != model.CampaignStatusActive {
			continue
		}
		cp := *c
		cp.Playlist = slices.Clone(c.Playlist)
		out = append(out, &cp)
	}
	return out, nil
}

type impressions Store

func (r *impressions) BulkInsert(_ context.Context, batch []*model.Impression) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, imp := range batch {
		cp := *imp
		r.impressions = append(r.impressions, &cp)
	}
	return nil
}
