package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/autopeer-io/adfleet/internal/hub/core/model"
)

// Seed is the JSON document accepted by --store.seed-file.
type Seed struct {
	Devices   []SeedDevice   `json:"devices"`
	Vehicles  []SeedVehicle  `json:"vehicles"`
	Campaigns []SeedCampaign `json:"campaigns"`
}

type SeedDevice struct {
	ID          string   `json:"id"`
	Token       string   `json:"token"`
	CampaignIDs []string `json:"campaignIds,omitempty"`
	CampaignID  string   `json:"campaignId,omitempty"`
	VehicleID   string   `json:"vehicleId,omitempty"`
	Role        string   `json:"role,omitempty"`
	Status      string   `json:"status,omitempty"`
}

type SeedVehicle struct {
	ID          string            `json:"id"`
	CampaignIDs []string          `json:"campaignIds,omitempty"`
	WiFi        *model.WiFiConfig `json:"wifi,omitempty"`
	Active      *bool             `json:"active,omitempty"`
}

type SeedCampaign struct {
	ID       string               `json:"id"`
	Name     string               `json:"name,omitempty"`
	Status   string               `json:"status"`
	Playlist []model.PlaylistItem `json:"playlist"`
}

// Seeder is implemented by store adapters that can be preloaded.
type Seeder interface {
	Seed(ctx context.Context, seed *Seed) error
}

// LoadSeedFile reads a seed document from path.
func LoadSeedFile(path string) (*Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var s Seed
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	return &s, nil
}

// ToDevice converts the seed entry, filling defaults.
func (d SeedDevice) ToDevice() *model.Device {
	dev := &model.Device{
		ID:          d.ID,
		Token:       d.Token,
		CampaignIDs: d.CampaignIDs,
		CampaignID:  d.CampaignID,
		VehicleID:   d.VehicleID,
		Role:        model.DeviceRole(d.Role),
		Status:      model.DeviceStatus(d.Status),
	}
	if dev.Role == "" {
		dev.Role = model.DeviceRoleStandalone
	}
	if !dev.Status.Valid() {
		dev.Status = model.DeviceStatusInactive
	}
	return dev
}

// ToVehicle converts the seed entry; vehicles are active unless stated otherwise.
func (v SeedVehicle) ToVehicle() *model.Vehicle {
	active := true
	if v.Active != nil {
		active = *v.Active
	}
	return &model.Vehicle{ID: v.ID, CampaignIDs: v.CampaignIDs, WiFi: v.WiFi, Active: active}
}

// ToCampaign converts the seed entry.
func (c SeedCampaign) ToCampaign() *model.Campaign {
	return &model.Campaign{ID: c.ID, Name: c.Name, Status: model.CampaignStatus(c.Status), Playlist: c.Playlist}
}
