package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/autopeer-io/adfleet/internal/hub/core/model"
	"github.com/autopeer-io/adfleet/internal/hub/store"
	"github.com/autopeer-io/adfleet/internal/pkg/util"
)

func seeded(t *testing.T) *Store {
	t.Helper()
	s := New()
	err := s.Seed(context.Background(), &store.Seed{
		Devices: []store.SeedDevice{
			{ID: "d1", Token: "t1", VehicleID: "v1", Role: "master"},
			{ID: "d2", Token: "t2", VehicleID: "v1", Role: "slave"},
			{ID: "d3", Token: "t3"},
		},
		Vehicles: []store.SeedVehicle{{ID: "v1", CampaignIDs: []string{"c1"}}},
		Campaigns: []store.SeedCampaign{
			{ID: "c1", Status: "active"},
			{ID: "c2", Status: "paused"},
		},
	})
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	return s
}

func TestAuthenticate(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	if _, err := s.Device().Authenticate(ctx, "d1", "t1"); err != nil {
		t.Errorf("valid token rejected: %v", err)
	}
	if _, err := s.Device().Authenticate(ctx, "d1", "t2"); !errors.Is(err, util.ErrUnauthorized) {
		t.Errorf("wrong token error = %v, want ErrUnauthorized", err)
	}
	if _, err := s.Device().Authenticate(ctx, "nope", "t1"); !errors.Is(err, util.ErrUnauthorized) {
		t.Errorf("unknown device error = %v, want ErrUnauthorized", err)
	}
}

func TestListByVehicleAndDelete(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	devs, _ := s.Device().ListByVehicle(ctx, "v1")
	if len(devs) != 2 || devs[0].ID != "d1" || devs[1].ID != "d2" {
		t.Fatalf("ListByVehicle = %+v", devs)
	}

	if err := s.Vehicle().Delete(ctx, "v1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	devs, _ = s.Device().ListByVehicle(ctx, "v1")
	if len(devs) != 0 {
		t.Errorf("devices still paired after delete: %+v", devs)
	}
	d, _ := s.Device().Get(ctx, "d1")
	if d.Role != model.DeviceRoleStandalone {
		t.Errorf("role = %s, want standalone", d.Role)
	}
	if _, err := s.Vehicle().Get(ctx, "v1"); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("Get deleted vehicle error = %v", err)
	}
}

func TestSetPairingUnknownVehicle(t *testing.T) {
	s := seeded(t)
	err := s.Device().SetPairing(context.Background(), "d3", "v9", model.DeviceRoleMaster)
	if !errors.Is(err, util.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestCampaignListActiveFiltersStatus(t *testing.T) {
	s := seeded(t)
	got, _ := s.Campaign().ListActive(context.Background(), []string{"c2", "c1", "missing"})
	if len(got) != 1 || got[0].ID != "c1" {
		t.Errorf("ListActive = %+v, want [c1]", got)
	}
}

func TestWriteStatusPartial(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	now := time.Now()
	playing := model.DeviceStatusPlaying
	battery := 0.5

	_ = s.Device().WriteStatus(ctx, &model.DeviceStatusUpdate{DeviceID: "d1", Status: &playing, BatteryLevel: &battery})
	_ = s.Device().WriteStatus(ctx, &model.DeviceStatusUpdate{DeviceID: "d1", LastSeen: &now})

	d, _ := s.Device().Get(ctx, "d1")
	if d.Status != model.DeviceStatusPlaying || d.BatteryLevel == nil || *d.BatteryLevel != 0.5 || !d.LastSeen.Equal(now) {
		t.Errorf("device = %+v", d)
	}
}

func TestReturnedValuesAreCopies(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	v, _ := s.Vehicle().Get(ctx, "v1")
	v.CampaignIDs[0] = "mutated"

	again, _ := s.Vehicle().Get(ctx, "v1")
	if again.CampaignIDs[0] != "c1" {
		t.Errorf("store mutated through returned value: %v", again.CampaignIDs)
	}
}
