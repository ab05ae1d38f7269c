package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/autopeer-io/adfleet/internal/hub/core/model"
	"github.com/autopeer-io/adfleet/internal/hub/store"
	"github.com/autopeer-io/adfleet/internal/pkg/util"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "fleet.db"), 2)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	inactive := false
	dur := 5.0
	err = s.Seed(ctx, &store.Seed{
		Vehicles: []store.SeedVehicle{
			{ID: "v1", CampaignIDs: []string{"c2", "c1"}, WiFi: &model.WiFiConfig{SSID: "cab-1", Password: "pw"}},
			{ID: "v2", Active: &inactive},
		},
		Devices: []store.SeedDevice{
			{ID: "d1", Token: "t1", VehicleID: "v1", Role: "master"},
			{ID: "d2", Token: "t2", VehicleID: "v1", Role: "slave", CampaignIDs: []string{"c1"}},
		},
		Campaigns: []store.SeedCampaign{
			{ID: "c1", Status: "active", Playlist: []model.PlaylistItem{{URL: "https://cdn/a.mp4", Duration: &dur}}},
			{ID: "c2", Status: "active"},
			{ID: "c3", Status: "ended"},
		},
	})
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	return s
}

func TestDeviceRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	d, err := s.Device().Get(ctx, "d2")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if d.VehicleID != "v1" || d.Role != model.DeviceRoleSlave || len(d.CampaignIDs) != 1 || d.CampaignIDs[0] != "c1" {
		t.Errorf("device = %+v", d)
	}
	if d.Status != model.DeviceStatusInactive || d.BatteryLevel != nil {
		t.Errorf("unexpected defaults: %+v", d)
	}

	if _, err := s.Device().Get(ctx, "missing"); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("missing device error = %v", err)
	}
}

func TestWriteStatusOnlyTouchesSetColumns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	playing := model.DeviceStatusPlaying
	seen := time.UnixMilli(1700000000123)
	battery := 0.42
	if err := s.Device().WriteStatus(ctx, &model.DeviceStatusUpdate{DeviceID: "d1", Status: &playing, LastSeen: &seen}); err != nil {
		t.Fatalf("WriteStatus() error = %v", err)
	}
	if err := s.Device().WriteStatus(ctx, &model.DeviceStatusUpdate{DeviceID: "d1", BatteryLevel: &battery}); err != nil {
		t.Fatalf("WriteStatus() error = %v", err)
	}

	d, _ := s.Device().Get(ctx, "d1")
	if d.Status != model.DeviceStatusPlaying || !d.LastSeen.Equal(seen) || d.BatteryLevel == nil || *d.BatteryLevel != 0.42 {
		t.Errorf("device = %+v", d)
	}

	err := s.Device().WriteStatus(ctx, &model.DeviceStatusUpdate{DeviceID: "ghost", Status: &playing})
	if !errors.Is(err, util.ErrNotFound) {
		t.Errorf("unknown device error = %v", err)
	}
}

func TestVehicleQueries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v, err := s.Vehicle().Get(ctx, "v1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if v.WiFi == nil || v.WiFi.SSID != "cab-1" || len(v.CampaignIDs) != 2 || !v.Active {
		t.Errorf("vehicle = %+v", v)
	}

	active, _ := s.Vehicle().ListActive(ctx)
	if len(active) != 1 || active[0].ID != "v1" {
		t.Errorf("ListActive = %+v", active)
	}

	devs, _ := s.Device().ListByVehicle(ctx, "v1")
	if len(devs) != 2 || devs[0].ID != "d1" {
		t.Errorf("ListByVehicle = %+v", devs)
	}

	if err := s.Vehicle().Delete(ctx, "v1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	devs, _ = s.Device().ListByVehicle(ctx, "v1")
	if len(devs) != 0 {
		t.Errorf("devices still paired: %+v", devs)
	}
}

func TestCampaignListActive(t *testing.T) {
	s := openTestStore(t)
	got, err := s.Campaign().ListActive(context.Background(), []string{"c1", "c3", "c9"})
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "c1" || len(got[0].Playlist) != 1 || *got[0].Playlist[0].Duration != 5 {
		t.Errorf("ListActive = %+v", got)
	}
}

func TestPairingAndAuth(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Device().SetPairing(ctx, "d1", "nope", model.DeviceRoleMaster); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("pair to unknown vehicle error = %v", err)
	}
	if err := s.Device().SetPairing(ctx, "d1", "", model.DeviceRoleMaster); err != nil {
		t.Fatalf("unpair error = %v", err)
	}
	d, _ := s.Device().Get(ctx, "d1")
	if d.VehicleID != "" || d.Role != model.DeviceRoleStandalone {
		t.Errorf("unpaired device = %+v", d)
	}

	if _, err := s.Device().Authenticate(ctx, "d1", "t1"); err != nil {
		t.Errorf("Authenticate() error = %v", err)
	}
	if _, err := s.Device().Authenticate(ctx, "d1", "bad"); !errors.Is(err, util.ErrUnauthorized) {
		t.Errorf("bad token error = %v", err)
	}
	if _, err := s.Device().Authenticate(ctx, "ghost", "t1"); !errors.Is(err, util.ErrUnauthorized) {
		t.Errorf("unknown device error = %v", err)
	}
}

func TestAuthenticateSurfacesStoreFailure(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "fleet.db"), 1)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	_, err = s.Device().Authenticate(ctx, "d1", "t1")
	if err == nil || errors.Is(err, util.ErrUnauthorized) {
		t.Errorf("Authenticate() on closed store error = %v, want a store failure", err)
	}
}

func TestBulkInsertImpressions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	batch := []*model.Impression{
		{ID: "i1", DeviceID: "d1", AdID: "a1", OccurredAt: now, ReceivedAt: now},
		{ID: "i2", DeviceID: "d1", AdID: "a2", OccurredAt: now, ReceivedAt: now},
	}
	if err := s.Impression().BulkInsert(ctx, batch); err != nil {
		t.Fatalf("BulkInsert() error = %v", err)
	}
	if err := s.Impression().BulkInsert(ctx, batch[:1]); err == nil {
		t.Error("duplicate impression id accepted")
	}
}
