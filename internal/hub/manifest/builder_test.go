package manifest

import (
	"context"
	"testing"
	"time"

	"github.com/autopeer-io/adfleet/internal/hub/core/model"
	"github.com/autopeer-io/adfleet/internal/hub/store/memory"
)

func f(v float64) *float64 { return &v }

func newTestBuilder(t *testing.T) (*Builder, *memory.Store) {
	t.Helper()
	s := memory.New()
	s.PutVehicle(&model.Vehicle{
		ID:          "v1",
		CampaignIDs: []string{"c2", "c1"},
		WiFi:        &model.WiFiConfig{SSID: "cab", Password: "secret"},
		Active:      true,
	})
	s.PutCampaign(&model.Campaign{
		ID:     "c1",
		Status: model.CampaignStatusActive,
		Playlist: []model.PlaylistItem{
			{URL: "https://cdn/shared.mp4", Duration: f(15)},
			{URL: "", Duration: f(5)},
			{URL: "https://cdn/one.jpg", Type: model.MediaTypeImage},
		},
	})
	s.PutCampaign(&model.Campaign{
		ID:     "c2",
		Status: model.CampaignStatusActive,
		Playlist: []model.PlaylistItem{
			{URL: "https://cdn/shared.mp4", Duration: f(20000)},
		},
	})
	s.PutCampaign(&model.Campaign{ID: "c3", Status: model.CampaignStatusPaused,
		Playlist: []model.PlaylistItem{{URL: "https://cdn/paused.mp4"}}})

	return NewBuilder(s.Vehicle(), NewResolver(s.Campaign()), time.Minute), s
}

func TestCycleDurationMs(t *testing.T) {
	tests := []struct {
		total int64
		want  int64
	}{
		{0, 60000},
		{1, 60000},
		{60000, 60000},
		{60001, 120000},
		{125000, 180000},
	}
	for _, tt := range tests {
		if got := CycleDurationMs(tt.total); got != tt.want {
			t.Errorf("CycleDurationMs(%d) = %d, want %d", tt.total, got, tt.want)
		}
	}
}

func TestNormalizeDurationMs(t *testing.T) {
	tests := []struct {
		name string
		in   *float64
		want int64
	}{
		{"absent", nil, 10000},
		{"zero", f(0), 10000},
		{"seconds", f(15), 15000},
		{"fractional seconds", f(2.5), 2500},
		{"boundary is seconds", f(1000), 1000000},
		{"milliseconds", f(1001), 1001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeDurationMs(tt.in); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDeviceCampaignIDs(t *testing.T) {
	v := &model.Vehicle{ID: "v1", CampaignIDs: []string{"cv"}}
	tests := []struct {
		name string
		dev  *model.Device
		veh  *model.Vehicle
		want []string
	}{
		{"own list wins", &model.Device{CampaignIDs: []string{"a", "b"}, CampaignID: "legacy"}, v, []string{"a", "b"}},
		{"legacy single", &model.Device{CampaignID: "legacy"}, v, []string{"legacy"}},
		{"inherit vehicle", &model.Device{}, v, []string{"cv"}},
		{"nothing", &model.Device{}, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeviceCampaignIDs(tt.dev, tt.veh)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestVehicleCampaignIDsFallsBackToMaster(t *testing.T) {
	devices := []*model.Device{
		{ID: "s", Role: model.DeviceRoleSlave, CampaignIDs: []string{"slave"}},
		{ID: "m", Role: model.DeviceRoleMaster, CampaignIDs: []string{"master"}},
	}
	got := VehicleCampaignIDs(&model.Vehicle{ID: "v"}, devices)
	if len(got) != 1 || got[0] != "master" {
		t.Errorf("got %v, want [master]", got)
	}
}

func TestBuildInheritsVehicleAndDedupes(t *testing.T) {
	b, _ := newTestBuilder(t)
	d := &model.Device{ID: "d1", VehicleID: "v1", Role: model.DeviceRoleMaster}

	m, err := b.Build(context.Background(), d)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	// c2 first (assignment order), then c1 with the URL-less item dropped.
	if len(m.Playlist) != 3 {
		t.Fatalf("playlist = %+v", m.Playlist)
	}
	if m.Playlist[0].CampaignID != "c2" || m.Playlist[1].CampaignID != "c1" || m.Playlist[2].CampaignID != "c1" {
		t.Errorf("playlist order = %+v", m.Playlist)
	}
	if len(m.Assets) != 2 {
		t.Fatalf("assets = %+v, want 2 unique", m.Assets)
	}
	shared := AssetID("https://cdn/shared.mp4")
	if m.Playlist[0].AssetID != shared || m.Playlist[1].AssetID != shared {
		t.Errorf("shared URL not collapsed to one asset id: %+v", m.Playlist)
	}
	if m.Playlist[0].DurationMs != 20000 || m.Playlist[1].DurationMs != 15000 || m.Playlist[2].DurationMs != 10000 {
		t.Errorf("durations = %+v", m.Playlist)
	}
	if m.Assets[1].Type != model.MediaTypeImage {
		t.Errorf("asset type = %s, want image", m.Assets[1].Type)
	}

	if m.SyncConfig.Mode != SyncModeQuantized || m.SyncConfig.AnchorEpochMs != 0 || m.SyncConfig.CycleDurationMs != 60000 {
		t.Errorf("sync config = %+v", m.SyncConfig)
	}
	if m.VehicleID == nil || *m.VehicleID != "v1" || m.VehicleWiFi == nil || m.VehicleWiFi.SSID != "cab" {
		t.Errorf("vehicle fields = %v %+v", m.VehicleID, m.VehicleWiFi)
	}
	if m.RefreshSeconds != 60 || m.Role != model.DeviceRoleMaster {
		t.Errorf("refresh=%d role=%s", m.RefreshSeconds, m.Role)
	}
}

func TestBuildEmptyPlaylist(t *testing.T) {
	b, _ := newTestBuilder(t)
	m, err := b.Build(context.Background(), &model.Device{ID: "lonely", CampaignIDs: []string{"c3"}})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(m.Assets) != 0 || len(m.Playlist) != 0 {
		t.Errorf("expected empty manifest, got %+v", m)
	}
	if m.SyncConfig.CycleDurationMs != 60000 || m.SyncConfig.Mode != SyncModeQuantized {
		t.Errorf("sync config = %+v", m.SyncConfig)
	}
	if m.VehicleID != nil || m.Role != model.DeviceRoleStandalone {
		t.Errorf("unpaired fields = %v %s", m.VehicleID, m.Role)
	}
}

func TestQuantizedCycleFromContent(t *testing.T) {
	s := memory.New()
	s.PutCampaign(&model.Campaign{
		ID:     "long",
		Status: model.CampaignStatusActive,
		Playlist: []model.PlaylistItem{
			{URL: "https://cdn/a.mp4", Duration: f(60)},
			{URL: "https://cdn/b.mp4", Duration: f(65000)},
		},
	})
	b := NewBuilder(s.Vehicle(), NewResolver(s.Campaign()), time.Minute)

	m, err := b.Build(context.Background(), &model.Device{ID: "d", CampaignID: "long"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if m.SyncConfig.CycleDurationMs != 180000 {
		t.Errorf("cycle = %d, want 180000", m.SyncConfig.CycleDurationMs)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	b, s := newTestBuilder(t)
	d := &model.Device{ID: "d1", VehicleID: "v1"}
	ctx := context.Background()

	m1, _ := b.Build(ctx, d)
	m2, _ := b.Build(ctx, d)
	_, etag1, err := Encode(m1)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	_, etag2, _ := Encode(m2)
	if etag1 != etag2 {
		t.Errorf("etags differ: %s vs %s", etag1, etag2)
	}
	if !ETagMatches(etag1, etag2) {
		t.Error("etag does not match itself")
	}

	s.PutCampaign(&model.Campaign{ID: "c2", Status: model.CampaignStatusEnded})
	m3, _ := b.Build(ctx, d)
	_, etag3, _ := Encode(m3)
	if etag3 == etag1 {
		t.Error("etag unchanged after campaign content changed")
	}
	if m3.Version == m1.Version {
		t.Error("playlist version unchanged after campaign content changed")
	}
}

func TestETagMatches(t *testing.T) {
	const etag = `"abc"`
	tests := []struct {
		header string
		want   bool
	}{
		{"", false},
		{`"abc"`, true},
		{`W/"abc"`, true},
		{`"x", "abc"`, true},
		{`"x"`, false},
		{"*", true},
		{"abc", false},
	}
	for _, tt := range tests {
		if got := ETagMatches(tt.header, etag); got != tt.want {
			t.Errorf("ETagMatches(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}
