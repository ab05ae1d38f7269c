package deviceagent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/adfleet/internal/deviceagent/core"
	"github.com/autopeer-io/adfleet/internal/deviceagent/player"
	"github.com/autopeer-io/adfleet/internal/hub/core/model"
	"github.com/autopeer-io/adfleet/internal/hub/manifest"
	"github.com/autopeer-io/adfleet/internal/hub/service"
)

type fakeHAL struct{}

func (fakeHAL) DeviceID() string      { return "tab-1" }
func (fakeHAL) DeviceToken() string   { return "tok" }
func (fakeHAL) BatteryLevel() float64 { return 77 }
func (fakeHAL) StorageUsed() float64  { return 12 }

type fakeStreamer struct {
	mu         sync.Mutex
	routes     map[model.EventType]core.HandlerFunc
	heartbeats  []service.HeartbeatRequest
	impressions []service.ImpressionInput
	manifest    *manifest.Manifest
	streams     int
	beatErr     error
}

func (f *fakeStreamer) Manifest(context.Context) (*manifest.Manifest, bool, error) {
	if f.manifest != nil {
		return f.manifest, true, nil
	}
	return &manifest.Manifest{}, false, nil
}

func (f *fakeStreamer) Heartbeat(_ context.Context, req *service.HeartbeatRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beatErr != nil {
		return f.beatErr
	}
	f.heartbeats = append(f.heartbeats, *req)
	return nil
}

func (f *fakeStreamer) Impressions(_ context.Context, batch []service.ImpressionInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.impressions = append(f.impressions, batch...)
	return nil
}

func (f *fakeStreamer) Register(event model.EventType, handler core.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.routes == nil {
		f.routes = make(map[model.EventType]core.HandlerFunc)
	}
	f.routes[event] = handler
}

func (f *fakeStreamer) Stream(ctx context.Context) error {
	f.mu.Lock()
	f.streams++
	f.mu.Unlock()
	return errors.New("stream closed")
}

type fakeModule struct {
	status  model.DeviceStatus
	flushes int
}

func (m *fakeModule) Name() string                                    { return "fake" }
func (m *fakeModule) Setup(context.Context, core.HAL, core.Hub) error { return nil }
func (m *fakeModule) Status() model.DeviceStatus                      { return m.status }
func (m *fakeModule) Flush(context.Context) error                     { m.flushes++; return nil }
func (m *fakeModule) Routes() map[model.EventType]core.HandlerFunc {
	return map[model.EventType]core.HandlerFunc{
		model.EventPlayVideo: func(context.Context, []byte) error { return nil },
	}
}

func TestBeatReportsModuleStatus(t *testing.T) {
	hub := &fakeStreamer{}
	m := &fakeModule{status: model.DeviceStatusPlaying}
	a := NewAgent(fakeHAL{}, hub, time.Minute, time.Second, m)

	a.beat(context.Background())
	m.status = model.DeviceStatusActive
	a.beat(context.Background())

	if len(hub.heartbeats) != 2 {
		t.Fatalf("heartbeats = %d, want 2", len(hub.heartbeats))
	}
	if *hub.heartbeats[0].Status != model.DeviceStatusPlaying || *hub.heartbeats[1].Status != model.DeviceStatusActive {
		t.Errorf("statuses = %s, %s", *hub.heartbeats[0].Status, *hub.heartbeats[1].Status)
	}
	if *hub.heartbeats[0].BatteryLevel != 77 || *hub.heartbeats[0].StorageUsed != 12 {
		t.Errorf("health = %v, %v", *hub.heartbeats[0].BatteryLevel, *hub.heartbeats[0].StorageUsed)
	}
	if m.flushes != 2 {
		t.Errorf("flushes = %d, want 2", m.flushes)
	}
}

func TestBeatSkipsFlushWhenHubUnreachable(t *testing.T) {
	hub := &fakeStreamer{beatErr: errors.New("connection refused")}
	m := &fakeModule{status: model.DeviceStatusActive}
	a := NewAgent(fakeHAL{}, hub, time.Minute, time.Second, m)

	a.beat(context.Background())
	if m.flushes != 0 {
		t.Errorf("flushes = %d, want 0", m.flushes)
	}
}

func TestRunRegistersRoutesAndReconnects(t *testing.T) {
	hub := &fakeStreamer{}
	a := NewAgent(fakeHAL{}, hub, time.Hour, 10*time.Millisecond, &fakeModule{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for {
		hub.mu.Lock()
		n := hub.streams
		hub.mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("streams = %d, want reconnects", n)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if _, ok := hub.routes[model.EventPlayVideo]; !ok {
		t.Error("module route not registered")
	}
}

func TestAgentPlaysOwnCycleBeforeAnySession(t *testing.T) {
	ctx := context.Background()
	c := testingclock.NewFakeClock(time.UnixMilli(1_699_999_980_000))
	hub := &fakeStreamer{manifest: &manifest.Manifest{
		Version:    "v1",
		Assets:     []manifest.Asset{{ID: "a1", Type: model.MediaTypeVideo}},
		Playlist:   []manifest.Entry{{Index: 0, AssetID: "a1", CampaignID: "c1", DurationMs: 10000}},
		SyncConfig: manifest.SyncConfig{Mode: manifest.SyncModeQuantized, CycleDurationMs: 60000},
	}}
	p := player.New(c)
	t.Cleanup(p.Stop)
	a := NewAgent(fakeHAL{}, hub, time.Minute, time.Second, p)

	if err := p.Setup(ctx, fakeHAL{}, hub); err != nil {
		t.Fatal(err)
	}
	if err := p.Routes()[model.EventConnected](ctx, nil); err != nil {
		t.Fatal(err)
	}

	a.beat(ctx)
	hub.mu.Lock()
	status := *hub.heartbeats[0].Status
	hub.mu.Unlock()
	if status != model.DeviceStatusPlaying {
		t.Fatalf("first heartbeat status = %s, want playing so the hub can start a session", status)
	}

	c.Step(10 * time.Second)
	deadline := time.Now().Add(5 * time.Second)
	for {
		a.beat(ctx)
		hub.mu.Lock()
		n := len(hub.impressions)
		hub.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no impression uploaded for the finished cycle item")
		}
		time.Sleep(time.Millisecond)
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if got := hub.impressions[0]; got.AdID != "a1" || got.CampaignID != "c1" {
		t.Errorf("impression = %+v", got)
	}
}
