package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/adfleet/internal/hub/core/model"
	"github.com/autopeer-io/adfleet/internal/hub/manifest"
	"github.com/autopeer-io/adfleet/internal/hub/service"
)

type fakeHAL struct{}

func (fakeHAL) DeviceID() string      { return "tab-1" }
func (fakeHAL) DeviceToken() string   { return "tok" }
func (fakeHAL) BatteryLevel() float64 { return 90 }
func (fakeHAL) StorageUsed() float64  { return 10 }

type fakeHub struct {
	mu        sync.Mutex
	manifest  *manifest.Manifest
	fetches   int
	uploaded  [][]service.ImpressionInput
	uploadErr error
}

func (h *fakeHub) Manifest(context.Context) (*manifest.Manifest, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fetches++
	return h.manifest, true, nil
}

func (h *fakeHub) Heartbeat(context.Context, *service.HeartbeatRequest) error { return nil }

func (h *fakeHub) Impressions(_ context.Context, batch []service.ImpressionInput) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.uploadErr != nil {
		return h.uploadErr
	}
	h.uploaded = append(h.uploaded, batch)
	return nil
}

func testManifest() *manifest.Manifest {
	return &manifest.Manifest{
		Version: "v1",
		Assets: []manifest.Asset{
			{ID: "a1", Type: model.MediaTypeVideo},
			{ID: "a2", Type: model.MediaTypeImage},
		},
		Playlist: []manifest.Entry{
			{Index: 0, AssetID: "a1", CampaignID: "c1", DurationMs: 10000},
			{Index: 1, AssetID: "a2", CampaignID: "c2", DurationMs: 5000},
		},
		SyncConfig: manifest.SyncConfig{Mode: manifest.SyncModeQuantized, CycleDurationMs: 60000},
	}
}

// cycleStart is a multiple of the 60s cycle.
var cycleStart = time.UnixMilli(1_699_999_980_000)

func setup(t *testing.T) (*Player, *fakeHub, *testingclock.FakeClock) {
	t.Helper()
	c := testingclock.NewFakeClock(cycleStart)
	hub := &fakeHub{manifest: testManifest()}
	p := New(c)
	if err := p.Setup(context.Background(), fakeHAL{}, hub); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p.Stop)
	return p, hub, c
}

func pending(p *Player) []service.ImpressionInput {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]service.ImpressionInput(nil), p.pending...)
}

// eventually waits for the goroutines fired by the fake clock.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPlayRecordsImpressionWhenItemEnds(t *testing.T) {
	p, hub, c := setup(t)
	ctx := context.Background()

	start := c.Now().Add(2 * time.Second)
	cmd := &model.PlayCommand{VideoIndex: 1, StartAtEpochMs: start.UnixMilli(), PlaylistVersion: "v1", Sequence: 1, DurationMs: 5000}
	if err := p.Play(ctx, cmd); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if hub.fetches != 1 {
		t.Errorf("fetches = %d, want a refresh for the unknown version", hub.fetches)
	}
	if p.Status() != model.DeviceStatusPlaying {
		t.Errorf("Status() = %s, want playing", p.Status())
	}

	c.Step(6 * time.Second)
	if err := p.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if len(hub.uploaded) != 0 {
		t.Fatalf("uploaded before the item ended: %+v", hub.uploaded)
	}

	c.Step(time.Second)
	if p.Status() != model.DeviceStatusActive {
		t.Errorf("Status() = %s after the item, want active", p.Status())
	}
	eventually(t, "impression", func() bool { return len(pending(p)) == 1 })
	if err := p.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if len(hub.uploaded) != 1 || len(hub.uploaded[0]) != 1 {
		t.Fatalf("uploaded = %+v", hub.uploaded)
	}
	got := hub.uploaded[0][0]
	if got.AdID != "a2" || got.CampaignID != "c2" || got.MediaType != model.MediaTypeImage || got.DurationMs != 5000 {
		t.Errorf("impression = %+v", got)
	}
	if got.OccurredAt == nil || !got.OccurredAt.Equal(start) {
		t.Errorf("OccurredAt = %v, want %v", got.OccurredAt, start)
	}
}

func TestPlayIgnoresRepeatsAndReplacesSchedule(t *testing.T) {
	p, hub, c := setup(t)
	ctx := context.Background()

	first := &model.PlayCommand{VideoIndex: 0, StartAtEpochMs: c.Now().UnixMilli(), PlaylistVersion: "v1", Sequence: 1, DurationMs: 10000}
	if err := p.Play(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := p.Play(ctx, first); err != nil {
		t.Fatal(err)
	}
	if hub.fetches != 1 {
		t.Errorf("fetches = %d, want 1", hub.fetches)
	}

	// A newer command cancels the item still on screen.
	c.Step(3 * time.Second)
	second := &model.PlayCommand{VideoIndex: 1, StartAtEpochMs: c.Now().UnixMilli(), PlaylistVersion: "v1", Sequence: 2, DurationMs: 5000}
	if err := p.Play(ctx, second); err != nil {
		t.Fatal(err)
	}
	c.Step(20 * time.Second)
	eventually(t, "impression", func() bool { return len(pending(p)) == 1 })
	if err := p.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if len(hub.uploaded) != 1 || hub.uploaded[0][0].AdID != "a2" {
		t.Errorf("uploaded = %+v, want only the second item", hub.uploaded)
	}
}

func TestFlushKeepsFailedBatch(t *testing.T) {
	p, hub, c := setup(t)
	ctx := context.Background()

	cmd := &model.PlayCommand{VideoIndex: 0, StartAtEpochMs: c.Now().UnixMilli(), PlaylistVersion: "v1", Sequence: 1, DurationMs: 10000}
	if err := p.Play(ctx, cmd); err != nil {
		t.Fatal(err)
	}
	c.Step(11 * time.Second)
	eventually(t, "impression", func() bool { return len(pending(p)) == 1 })

	hub.uploadErr = errors.New("hub down")
	if err := p.Flush(ctx); err == nil {
		t.Fatal("Flush() succeeded with the hub down")
	}
	hub.uploadErr = nil
	if err := p.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if len(hub.uploaded) != 1 || len(hub.uploaded[0]) != 1 {
		t.Errorf("uploaded = %+v, want the retried batch", hub.uploaded)
	}
}

func TestRoutesRefreshManifest(t *testing.T) {
	p, hub, _ := setup(t)
	routes := p.Routes()
	for _, ev := range []model.EventType{model.EventConnected, model.EventRefreshManifest} {
		if err := routes[ev](context.Background(), []byte(`{}`)); err != nil {
			t.Fatalf("%s handler error = %v", ev, err)
		}
	}
	if hub.fetches != 2 || p.Manifest().Version != "v1" {
		t.Errorf("fetches = %d, manifest = %+v", hub.fetches, p.Manifest())
	}
}

func TestCycleLoopPlaysWithoutSession(t *testing.T) {
	p, hub, c := setup(t)
	ctx := context.Background()

	if err := p.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if p.Status() != model.DeviceStatusPlaying {
		t.Errorf("Status() = %s, want playing on its own cycle", p.Status())
	}

	// a1 ends, a2 ends, the idle tail ends, a1 ends again.
	for i, step := range []time.Duration{10 * time.Second, 5 * time.Second, 45 * time.Second, 10 * time.Second} {
		c.Step(step)
		eventually(t, "next slot", func() bool { return c.Waiters() == 1 })
		if p.Status() != model.DeviceStatusPlaying {
			t.Errorf("step %d: Status() = %s, want playing", i, p.Status())
		}
	}

	if err := p.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if len(hub.uploaded) != 1 {
		t.Fatalf("uploaded = %+v", hub.uploaded)
	}
	got := hub.uploaded[0]
	want := []struct {
		ad    string
		media model.MediaType
		at    time.Time
	}{
		{"a1", model.MediaTypeVideo, cycleStart},
		{"a2", model.MediaTypeImage, cycleStart.Add(10 * time.Second)},
		{"a1", model.MediaTypeVideo, cycleStart.Add(time.Minute)},
	}
	if len(got) != len(want) {
		t.Fatalf("impressions = %+v, want %d", got, len(want))
	}
	for i, w := range want {
		if got[i].AdID != w.ad || got[i].MediaType != w.media || got[i].OccurredAt == nil || !got[i].OccurredAt.Equal(w.at) {
			t.Errorf("impression %d = %+v, want %s at %v", i, got[i], w.ad, w.at)
		}
	}
}

func TestCycleJoinMidItemSkipsPartialImpression(t *testing.T) {
	p, _, c := setup(t)
	c.Step(3 * time.Second)
	if err := p.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	c.Step(7 * time.Second)
	eventually(t, "next slot", func() bool { return c.Waiters() == 1 })
	if n := len(pending(p)); n != 0 {
		t.Fatalf("pending = %d after a partly played item, want 0", n)
	}

	c.Step(5 * time.Second)
	eventually(t, "impression", func() bool { return len(pending(p)) == 1 })
	if got := pending(p)[0]; got.AdID != "a2" || !got.OccurredAt.Equal(cycleStart.Add(10*time.Second)) {
		t.Errorf("impression = %+v, want a2 from its boundary", got)
	}
}

func TestPlayCommandTakesOverAndCycleResumes(t *testing.T) {
	p, _, c := setup(t)
	ctx := context.Background()
	if err := p.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	play := func(seq uint64) {
		t.Helper()
		cmd := &model.PlayCommand{VideoIndex: 1, StartAtEpochMs: c.Now().UnixMilli(), PlaylistVersion: "v1", Sequence: seq, DurationMs: 5000}
		if err := p.Play(ctx, cmd); err != nil {
			t.Fatal(err)
		}
	}

	play(1)
	c.Step(5 * time.Second)
	eventually(t, "first impression", func() bool { return len(pending(p)) == 1 && c.Waiters() == 1 })
	if p.Status() != model.DeviceStatusActive {
		t.Errorf("Status() = %s between commands, want active", p.Status())
	}

	// The next command arrives within the grace period and crosses the
	// boundary where the cycle would have ended a1.
	c.Step(time.Second)
	play(2)
	c.Step(5 * time.Second)
	eventually(t, "second impression", func() bool { return len(pending(p)) == 2 && c.Waiters() == 1 })
	for _, imp := range pending(p) {
		if imp.AdID != "a2" {
			t.Errorf("impression %+v recorded during the session, want only commanded items", imp)
		}
	}

	c.Step(resumeAfter)
	eventually(t, "own cycle", func() bool { return p.Status() == model.DeviceStatusPlaying })
}
