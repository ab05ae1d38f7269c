package player

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/adfleet/internal/deviceagent/core"
	"github.com/autopeer-io/adfleet/internal/hub/core/model"
	"github.com/autopeer-io/adfleet/internal/hub/manifest"
	"github.com/autopeer-io/adfleet/internal/hub/service"
	"github.com/autopeer-io/adfleet/pkg/log"
)

const (
	// maxPending bounds the impressions kept while the hub is unreachable.
	maxPending = 500
	// resumeAfter is how long the screen stays idle after a commanded item
	// before the player falls back to its own cycle.
	resumeAfter = 2 * time.Second
	// maxLag is how late a cycle tick may run and still start the next item
	// on its boundary.
	maxLag = time.Second
)

// Player keeps the device's manifest current and plays it. Without a vehicle
// session it loops the playlist on the manifest's wall-clock cycle; play
// commands take over the screen until they stop arriving. Every item played
// from its start is recorded as an impression.
type Player struct {
	clock clock.WithDelayedExecution
	hub   core.Hub
	log   log.Logger

	mu           sync.Mutex
	manifest     *manifest.Manifest
	lastSeq      uint64
	lastVersion  string
	playingUntil time.Time
	timer        clock.Timer
	commanded    bool
	looping      bool
	loopGen      uint64
	loopTimer    clock.Timer
	pending      []service.ImpressionInput
}

var (
	_ core.Module         = (*Player)(nil)
	_ core.StatusReporter = (*Player)(nil)
	_ core.Flusher        = (*Player)(nil)
)

func New(c clock.WithDelayedExecution) *Player {
	return &Player{clock: c, log: log.WithName("player")}
}

func (p *Player) Name() string {
	return "player"
}

func (p *Player) Setup(ctx context.Context, hal core.HAL, hub core.Hub) error {
	p.hub = hub
	p.log = p.log.WithValues("deviceID", hal.DeviceID())
	return nil
}

func (p *Player) Routes() map[model.EventType]core.HandlerFunc {
	refresh := func(ctx context.Context, _ []byte) error { return p.Refresh(ctx) }
	return map[model.EventType]core.HandlerFunc{
		model.EventConnected:       refresh,
		model.EventRefreshManifest: refresh,
		model.EventPlayVideo:       core.JSONAdapter(p.Play),
	}
}

// Refresh fetches the manifest and, unless a play command owns the screen,
// restarts the cycle when the playlist version changed.
func (p *Player) Refresh(ctx context.Context) error {
	m, changed, err := p.hub.Manifest(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	restart := !p.looping || p.manifest == nil || p.manifest.Version != m.Version
	p.manifest = m
	if !p.commanded && restart {
		p.startLoopLocked()
	}
	p.mu.Unlock()
	if changed {
		p.log.Info("Manifest updated", "version", m.Version, "items", len(m.Playlist), "role", m.Role)
	}
	return nil
}

// Manifest returns the last fetched manifest.
func (p *Player) Manifest() *manifest.Manifest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.manifest
}

// Play schedules the commanded item. A repeated command is ignored and a
// command for another playlist version refreshes the manifest first.
func (p *Player) Play(ctx context.Context, cmd *model.PlayCommand) error {
	p.mu.Lock()
	if cmd.Sequence == p.lastSeq && cmd.PlaylistVersion == p.lastVersion {
		p.mu.Unlock()
		return nil
	}
	stale := p.manifest == nil || p.manifest.Version != cmd.PlaylistVersion
	p.mu.Unlock()

	if stale {
		if err := p.Refresh(ctx); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ref := p.impressionLocked(cmd.VideoIndex, cmd.AssetID, cmd.DurationMs)
	if ref == nil {
		p.log.Info("Play command for unknown item", "index", cmd.VideoIndex, "seq", cmd.Sequence)
		return nil
	}
	imp := *ref

	start := time.UnixMilli(cmd.StartAtEpochMs)
	duration := time.Duration(cmd.DurationMs) * time.Millisecond
	wait := start.Sub(p.clock.Now())
	if wait < 0 {
		wait = 0
	}

	if p.timer != nil {
		p.timer.Stop()
	}
	p.stopLoopLocked()
	p.commanded = true
	p.lastSeq = cmd.Sequence
	p.lastVersion = cmd.PlaylistVersion
	p.playingUntil = start.Add(duration)
	seq := cmd.Sequence
	// Timer callbacks must not block the clock that fires them.
	p.timer = p.clock.AfterFunc(wait+duration, func() { go p.finished(imp, start, seq) })

	p.log.Info("Scheduled playback", "index", cmd.VideoIndex, "asset", imp.AdID, "startIn", wait, "seq", cmd.Sequence)
	return nil
}

// finished records the commanded item and hands the screen back to the
// cycle unless another command arrives first.
func (p *Player) finished(imp service.ImpressionInput, start time.Time, seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seq != p.lastSeq || !p.commanded {
		return
	}
	p.recordLocked(imp, start)
	p.timer = p.clock.AfterFunc(resumeAfter, func() { go p.resume(seq) })
}

func (p *Player) resume(seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seq != p.lastSeq || !p.commanded {
		return
	}
	p.commanded = false
	p.timer = nil
	p.log.Info("No play command, resuming own cycle", "seq", seq)
	p.startLoopLocked()
}

func (p *Player) recordLocked(imp service.ImpressionInput, start time.Time) {
	imp.OccurredAt = &start
	p.pending = append(p.pending, imp)
	if len(p.pending) > maxPending {
		p.pending = p.pending[len(p.pending)-maxPending:]
	}
}

// cycleSlot locates the item on screen at t when the playlist restarts every
// cycle since the anchor. ok is false in the idle tail of the cycle, whose
// end is the next boundary.
func cycleSlot(m *manifest.Manifest, t time.Time) (e manifest.Entry, start, end time.Time, ok bool) {
	var total int64
	for _, it := range m.Playlist {
		total += it.DurationMs
	}
	cycle := m.SyncConfig.CycleDurationMs
	if cycle < total {
		cycle = total
	}

	ms := t.UnixMilli()
	pos := (ms - m.SyncConfig.AnchorEpochMs) % cycle
	if pos < 0 {
		pos += cycle
	}
	cycleStart := ms - pos

	var acc int64
	for _, it := range m.Playlist {
		if pos < acc+it.DurationMs {
			return it, time.UnixMilli(cycleStart + acc), time.UnixMilli(cycleStart + acc + it.DurationMs), true
		}
		acc += it.DurationMs
	}
	return manifest.Entry{}, time.UnixMilli(cycleStart + total), time.UnixMilli(cycleStart + cycle), false
}

func playable(m *manifest.Manifest) bool {
	if m == nil {
		return false
	}
	for _, it := range m.Playlist {
		if it.DurationMs > 0 {
			return true
		}
	}
	return false
}

// startLoopLocked joins the cycle at the current wall-clock position.
func (p *Player) startLoopLocked() {
	p.stopLoopLocked()
	if !playable(p.manifest) {
		return
	}
	p.looping = true
	p.scheduleSlotLocked(p.clock.Now())
	p.log.Info("Playing own cycle", "version", p.manifest.Version, "cycleMs", p.manifest.SyncConfig.CycleDurationMs)
}

func (p *Player) stopLoopLocked() {
	p.loopGen++
	p.looping = false
	if p.loopTimer != nil {
		p.loopTimer.Stop()
		p.loopTimer = nil
	}
}

// scheduleSlotLocked arms the timer for the slot at ref. Only a slot entered
// at its start counts as an impression when it ends.
func (p *Player) scheduleSlotLocked(ref time.Time) {
	e, start, end, ok := cycleSlot(p.manifest, ref)
	var imp *service.ImpressionInput
	if ok && start.Equal(ref) {
		imp = p.impressionLocked(e.Index, "", e.DurationMs)
	}
	gen := p.loopGen
	wait := end.Sub(p.clock.Now())
	if wait < 0 {
		wait = 0
	}
	p.loopTimer = p.clock.AfterFunc(wait, func() { go p.slotEnded(gen, imp, start, end) })
}

func (p *Player) slotEnded(gen uint64, imp *service.ImpressionInput, start, end time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.loopGen || !p.looping {
		return
	}
	if imp != nil {
		p.recordLocked(*imp, start)
	}
	ref := end
	if now := p.clock.Now(); now.Sub(end) > maxLag {
		ref = now
	}
	p.scheduleSlotLocked(ref)
}

// impressionLocked describes the playlist item at index. It returns nil
// when neither the index nor adID names a known asset.
func (p *Player) impressionLocked(index int, adID string, durationMs int64) *service.ImpressionInput {
	imp := service.ImpressionInput{AdID: adID, DurationMs: durationMs}
	if p.manifest != nil {
		for _, e := range p.manifest.Playlist {
			if e.Index != index {
				continue
			}
			if imp.AdID == "" {
				imp.AdID = e.AssetID
			}
			imp.CampaignID = e.CampaignID
			break
		}
		for _, a := range p.manifest.Assets {
			if a.ID == imp.AdID {
				imp.MediaType = a.Type
				break
			}
		}
	}
	if imp.AdID == "" {
		return nil
	}
	return &imp
}

// Status reports playing while the player runs its cycle or a commanded item
// is scheduled or on screen.
func (p *Player) Status() model.DeviceStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.looping || p.clock.Now().Before(p.playingUntil) {
		return model.DeviceStatusPlaying
	}
	return model.DeviceStatusActive
}

// Flush uploads the finished impressions. A failed batch is kept for the next flush.
func (p *Player) Flush(ctx context.Context) error {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := p.hub.Impressions(ctx, batch); err != nil {
		p.mu.Lock()
		p.pending = append(batch, p.pending...)
		if len(p.pending) > maxPending {
			p.pending = p.pending[len(p.pending)-maxPending:]
		}
		p.mu.Unlock()
		return err
	}
	p.log.Debug("Uploaded impressions", "count", len(batch))
	return nil
}

// Stop cancels the scheduled item and the cycle.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLoopLocked()
	p.commanded = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
