package playback

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/adfleet/internal/hub/core"
	"github.com/autopeer-io/adfleet/internal/hub/core/model"
	"github.com/autopeer-io/adfleet/internal/hub/manifest"
	"github.com/autopeer-io/adfleet/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/adfleet/internal/pkg/util/fsm"
	"github.com/autopeer-io/adfleet/pkg/log"
)

// Sender delivers an event to a device's live connection.
type Sender interface {
	Send(ctx context.Context, deviceID string, event model.EventType, payload any) bool
}

// Config holds the orchestrator timing knobs.
type Config struct {
	// Buffer is how far in the future each play command starts.
	Buffer time.Duration
	// JoinLead is the start offset handed to devices joining mid-item.
	JoinLead time.Duration
}

// Orchestrator drives synchronized playback per vehicle. Sessions live in
// memory only; RestoreOnBoot resumes them on a best-effort basis.
type Orchestrator struct {
	cfg      Config
	clock    clock.WithDelayedExecution
	repo     core.Repository
	resolver *manifest.Resolver
	sender   Sender
	notifier core.FleetNotifier
	log      log.Logger

	mu       sync.Mutex
	sessions map[string]*sessionHandle
}

type sessionHandle struct {
	mu sync.Mutex
	*session
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the wall clock.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithNotifier mirrors play commands to n.
func WithNotifier(n core.FleetNotifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// New creates an orchestrator.
func New(cfg Config, repo core.Repository, resolver *manifest.Resolver, sender Sender, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		clock:    clock.RealClock{},
		repo:     repo,
		resolver: resolver,
		sender:   sender,
		notifier: core.NopNotifier{},
		log:      log.WithName("playback"),
		sessions: make(map[string]*sessionHandle),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Running reports whether vehicleID has a session.
func (o *Orchestrator) Running(vehicleID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.sessions[vehicleID]
	return ok
}

// Start begins playback for vehicleID. It is a no-op when a session
// exists or the resolved playlist is empty.
func (o *Orchestrator) Start(ctx context.Context, vehicleID string) error {
	if o.Running(vehicleID) {
		return nil
	}

	vehicle, err := o.repo.Vehicle().Get(ctx, vehicleID)
	if err != nil {
		return fmt.Errorf("failed to load vehicle %s: %w", vehicleID, err)
	}
	devices, err := o.repo.Device().ListByVehicle(ctx, vehicleID)
	if err != nil {
		return fmt.Errorf("failed to list devices of vehicle %s: %w", vehicleID, err)
	}
	playlist, err := o.resolver.Resolve(ctx, manifest.VehicleCampaignIDs(vehicle, devices))
	if err != nil {
		return fmt.Errorf("failed to resolve playlist of vehicle %s: %w", vehicleID, err)
	}
	if playlist.Len() == 0 {
		o.log.Info("Empty playlist, not starting playback", "vehicleID", vehicleID)
		return nil
	}

	ids := sets.New[string]()
	for _, d := range devices {
		ids.Insert(d.ID)
	}

	h := &sessionHandle{}
	h.session = newSession(vehicleID, playlist, sets.List(ids), func(ctx context.Context, s *session) {
		o.scheduleNext(ctx, s)
	})

	o.mu.Lock()
	if _, ok := o.sessions[vehicleID]; ok {
		o.mu.Unlock()
		return nil
	}
	o.sessions[vehicleID] = h
	o.mu.Unlock()
	metrics.PlaybackSessions.Inc()

	o.log.Info("Playback started", "vehicleID", vehicleID, "items", playlist.Len(), "version", playlist.Version, "devices", len(devices))

	h.mu.Lock()
	o.scheduleNext(ctx, h.session)
	h.mu.Unlock()
	return nil
}

// scheduleNext arms the timer for the current item and broadcasts its
// play command. Callers hold the session lock.
func (o *Orchestrator) scheduleNext(ctx context.Context, s *session) {
	item := s.current()
	now := o.clock.Now()
	s.seq++
	s.startAt = now.Add(o.cfg.Buffer)

	cmd := &model.PlayCommand{
		VehicleID:       s.vehicleID,
		VideoIndex:      s.index,
		StartAtEpochMs:  s.startAt.UnixMilli(),
		PlaylistVersion: s.playlist.Version,
		Sequence:        s.seq,
		AssetID:         item.AssetID,
		DurationMs:      item.DurationMs,
	}

	seq := s.seq
	// Timer callbacks must not block the clock that fires them.
	s.timer = o.clock.AfterFunc(time.Duration(item.DurationMs)*time.Millisecond, func() {
		go o.advance(s.vehicleID, seq)
	})

	delivered := 0
	for _, id := range s.devices {
		if o.sender.Send(ctx, id, model.EventPlayVideo, cmd) {
			delivered++
		}
	}
	o.notifier.NotifyPlay(ctx, cmd)
	metrics.PlayCommands.Inc()

	o.log.Debug("Scheduled play command", "vehicleID", s.vehicleID, "index", s.index, "seq", s.seq,
		"startAt", s.startAt, "delivered", delivered)
}

// advance is the item timer callback.
func (o *Orchestrator) advance(vehicleID string, seq uint64) {
	o.mu.Lock()
	h, ok := o.sessions[vehicleID]
	o.mu.Unlock()
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seq != seq {
		return
	}
	err := h.machine.Event(context.Background(), EventAdvance)
	var invalid fsm.InvalidEventError
	if errors.As(err, &invalid) {
		return
	}
	if fsmutil.IsRealError(err) {
		o.log.Error(err, "Failed to advance playback", "vehicleID", vehicleID)
	}
}

// Stop cancels the pending timer of vehicleID and discards its session.
func (o *Orchestrator) Stop(ctx context.Context, vehicleID string) {
	o.mu.Lock()
	h, ok := o.sessions[vehicleID]
	delete(o.sessions, vehicleID)
	o.mu.Unlock()
	if !ok {
		return
	}

	h.mu.Lock()
	err := h.machine.Event(ctx, EventStop)
	h.mu.Unlock()
	if fsmutil.IsRealError(err) {
		o.log.Error(err, "Failed to stop playback session", "vehicleID", vehicleID)
	}
	metrics.PlaybackSessions.Dec()

	o.log.Info("Playback stopped", "vehicleID", vehicleID)
}

// Refresh restarts the timeline of vehicleID from the first item.
func (o *Orchestrator) Refresh(ctx context.Context, vehicleID string) error {
	o.Stop(ctx, vehicleID)
	return o.Start(ctx, vehicleID)
}

// RestoreOnBoot starts a session for every active vehicle with a paired
// device whose stored status is playing. Failures are logged per vehicle.
func (o *Orchestrator) RestoreOnBoot(ctx context.Context) int {
	vehicles, err := o.repo.Vehicle().ListActive(ctx)
	if err != nil {
		o.log.Error(err, "Failed to list active vehicles for playback restore")
		return 0
	}

	restored := 0
	for _, v := range vehicles {
		devices, err := o.repo.Device().ListByVehicle(ctx, v.ID)
		if err != nil {
			o.log.Error(err, "Failed to list devices for playback restore", "vehicleID", v.ID)
			continue
		}
		playing := false
		for _, d := range devices {
			if d.Status == model.DeviceStatusPlaying {
				playing = true
				break
			}
		}
		if !playing {
			continue
		}
		if err := o.Start(ctx, v.ID); err != nil {
			o.log.Error(err, "Failed to restore playback", "vehicleID", v.ID)
			continue
		}
		if o.Running(v.ID) {
			restored++
		}
	}

	o.log.Info("Playback restore finished", "vehicles", len(vehicles), "restored", restored)
	return restored
}

// CurrentState returns a play command for a device joining vehicleID's
// session: the current item, restarted shortly from now.
func (o *Orchestrator) CurrentState(vehicleID string) (*model.PlayCommand, bool) {
	o.mu.Lock()
	h, ok := o.sessions[vehicleID]
	o.mu.Unlock()
	if !ok {
		return nil, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	item := h.current()
	return &model.PlayCommand{
		VehicleID:       vehicleID,
		VideoIndex:      h.index,
		StartAtEpochMs:  o.clock.Now().Add(o.cfg.JoinLead).UnixMilli(),
		PlaylistVersion: h.playlist.Version,
		Sequence:        h.seq,
		AssetID:         item.AssetID,
		DurationMs:      item.DurationMs,
	}, true
}

// SessionInfo describes a running session.
type SessionInfo struct {
	VehicleID       string    `json:"vehicleId"`
	State           string    `json:"state"`
	Index           int       `json:"index"`
	Items           int       `json:"items"`
	PlaylistVersion string    `json:"playlistVersion"`
	Sequence        uint64    `json:"seq"`
	StartAt         time.Time `json:"startAt"`
	Devices         []string  `json:"devices"`
}

// Sessions lists running sessions sorted by vehicle id.
func (o *Orchestrator) Sessions() []SessionInfo {
	o.mu.Lock()
	handles := make([]*sessionHandle, 0, len(o.sessions))
	for _, h := range o.sessions {
		handles = append(handles, h)
	}
	o.mu.Unlock()

	out := make([]SessionInfo, 0, len(handles))
	for _, h := range handles {
		h.mu.Lock()
		out = append(out, SessionInfo{
			VehicleID:       h.vehicleID,
			State:           h.machine.Current(),
			Index:           h.index,
			Items:           h.playlist.Len(),
			PlaylistVersion: h.playlist.Version,
			Sequence:        h.seq,
			StartAt:         h.startAt,
			Devices:         h.devices,
		})
		h.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleID < out[j].VehicleID })
	return out
}
