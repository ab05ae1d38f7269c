package presence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/adfleet/internal/hub/core"
	"github.com/autopeer-io/adfleet/internal/hub/core/model"
	"github.com/autopeer-io/adfleet/internal/pkg/metrics"
	"github.com/autopeer-io/adfleet/pkg/log"
)

const shardCount = 32

// Status change reasons.
const (
	ReasonConnected    = "connected"
	ReasonRestored     = "restored"
	ReasonDisconnected = "disconnected"
	ReasonHeartbeat    = "heartbeat"
	ReasonImpressions  = "impressions"
)

// Decision is how ApplyIngress classified an inbound status update.
type Decision string

const (
	// DecisionConnected applies the update to a live connection.
	DecisionConnected Decision = "connected"
	// DecisionFastStart applies an update that raced ahead of the stream handshake.
	DecisionFastStart Decision = "fast_start"
	// DecisionSuppressed drops an update from a session that already ended.
	DecisionSuppressed Decision = "suppressed"
)

// Applied reports whether the update took effect.
func (d Decision) Applied() bool {
	return d != DecisionSuppressed
}

// Config holds the registry timing knobs.
type Config struct {
	// RestoreWindow bounds both status restore on reconnect and zombie suppression.
	RestoreWindow time.Duration
	// DisconnectTTL is how long a disconnect record is kept before purge.
	DisconnectTTL time.Duration

	KeepAliveInterval time.Duration
	PurgeInterval     time.Duration
}

type connection struct {
	id          string
	stream      Stream
	connectedAt time.Time
	status      model.DeviceStatus
}

type disconnectRecord struct {
	lastStatus     model.DeviceStatus
	disconnectedAt time.Time
}

// shard owns the state of the devices hashed to it.
type shard struct {
	mu          sync.Mutex
	conns       map[string]*connection
	observers   map[string]map[string]Stream
	disconnects map[string]disconnectRecord
}

// Registry tracks live device push connections, observer streams and
// recent disconnects. State is sharded by device id. Status writes are
// queued under the shard lock so the store sees them in the same order
// as the registry; no lock is held while writing to a stream.
type Registry struct {
	cfg      Config
	clock    clock.Clock
	devices  core.DeviceRepository
	notifier core.FleetNotifier
	log      log.Logger

	shards [shardCount]*shard

	fleetMu sync.RWMutex
	fleet   map[string]Stream

	stopping atomic.Bool
}

// Option customizes a Registry.
type Option func(*Registry)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithNotifier mirrors status changes to n.
func WithNotifier(n core.FleetNotifier) Option {
	return func(r *Registry) { r.notifier = n }
}

// NewRegistry creates a registry persisting status through devices.
func NewRegistry(cfg Config, devices core.DeviceRepository, opts ...Option) *Registry {
	r := &Registry{
		cfg:      cfg,
		clock:    clock.RealClock{},
		devices:  devices,
		notifier: core.NopNotifier{},
		log:      log.WithName("presence"),
		fleet:    make(map[string]Stream),
	}
	for i := range r.shards {
		r.shards[i] = &shard{
			conns:       make(map[string]*connection),
			observers:   make(map[string]map[string]Stream),
			disconnects: make(map[string]disconnectRecord),
		}
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) shardFor(deviceID string) *shard {
	return r.shards[xxhash.Sum64String(deviceID)%shardCount]
}

// Start runs the keep-alive and purge sweeps until ctx is cancelled.
func (r *Registry) Start(ctx context.Context) error {
	r.log.Info("Presence sweeps started", "keepAlive", r.cfg.KeepAliveInterval, "purge", r.cfg.PurgeInterval)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		wait.UntilWithContext(ctx, r.KeepAlive, r.cfg.KeepAliveInterval)
	}()
	go func() {
		defer wg.Done()
		wait.UntilWithContext(ctx, func(context.Context) { r.PurgeExpired() }, r.cfg.PurgeInterval)
	}()
	wg.Wait()

	r.log.Info("Presence sweeps stopped")
	return nil
}

// Register installs stream as the live connection of deviceID, replacing
// any previous one. The returned subscription must be closed when the
// transport goes away.
func (r *Registry) Register(ctx context.Context, deviceID string, stream Stream) *Subscription {
	connID := uuid.NewString()
	now := r.clock.Now()
	sh := r.shardFor(deviceID)

	sh.mu.Lock()
	status, reason := model.DeviceStatusStandby, ReasonConnected
	previous := model.DeviceStatusInactive
	if rec, ok := sh.disconnects[deviceID]; ok {
		previous = rec.lastStatus
		if now.Sub(rec.disconnectedAt) < r.cfg.RestoreWindow && rec.lastStatus.Engaged() {
			status, reason = rec.lastStatus, ReasonRestored
		}
		delete(sh.disconnects, deviceID)
	}
	old, replaced := sh.conns[deviceID]
	if replaced {
		previous = old.status
	}
	sh.conns[deviceID] = &connection{id: connID, stream: stream, connectedAt: now, status: status}
	r.persist(ctx, deviceID, status)
	sh.mu.Unlock()

	if !replaced {
		metrics.LiveConnections.Inc()
	} else {
		r.log.Debug("Connection superseded", "deviceID", deviceID, "old", old.id, "new", connID)
	}

	r.BroadcastStatus(ctx, &model.StatusChange{
		DeviceID:  deviceID,
		Status:    status,
		Previous:  previous,
		Reason:    reason,
		Timestamp: now,
	})

	_ = stream.Send(PaddingFrame())
	_ = stream.Send(Frame{Event: model.EventConnected, Data: map[string]string{"connectionId": connID}})

	r.log.Info("Device connected", "deviceID", deviceID, "connectionID", connID, "status", status)

	return newSubscription(connID, status, func() {
		r.Unregister(context.Background(), deviceID, connID)
	})
}

// Unregister removes the connection of deviceID if connID is still the
// registered one. It reports whether anything was removed.
func (r *Registry) Unregister(ctx context.Context, deviceID, connID string) bool {
	now := r.clock.Now()
	sh := r.shardFor(deviceID)

	sh.mu.Lock()
	c, ok := sh.conns[deviceID]
	if !ok || c.id != connID {
		sh.mu.Unlock()
		r.log.Debug("Ignoring close of superseded connection", "deviceID", deviceID, "connectionID", connID)
		return false
	}
	delete(sh.conns, deviceID)
	if r.stopping.Load() {
		sh.mu.Unlock()
		metrics.LiveConnections.Dec()
		r.log.Debug("Connection closed by shutdown", "deviceID", deviceID, "connectionID", connID, "status", c.status)
		return true
	}
	sh.disconnects[deviceID] = disconnectRecord{lastStatus: c.status, disconnectedAt: now}
	r.persist(ctx, deviceID, model.DeviceStatusInactive)
	sh.mu.Unlock()

	metrics.LiveConnections.Dec()

	r.BroadcastStatus(ctx, &model.StatusChange{
		DeviceID:  deviceID,
		Status:    model.DeviceStatusInactive,
		Previous:  c.status,
		Reason:    ReasonDisconnected,
		Timestamp: now,
	})

	r.log.Info("Device disconnected", "deviceID", deviceID, "connectionID", connID, "lastStatus", c.status)
	return true
}

// PrepareShutdown makes later unregisters leave the persisted status
// untouched, so a restart sees what devices were doing and can resume
// their vehicles' playback.
func (r *Registry) PrepareShutdown() {
	r.stopping.Store(true)
	r.log.Info("Presence registry shutting down")
}

// ApplyIngress decides whether a status carried by a heartbeat or an
// impression batch takes effect, and applies it if so. A nil reported
// status keeps the live connection's status, or means active otherwise.
func (r *Registry) ApplyIngress(ctx context.Context, deviceID string, reported *model.DeviceStatus, reason string) (model.DeviceStatus, Decision) {
	now := r.clock.Now()
	sh := r.shardFor(deviceID)

	var (
		status   model.DeviceStatus
		previous model.DeviceStatus
		decision Decision
	)

	sh.mu.Lock()
	if c, ok := sh.conns[deviceID]; ok {
		decision = DecisionConnected
		previous = c.status
		status = c.status
		if reported != nil {
			status = *reported
		}
		c.status = status
	} else if rec, ok := sh.disconnects[deviceID]; ok && now.Sub(rec.disconnectedAt) < r.cfg.RestoreWindow {
		decision = DecisionSuppressed
		previous = rec.lastStatus
	} else {
		decision = DecisionFastStart
		status = model.DeviceStatusActive
		if reported != nil {
			status = *reported
		}
	}
	if decision != DecisionSuppressed {
		r.persist(ctx, deviceID, status)
	}
	sh.mu.Unlock()

	metrics.IngressDecisions.WithLabelValues(string(decision)).Inc()

	if decision == DecisionSuppressed {
		r.log.Info("Suppressed zombie ingress", "deviceID", deviceID, "reason", reason, "lastStatus", previous)
		r.BroadcastLog(&model.LogEntry{
			DeviceID:  deviceID,
			Kind:      "zombie",
			Message:   "ingress from an ended session suppressed",
			Data:      map[string]any{"reason": reason},
			Timestamp: now,
		})
		return "", decision
	}

	if status != previous {
		r.BroadcastStatus(ctx, &model.StatusChange{
			DeviceID:  deviceID,
			Status:    status,
			Previous:  previous,
			Reason:    reason,
			Timestamp: now,
		})
	}
	return status, decision
}

// Send writes an event to the live connection of deviceID. It returns
// false when the device has no connection or the frame could not be
// queued; a closed stream is unregistered.
func (r *Registry) Send(ctx context.Context, deviceID string, event model.EventType, payload any) bool {
	sh := r.shardFor(deviceID)
	sh.mu.Lock()
	c, ok := sh.conns[deviceID]
	sh.mu.Unlock()

	if !ok {
		metrics.Sends.WithLabelValues(string(event), "no_connection").Inc()
		r.log.Debug("No live connection for send", "deviceID", deviceID, "event", event)
		return false
	}

	err := c.stream.Send(Frame{Event: event, Data: payload})
	switch {
	case err == nil:
		metrics.Sends.WithLabelValues(string(event), "delivered").Inc()
		return true
	case errors.Is(err, ErrStreamClosed):
		metrics.Sends.WithLabelValues(string(event), "closed").Inc()
		r.Unregister(ctx, deviceID, c.id)
	default:
		metrics.Sends.WithLabelValues(string(event), "dropped").Inc()
		r.log.Warn("Dropped frame", "deviceID", deviceID, "event", event, "error", err)
	}
	return false
}

// Connected reports the live status of deviceID.
func (r *Registry) Connected(deviceID string) (model.DeviceStatus, bool) {
	sh := r.shardFor(deviceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if c, ok := sh.conns[deviceID]; ok {
		return c.status, true
	}
	return "", false
}

// Observe attaches stream to the event log of deviceID.
func (r *Registry) Observe(deviceID string, stream Stream) *Subscription {
	id := uuid.NewString()
	sh := r.shardFor(deviceID)

	sh.mu.Lock()
	set, ok := sh.observers[deviceID]
	if !ok {
		set = make(map[string]Stream)
		sh.observers[deviceID] = set
	}
	set[id] = stream
	sh.mu.Unlock()
	metrics.Observers.WithLabelValues("device").Inc()

	return newSubscription(id, "", func() {
		sh.mu.Lock()
		if set, ok := sh.observers[deviceID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(sh.observers, deviceID)
			}
		}
		sh.mu.Unlock()
		metrics.Observers.WithLabelValues("device").Dec()
	})
}

// ObserveFleet attaches stream to the fleet-wide status feed.
func (r *Registry) ObserveFleet(stream Stream) *Subscription {
	id := uuid.NewString()

	r.fleetMu.Lock()
	r.fleet[id] = stream
	r.fleetMu.Unlock()
	metrics.Observers.WithLabelValues("fleet").Inc()

	return newSubscription(id, "", func() {
		r.fleetMu.Lock()
		delete(r.fleet, id)
		r.fleetMu.Unlock()
		metrics.Observers.WithLabelValues("fleet").Dec()
	})
}

// BroadcastLog sends entry to the observers of its device.
func (r *Registry) BroadcastLog(entry *model.LogEntry) {
	fanOut(r.deviceObservers(entry.DeviceID), Frame{Event: model.EventLog, Data: entry})
}

// BroadcastStatus sends change to the device's observers and the fleet
// feed, and mirrors it through the notifier.
func (r *Registry) BroadcastStatus(ctx context.Context, change *model.StatusChange) {
	metrics.StatusTransitions.WithLabelValues(string(change.Status), change.Reason).Inc()

	frame := Frame{Event: model.EventStatus, Data: change}
	fanOut(r.deviceObservers(change.DeviceID), frame)
	fanOut(r.fleetObservers(), frame)

	r.notifier.NotifyStatus(ctx, change)
}

// BroadcastFleet sends an arbitrary event to the fleet feed only.
func (r *Registry) BroadcastFleet(event model.EventType, payload any) {
	fanOut(r.fleetObservers(), Frame{Event: event, Data: payload})
}

// fanOut ignores individual write failures; observers are reaped by
// their own close.
func fanOut(streams []Stream, f Frame) {
	for _, s := range streams {
		_ = s.Send(f)
	}
}

func (r *Registry) deviceObservers(deviceID string) []Stream {
	sh := r.shardFor(deviceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	set := sh.observers[deviceID]
	out := make([]Stream, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

func (r *Registry) fleetObservers() []Stream {
	r.fleetMu.RLock()
	defer r.fleetMu.RUnlock()
	out := make([]Stream, 0, len(r.fleet))
	for _, s := range r.fleet {
		out = append(out, s)
	}
	return out
}

// KeepAlive writes a comment frame to every connection and observer.
func (r *Registry) KeepAlive(ctx context.Context) {
	type target struct {
		deviceID, connID string
		stream           Stream
	}
	var (
		conns     []target
		observers []Stream
	)
	for _, sh := range r.shards {
		sh.mu.Lock()
		for id, c := range sh.conns {
			conns = append(conns, target{deviceID: id, connID: c.id, stream: c.stream})
		}
		for _, set := range sh.observers {
			for _, s := range set {
				observers = append(observers, s)
			}
		}
		sh.mu.Unlock()
	}
	observers = append(observers, r.fleetObservers()...)

	frame := CommentFrame("keep-alive")
	for _, t := range conns {
		if err := t.stream.Send(frame); errors.Is(err, ErrStreamClosed) {
			r.Unregister(ctx, t.deviceID, t.connID)
		}
	}
	fanOut(observers, frame)

	r.log.Debug("Keep-alive sweep", "connections", len(conns), "observers", len(observers))
}

// PurgeExpired drops disconnect records older than the TTL and returns
// how many were removed.
func (r *Registry) PurgeExpired() int {
	now := r.clock.Now()
	purged := 0
	for _, sh := range r.shards {
		sh.mu.Lock()
		for id, rec := range sh.disconnects {
			if now.Sub(rec.disconnectedAt) >= r.cfg.DisconnectTTL {
				delete(sh.disconnects, id)
				purged++
			}
		}
		sh.mu.Unlock()
	}
	if purged > 0 {
		r.log.Debug("Purged disconnect records", "count", purged)
	}
	return purged
}

// persist queues a status write. Callers hold the device's shard lock, so
// the repository must not block.
func (r *Registry) persist(ctx context.Context, deviceID string, status model.DeviceStatus) {
	if err := r.devices.BatchUpdateStatus(ctx, &model.DeviceStatusUpdate{DeviceID: deviceID, Status: &status}); err != nil {
		r.log.Error(err, "Failed to persist device status", "deviceID", deviceID, "status", status)
	}
}

// ConnectionInfo describes one live connection.
type ConnectionInfo struct {
	DeviceID     string             `json:"deviceId"`
	ConnectionID string             `json:"connectionId"`
	Status       model.DeviceStatus `json:"status"`
	ConnectedAt  time.Time          `json:"connectedAt"`
	Observers    int                `json:"observers"`
}

// DisconnectInfo describes one disconnect record.
type DisconnectInfo struct {
	DeviceID       string             `json:"deviceId"`
	LastStatus     model.DeviceStatus `json:"lastStatus"`
	DisconnectedAt time.Time          `json:"disconnectedAt"`
}

// Snapshot is a point-in-time view of the registry.
type Snapshot struct {
	Connections    []ConnectionInfo `json:"connections"`
	Disconnects    []DisconnectInfo `json:"disconnects"`
	FleetObservers int              `json:"fleetObservers"`
}

// Snapshot returns the registry state sorted by device id.
func (r *Registry) Snapshot() *Snapshot {
	snap := &Snapshot{Connections: []ConnectionInfo{}, Disconnects: []DisconnectInfo{}}
	for _, sh := range r.shards {
		sh.mu.Lock()
		for id, c := range sh.conns {
			snap.Connections = append(snap.Connections, ConnectionInfo{
				DeviceID:     id,
				ConnectionID: c.id,
				Status:       c.status,
				ConnectedAt:  c.connectedAt,
				Observers:    len(sh.observers[id]),
			})
		}
		for id, rec := range sh.disconnects {
			snap.Disconnects = append(snap.Disconnects, DisconnectInfo{
				DeviceID:       id,
				LastStatus:     rec.lastStatus,
				DisconnectedAt: rec.disconnectedAt,
			})
		}
		sh.mu.Unlock()
	}
	r.fleetMu.RLock()
	snap.FleetObservers = len(r.fleet)
	r.fleetMu.RUnlock()

	sort.Slice(snap.Connections, func(i, j int) bool { return snap.Connections[i].DeviceID < snap.Connections[j].DeviceID })
	sort.Slice(snap.Disconnects, func(i, j int) bool { return snap.Disconnects[i].DeviceID < snap.Disconnects[j].DeviceID })
	return snap
}
