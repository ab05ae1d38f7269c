package deviceagent

import (
	"context"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/autopeer-io/adfleet/internal/deviceagent/core"
	"github.com/autopeer-io/adfleet/internal/hub/core/model"
	"github.com/autopeer-io/adfleet/internal/hub/service"
	"github.com/autopeer-io/adfleet/pkg/log"
)

// Streamer is the hub connection the agent runs.
type Streamer interface {
	core.Hub
	Register(event model.EventType, handler core.HandlerFunc)
	Stream(ctx context.Context) error
}

type Agent struct {
	hal       core.HAL
	hub       Streamer
	modules   []core.Module
	heartbeat time.Duration
	reconnect time.Duration
}

func NewAgent(hal core.HAL, hub Streamer, heartbeat, reconnect time.Duration, modules ...core.Module) *Agent {
	return &Agent{
		hal:       hal,
		hub:       hub,
		modules:   modules,
		heartbeat: heartbeat,
		reconnect: reconnect,
	}
}

// Run sets up the modules, then keeps the push stream open and heartbeats
// until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	log.Info("Starting adfleet-device-agent", "deviceID", a.hal.DeviceID())

	for _, m := range a.modules {
		if err := m.Setup(ctx, a.hal, a.hub); err != nil {
			return fmt.Errorf("module %s setup failed: %w", m.Name(), err)
		}
		for event, handler := range m.Routes() {
			a.hub.Register(event, handler)
		}
	}

	go wait.UntilWithContext(ctx, a.beat, a.heartbeat)

	wait.JitterUntilWithContext(ctx, func(ctx context.Context) {
		if err := a.hub.Stream(ctx); err != nil && ctx.Err() == nil {
			log.Error(err, "Push stream closed, reconnecting", "after", a.reconnect)
		}
	}, a.reconnect, 0.5, true)

	log.Info("Agent shutting down...")
	return nil
}

// beat sends one heartbeat and flushes buffered module data.
func (a *Agent) beat(ctx context.Context) {
	status := model.DeviceStatusActive
	for _, m := range a.modules {
		if r, ok := m.(core.StatusReporter); ok && r.Status() == model.DeviceStatusPlaying {
			status = model.DeviceStatusPlaying
		}
	}
	battery, storage := a.hal.BatteryLevel(), a.hal.StorageUsed()

	if err := a.hub.Heartbeat(ctx, &service.HeartbeatRequest{
		Status:       &status,
		BatteryLevel: &battery,
		StorageUsed:  &storage,
	}); err != nil {
		log.Error(err, "Heartbeat failed")
		return
	}

	for _, m := range a.modules {
		if f, ok := m.(core.Flusher); ok {
			if err := f.Flush(ctx); err != nil {
				log.Error(err, "Flush failed", "module", m.Name())
			}
		}
	}
}
