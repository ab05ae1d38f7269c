package core

import (
	"context"

	"github.com/autopeer-io/adfleet/internal/hub/core/model"
)

// FleetNotifier mirrors fleet events to systems outside the hub.
// In AdFleet, this is implemented by the MQTT Outbound Adapter.
// Implementations must not block the caller.
type FleetNotifier interface {
	// NotifyStatus publishes a device status transition.
	NotifyStatus(ctx context.Context, change *model.StatusChange)

	// NotifyPlay publishes a play command broadcast to a vehicle.
	NotifyPlay(ctx context.Context, cmd *model.PlayCommand)
}

// NopNotifier discards every event. Used when no broker is configured.
type NopNotifier struct{}

func (NopNotifier) NotifyStatus(context.Context, *model.StatusChange) {}
func (NopNotifier) NotifyPlay(context.Context, *model.PlayCommand)    {}
