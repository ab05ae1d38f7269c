package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/autopeer-io/adfleet/internal/hub/core/model"
	"github.com/autopeer-io/adfleet/internal/hub/manifest"
	"github.com/autopeer-io/adfleet/internal/hub/service"
)

// HandlerFunc handles the data of one pushed event.
type HandlerFunc func(ctx context.Context, data []byte) error

// Hub is the device API of the hub as seen by modules.
type Hub interface {
	// Manifest returns the current manifest and whether it changed since the
	// previous call.
	Manifest(ctx context.Context) (*manifest.Manifest, bool, error)

	Heartbeat(ctx context.Context, req *service.HeartbeatRequest) error

	Impressions(ctx context.Context, batch []service.ImpressionInput) error
}

type Module interface {
	Name() string

	Setup(ctx context.Context, hal HAL, hub Hub) error

	Routes() map[model.EventType]HandlerFunc
}

// StatusReporter is implemented by modules that influence the heartbeat status.
type StatusReporter interface {
	Status() model.DeviceStatus
}

// Flusher is implemented by modules that upload buffered data on every heartbeat.
type Flusher interface {
	Flush(ctx context.Context) error
}

// JSONAdapter decodes the event data into T before calling fn.
func JSONAdapter[T any](fn func(ctx context.Context, v *T) error) HandlerFunc {
	return func(ctx context.Context, data []byte) error {
		v := new(T)
		if len(data) > 0 {
			if err := json.Unmarshal(data, v); err != nil {
				return fmt.Errorf("failed to decode event data: %w", err)
			}
		}
		return fn(ctx, v)
	}
}
