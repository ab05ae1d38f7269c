package store

import (
	"context"

	"github.com/autopeer-io/adfleet/internal/hub/core"
	"github.com/autopeer-io/adfleet/internal/hub/core/model"
)

var _ core.Repository = (*bufferedRepository)(nil)

// bufferedRepository routes BatchUpdateStatus through a StatusPipeline and
// delegates everything else to the wrapped repository.
type bufferedRepository struct {
	core.Repository
	pipeline *StatusPipeline
}

// Buffered returns repo with its device status batch writes merged by p.
func Buffered(repo core.Repository, p *StatusPipeline) core.Repository {
	return &bufferedRepository{Repository: repo, pipeline: p}
}

func (r *bufferedRepository) Device() core.DeviceRepository {
	return &bufferedDevices{DeviceRepository: r.Repository.Device(), pipeline: r.pipeline}
}

type bufferedDevices struct {
	core.DeviceRepository
	pipeline *StatusPipeline
}

func (d *bufferedDevices) BatchUpdateStatus(_ context.Context, update *model.DeviceStatusUpdate) error {
	d.pipeline.Push(update)
	return nil
}
