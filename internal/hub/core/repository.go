package core

import (
	"context"

	"github.com/autopeer-io/adfleet/internal/hub/core/model"
)

// DeviceRepository defines access to the externally stored device records.
type DeviceRepository interface {
	// Get retrieves a device by its ID.
	Get(ctx context.Context, id string) (*model.Device, error)

	// Authenticate returns the device when token matches its credential.
	Authenticate(ctx context.Context, id, token string) (*model.Device, error)

	// ListByVehicle returns the devices paired to a vehicle.
	ListByVehicle(ctx context.Context, vehicleID string) ([]*model.Device, error)

	// UpdateCampaigns replaces the device's ordered campaign assignment.
	UpdateCampaigns(ctx context.Context, id string, campaignIDs []string) error

	// SetPairing pairs the device to a vehicle with a role. An empty vehicleID unpairs it.
	SetPairing(ctx context.Context, id, vehicleID string, role model.DeviceRole) error

	// WriteStatus applies a partial status update immediately.
	WriteStatus(ctx context.Context, update *model.DeviceStatusUpdate) error

	// BatchUpdateStatus queues a partial status update.
	// Implementations must not block; high-frequency touches are merged before writing.
	BatchUpdateStatus(ctx context.Context, update *model.DeviceStatusUpdate) error
}

// VehicleRepository defines access to the externally stored vehicle records.
type VehicleRepository interface {
	Get(ctx context.Context, id string) (*model.Vehicle, error)

	// ListActive returns every vehicle flagged active.
	ListActive(ctx context.Context) ([]*model.Vehicle, error)

	// UpdateCampaigns replaces the vehicle's ordered campaign assignment.
	UpdateCampaigns(ctx context.Context, id string, campaignIDs []string) error

	// Delete removes the vehicle and unpairs its devices.
	Delete(ctx context.Context, id string) error
}

// CampaignRepository defines read access to campaigns.
type CampaignRepository interface {
	// ListActive returns the active campaigns among ids, in no particular order.
	ListActive(ctx context.Context, ids []string) ([]*model.Campaign, error)
}

// ImpressionRepository persists impression batches.
type ImpressionRepository interface {
	BulkInsert(ctx context.Context, impressions []*model.Impression) error
}

// Repository groups the record store ports.
type Repository interface {
	Device() DeviceRepository
	Vehicle() VehicleRepository
	Campaign() CampaignRepository
	Impression() ImpressionRepository
}
