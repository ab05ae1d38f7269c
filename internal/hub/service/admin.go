package service

import (
	"context"
	"fmt"

	"github.com/autopeer-io/adfleet/internal/hub/core/model"
	"github.com/autopeer-io/adfleet/internal/hub/playback"
	"github.com/autopeer-io/adfleet/internal/hub/presence"
	"github.com/autopeer-io/adfleet/internal/pkg/util"
)

// Presence is the admin view of live hub state.
type Presence struct {
	*presence.Snapshot
	Sessions []playback.SessionInfo `json:"sessions"`
}

// Presence returns the registry snapshot with the running sessions.
func (s *Service) Presence() *Presence {
	return &Presence{Snapshot: s.registry.Snapshot(), Sessions: s.orchestrator.Sessions()}
}

// PlaybackState returns the join command of a running vehicle session.
func (s *Service) PlaybackState(vehicleID string) (*model.PlayCommand, error) {
	cmd, ok := s.orchestrator.CurrentState(vehicleID)
	if !ok {
		return nil, fmt.Errorf("no playback session for vehicle %s: %w", vehicleID, util.ErrNotFound)
	}
	return cmd, nil
}

// AssignVehicleCampaigns replaces a vehicle's campaigns and pushes the change.
func (s *Service) AssignVehicleCampaigns(ctx context.Context, vehicleID string, campaignIDs []string) error {
	if err := s.repo.Vehicle().UpdateCampaigns(ctx, vehicleID, campaignIDs); err != nil {
		return err
	}
	devices, err := s.repo.Device().ListByVehicle(ctx, vehicleID)
	if err != nil {
		return err
	}

	s.refreshPlayback(ctx, vehicleID)
	for _, d := range devices {
		s.notifyRefresh(ctx, d.ID, "vehicle_campaigns")
	}
	s.log.Info("Vehicle campaigns assigned", "vehicleID", vehicleID, "campaigns", campaignIDs)
	return nil
}

// AssignDeviceCampaigns replaces a device's own campaigns and pushes the change.
func (s *Service) AssignDeviceCampaigns(ctx context.Context, deviceID string, campaignIDs []string) error {
	d, err := s.repo.Device().Get(ctx, deviceID)
	if err != nil {
		return err
	}
	if err := s.repo.Device().UpdateCampaigns(ctx, deviceID, campaignIDs); err != nil {
		return err
	}

	s.refreshPlayback(ctx, d.VehicleID)
	s.notifyRefresh(ctx, deviceID, "device_campaigns")
	s.log.Info("Device campaigns assigned", "deviceID", deviceID, "campaigns", campaignIDs)
	return nil
}

// PairDevice pairs a device to a vehicle as master or slave.
func (s *Service) PairDevice(ctx context.Context, vehicleID, deviceID string, role model.DeviceRole) error {
	if role != model.DeviceRoleMaster && role != model.DeviceRoleSlave {
		return fmt.Errorf("role must be master or slave, got %q: %w", role, util.ErrInvalidArgument)
	}
	d, err := s.repo.Device().Get(ctx, deviceID)
	if err != nil {
		return err
	}
	if err := s.repo.Device().SetPairing(ctx, deviceID, vehicleID, role); err != nil {
		return err
	}

	if d.VehicleID != vehicleID {
		s.refreshPlayback(ctx, d.VehicleID)
	}
	s.refreshPlayback(ctx, vehicleID)
	s.notifyRefresh(ctx, deviceID, "paired")
	s.log.Info("Device paired", "deviceID", deviceID, "vehicleID", vehicleID, "role", role)
	return nil
}

// UnpairDevice removes a device from its vehicle.
func (s *Service) UnpairDevice(ctx context.Context, vehicleID, deviceID string) error {
	d, err := s.repo.Device().Get(ctx, deviceID)
	if err != nil {
		return err
	}
	if d.VehicleID != vehicleID {
		return fmt.Errorf("device %s is not paired to vehicle %s: %w", deviceID, vehicleID, util.ErrNotFound)
	}
	if err := s.repo.Device().SetPairing(ctx, deviceID, "", model.DeviceRoleStandalone); err != nil {
		return err
	}

	s.refreshPlayback(ctx, vehicleID)
	s.notifyRefresh(ctx, deviceID, "unpaired")
	s.log.Info("Device unpaired", "deviceID", deviceID, "vehicleID", vehicleID)
	return nil
}

// DeleteVehicle stops the vehicle's session, deletes it and tells its
// former devices to refetch.
func (s *Service) DeleteVehicle(ctx context.Context, vehicleID string) error {
	devices, err := s.repo.Device().ListByVehicle(ctx, vehicleID)
	if err != nil {
		return err
	}
	s.orchestrator.Stop(ctx, vehicleID)
	if err := s.repo.Vehicle().Delete(ctx, vehicleID); err != nil {
		return err
	}
	for _, d := range devices {
		s.notifyRefresh(ctx, d.ID, "vehicle_deleted")
	}
	s.log.Info("Vehicle deleted", "vehicleID", vehicleID, "devices", len(devices))
	return nil
}

// ObserveDevice attaches an admin stream to the event log of deviceID.
func (s *Service) ObserveDevice(deviceID string, stream presence.Stream) *presence.Subscription {
	s.log.Debug("Device observer attached", "deviceID", deviceID)
	return s.registry.Observe(deviceID, stream)
}

// ObserveFleet attaches an admin stream to the fleet-wide status feed.
func (s *Service) ObserveFleet(stream presence.Stream) *presence.Subscription {
	return s.registry.ObserveFleet(stream)
}
