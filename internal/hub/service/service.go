// Package service implements the hub use cases on top of the presence
// registry, the manifest builder and the playback orchestrator.
package service

import (
	"context"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/adfleet/internal/hub/core"
	"github.com/autopeer-io/adfleet/internal/hub/core/model"
	"github.com/autopeer-io/adfleet/internal/hub/manifest"
	"github.com/autopeer-io/adfleet/internal/hub/playback"
	"github.com/autopeer-io/adfleet/internal/hub/presence"
	"github.com/autopeer-io/adfleet/pkg/log"
)

// Service bundles the collaborators shared by the ingress and admin use cases.
type Service struct {
	repo         core.Repository
	registry     *presence.Registry
	builder      *manifest.Builder
	orchestrator *playback.Orchestrator
	archive      core.Archive
	clock        clock.Clock
	log          log.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithArchive enables impression batch archiving.
func WithArchive(a core.Archive) Option {
	return func(s *Service) { s.archive = a }
}

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// New creates the service.
func New(repo core.Repository, registry *presence.Registry, builder *manifest.Builder, orchestrator *playback.Orchestrator, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		registry:     registry,
		builder:      builder,
		orchestrator: orchestrator,
		clock:        clock.RealClock{},
		log:          log.WithName("ingress"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// touch records device activity through the buffered status path.
func (s *Service) touch(ctx context.Context, update *model.DeviceStatusUpdate) {
	now := s.clock.Now()
	update.LastSeen = &now
	if err := s.repo.Device().BatchUpdateStatus(ctx, update); err != nil {
		s.log.Error(err, "Failed to record device activity", "deviceID", update.DeviceID)
	}
}

// startPlayback starts the vehicle session of a playing device.
func (s *Service) startPlayback(ctx context.Context, d *model.Device) {
	if d.VehicleID == "" {
		return
	}
	if err := s.orchestrator.Start(ctx, d.VehicleID); err != nil {
		s.log.Error(err, "Failed to start vehicle playback", "deviceID", d.ID, "vehicleID", d.VehicleID)
	}
}

// refreshPlayback restarts a running vehicle session.
func (s *Service) refreshPlayback(ctx context.Context, vehicleID string) {
	if vehicleID == "" || !s.orchestrator.Running(vehicleID) {
		return
	}
	if err := s.orchestrator.Refresh(ctx, vehicleID); err != nil {
		s.log.Error(err, "Failed to refresh vehicle playback", "vehicleID", vehicleID)
	}
}

// notifyRefresh tells a device to fetch its manifest now.
func (s *Service) notifyRefresh(ctx context.Context, deviceID, reason string) {
	s.registry.Send(ctx, deviceID, model.EventRefreshManifest, map[string]string{"reason": reason})
}
