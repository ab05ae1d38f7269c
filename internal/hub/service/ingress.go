package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/autopeer-io/adfleet/internal/hub/core/model"
	"github.com/autopeer-io/adfleet/internal/hub/manifest"
	"github.com/autopeer-io/adfleet/internal/hub/presence"
	"github.com/autopeer-io/adfleet/internal/pkg/util"
)

// Authenticate resolves a device from its credentials.
func (s *Service) Authenticate(ctx context.Context, deviceID, token string) (*model.Device, error) {
	if deviceID == "" || token == "" {
		return nil, util.ErrUnauthorized
	}
	return s.repo.Device().Authenticate(ctx, deviceID, token)
}

// Manifest records activity and builds the manifest of d.
func (s *Service) Manifest(ctx context.Context, d *model.Device) (*manifest.Manifest, error) {
	s.touch(ctx, &model.DeviceStatusUpdate{DeviceID: d.ID})
	return s.builder.Build(ctx, d)
}

// Connect registers a push stream for d. The subscription must be closed
// when the transport ends.
func (s *Service) Connect(ctx context.Context, d *model.Device, stream presence.Stream) *presence.Subscription {
	sub := s.registry.Register(ctx, d.ID, stream)
	s.touch(ctx, &model.DeviceStatusUpdate{DeviceID: d.ID})

	if d.VehicleID == "" {
		return sub
	}

	running := s.orchestrator.Running(d.VehicleID)
	if sub.Status() == model.DeviceStatusPlaying {
		s.startPlayback(ctx, d)
	}
	if running {
		if cmd, ok := s.orchestrator.CurrentState(d.VehicleID); ok {
			s.registry.Send(ctx, d.ID, model.EventPlayVideo, cmd)
		}
	}
	return sub
}

// HeartbeatRequest is the body of a heartbeat.
type HeartbeatRequest struct {
	Status       *model.DeviceStatus `json:"status,omitempty"`
	BatteryLevel *float64            `json:"batteryLevel,omitempty"`
	StorageUsed  *float64            `json:"storageUsed,omitempty"`
}

// HeartbeatResult reports how a heartbeat was handled.
type HeartbeatResult struct {
	Status    model.DeviceStatus
	Decision  presence.Decision
	Timestamp time.Time
}

// Heartbeat applies a device heartbeat. Suppressed heartbeats change nothing.
func (s *Service) Heartbeat(ctx context.Context, d *model.Device, req *HeartbeatRequest) *HeartbeatResult {
	reported := req.Status
	if reported != nil && (!reported.Valid() || *reported == model.DeviceStatusInactive) {
		s.log.Warn("Ignoring unusable heartbeat status", "deviceID", d.ID, "status", *reported)
		reported = nil
	}

	status, decision := s.registry.ApplyIngress(ctx, d.ID, reported, presence.ReasonHeartbeat)
	result := &HeartbeatResult{Status: status, Decision: decision, Timestamp: s.clock.Now()}
	if !decision.Applied() {
		return result
	}

	s.touch(ctx, &model.DeviceStatusUpdate{
		DeviceID:     d.ID,
		BatteryLevel: req.BatteryLevel,
		StorageUsed:  req.StorageUsed,
	})

	data := map[string]any{"status": status, "decision": decision}
	if req.BatteryLevel != nil {
		data["batteryLevel"] = *req.BatteryLevel
	}
	if req.StorageUsed != nil {
		data["storageUsed"] = *req.StorageUsed
	}
	s.registry.BroadcastLog(&model.LogEntry{
		DeviceID:  d.ID,
		Kind:      "heartbeat",
		Message:   fmt.Sprintf("heartbeat (%s)", status),
		Data:      data,
		Timestamp: result.Timestamp,
	})

	if status == model.DeviceStatusPlaying {
		s.startPlayback(ctx, d)
	}
	return result
}

// ImpressionInput is one impression as reported by a device.
type ImpressionInput struct {
	AdID       string          `json:"adId"`
	CampaignID string          `json:"campaignId,omitempty"`
	MediaType  model.MediaType `json:"mediaType,omitempty"`
	DurationMs int64           `json:"durationMs,omitempty"`
	OccurredAt *time.Time      `json:"occurredAt,omitempty"`
}

// RecordImpressions persists a batch and promotes the device to playing.
func (s *Service) RecordImpressions(ctx context.Context, d *model.Device, inputs []ImpressionInput) (int, error) {
	if len(inputs) == 0 {
		return 0, fmt.Errorf("impressions must be a non-empty array: %w", util.ErrInvalidArgument)
	}

	now := s.clock.Now()
	batch := make([]*model.Impression, 0, len(inputs))
	for i, in := range inputs {
		if in.AdID == "" {
			return 0, fmt.Errorf("impression %d: adId is required: %w", i, util.ErrInvalidArgument)
		}
		occurred := now
		if in.OccurredAt != nil && !in.OccurredAt.After(now) {
			occurred = *in.OccurredAt
		}
		batch = append(batch, &model.Impression{
			ID:         uuid.NewString(),
			DeviceID:   d.ID,
			AdID:       in.AdID,
			CampaignID: in.CampaignID,
			MediaType:  in.MediaType,
			DurationMs: in.DurationMs,
			OccurredAt: occurred,
			ReceivedAt: now,
		})
	}

	if err := s.repo.Impression().BulkInsert(ctx, batch); err != nil {
		return 0, fmt.Errorf("failed to store impressions: %w", err)
	}
	s.archiveBatch(ctx, d.ID, batch)

	playing := model.DeviceStatusPlaying
	status, decision := s.registry.ApplyIngress(ctx, d.ID, &playing, presence.ReasonImpressions)
	if decision.Applied() {
		s.touch(ctx, &model.DeviceStatusUpdate{DeviceID: d.ID})
	}

	for _, imp := range batch {
		s.registry.BroadcastLog(&model.LogEntry{
			DeviceID:  d.ID,
			Kind:      "impression",
			Message:   fmt.Sprintf("played %s", imp.AdID),
			Data:      map[string]any{"impression": imp},
			Timestamp: now,
		})
	}

	if status == model.DeviceStatusPlaying {
		s.startPlayback(ctx, d)
	}
	return len(batch), nil
}

// archiveBatch writes the batch as NDJSON to object storage when enabled.
func (s *Service) archiveBatch(ctx context.Context, deviceID string, batch []*model.Impression) {
	if s.archive == nil {
		return
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, imp := range batch {
		if err := enc.Encode(imp); err != nil {
			s.log.Error(err, "Failed to encode impression for archive", "deviceID", deviceID)
			return
		}
	}
	key := ArchiveKey(deviceID, batch[0].ReceivedAt, uuid.NewString())
	if err := s.archive.Put(ctx, key, "application/x-ndjson", buf.Bytes()); err != nil {
		s.log.Error(err, "Failed to archive impressions", "deviceID", deviceID, "key", key)
	}
}

// ArchiveKey is the object key of an archived impression batch.
func ArchiveKey(deviceID string, at time.Time, batchID string) string {
	return fmt.Sprintf("impressions/%s/%s/%s.ndjson", deviceID, at.UTC().Format(time.DateOnly), batchID)
}
