package model

import "time"

// Impression records one rendered ad on a device.
type Impression struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"deviceId"`
	AdID       string    `json:"adId"`
	CampaignID string    `json:"campaignId,omitempty"`
	MediaType  MediaType `json:"mediaType,omitempty"`
	DurationMs int64     `json:"durationMs,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
	ReceivedAt time.Time `json:"receivedAt"`
}
