package model

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft  CampaignStatus = "draft"
	CampaignStatusActive CampaignStatus = "active"
	CampaignStatusPaused CampaignStatus = "paused"
	CampaignStatusEnded  CampaignStatus = "ended"
)

// MediaType is the kind of a playlist item.
type MediaType string

const (
	MediaTypeVideo MediaType = "video"
	MediaTypeImage MediaType = "image"
)

// PlaylistItem is one entry of a campaign playlist as stored.
type PlaylistItem struct {
	URL  string    `json:"url"`
	Type MediaType `json:"type,omitempty"`

	// Duration is in seconds when <= 1000 and in milliseconds above that.
	// Nil means the default duration.
	Duration *float64 `json:"duration,omitempty"`
}

// Campaign is an advertising campaign with an ordered playlist.
type Campaign struct {
	ID       string
	Name     string
	Status   CampaignStatus
	Playlist []PlaylistItem
}
