package model

// WiFiConfig is the in-vehicle hotspot paired devices join.
type WiFiConfig struct {
	SSID     string `json:"ssid"`
	Password string `json:"password,omitempty"`
}

// Vehicle is a car carrying one or two paired devices.
type Vehicle struct {
	ID string

	// CampaignIDs is the ordered campaign assignment inherited by paired
	// devices that have no assignment of their own.
	CampaignIDs []string

	WiFi *WiFiConfig

	// Active vehicles are considered when playback sessions are restored on boot.
	Active bool
}
