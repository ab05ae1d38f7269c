package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*FleetOptions)(nil)

// FleetOptions tunes presence tracking, manifest delivery and synchronized playback.
type FleetOptions struct {
	// ManifestEnabled gates the device manifest endpoint. When false it answers 404.
	ManifestEnabled bool `json:"manifest-enabled" mapstructure:"manifest-enabled"`

	// ManifestRefresh is published to devices as refresh_seconds.
	ManifestRefresh time.Duration `json:"manifest-refresh" mapstructure:"manifest-refresh"`

	// ManifestRateLimit is the number of manifest fetches allowed per device per minute.
	ManifestRateLimit int `json:"manifest-rate-limit" mapstructure:"manifest-rate-limit"`

	// RestoreWindow is how long after a disconnect a reconnect restores the prior
	// engaged status, and how long late ingress packets are treated as zombies.
	RestoreWindow time.Duration `json:"restore-window" mapstructure:"restore-window"`

	// DisconnectTTL is how long a disconnect record is kept before the purge sweep drops it.
	DisconnectTTL time.Duration `json:"disconnect-ttl" mapstructure:"disconnect-ttl"`

	// KeepAliveInterval is the period of the comment frame written to every open stream.
	KeepAliveInterval time.Duration `json:"keepalive-interval" mapstructure:"keepalive-interval"`

	// PurgeInterval is the period of the disconnect record purge sweep.
	PurgeInterval time.Duration `json:"purge-interval" mapstructure:"purge-interval"`

	// PlaybackBuffer is the lead time between a play command broadcast and its start time.
	PlaybackBuffer time.Duration `json:"playback-buffer" mapstructure:"playback-buffer"`

	// JoinLead is the lead time given to a device joining a running vehicle session.
	JoinLead time.Duration `json:"join-lead" mapstructure:"join-lead"`

	// AdminTokens are the accepted administrative bearer tokens.
	AdminTokens []string `json:"admin-tokens" mapstructure:"admin-tokens"`
}

// NewFleetOptions creates FleetOptions with default values.
func NewFleetOptions() *FleetOptions {
	return &FleetOptions{
		ManifestEnabled:   true,
		ManifestRefresh:   60 * time.Second,
		ManifestRateLimit: 30,
		RestoreWindow:     15 * time.Second,
		DisconnectTTL:     30 * time.Second,
		KeepAliveInterval: 30 * time.Second,
		PurgeInterval:     60 * time.Second,
		PlaybackBuffer:    2 * time.Second,
		JoinLead:          500 * time.Millisecond,
	}
}

// Validate checks the fleet timing invariants.
func (o *FleetOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if o.ManifestRefresh < time.Second {
		errs = append(errs, fmt.Errorf("--fleet.manifest-refresh must be at least 1s, got %s", o.ManifestRefresh))
	}
	if o.ManifestRateLimit < 1 {
		errs = append(errs, fmt.Errorf("--fleet.manifest-rate-limit must be positive, got %d", o.ManifestRateLimit))
	}
	if o.RestoreWindow <= 0 {
		errs = append(errs, fmt.Errorf("--fleet.restore-window must be positive, got %s", o.RestoreWindow))
	}
	// A record must outlive the window it is consulted in.
	if o.DisconnectTTL < o.RestoreWindow {
		errs = append(errs, fmt.Errorf("--fleet.disconnect-ttl (%s) must not be shorter than --fleet.restore-window (%s)", o.DisconnectTTL, o.RestoreWindow))
	}
	if o.KeepAliveInterval <= 0 || o.PurgeInterval <= 0 {
		errs = append(errs, fmt.Errorf("--fleet.keepalive-interval and --fleet.purge-interval must be positive"))
	}
	if o.PlaybackBuffer < 0 || o.JoinLead < 0 {
		errs = append(errs, fmt.Errorf("--fleet.playback-buffer and --fleet.join-lead must not be negative"))
	}

	return errs
}

// AddFlags adds flags for FleetOptions to the specified FlagSet.
func (o *FleetOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.ManifestEnabled, "fleet.manifest-enabled", o.ManifestEnabled, "Serve the device manifest endpoint.")
	fs.DurationVar(&o.ManifestRefresh, "fleet.manifest-refresh", o.ManifestRefresh, "Manifest poll interval advertised to devices.")
	fs.IntVar(&o.ManifestRateLimit, "fleet.manifest-rate-limit", o.ManifestRateLimit, "Manifest fetches allowed per device per minute.")
	fs.DurationVar(&o.RestoreWindow, "fleet.restore-window", o.RestoreWindow, "Window after a disconnect in which status is restored and late ingress is suppressed.")
	fs.DurationVar(&o.DisconnectTTL, "fleet.disconnect-ttl", o.DisconnectTTL, "Lifetime of a disconnect record.")
	fs.DurationVar(&o.KeepAliveInterval, "fleet.keepalive-interval", o.KeepAliveInterval, "Keep-alive frame interval for open streams.")
	fs.DurationVar(&o.PurgeInterval, "fleet.purge-interval", o.PurgeInterval, "Disconnect record purge interval.")
	fs.DurationVar(&o.PlaybackBuffer, "fleet.playback-buffer", o.PlaybackBuffer, "Lead time between a play command and its wall-clock start.")
	fs.DurationVar(&o.JoinLead, "fleet.join-lead", o.JoinLead, "Lead time for devices joining a running playback session.")
	fs.StringSliceVar(&o.AdminTokens, "fleet.admin-tokens", o.AdminTokens, "Accepted administrative bearer tokens.")
}
