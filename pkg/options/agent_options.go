package options

import (
	"errors"
	"net/url"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*AgentOptions)(nil)

// AgentOptions configures the device agent that runs on a screen.
type AgentOptions struct {
	// HubURL is the base URL of the hub's device API.
	HubURL string `json:"hub-url" mapstructure:"hub-url"`

	// DeviceID and DeviceToken are the device credentials. When empty they are
	// discovered from the environment.
	DeviceID    string `json:"device-id" mapstructure:"device-id"`
	DeviceToken string `json:"device-token" mapstructure:"device-token"`

	// HeartbeatInterval is the period of heartbeats and impression uploads.
	HeartbeatInterval time.Duration `json:"heartbeat-interval" mapstructure:"heartbeat-interval"`

	// ReconnectInterval is the base delay before the push stream is reopened.
	ReconnectInterval time.Duration `json:"reconnect-interval" mapstructure:"reconnect-interval"`
}

// NewAgentOptions creates AgentOptions with default values.
func NewAgentOptions() *AgentOptions {
	return &AgentOptions{
		HubURL:            "http://127.0.0.1:8080",
		HeartbeatInterval: 30 * time.Second,
		ReconnectInterval: 5 * time.Second,
	}
}

func (o *AgentOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if u, err := url.Parse(o.HubURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, errors.New("--agent.hub-url must be an absolute URL"))
	}
	if o.HeartbeatInterval < time.Second {
		errs = append(errs, errors.New("--agent.heartbeat-interval must be at least 1s"))
	}
	if o.ReconnectInterval <= 0 {
		errs = append(errs, errors.New("--agent.reconnect-interval must be positive"))
	}

	return errs
}

func (o *AgentOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.HubURL, "agent.hub-url", o.HubURL, "Base URL of the hub.")
	fs.StringVar(&o.DeviceID, "agent.device-id", o.DeviceID, "Device identifier. Discovered from ADFLEET_DEVICE_ID or /etc/adfleet/device-id when empty.")
	fs.StringVar(&o.DeviceToken, "agent.device-token", o.DeviceToken, "Device secret. Discovered from ADFLEET_DEVICE_TOKEN when empty.")
	fs.DurationVar(&o.HeartbeatInterval, "agent.heartbeat-interval", o.HeartbeatInterval, "Heartbeat and impression upload period.")
	fs.DurationVar(&o.ReconnectInterval, "agent.reconnect-interval", o.ReconnectInterval, "Base delay before the push stream is reopened.")
}
