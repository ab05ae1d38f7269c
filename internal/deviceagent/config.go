package deviceagent

import (
	"errors"
	"net/http"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/adfleet/internal/deviceagent/hal"
	"github.com/autopeer-io/adfleet/internal/deviceagent/hub"
	"github.com/autopeer-io/adfleet/internal/deviceagent/player"
	"github.com/autopeer-io/adfleet/pkg/options"
)

type Config struct {
	AgentOptions *options.AgentOptions
}

func (cfg *Config) NewAgent() (*Agent, error) {
	o := cfg.AgentOptions
	c := clock.RealClock{}

	h := hal.New(o.DeviceID, o.DeviceToken, c)
	if h.DeviceID() == "" {
		return nil, errors.New("unable to discover the device id, set --agent.device-id")
	}
	if h.DeviceToken() == "" {
		return nil, errors.New("no device token, set --agent.device-token")
	}

	return NewAgent(
		h,
		hub.New(o.HubURL, h.DeviceID(), h.DeviceToken(), &http.Client{}),
		o.HeartbeatInterval,
		o.ReconnectInterval,
		player.New(c),
	), nil
}
