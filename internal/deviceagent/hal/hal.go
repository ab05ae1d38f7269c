package hal

import (
	"os"
	"strings"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/adfleet/internal/deviceagent/core"
	"github.com/autopeer-io/adfleet/pkg/log"
)

const (
	envDeviceID    = "ADFLEET_DEVICE_ID"
	envDeviceToken = "ADFLEET_DEVICE_TOKEN"
	deviceIDFile   = "/etc/adfleet/device-id"

	// Simulated drain of a screen running on its own battery.
	drainPerHour = 4.0
	minBattery   = 5.0
)

// SimulatedHAL stands in for the screen firmware. Identity comes from the
// configuration or the environment; health readings are simulated.
type SimulatedHAL struct {
	id      string
	token   string
	clock   clock.PassiveClock
	started time.Time
}

var _ core.HAL = (*SimulatedHAL)(nil)

// New returns a HAL for the given credentials. Empty values are discovered.
func New(id, token string, c clock.PassiveClock) *SimulatedHAL {
	if id == "" {
		id = DiscoverDeviceID()
	}
	if token == "" {
		token = os.Getenv(envDeviceToken)
	}
	return &SimulatedHAL{id: id, token: token, clock: c, started: c.Now()}
}

func (h *SimulatedHAL) DeviceID() string    { return h.id }
func (h *SimulatedHAL) DeviceToken() string { return h.token }

func (h *SimulatedHAL) BatteryLevel() float64 {
	level := 100 - h.clock.Since(h.started).Hours()*drainPerHour
	if level < minBattery {
		return minBattery
	}
	return level
}

func (h *SimulatedHAL) StorageUsed() float64 {
	return 42
}

// DiscoverDeviceID reads the device identifier provisioned on the screen.
func DiscoverDeviceID() string {
	if id := os.Getenv(envDeviceID); id != "" {
		log.Info("DeviceID detected from env", "id", id)
		return id
	}
	if content, err := os.ReadFile(deviceIDFile); err == nil {
		if id := strings.TrimSpace(string(content)); id != "" {
			log.Info("DeviceID detected from file", "id", id)
			return id
		}
	}
	return ""
}
