package hal

import (
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"
)

func TestDiscoversCredentialsFromEnv(t *testing.T) {
	t.Setenv(envDeviceID, "tab-env")
	t.Setenv(envDeviceToken, "tok-env")

	h := New("", "", testingclock.NewFakeClock(time.Now()))
	if h.DeviceID() != "tab-env" || h.DeviceToken() != "tok-env" {
		t.Errorf("credentials = %q/%q", h.DeviceID(), h.DeviceToken())
	}

	h = New("tab-flag", "tok-flag", testingclock.NewFakeClock(time.Now()))
	if h.DeviceID() != "tab-flag" || h.DeviceToken() != "tok-flag" {
		t.Errorf("explicit credentials = %q/%q", h.DeviceID(), h.DeviceToken())
	}
}

func TestBatteryDrains(t *testing.T) {
	c := testingclock.NewFakeClock(time.Now())
	h := New("tab-1", "tok", c)

	if got := h.BatteryLevel(); got != 100 {
		t.Errorf("BatteryLevel() = %v, want 100", got)
	}
	c.Step(5 * time.Hour)
	if got := h.BatteryLevel(); got != 80 {
		t.Errorf("BatteryLevel() = %v, want 80", got)
	}
	c.Step(100 * time.Hour)
	if got := h.BatteryLevel(); got != minBattery {
		t.Errorf("BatteryLevel() = %v, want floor %v", got, minBattery)
	}
}
