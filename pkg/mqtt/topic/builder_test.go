package topic

import "testing"

func TestTopicBuilder(t *testing.T) {
	b := NewTopicBuilder("adfleet/v1")

	tests := []struct {
		got, want string
	}{
		{b.FleetStatus("tablet-1"), "adfleet/v1/fleet/status/tablet-1"},
		{b.FleetStatusWildcard(), "adfleet/v1/fleet/status/+"},
		{b.VehiclePlay("bus-9"), "adfleet/v1/vehicle/play/bus-9"},
		{b.All(), "adfleet/v1/#"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
