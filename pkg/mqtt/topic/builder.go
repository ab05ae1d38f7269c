package topic

import (
	"fmt"
)

// Topic segments published by the hub. Consumers subscribe to these,
// so changing them breaks downstream dashboards.
const (
	// SuffixFleetStatus carries device status transitions.
	// Structure: {root}/fleet/status/{deviceID}
	SuffixFleetStatus = "fleet/status"

	// SuffixVehiclePlay carries the play commands broadcast to a vehicle.
	// Structure: {root}/vehicle/play/{vehicleID}
	SuffixVehiclePlay = "vehicle/play"
)

// TopicBuilder constructs MQTT topic strings under a common root.
type TopicBuilder struct {
	// root is the base namespace for all topics (e.g., "adfleet/v1").
	root string
}

// NewTopicBuilder creates a new instance of TopicBuilder with the specified root namespace.
func NewTopicBuilder(root string) *TopicBuilder {
	return &TopicBuilder{root: root}
}

// FleetStatus returns the topic a device's status transitions are published on.
func (b *TopicBuilder) FleetStatus(deviceID string) string {
	return b.build(SuffixFleetStatus, deviceID)
}

// FleetStatusWildcard returns the filter matching every device's status topic.
func (b *TopicBuilder) FleetStatusWildcard() string {
	return b.build(SuffixFleetStatus, Wildcard)
}

// VehiclePlay returns the topic play commands for a vehicle are mirrored to.
func (b *TopicBuilder) VehiclePlay(vehicleID string) string {
	return b.build(SuffixVehiclePlay, vehicleID)
}

// All returns the filter matching everything published under the root.
func (b *TopicBuilder) All() string {
	return fmt.Sprintf("%s/%s", b.root, MultiWildcard)
}

// build constructs {root}/{suffix}/{identifier}.
func (b *TopicBuilder) build(suffix, id string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, suffix, id)
}
