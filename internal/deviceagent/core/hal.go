package core

// HAL is how the agent reads the identity and health of the screen it runs on.
type HAL interface {
	DeviceID() string
	DeviceToken() string

	// BatteryLevel and StorageUsed are percentages in [0, 100].
	BatteryLevel() float64
	StorageUsed() float64
}
