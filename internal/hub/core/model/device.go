package model

import "time"

// DeviceStatus is the presence status of an advertising device.
type DeviceStatus string

const (
	// DeviceStatusStandby is a connected device that has not reported activity yet.
	DeviceStatusStandby DeviceStatus = "standby"
	// DeviceStatusActive is a device that reported it is up and rendering.
	DeviceStatusActive DeviceStatus = "active"
	// DeviceStatusPlaying is a device that proved playback through impressions or a report.
	DeviceStatusPlaying DeviceStatus = "playing"
	// DeviceStatusInactive is a device without a push connection.
	DeviceStatusInactive DeviceStatus = "inactive"
)

// Engaged reports whether s is a status worth restoring after a short disconnect.
func (s DeviceStatus) Engaged() bool {
	return s == DeviceStatusActive || s == DeviceStatusPlaying
}

// Valid reports whether s is one of the known statuses.
func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceStatusStandby, DeviceStatusActive, DeviceStatusPlaying, DeviceStatusInactive:
		return true
	}
	return false
}

// DeviceRole is the position of a device inside its vehicle.
type DeviceRole string

const (
	DeviceRoleStandalone DeviceRole = "standalone"
	DeviceRoleMaster     DeviceRole = "master"
	DeviceRoleSlave      DeviceRole = "slave"
)

// Device is an advertising tablet installed in a vehicle.
type Device struct {
	ID string

	// Token authenticates the device on ingress endpoints.
	Token string

	// CampaignIDs is the ordered multi-campaign assignment.
	CampaignIDs []string

	// CampaignID is the single legacy assignment, used when CampaignIDs is empty.
	CampaignID string

	// VehicleID is the vehicle the device is paired to, if any.
	VehicleID string

	Role DeviceRole

	// Status is the last status persisted for the device.
	Status DeviceStatus

	LastSeen     time.Time
	BatteryLevel *float64
	StorageUsed  *float64
}

// DeviceStatusUpdate is a partial update of a device's volatile fields.
// Nil fields are left untouched, which lets the status pipeline merge
// several updates for the same device into one write.
type DeviceStatusUpdate struct {
	DeviceID     string
	Status       *DeviceStatus
	LastSeen     *time.Time
	BatteryLevel *float64
	StorageUsed  *float64
}

// Merge folds newer into u, newer fields winning.
func (u *DeviceStatusUpdate) Merge(newer *DeviceStatusUpdate) {
	if newer.Status != nil {
		u.Status = newer.Status
	}
	if newer.LastSeen != nil {
		u.LastSeen = newer.LastSeen
	}
	if newer.BatteryLevel != nil {
		u.BatteryLevel = newer.BatteryLevel
	}
	if newer.StorageUsed != nil {
		u.StorageUsed = newer.StorageUsed
	}
}

// Apply writes the non-nil fields of u onto d.
func (u *DeviceStatusUpdate) Apply(d *Device) {
	if u.Status != nil {
		d.Status = *u.Status
	}
	if u.LastSeen != nil {
		d.LastSeen = *u.LastSeen
	}
	if u.BatteryLevel != nil {
		d.BatteryLevel = u.BatteryLevel
	}
	if u.StorageUsed != nil {
		d.StorageUsed = u.StorageUsed
	}
}
