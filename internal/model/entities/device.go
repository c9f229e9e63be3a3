package entities

// DeviceStatus is the state reported by a field device in its telemetry.
type DeviceStatus string

const (
	StatusUnknown   DeviceStatus = "unknown"
	StatusIdle      DeviceStatus = "idle"
	StatusMoving    DeviceStatus = "moving"
	StatusError     DeviceStatus = "error"
	StatusCompleted DeviceStatus = "completed"
)

// ParseDeviceStatus maps a wire value onto a known status; anything else is unknown.
func ParseDeviceStatus(s string) DeviceStatus {
	switch st := DeviceStatus(s); st {
	case StatusIdle, StatusMoving, StatusError, StatusCompleted:
		return st
	default:
		return StatusUnknown
	}
}

// DefaultDeviceID is the rover used when none has been stored.
const DefaultDeviceID = "255"
