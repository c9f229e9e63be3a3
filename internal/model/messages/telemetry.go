package messages

import (
	"time"

	"github.com/LeonardoBeccarini/agrow/internal/model/entities"
)

// TelemetrySnapshot is the latest accepted status of a field device.
type TelemetrySnapshot struct {
	Status     entities.DeviceStatus    `json:"status"`
	Position   entities.GeofencePoint   `json:"position"`
	Waypoints  []entities.GeofencePoint `json:"waypoints"`
	ReceivedAt time.Time                `json:"received_at"`
}

// EmptySnapshot is the state before any telemetry has been accepted.
func EmptySnapshot() TelemetrySnapshot {
	return TelemetrySnapshot{Status: entities.StatusUnknown, Waypoints: []entities.GeofencePoint{}}
}
