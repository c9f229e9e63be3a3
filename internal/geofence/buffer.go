// Package geofence accumulates zone boundary points and dispatches finished
// zones to a field device.
package geofence

import (
	"errors"

	"github.com/LeonardoBeccarini/agrow/internal/model"
)

// ErrInvalidPoint is returned by Add for coordinates outside the WGS84 ranges.
var ErrInvalidPoint = errors.New("geofence: invalid coordinate")

// Buffer keeps the last model.ZonePoints clicked points. Once full, each new
// point evicts the oldest one. A Buffer is not safe for concurrent use.
type Buffer struct {
	points []model.GeofencePoint
}

func NewBuffer() *Buffer {
	return &Buffer{points: make([]model.GeofencePoint, 0, model.ZonePoints)}
}

// Add appends p, dropping the oldest point when the buffer is already full.
// An invalid point leaves the buffer untouched.
func (b *Buffer) Add(p model.GeofencePoint) error {
	if !p.Valid() {
		return ErrInvalidPoint
	}
	if len(b.points) == model.ZonePoints {
		copy(b.points, b.points[1:])
		b.points[len(b.points)-1] = p
		return nil
	}
	b.points = append(b.points, p)
	return nil
}

func (b *Buffer) Reset() { b.points = b.points[:0] }

func (b *Buffer) Len() int { return len(b.points) }

// IsComplete reports whether the buffer holds exactly model.ZonePoints points.
func (b *Buffer) IsComplete() bool { return len(b.points) == model.ZonePoints }

// Snapshot returns a copy of the points in insertion order.
func (b *Buffer) Snapshot() model.ZoneDefinition {
	out := make(model.ZoneDefinition, len(b.points))
	copy(out, b.points)
	return out
}
