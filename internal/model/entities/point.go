package entities

import (
	"encoding/json"
	"fmt"
	"math"
)

// GeofencePoint is a latitude/longitude pair. On the wire it is always a
// two element array [lat, lng].
type GeofencePoint struct {
	Lat float64
	Lng float64
}

// Valid reports whether the point is a finite coordinate inside the WGS84 ranges.
func (p GeofencePoint) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func (p GeofencePoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.Lat, p.Lng})
}

func (p *GeofencePoint) UnmarshalJSON(b []byte) error {
	var pair []float64
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("point: expected [lat,lng], got %d values", len(pair))
	}
	p.Lat, p.Lng = pair[0], pair[1]
	return nil
}

func (p GeofencePoint) String() string {
	return fmt.Sprintf("[%g,%g]", p.Lat, p.Lng)
}
