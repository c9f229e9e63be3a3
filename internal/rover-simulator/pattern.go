package rover_simulator

import (
	"math"
	"strconv"

	"github.com/LeonardoBeccarini/agrow/internal/model"
)

// ScanPattern lays a grid of step degrees over the zone's bounding box and keeps
// the points inside the polygon. Rows run south to north and alternate
// direction so the rover sweeps back and forth.
func ScanPattern(zone model.ZoneDefinition, step float64) []model.GeofencePoint {
	if len(zone) < 3 || step <= 0 {
		return nil
	}
	minLat, maxLat := zone[0].Lat, zone[0].Lat
	minLng, maxLng := zone[0].Lng, zone[0].Lng
	for _, p := range zone[1:] {
		minLat, maxLat = math.Min(minLat, p.Lat), math.Max(maxLat, p.Lat)
		minLng, maxLng = math.Min(minLng, p.Lng), math.Max(maxLng, p.Lng)
	}

	rows := int(math.Ceil((maxLat - minLat) / step))
	cols := int(math.Ceil((maxLng - minLng) / step))
	var out []model.GeofencePoint
	reverse := false
	for i := 0; i < rows; i++ {
		lat := minLat + float64(i)*step
		var row []model.GeofencePoint
		for j := 0; j < cols; j++ {
			p := model.GeofencePoint{Lat: lat, Lng: minLng + float64(j)*step}
			if contains(zone, p) {
				row = append(row, p)
			}
		}
		if reverse {
			for l, r := 0, len(row)-1; l < r; l, r = l+1, r-1 {
				row[l], row[r] = row[r], row[l]
			}
		}
		out = append(out, row...)
		reverse = !reverse
	}
	return out
}

// contains is an even-odd ray cast; points on an edge may fall either way.
func contains(poly model.ZoneDefinition, p model.GeofencePoint) bool {
	in := false
	for i, j := 0, len(poly)-1; i < len(poly); j, i = i, i+1 {
		a, b := poly[i], poly[j]
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			x := (b.Lng-a.Lng)*(p.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lng
			if p.Lng < x {
				in = !in
			}
		}
	}
	return in
}

// PlotID names the plot scanned at p, e.g. PLOT_12.97_77.59.
func PlotID(p model.GeofencePoint) string {
	return "PLOT_" + round5(p.Lat) + "_" + round5(p.Lng)
}

func round5(f float64) string {
	return strconv.FormatFloat(math.Round(f*1e5)/1e5, 'f', -1, 64)
}
