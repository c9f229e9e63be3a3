package entities

// SoilAverages holds the averaged soil metrics echoed back with a crop
// recommendation. Metrics missing from the payload stay at 0.
type SoilAverages struct {
	Temperature float64 `json:"temperature"`
	Rainfall    float64 `json:"rainfall"`
	PH          float64 `json:"ph"`
	Nitrogen    float64 `json:"nitrogen"`
	Phosphorus  float64 `json:"phosphorus"`
	Potassium   float64 `json:"potassium"`
}

// Get returns the metric by its wire name; unknown names yield 0.
func (s SoilAverages) Get(metric string) float64 {
	switch metric {
	case "temperature":
		return s.Temperature
	case "rainfall":
		return s.Rainfall
	case "ph":
		return s.PH
	case "nitrogen":
		return s.Nitrogen
	case "phosphorus":
		return s.Phosphorus
	case "potassium":
		return s.Potassium
	default:
		return 0
	}
}

// Viewport is the last map position saved by the operator UI.
type Viewport struct {
	Center GeofencePoint `json:"center"`
	Zoom   int           `json:"zoom"`
}

// DefaultViewport is used when no viewport has been saved.
var DefaultViewport = Viewport{Center: GeofencePoint{Lat: 12, Lng: 77}, Zoom: 15}
