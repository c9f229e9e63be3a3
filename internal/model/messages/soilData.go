package messages

// SoilScan is published by a rover on ground/{id}/data after scanning one plot.
type SoilScan struct {
	PlotID    any            `json:"plot_id"`
	ScanPoint *ScanPoint     `json:"scan_point,omitempty"`
	Details   map[string]any `json:"details"`
}

type ScanPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// PlotRecord is one entry of the per-rover list kept in the store and served
// as the baseline soil snapshot.
type PlotRecord struct {
	PlotID  any            `json:"plot_id"`
	Details map[string]any `json:"details"`
}
