package rover_simulator

import (
	"math"
	"math/rand"
	"sync"

	"github.com/LeonardoBeccarini/agrow/internal/model"
	"github.com/LeonardoBeccarini/agrow/internal/model/messages"
)

type soilProfile struct {
	name       string
	weight     float64
	ph         [2]float64
	nitrogen   [2]int
	phosphorus [2]int
	potassium  [2]int
	texture    string
	colours    []string
}

var profiles = []soilProfile{
	{"Red Sandy Loam", 0.6, [2]float64{6.5, 7.2}, [2]int{20, 80}, [2]int{20, 60}, [2]int{100, 200}, "Sandy Loam", []string{"Red", "Reddish Brown"}},
	{"Laterite", 0.2, [2]float64{5.5, 6.8}, [2]int{10, 50}, [2]int{10, 40}, [2]int{50, 150}, "Loamy Clay", []string{"Brick Red", "Dark Red"}},
	{"Coastal Alluvium", 0.2, [2]float64{7.0, 8.0}, [2]int{40, 100}, [2]int{30, 70}, [2]int{150, 250}, "Fine Loam", []string{"Grey", "Dark Brown"}},
}

// SoilGenerator produces plausible soil readings for a scanned plot.
type SoilGenerator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSoilGenerator(seed int64) *SoilGenerator {
	return &SoilGenerator{rnd: rand.New(rand.NewSource(seed))}
}

// Next returns the scan message for the plot at p.
func (g *SoilGenerator) Next(p model.GeofencePoint) model.SoilScan {
	g.mu.Lock()
	defer g.mu.Unlock()

	prof := g.pick()
	details := map[string]any{
		"lat":                      p.Lat,
		"lon":                      p.Lng,
		"soil_type":                prof.name,
		"soil_pH":                  g.uniform(prof.ph[0], prof.ph[1]),
		"soil_colour":              prof.colours[g.rnd.Intn(len(prof.colours))],
		"texture":                  prof.texture,
		"organic_content":          g.uniform(1.0, 3.5),
		"moisture_content":         g.uniform(15.0, 35.0),
		"bulk_density":             g.uniform(1.2, 1.5),
		"nitrogen_ppm":             g.between(prof.nitrogen),
		"phosphorus_ppm":           g.between(prof.phosphorus),
		"potassium_ppm":            g.between(prof.potassium),
		"cation_exchange_capacity": g.uniform(10.0, 30.0),
		"electrical_conductivity":  g.uniform(0.2, 1.2),
		"porosity":                 g.uniform(35.0, 50.0),
		"water_holding_capacity":   g.uniform(25.0, 45.0),
	}
	return model.SoilScan{
		PlotID:    PlotID(p),
		ScanPoint: &messages.ScanPoint{Latitude: p.Lat, Longitude: p.Lng},
		Details:   details,
	}
}

func (g *SoilGenerator) pick() soilProfile {
	x := g.rnd.Float64()
	for _, p := range profiles {
		if x < p.weight {
			return p
		}
		x -= p.weight
	}
	return profiles[len(profiles)-1]
}

// uniform draws from [lo, hi) rounded to two decimals.
func (g *SoilGenerator) uniform(lo, hi float64) float64 {
	return math.Round((lo+g.rnd.Float64()*(hi-lo))*100) / 100
}

func (g *SoilGenerator) between(r [2]int) int {
	return r[0] + g.rnd.Intn(r[1]-r[0]+1)
}
