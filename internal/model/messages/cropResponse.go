package messages

import (
	"encoding/json"

	"github.com/LeonardoBeccarini/agrow/internal/model/entities"
)

// CropResponse is the payload published on ai/crops/{id}/response. Every key
// is optional; missing averages default to 0.
type CropResponse struct {
	Crops        []string           `json:"crops"`
	AvgValues    map[string]float64 `json:"avg_values"`
	CropsDetails map[string]string  `json:"cropsdetailed"`
}

// ParseCropResponse decodes a response payload into a recommendation set.
func ParseCropResponse(payload []byte) (entities.CropRecommendationSet, error) {
	var r CropResponse
	if err := json.Unmarshal(payload, &r); err != nil {
		return entities.CropRecommendationSet{}, err
	}
	set := entities.CropRecommendationSet{
		Crops:       r.Crops,
		GrowthPlans: r.CropsDetails,
	}
	if set.Crops == nil {
		set.Crops = []string{}
	}
	set.Averages = entities.SoilAverages{
		Temperature: r.AvgValues["temperature"],
		Rainfall:    r.AvgValues["rainfall"],
		PH:          r.AvgValues["ph"],
		Nitrogen:    r.AvgValues["nitrogen"],
		Phosphorus:  r.AvgValues["phosphorus"],
		Potassium:   r.AvgValues["potassium"],
	}
	return set, nil
}
