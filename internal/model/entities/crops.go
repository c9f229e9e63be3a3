package entities

// CropRecommendationSet is the result of one recommendation round trip.
type CropRecommendationSet struct {
	Crops       []string          `json:"crops"`
	Averages    SoilAverages      `json:"avg_values"`
	GrowthPlans map[string]string `json:"cropsdetailed,omitempty"` // crop -> rich text plan
}

// GrowthPlan returns the plan text for crop, if the response carried one.
func (c CropRecommendationSet) GrowthPlan(crop string) (string, bool) {
	plan, ok := c.GrowthPlans[crop]
	return plan, ok
}
