package analysis

// Document is the structured result of analyzing one bill. Field names
// mirror the JSON schema the model is asked to produce.
type Document struct {
	Summary            string                  `json:"summary"`
	KeyPoints          []string                `json:"key_points"`
	Impacts            map[string]ImpactDetail `json:"impacts"`
	OverallImpact      *OverallImpact          `json:"overall_impact,omitempty"`
	RecommendedActions []string                `json:"recommended_actions"`
	ImmediateActions   []string                `json:"immediate_actions"`
	ResourceNeeds      []string                `json:"resource_needs"`
	ImpactCategory     string                  `json:"impact_category"`
	ImpactLevel        string                  `json:"impact_level"`
	Confidence         *float64                `json:"confidence,omitempty"`
	// Model is set by the client, not by the model output, and must
	// round-trip through the cache.
	Model string `json:"model,omitempty"`
}

// ImpactDetail is one categorized impact section (public health, local
// government, economic, environmental, education, infrastructure).
type ImpactDetail struct {
	Level            string   `json:"level"`
	Description      string   `json:"description"`
	AffectedEntities []string `json:"affected_entities"`
	Confidence       float64  `json:"confidence"`
}

// OverallImpact is the optional summary rating used to derive the primary
// impact rating.
type OverallImpact struct {
	Category    string `json:"category"`
	Level       string `json:"level"`
	Description string `json:"description"`
}
