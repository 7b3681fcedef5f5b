package allocation

import (
	"github.com/carehome/bedengine/internal/domain/apperr"
	"github.com/carehome/bedengine/internal/domain/bed"
)

// Scoring weights. Terms are additive.
const (
	WeightAvailable   = 100
	WeightBedType     = 50
	WeightRequirement = 10
	WeightFloor       = 20
	WeightWing        = 20
)

// Criteria describes what a resident needs from a bed.
type Criteria struct {
	ResidentID          string   `json:"resident_id,omitempty"`
	FacilityID          string   `json:"facility_id,omitempty"`
	CareLevel           string   `json:"care_level,omitempty"`
	PreferredBedTypes   []string `json:"preferred_bed_types,omitempty"`
	SpecialRequirements []string `json:"special_requirements,omitempty"`
	PreferredFloor      *int     `json:"preferred_floor,omitempty"`
	PreferredWing       string   `json:"preferred_wing,omitempty"`
	WeightKg            float64  `json:"weight_kg,omitempty"`
}

func (c Criteria) Validate() error {
	if c.WeightKg < 0 {
		return apperr.Validation("weight_kg must not be negative")
	}
	for _, t := range c.PreferredBedTypes {
		if t == "" {
			return apperr.Validation("preferred_bed_types must not contain empty values")
		}
	}
	for _, r := range c.SpecialRequirements {
		if r == "" {
			return apperr.Validation("special_requirements must not contain empty values")
		}
	}
	return nil
}

// Match is a scored candidate.
type Match struct {
	Bed     *bed.Bed `json:"bed"`
	Score   int      `json:"score"`
	Reasons []string `json:"reasons"`
}
