package models

// Treatment represents a treatment entry from Nightscout (insulin, carbs, temp basals, ...)
type Treatment struct {
	ID          string   `json:"_id,omitempty"`
	EventType   string   `json:"eventType" validate:"required"`
	CreatedAt   string   `json:"created_at" validate:"required"`
	Timestamp   string   `json:"timestamp,omitempty"`
	Insulin     *float64 `json:"insulin,omitempty" validate:"omitnil,gte=0"` // Units of insulin
	Carbs       *float64 `json:"carbs,omitempty" validate:"omitnil,gte=0"`   // Grams of carbohydrates
	Glucose     *float64 `json:"glucose,omitempty"`                          // Blood glucose value if recorded
	GlucoseType string   `json:"glucoseType,omitempty"`                      // "Sensor", "Finger", "Manual"
	Notes       string   `json:"notes,omitempty"`
	EnteredBy   string   `json:"enteredBy,omitempty"`

	// Temp basal fields, needed by autotune to reconstruct delivered insulin
	Duration *float64 `json:"duration,omitempty" validate:"omitnil,gte=0"` // minutes
	Absolute *float64 `json:"absolute,omitempty" validate:"omitnil,gte=0"` // U/hr
	Rate     *float64 `json:"rate,omitempty" validate:"omitnil,gte=0"`     // U/hr
	Percent  *float64 `json:"percent,omitempty"`
}

// HasInsulin returns true if this treatment includes insulin
func (t *Treatment) HasInsulin() bool {
	return t.Insulin != nil && *t.Insulin > 0
}

// HasCarbs returns true if this treatment includes carbohydrates
func (t *Treatment) HasCarbs() bool {
	return t.Carbs != nil && *t.Carbs > 0
}

// EventTypeTempBasal is the Nightscout event type of temporary basal rates
const EventTypeTempBasal = "Temp Basal"
