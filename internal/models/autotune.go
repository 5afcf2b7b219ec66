package models

import "time"

// BasalRecommendation is a single basal slot from the autotune output
type BasalRecommendation struct {
	Start   string  `json:"start" validate:"required,clocksec"` // HH:MM:SS
	Minutes int     `json:"minutes" validate:"gte=0"`
	Rate    float64 `json:"rate" validate:"gte=0"` // U/hr
}

// AutotuneResult is the recommendation document written by autotune
type AutotuneResult struct {
	BasalProfile []BasalRecommendation `json:"basalprofile" validate:"required,dive"`
	CarbRatio    float64               `json:"carb_ratio" validate:"gt=0"`
	Sens         float64               `json:"sens" validate:"gt=0"`
	DIA          *float64              `json:"dia,omitempty" validate:"omitnil,gt=0"`
}

// Recommendation wraps an autotune result with its provenance
type Recommendation struct {
	Result       AutotuneResult `json:"result"`
	ProfileName  string         `json:"profileName" validate:"required"`
	AnalysisDate time.Time      `json:"analysisDate" validate:"required"`
	DaysAnalyzed int            `json:"daysAnalyzed" validate:"gte=1"`
}
