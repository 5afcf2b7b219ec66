package models

import "time"

// GlucoseEntry represents a single glucose reading from Nightscout
type GlucoseEntry struct {
	ID        string `json:"_id,omitempty"`
	SGV       int    `json:"sgv" validate:"gte=20,lte=600"` // Sensor glucose value in mg/dL
	Date      int64  `json:"date" validate:"required"`      // Unix timestamp in milliseconds
	DateStr   string `json:"dateString" validate:"required"`
	Type      string `json:"type" validate:"required"`
	Direction string `json:"direction,omitempty"` // Trend direction as string
	Device    string `json:"device,omitempty"`
}

// Time returns the time of the glucose entry
func (g *GlucoseEntry) Time() time.Time {
	return time.UnixMilli(g.Date)
}

// ValueMmolL returns the glucose value in mmol/L
func (g *GlucoseEntry) ValueMmolL() float64 {
	return float64(g.SGV) / 18.0182
}
