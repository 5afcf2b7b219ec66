package models

import "time"

// HistoricalData is the validated glucose and treatment history for a window
type HistoricalData struct {
	Entries    []GlucoseEntry `json:"entries"`
	Treatments []Treatment    `json:"treatments"`
	StartDate  time.Time      `json:"start_date"`
	EndDate    time.Time      `json:"end_date"`
}

// HistorySummary condenses a dataset for display
type HistorySummary struct {
	Entries      int
	Treatments   int
	MeanMgDL     float64
	TotalInsulin float64
	TotalCarbs   float64
	TempBasals   int
}

// Summary aggregates the dataset
func (h *HistoricalData) Summary() HistorySummary {
	s := HistorySummary{
		Entries:    len(h.Entries),
		Treatments: len(h.Treatments),
	}

	var sum int
	for i := range h.Entries {
		sum += h.Entries[i].SGV
	}
	if len(h.Entries) > 0 {
		s.MeanMgDL = float64(sum) / float64(len(h.Entries))
	}

	for i := range h.Treatments {
		t := &h.Treatments[i]
		if t.HasInsulin() {
			s.TotalInsulin += *t.Insulin
		}
		if t.HasCarbs() {
			s.TotalCarbs += *t.Carbs
		}
		if t.EventType == EventTypeTempBasal {
			s.TempBasals++
		}
	}
	return s
}
