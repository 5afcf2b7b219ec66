// Package reconcile merges autotune recommendations into Nightscout profiles.
//
// Apply never mutates its input: every result is built from a deep copy.
// Carb ratio and ISF are scalar recommendations and override every slot of
// their schedules while keeping the slot times. The basal schedule is
// replaced wholesale by the recommended one. Targets, timezone and units
// are left alone because autotune never recommends them.
package reconcile

import (
	"fmt"

	"github.com/mrcode/nightscout-autotune/internal/models"
)

// Apply returns a new profile with rec applied to profile.
//
// An empty recommended basal schedule yields an empty basal schedule. Such
// a profile fails models.ValidateProfile and is refused by profile sync.
func Apply(profile models.ProfileStore, rec models.Recommendation) (models.ProfileStore, error) {
	updated := profile.Clone()
	result := rec.Result

	for i := range updated.CarbRatio {
		updated.CarbRatio[i].Value = result.CarbRatio
	}
	for i := range updated.Sens {
		updated.Sens[i].Value = result.Sens
	}

	basal := make([]models.ScheduleEntry, 0, len(result.BasalProfile))
	for i, b := range result.BasalProfile {
		// HH:MM:SS is truncated to HH:MM, never rounded
		c, err := models.ParseClock(b.Start, true)
		if err != nil {
			return models.ProfileStore{}, fmt.Errorf("basalprofile[%d]: %w", i, err)
		}
		basal = append(basal, models.NewScheduleEntry(c, b.Rate))
	}
	updated.Basal = basal

	if result.DIA != nil {
		updated.DIA = *result.DIA
	}

	return updated, nil
}
