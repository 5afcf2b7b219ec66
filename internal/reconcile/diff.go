package reconcile

import (
	"fmt"
	"math"

	"github.com/mrcode/nightscout-autotune/internal/models"
)

// Change describes one difference between two profiles
type Change struct {
	Schedule string // "dia", "carbratio", "sens" or "basal"
	Time     string // slot time, empty for dia
	Old      *float64
	New      *float64
}

func (c Change) String() string {
	label := c.Schedule
	if c.Time != "" {
		label += "@" + c.Time
	}
	switch {
	case c.Old == nil:
		return fmt.Sprintf("%s: added %.3g", label, *c.New)
	case c.New == nil:
		return fmt.Sprintf("%s: removed %.3g", label, *c.Old)
	default:
		return fmt.Sprintf("%s: %.3g -> %.3g", label, *c.Old, *c.New)
	}
}

// Diff lists what changed between before and after, slot by slot.
// Slots are matched by their time of day, and slots sharing a time by their
// order.
func Diff(before, after models.ProfileStore) []Change {
	var changes []Change
	if before.DIA != after.DIA {
		changes = append(changes, Change{Schedule: "dia", Old: ptr(before.DIA), New: ptr(after.DIA)})
	}
	changes = append(changes, diffSchedule("carbratio", before.CarbRatio, after.CarbRatio)...)
	changes = append(changes, diffSchedule("sens", before.Sens, after.Sens)...)
	changes = append(changes, diffSchedule("basal", before.Basal, after.Basal)...)
	return changes
}

// slotKey tells apart slots that share a time of day by their order
type slotKey struct {
	seconds int
	n       int
}

func slotKeys(entries []models.ScheduleEntry) []slotKey {
	counts := make(map[int]int, len(entries))
	keys := make([]slotKey, len(entries))
	for i, e := range entries {
		keys[i] = slotKey{seconds: e.TimeAsSeconds, n: counts[e.TimeAsSeconds]}
		counts[e.TimeAsSeconds]++
	}
	return keys
}

func diffSchedule(name string, before, after []models.ScheduleEntry) []Change {
	beforeKeys := slotKeys(before)
	old := make(map[slotKey]float64, len(before))
	for i, e := range before {
		old[beforeKeys[i]] = e.Value
	}

	afterKeys := slotKeys(after)
	var changes []Change
	seen := make(map[slotKey]bool, len(after))
	for i, e := range after {
		key := afterKeys[i]
		seen[key] = true
		prev, ok := old[key]
		switch {
		case !ok:
			changes = append(changes, Change{Schedule: name, Time: e.Time, New: ptr(e.Value)})
		case !almostEqual(prev, e.Value):
			changes = append(changes, Change{Schedule: name, Time: e.Time, Old: ptr(prev), New: ptr(e.Value)})
		}
	}
	for i, e := range before {
		if !seen[beforeKeys[i]] {
			changes = append(changes, Change{Schedule: name, Time: e.Time, Old: ptr(e.Value)})
		}
	}
	return changes
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func ptr(v float64) *float64 { return &v }
