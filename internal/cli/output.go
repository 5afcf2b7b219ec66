package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/mrcode/nightscout-autotune/internal/backup"
	"github.com/mrcode/nightscout-autotune/internal/models"
	"github.com/mrcode/nightscout-autotune/internal/reconcile"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	addedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	removedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	changedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

func heading(w io.Writer, title string) {
	fmt.Fprintln(w, headingStyle.Render(title))
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...)
}

func formatRate(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// printProfile writes the schedules of a profile as tables
func printProfile(w io.Writer, name string, p models.ProfileStore) {
	heading(w, fmt.Sprintf("Profile %s", name))
	fmt.Fprintf(w, "DIA: %s h   Units: %s   Timezone: %s\n", formatRate(p.DIA), p.Units, p.Timezone)

	schedules := []struct {
		title   string
		entries []models.ScheduleEntry
	}{
		{"Basal (U/h)", p.Basal},
		{"Carb ratio (g/U)", p.CarbRatio},
		{"Sensitivity (" + p.Units + "/U)", p.Sens},
	}
	for _, s := range schedules {
		t := newTable("Time", s.title)
		for _, e := range s.entries {
			t.Row(e.Time, formatRate(e.Value))
		}
		fmt.Fprintln(w, t.String())
	}

	t := newTable("Time", "Target low", "Target high")
	for i, low := range p.TargetLow {
		high := "-"
		if i < len(p.TargetHigh) {
			high = formatRate(p.TargetHigh[i].Value)
		}
		t.Row(low.Time, formatRate(low.Value), high)
	}
	fmt.Fprintln(w, t.String())
}

// printChanges writes one line per changed slot
func printChanges(w io.Writer, changes []reconcile.Change) {
	if len(changes) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No changes recommended."))
		return
	}
	for _, c := range changes {
		line := c.String()
		switch {
		case c.Old == nil:
			line = addedStyle.Render("+ " + line)
		case c.New == nil:
			line = removedStyle.Render("- " + line)
		default:
			line = changedStyle.Render("~ " + line)
		}
		fmt.Fprintln(w, line)
	}
}

// printRecommendation writes the raw autotune result
func printRecommendation(w io.Writer, rec *models.Recommendation) {
	heading(w, fmt.Sprintf("Recommendation for %s (%d days)", rec.ProfileName, rec.DaysAnalyzed))
	fmt.Fprintf(w, "Carb ratio: %s g/U   ISF: %s\n", formatRate(rec.Result.CarbRatio), formatRate(rec.Result.Sens))
	if rec.Result.DIA != nil {
		fmt.Fprintf(w, "DIA: %s h\n", formatRate(*rec.Result.DIA))
	}
	t := newTable("Start", "Minutes", "Rate (U/h)")
	for _, b := range rec.Result.BasalProfile {
		t.Row(b.Start, strconv.Itoa(b.Minutes), formatRate(b.Rate))
	}
	fmt.Fprintln(w, t.String())
}

// printSummary writes the history counters and the latest reading
func printSummary(w io.Writer, data *models.HistoricalData, now time.Time) {
	s := data.Summary()
	heading(w, fmt.Sprintf("History %s to %s",
		data.StartDate.Local().Format(time.DateTime), data.EndDate.Local().Format(time.DateTime)))
	fmt.Fprintf(w, "Glucose entries: %d   Mean: %.0f mg/dL\n", s.Entries, s.MeanMgDL)
	fmt.Fprintf(w, "Treatments: %d   Insulin: %.1f U   Carbs: %.0f g   Temp basals: %d\n",
		s.Treatments, s.TotalInsulin, s.TotalCarbs, s.TempBasals)

	var latest *models.GlucoseEntry
	for i := range data.Entries {
		if latest == nil || data.Entries[i].Date > latest.Date {
			latest = &data.Entries[i]
		}
	}
	if latest != nil {
		fmt.Fprintf(w, "Latest reading: %d mg/dL %s\n",
			latest.SGV, humanize.RelTime(latest.Time(), now, "ago", "from now"))
	}
}

// printSnapshots writes the backup list
func printSnapshots(w io.Writer, snaps []backup.Snapshot, now time.Time) {
	if len(snaps) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No backups yet."))
		return
	}
	t := newTable("ID", "Profile", "Saved", "Basal slots")
	for _, s := range snaps {
		t.Row(s.ID, s.ProfileName, humanize.RelTime(s.CreatedAt, now, "ago", "from now"), strconv.Itoa(len(s.Profile.Basal)))
	}
	fmt.Fprintln(w, t.String())
}

func joinNames(names []string, def string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = n
		if n == def {
			out[i] += " (default)"
		}
	}
	return strings.Join(out, "\n")
}
