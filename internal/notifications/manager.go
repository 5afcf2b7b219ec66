// Package notifications handles desktop notifications for tuning runs
package notifications

import (
	"errors"
	"fmt"

	"github.com/gen2brain/beeep"

	"github.com/mrcode/nightscout-autotune/internal/autotune"
	"github.com/mrcode/nightscout-autotune/internal/models"
	"github.com/mrcode/nightscout-autotune/internal/profilesync"
)

// Event kinds
const (
	eventTuned   = "tuned"
	eventSynced  = "synced"
	eventFailure = "failure"
)

// notify is replaced in tests
var notify = func(title, message string) error {
	return beeep.Notify(title, message, "")
}

// Manager sends notifications about tuning runs
type Manager struct {
	enabled bool
}

// NewManager creates a new notification manager
func NewManager(settings *models.Settings) *Manager {
	return &Manager{enabled: settings != nil && settings.EnableNotifications}
}

// TuningComplete reports a finished analysis that was not synced
func (m *Manager) TuningComplete(rec *models.Recommendation, changes int) error {
	title, message := formatNotification(eventTuned, rec, changes, nil)
	return m.send(title, message)
}

// ProfileSynced reports a tuned profile written back to Nightscout
func (m *Manager) ProfileSynced(rec *models.Recommendation, changes int) error {
	title, message := formatNotification(eventSynced, rec, changes, nil)
	return m.send(title, message)
}

// TuningFailed reports a failed run
func (m *Manager) TuningFailed(err error) error {
	title, message := formatNotification(eventFailure, nil, 0, err)
	return m.send(title, message)
}

// SendTestNotification sends a test notification, even when notifications
// are disabled
func (m *Manager) SendTestNotification() error {
	return notify("Nightscout Autotune", "Test notification - notifications are working!")
}

func (m *Manager) send(title, message string) error {
	if !m.enabled {
		return nil
	}
	return notify(title, message)
}

// formatNotification creates the notification title and message
func formatNotification(event string, rec *models.Recommendation, changes int, err error) (string, string) {
	switch event {
	case eventTuned:
		return "Autotune finished",
			fmt.Sprintf("%s: %d change(s) recommended from %d day(s) of data (not applied)",
				rec.ProfileName, changes, rec.DaysAnalyzed)
	case eventSynced:
		return "✅ Profile updated",
			fmt.Sprintf("%s: %d change(s) applied. Carb ratio %.1f g/U, ISF %.1f",
				rec.ProfileName, changes, rec.Result.CarbRatio, rec.Result.Sens)
	}
	return "⚠️ Autotune failed", failureMessage(err)
}

// failureMessage turns the common failures into something actionable
func failureMessage(err error) string {
	switch {
	case errors.Is(err, autotune.ErrNoOutput):
		return "Not enough data for a recommendation. Try analysing more days."
	case errors.Is(err, autotune.ErrTimeout):
		return "The analysis took too long and was stopped."
	case errors.Is(err, autotune.ErrExecutionFailed):
		return "oref0-autotune exited with an error. Run with --verbose for details."
	case errors.Is(err, profilesync.ErrProfileNotFound), errors.Is(err, profilesync.ErrProfileNameUnresolved):
		return "Could not find the profile to tune: " + err.Error()
	case errors.Is(err, models.ErrSchemaViolation):
		return "Invalid data: " + err.Error()
	case err != nil:
		return err.Error()
	}
	return "unknown error"
}
