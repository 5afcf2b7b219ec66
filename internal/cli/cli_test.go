package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mrcode/nightscout-autotune/internal/backup"
	"github.com/mrcode/nightscout-autotune/internal/models"
	"github.com/mrcode/nightscout-autotune/internal/reconcile"
)

func init() {
	buildLogger = func(bool) (*zap.Logger, error) { return zap.NewNop(), nil }
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	t.Setenv("NIGHTSCOUT_URL", "")
	t.Setenv("NIGHTSCOUT_API_SECRET", "")
	t.Setenv("NIGHTSCOUT_API_TOKEN", "")
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	root := NewRootCommand()
	for _, path := range [][]string{
		{"status"},
		{"profile", "show"},
		{"profile", "list"},
		{"history"},
		{"tune"},
		{"backups", "list"},
		{"backups", "restore"},
		{"notify", "test"},
		{"init"},
		{"version"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, strings.Join(path, " "))
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	tune, _, _ := root.Find([]string{"tune"})
	for _, flag := range []string{"days", "profile", "apply", "dry-run", "report"} {
		assert.NotNil(t, tune.Flags().Lookup(flag), "tune --%s", flag)
	}
}

func TestVersion(t *testing.T) {
	cfg := writeConfig(t, "")
	out, err := run(t, "--config", cfg, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "nightscout-autotune dev")
}

func TestInit(t *testing.T) {
	t.Setenv("NIGHTSCOUT_URL", "")
	path := filepath.Join(t.TempDir(), "conf", "settings.yaml")

	out, err := run(t, "--config", path, "init", "--url", "https://ns.example.com")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	settings, err := models.LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "https://ns.example.com", settings.NightscoutURL)
	assert.Equal(t, models.DefaultSettings().Days, settings.Days)

	_, err = run(t, "--config", path, "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = run(t, "--config", path, "init", "--force")
	require.NoError(t, err)
	settings, err = models.LoadSettings(path)
	require.NoError(t, err)
	assert.Empty(t, settings.NightscoutURL)
}

func TestInit_RejectsBadURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	_, err := run(t, "--config", path, "init", "--url", "not a url")
	require.ErrorIs(t, err, models.ErrSchemaViolation)
	assert.NoFileExists(t, path)
}

type fakeNotifier struct {
	sent int
	err  error
}

func (f *fakeNotifier) SendTestNotification() error {
	f.sent++
	return f.err
}

func useNotifier(t *testing.T, n *fakeNotifier) {
	t.Helper()
	orig := newTestNotifier
	newTestNotifier = func(*models.Settings) testNotifier { return n }
	t.Cleanup(func() { newTestNotifier = orig })
}

func TestNotifyTest(t *testing.T) {
	n := &fakeNotifier{}
	useNotifier(t, n)

	out, err := run(t, "--config", writeConfig(t, ""), "notify", "test")
	require.NoError(t, err)
	assert.Equal(t, 1, n.sent)
	assert.Contains(t, out, "Notifications are disabled")

	out, err = run(t, "--config", writeConfig(t, "enableNotifications: true\n"), "notify", "test")
	require.NoError(t, err)
	assert.Equal(t, 2, n.sent)
	assert.NotContains(t, out, "disabled")

	n.err = errors.New("no notification daemon")
	_, err = run(t, "--config", writeConfig(t, ""), "notify", "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no notification daemon")
}

func TestStatus_Unconfigured(t *testing.T) {
	cfg := writeConfig(t, "")
	_, err := run(t, "--config", cfg, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestBackupsList(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "backups.db")
	cfg := writeConfig(t, "nightscoutUrl: https://ns.example.com\nbackupDb: "+db+"\n")

	out, err := run(t, "--config", cfg, "backups", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No backups yet.")

	store, err := backup.Open(db, nil)
	require.NoError(t, err)
	snap, err := store.Save(context.Background(), "Default", models.ProfileStore{
		Basal: []models.ScheduleEntry{{Time: "00:00", Value: 1}},
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	out, err = run(t, "--config", cfg, "backups", "list", "--profile", "Default")
	require.NoError(t, err)
	assert.Contains(t, out, snap.ID)
	assert.Contains(t, out, "Default")
}

func TestBackupsRestore_RequiresID(t *testing.T) {
	cfg := writeConfig(t, "nightscoutUrl: https://ns.example.com\n")
	_, err := run(t, "--config", cfg, "backups", "restore")
	require.Error(t, err)
}

func TestBackupsList_Disabled(t *testing.T) {
	cfg := writeConfig(t, "nightscoutUrl: https://ns.example.com\n")
	_, err := run(t, "--config", cfg, "backups", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backups are disabled")
}

func TestPrintChanges(t *testing.T) {
	old, updated := 10.0, 12.0
	var buf bytes.Buffer
	printChanges(&buf, []reconcile.Change{
		{Schedule: "carbratio", Time: "00:00", Old: &old, New: &updated},
		{Schedule: "basal", Time: "06:30", New: &updated},
		{Schedule: "basal", Time: "06:00", Old: &old},
	})

	out := buf.String()
	assert.Contains(t, out, "~ carbratio@00:00: 10 -> 12")
	assert.Contains(t, out, "+ basal@06:30: added 12")
	assert.Contains(t, out, "- basal@06:00: removed 10")

	buf.Reset()
	printChanges(&buf, nil)
	assert.Contains(t, buf.String(), "No changes recommended.")
}

func TestPrintProfile(t *testing.T) {
	var buf bytes.Buffer
	printProfile(&buf, "Default", models.ProfileStore{
		DIA:        5,
		Basal:      []models.ScheduleEntry{{Time: "06:30", Value: 1.25, TimeAsSeconds: 23400}},
		CarbRatio:  []models.ScheduleEntry{{Time: "00:00", Value: 10}},
		Sens:       []models.ScheduleEntry{{Time: "00:00", Value: 50}},
		TargetLow:  []models.TargetEntry{{Time: "00:00", Value: 90}},
		TargetHigh: []models.TargetEntry{{Time: "00:00", Value: 120}},
		Units:      "mg/dL",
		Timezone:   "UTC",
	})

	out := buf.String()
	for _, want := range []string{"Profile Default", "DIA: 5 h", "06:30", "1.25", "Target low", "120"} {
		assert.Contains(t, out, want)
	}
}

func TestPrintSnapshots(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printSnapshots(&buf, []backup.Snapshot{
		{ID: "abc", ProfileName: "Default", CreatedAt: now.Add(-3 * time.Hour)},
	}, now)
	assert.Contains(t, buf.String(), "3 hours ago")
}

func TestPrintSummary(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	data := &models.HistoricalData{
		Entries: []models.GlucoseEntry{
			{SGV: 140, Date: now.Add(-10 * time.Minute).UnixMilli()},
			{SGV: 100, Date: now.Add(-2 * time.Hour).UnixMilli()},
		},
		StartDate: now.Add(-24 * time.Hour),
		EndDate:   now,
	}

	var buf bytes.Buffer
	printSummary(&buf, data, now)
	out := buf.String()
	assert.Contains(t, out, "Glucose entries: 2   Mean: 120 mg/dL")
	assert.Contains(t, out, "Latest reading: 140 mg/dL 10 minutes ago")

	buf.Reset()
	printSummary(&buf, &models.HistoricalData{}, now)
	assert.NotContains(t, buf.String(), "Latest reading")
}

func TestJoinNames(t *testing.T) {
	assert.Equal(t, "A (default)\nB", joinNames([]string{"A", "B"}, "A"))
}
