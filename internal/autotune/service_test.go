package autotune

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrcode/nightscout-autotune/internal/models"
)

// executorFunc adapts a function to the Executor interface
type executorFunc func(ctx context.Context, inv Invocation) (ExecResult, error)

func (f executorFunc) Execute(ctx context.Context, inv Invocation) (ExecResult, error) {
	return f(ctx, inv)
}

const recommendationJSON = `{
	"basalprofile": [
		{"start": "00:00:00", "minutes": 60, "rate": 1.1},
		{"start": "01:00:00", "minutes": 60, "rate": 1.2}
	],
	"carb_ratio": 12.0,
	"sens": 55.0,
	"dia": 5.0
}`

func testProfile() models.ProfileStore {
	return models.ProfileStore{
		DIA:        5,
		CarbRatio:  []models.ScheduleEntry{{Time: "00:00", Value: 10}},
		Sens:       []models.ScheduleEntry{{Time: "00:00", Value: 50}},
		Basal:      []models.ScheduleEntry{{Time: "00:00", Value: 1}},
		TargetLow:  []models.TargetEntry{{Time: "00:00", Value: 90}},
		TargetHigh: []models.TargetEntry{{Time: "00:00", Value: 120}},
		Timezone:   "UTC",
		Units:      "mg/dL",
	}
}

func testData() *models.HistoricalData {
	insulin, carbs := 5.0, 50.0
	return &models.HistoricalData{
		Entries: []models.GlucoseEntry{
			{SGV: 120, Date: 1704067200000, DateStr: "2024-01-01T00:00:00Z", Type: "sgv"},
		},
		Treatments: []models.Treatment{
			{EventType: "Meal Bolus", CreatedAt: "2024-01-01T00:00:00Z", Insulin: &insulin, Carbs: &carbs},
		},
	}
}

func newTestService(t *testing.T, exec Executor, timeout time.Duration) *Service {
	t.Helper()
	s := NewService(exec, timeout, nil)
	s.tempRoot = t.TempDir()
	s.now = func() time.Time { return time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC) }
	return s
}

func writeOutput(inv Invocation, content string) error {
	return os.WriteFile(inv.OutputFile, []byte(content), 0o600)
}

func TestRunAnalysis_Success(t *testing.T) {
	var seen Invocation
	exec := executorFunc(func(_ context.Context, inv Invocation) (ExecResult, error) {
		seen = inv

		var profile models.ProfileStore
		b, err := os.ReadFile(inv.ProfilePath)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(b, &profile))
		assert.Equal(t, 5.0, profile.DIA)

		var entries []map[string]any
		b, err = os.ReadFile(inv.EntriesPath)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(b, &entries))
		assert.Len(t, entries, 1)

		var treatments []map[string]any
		b, err = os.ReadFile(inv.TreatmentsPath)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(b, &treatments))
		assert.Equal(t, "Meal Bolus", treatments[0]["eventType"])

		return ExecResult{Stdout: []byte("ok")}, writeOutput(inv, recommendationJSON)
	})

	s := newTestService(t, exec, time.Minute)
	rec, err := s.RunAnalysis(context.Background(), testProfile(), testData(), "Default", 7)
	require.NoError(t, err)

	assert.Equal(t, 12.0, rec.Result.CarbRatio)
	assert.Equal(t, 55.0, rec.Result.Sens)
	require.NotNil(t, rec.Result.DIA)
	assert.Equal(t, 5.0, *rec.Result.DIA)
	assert.Len(t, rec.Result.BasalProfile, 2)
	assert.Equal(t, "Default", rec.ProfileName)
	assert.Equal(t, 7, rec.DaysAnalyzed)
	assert.Equal(t, 7, seen.Days)

	_, err = os.Stat(seen.Dir)
	assert.True(t, errors.Is(err, os.ErrNotExist), "work dir should be removed, stat err = %v", err)
}

func TestRunAnalysis_NoOutput(t *testing.T) {
	exec := executorFunc(func(_ context.Context, _ Invocation) (ExecResult, error) {
		return ExecResult{Stdout: []byte("not enough data")}, nil
	})

	rec, err := newTestService(t, exec, time.Minute).RunAnalysis(context.Background(), testProfile(), testData(), "Default", 7)
	require.ErrorIs(t, err, ErrNoOutput)
	assert.Nil(t, rec)
}

func TestRunAnalysis_Timeout(t *testing.T) {
	exec := executorFunc(func(ctx context.Context, _ Invocation) (ExecResult, error) {
		<-ctx.Done()
		return ExecResult{}, ctx.Err()
	})

	_, err := newTestService(t, exec, 10*time.Millisecond).RunAnalysis(context.Background(), testProfile(), testData(), "Default", 7)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestRunAnalysis_ExecutionFailure(t *testing.T) {
	exec := executorFunc(func(_ context.Context, _ Invocation) (ExecResult, error) {
		return ExecResult{Stdout: []byte("partial"), Stderr: []byte("boom")}, errors.New("exit status 1")
	})

	_, err := newTestService(t, exec, time.Minute).RunAnalysis(context.Background(), testProfile(), testData(), "Default", 7)
	require.ErrorIs(t, err, ErrExecutionFailed)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "partial", execErr.Stdout)
	assert.Equal(t, "boom", execErr.Stderr)
}

func TestRunAnalysis_MalformedOutput(t *testing.T) {
	exec := executorFunc(func(_ context.Context, inv Invocation) (ExecResult, error) {
		return ExecResult{}, writeOutput(inv, `{"basalprofile":[],"carb_ratio":-1,"sens":55}`)
	})

	rec, err := newTestService(t, exec, time.Minute).RunAnalysis(context.Background(), testProfile(), testData(), "Default", 7)
	require.ErrorIs(t, err, models.ErrSchemaViolation)
	assert.Nil(t, rec)
}

func TestRunAnalysis_EmptyHistoryWritesEmptyArrays(t *testing.T) {
	exec := executorFunc(func(_ context.Context, inv Invocation) (ExecResult, error) {
		b, err := os.ReadFile(inv.EntriesPath)
		require.NoError(t, err)
		assert.JSONEq(t, `[]`, string(b))
		return ExecResult{}, nil
	})

	_, err := newTestService(t, exec, time.Minute).RunAnalysis(context.Background(), testProfile(), &models.HistoricalData{}, "Default", 1)
	require.ErrorIs(t, err, ErrNoOutput)
}

func TestRunAnalysis_RejectsZeroDays(t *testing.T) {
	called := false
	exec := executorFunc(func(_ context.Context, _ Invocation) (ExecResult, error) {
		called = true
		return ExecResult{}, nil
	})

	_, err := newTestService(t, exec, time.Minute).RunAnalysis(context.Background(), testProfile(), testData(), "Default", 0)
	require.Error(t, err)
	assert.False(t, called)
}

func TestRunAnalysis_PrivateWorkDirs(t *testing.T) {
	dirs := map[string]bool{}
	exec := executorFunc(func(_ context.Context, inv Invocation) (ExecResult, error) {
		dirs[inv.Dir] = true
		return ExecResult{}, writeOutput(inv, recommendationJSON)
	})

	s := newTestService(t, exec, time.Minute)
	for i := 0; i < 3; i++ {
		_, err := s.RunAnalysis(context.Background(), testProfile(), testData(), "Default", 7)
		require.NoError(t, err)
	}
	assert.Len(t, dirs, 3)
}

func TestCommandExecutor_Args(t *testing.T) {
	inv := Invocation{Dir: "/w", ProfilePath: "/w/profile.json", EntriesPath: "/w/entries.json", TreatmentsPath: "/w/treatments.json", Days: 3}
	want := []string{
		"--dir", "/w",
		"--ns-entries", "/w/entries.json",
		"--ns-treatments", "/w/treatments.json",
		"--profile", "/w/profile.json",
		"--days", "3",
	}
	assert.Equal(t, want, CommandExecutor{}.Args(inv))
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not available on windows")
	}
	path := filepath.Join(t.TempDir(), "fake-autotune")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o700))
	return path
}

func TestCommandExecutor_EndToEnd(t *testing.T) {
	script := writeScript(t, `cat > "$2/autotune/`+OutputName+`" <<'EOF'
`+recommendationJSON+`
EOF
`)

	s := newTestService(t, CommandExecutor{Path: script}, time.Minute)
	rec, err := s.RunAnalysis(context.Background(), testProfile(), testData(), "Default", 7)
	require.NoError(t, err)
	assert.Equal(t, 12.0, rec.Result.CarbRatio)
}

func TestCommandExecutor_NonZeroExit(t *testing.T) {
	script := writeScript(t, "echo working\necho 'insufficient data' >&2\nexit 3\n")

	s := newTestService(t, CommandExecutor{Path: script}, time.Minute)
	_, err := s.RunAnalysis(context.Background(), testProfile(), testData(), "Default", 7)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 3, execErr.ExitCode)
	assert.Contains(t, execErr.Stdout, "working")
	assert.Contains(t, execErr.Stderr, "insufficient data")
}

func TestCommandExecutor_Timeout(t *testing.T) {
	script := writeScript(t, "exec sleep 5\n")

	s := newTestService(t, CommandExecutor{Path: script}, 50*time.Millisecond)
	_, err := s.RunAnalysis(context.Background(), testProfile(), testData(), "Default", 7)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestCommandExecutor_TimeoutKillsChildren(t *testing.T) {
	// sleep runs as a child of the shell and holds the output pipes open
	script := writeScript(t, "sleep 5 &\nsleep 5\necho done\n")

	s := newTestService(t, CommandExecutor{Path: script, WaitDelay: time.Second}, 100*time.Millisecond)
	start := time.Now()
	_, err := s.RunAnalysis(context.Background(), testProfile(), testData(), "Default", 7)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 3*time.Second)
}
