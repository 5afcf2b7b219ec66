package autotune

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mrcode/nightscout-autotune/internal/models"
)

// DefaultTimeout bounds a single autotune run
const DefaultTimeout = 10 * time.Minute

// OutputName is the file autotune writes inside its output directory
const OutputName = "autotune_recommendations.json"

var (
	// ErrTimeout is returned when the run exceeds its time budget
	ErrTimeout = errors.New("autotune analysis timed out")
	// ErrExecutionFailed is matched by every *ExecutionError
	ErrExecutionFailed = errors.New("autotune execution failed")
	// ErrNoOutput means autotune exited cleanly without writing a
	// recommendation, which in practice means too little usable data.
	ErrNoOutput = errors.New("autotune did not produce a recommendations file; check that enough valid data was provided")
)

// ExecutionError carries the captured output of a failed run
type ExecutionError struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("autotune failed with exit code %d: %v: %s", e.ExitCode, e.Err, e.Stderr)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Is lets callers match with errors.Is(err, ErrExecutionFailed)
func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecutionFailed
}

// Service prepares autotune inputs, runs the executor and validates its output
type Service struct {
	executor Executor
	timeout  time.Duration
	tempRoot string
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a Service. A zero timeout uses DefaultTimeout.
func NewService(executor Executor, timeout time.Duration, logger *zap.Logger) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		executor: executor,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}
}

// RunAnalysis runs autotune over data using profile as the baseline and
// returns the validated recommendation. Each call works in its own
// temporary directory, removed before returning.
func (s *Service) RunAnalysis(ctx context.Context, profile models.ProfileStore, data *models.HistoricalData, profileName string, days int) (*models.Recommendation, error) {
	if days < 1 {
		return nil, fmt.Errorf("days must be at least 1, got %d", days)
	}

	runID := uuid.NewString()
	logger := s.logger.With(zap.String("run", runID), zap.String("profile", profileName))
	logger.Info("running autotune analysis", zap.Int("days", days))

	dir, err := os.MkdirTemp(s.tempRoot, "autotune-")
	if err != nil {
		return nil, fmt.Errorf("creating work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("removing work dir", zap.String("dir", dir), zap.Error(err))
		}
	}()

	inv, err := writeInputs(dir, profile, data, days)
	if err != nil {
		return nil, err
	}
	logger.Debug("wrote input files", zap.String("dir", dir))

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.executor.Execute(runCtx, inv)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			logger.Error("autotune execution timed out", zap.Duration("timeout", s.timeout))
			return nil, fmt.Errorf("%w after %s", ErrTimeout, s.timeout)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		execErr := &ExecutionError{
			ExitCode: -1,
			Stdout:   string(result.Stdout),
			Stderr:   string(result.Stderr),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			execErr.ExitCode = exitErr.ExitCode()
		}
		logger.Error("autotune failed",
			zap.Int("exitCode", execErr.ExitCode),
			zap.String("stdout", execErr.Stdout),
			zap.String("stderr", execErr.Stderr))
		return nil, execErr
	}

	logger.Debug("autotune finished", zap.ByteString("stdout", result.Stdout), zap.ByteString("stderr", result.Stderr))

	raw, err := os.ReadFile(inv.OutputFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoOutput
	}
	if err != nil {
		return nil, fmt.Errorf("reading recommendations: %w", err)
	}

	tuned, err := models.DecodeAutotuneResult(raw)
	if err != nil {
		return nil, err
	}

	rec := &models.Recommendation{
		Result:       tuned,
		ProfileName:  profileName,
		AnalysisDate: s.now(),
		DaysAnalyzed: days,
	}
	logger.Info("autotune analysis complete",
		zap.Float64("carbRatio", tuned.CarbRatio),
		zap.Float64("sens", tuned.Sens),
		zap.Int("basalSlots", len(tuned.BasalProfile)))
	return rec, nil
}

// writeInputs lays out profile.json, entries.json, treatments.json and the
// empty output directory under dir
func writeInputs(dir string, profile models.ProfileStore, data *models.HistoricalData, days int) (Invocation, error) {
	inv := Invocation{
		Dir:            dir,
		ProfilePath:    filepath.Join(dir, "profile.json"),
		EntriesPath:    filepath.Join(dir, "entries.json"),
		TreatmentsPath: filepath.Join(dir, "treatments.json"),
		OutputDir:      filepath.Join(dir, "autotune"),
		Days:           days,
	}
	inv.OutputFile = filepath.Join(inv.OutputDir, OutputName)

	entries := []models.GlucoseEntry{}
	treatments := []models.Treatment{}
	if data != nil {
		if data.Entries != nil {
			entries = data.Entries
		}
		if data.Treatments != nil {
			treatments = data.Treatments
		}
	}

	if err := os.Mkdir(inv.OutputDir, 0o700); err != nil {
		return inv, fmt.Errorf("creating output dir: %w", err)
	}
	files := []struct {
		path string
		v    any
	}{
		{inv.ProfilePath, profile},
		{inv.EntriesPath, entries},
		{inv.TreatmentsPath, treatments},
	}
	for _, f := range files {
		b, err := json.MarshalIndent(f.v, "", "  ")
		if err != nil {
			return inv, fmt.Errorf("encoding %s: %w", filepath.Base(f.path), err)
		}
		if err := os.WriteFile(f.path, b, 0o600); err != nil {
			return inv, fmt.Errorf("writing %s: %w", filepath.Base(f.path), err)
		}
	}
	return inv, nil
}
