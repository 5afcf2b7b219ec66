package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mrcode/nightscout-autotune/internal/models"
	"github.com/mrcode/nightscout-autotune/internal/reconcile"
)

// Profiles loads and persists named Nightscout profiles
type Profiles interface {
	LoadProfile(ctx context.Context, name string) (models.ProfileStore, string, error)
	Sync(ctx context.Context, profile models.ProfileStore, name string) (string, error)
}

// HistoryLoader returns validated history for the last N days
type HistoryLoader interface {
	Load(ctx context.Context, days int) (*models.HistoricalData, error)
}

// Tuner runs the autotune analysis
type Tuner interface {
	RunAnalysis(ctx context.Context, profile models.ProfileStore, data *models.HistoricalData, profileName string, days int) (*models.Recommendation, error)
}

// Notifier is told how a run ended
type Notifier interface {
	TuningComplete(rec *models.Recommendation, changes int) error
	ProfileSynced(rec *models.Recommendation, changes int) error
	TuningFailed(err error) error
}

// Options selects what a pipeline run does
type Options struct {
	ProfileName string // empty uses the document default
	Days        int
	Apply       bool // write the tuned profile back to Nightscout
	DryRun      bool // never write, even with Apply
}

// Outcome is the result of one pipeline run
type Outcome struct {
	ProfileName    string
	History        models.HistorySummary
	Recommendation *models.Recommendation
	Before         models.ProfileStore
	After          models.ProfileStore
	Changes        []reconcile.Change
	Synced         bool
}

// Pipeline runs load profile, load history, tune, reconcile and sync
type Pipeline struct {
	profiles Profiles
	history  HistoryLoader
	tuner    Tuner
	notifier Notifier
	logger   *zap.Logger
}

// NewPipeline wires a pipeline. notifier may be nil.
func NewPipeline(profiles Profiles, history HistoryLoader, tuner Tuner, notifier Notifier, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		profiles: profiles,
		history:  history,
		tuner:    tuner,
		notifier: notifier,
		logger:   logger,
	}
}

// Run executes one tuning run. Failures are reported to the notifier and
// returned.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Outcome, error) {
	out, err := p.run(ctx, opts)
	if err != nil {
		p.logger.Error("tuning run failed", zap.Error(err))
		p.notify(func(n Notifier) error { return n.TuningFailed(err) })
		return nil, err
	}

	if out.Synced {
		p.notify(func(n Notifier) error { return n.ProfileSynced(out.Recommendation, len(out.Changes)) })
	} else {
		p.notify(func(n Notifier) error { return n.TuningComplete(out.Recommendation, len(out.Changes)) })
	}
	return out, nil
}

func (p *Pipeline) run(ctx context.Context, opts Options) (*Outcome, error) {
	if opts.Days < 1 {
		return nil, fmt.Errorf("days must be at least 1, got %d", opts.Days)
	}

	// the resolved name is used for every later step
	before, name, err := p.profiles.LoadProfile(ctx, opts.ProfileName)
	if err != nil {
		return nil, fmt.Errorf("loading profile: %w", err)
	}
	logger := p.logger.With(zap.String("profile", name))

	data, err := p.history.Load(ctx, opts.Days)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	summary := data.Summary()
	logger.Info("history loaded",
		zap.Int("entries", summary.Entries),
		zap.Int("treatments", summary.Treatments))

	rec, err := p.tuner.RunAnalysis(ctx, before, data, name, opts.Days)
	if err != nil {
		return nil, err
	}

	after, err := reconcile.Apply(before, *rec)
	if err != nil {
		return nil, fmt.Errorf("applying recommendation: %w", err)
	}

	out := &Outcome{
		ProfileName:    name,
		History:        summary,
		Recommendation: rec,
		Before:         before,
		After:          after,
		Changes:        reconcile.Diff(before, after),
	}
	logger.Info("recommendation reconciled", zap.Int("changes", len(out.Changes)))

	if !opts.Apply || opts.DryRun {
		return out, nil
	}

	if _, err := p.profiles.Sync(ctx, after, name); err != nil {
		return nil, fmt.Errorf("syncing profile: %w", err)
	}
	out.Synced = true
	return out, nil
}

func (p *Pipeline) notify(send func(Notifier) error) {
	if p.notifier == nil {
		return
	}
	if err := send(p.notifier); err != nil {
		p.logger.Warn("notification failed", zap.Error(err))
	}
}
