// Package history loads and validates windows of Nightscout glucose and
// treatment history.
//
// Upstream feeds regularly contain malformed records (sensor warm-up values,
// hand-entered notes missing fields, ...). A record that fails validation is
// dropped and logged; only transport errors fail a load.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mrcode/nightscout-autotune/internal/models"
	"github.com/mrcode/nightscout-autotune/internal/nightscout"
)

// Source is the part of the Nightscout client the loader needs
type Source interface {
	FetchEntries(ctx context.Context, from, to time.Time, count int) ([]json.RawMessage, error)
	FetchTreatments(ctx context.Context, from, to time.Time, count int) ([]json.RawMessage, error)
}

// Loader builds HistoricalData for the last N days
type Loader struct {
	source Source
	logger *zap.Logger
	count  int
	now    func() time.Time
}

// NewLoader creates a loader reading from source
func NewLoader(source Source, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		source: source,
		logger: logger,
		count:  nightscout.DefaultCount,
		now:    time.Now,
	}
}

// Load fetches entries and treatments for [now-days, now] and keeps the
// records that validate. An empty result is not an error.
func (l *Loader) Load(ctx context.Context, days int) (*models.HistoricalData, error) {
	if days < 1 {
		return nil, fmt.Errorf("days must be at least 1, got %d", days)
	}

	end := l.now()
	start := end.AddDate(0, 0, -days)
	l.logger.Info("loading historical data",
		zap.Int("days", days),
		zap.Time("start", start),
		zap.Time("end", end))

	var rawEntries, rawTreatments []json.RawMessage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rawEntries, err = l.source.FetchEntries(gctx, start, end, l.count)
		if err != nil {
			return fmt.Errorf("fetching entries: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		rawTreatments, err = l.source.FetchTreatments(gctx, start, end, l.count)
		if err != nil {
			return fmt.Errorf("fetching treatments: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	data := &models.HistoricalData{
		Entries:    keepValid(l.logger, "entry", rawEntries, models.DecodeGlucoseEntry),
		Treatments: keepValid(l.logger, "treatment", rawTreatments, models.DecodeTreatment),
		StartDate:  start,
		EndDate:    end,
	}

	l.logger.Info("loaded historical data",
		zap.Int("entries", len(data.Entries)),
		zap.Int("droppedEntries", len(rawEntries)-len(data.Entries)),
		zap.Int("treatments", len(data.Treatments)),
		zap.Int("droppedTreatments", len(rawTreatments)-len(data.Treatments)))
	return data, nil
}

// keepValid decodes each record, logging one warning per record it drops
func keepValid[T any](logger *zap.Logger, kind string, raw []json.RawMessage, decode func([]byte) (T, error)) []T {
	out := make([]T, 0, len(raw))
	for i, r := range raw {
		v, err := decode(r)
		if err != nil {
			logger.Warn("skipping invalid "+kind, zap.Int("index", i), zap.Error(err))
			continue
		}
		out = append(out, v)
	}
	return out
}
