// Package materialize copies each record's best attempt onto the record as
// its current location.
package materialize

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vote-match/internal/metrics"
	"github.com/sells-group/vote-match/internal/model"
	"github.com/sells-group/vote-match/internal/resolve"
	"github.com/sells-group/vote-match/internal/runlog"
)

const attemptChunk = 1000

// Store is what sync needs from persistence.
type Store interface {
	ListSyncCandidates(ctx context.Context, force bool, limit int) ([]model.Record, error)
	AttemptsFor(ctx context.Context, recordIDs []string) (map[string][]model.Attempt, error)
	SetLocation(ctx context.Context, recordID string, loc model.Location, legacy bool) error
}

// Options controls one sync.
type Options struct {
	Limit int
	// Force rewrites locations that are already set.
	Force bool
	// SkipLegacy leaves the matched-address display field alone.
	SkipLegacy bool
}

// Stats counts what happened to each visited record.
type Stats struct {
	Processed        int `json:"processed" yaml:"processed"`
	Updated          int `json:"updated" yaml:"updated"`
	SkippedNoResults int `json:"skipped_no_results" yaml:"skipped_no_results"`
	SkippedNoCoords  int `json:"skipped_no_coords" yaml:"skipped_no_coords"`
	AlreadySet       int `json:"already_set" yaml:"already_set"`
}

// Materializer syncs best attempts onto records.
type Materializer struct {
	store   Store
	runs    *runlog.Log
	metrics *metrics.Metrics
}

// New creates a Materializer. runs and m may be nil.
func New(st Store, runs *runlog.Log, m *metrics.Metrics) *Materializer {
	return &Materializer{store: st, runs: runs, metrics: m}
}

// Sync walks candidates in id order. Without Force a second run over the same
// attempts writes nothing.
func (m *Materializer) Sync(ctx context.Context, opts Options) (*Stats, error) {
	log := zap.L().With(zap.String("component", "materialize"))

	runID, err := m.runs.Start(ctx, runlog.KindSync, "")
	if err != nil {
		log.Warn("materialize: run log start failed", zap.Error(err))
	}
	stats, err := m.sync(ctx, log, opts)
	m.runs.Finish(ctx, runID, stats, err)
	if stats != nil {
		m.metrics.AddSync("updated", stats.Updated)
		m.metrics.AddSync("already_set", stats.AlreadySet)
		m.metrics.AddSync("skipped_no_results", stats.SkippedNoResults)
		m.metrics.AddSync("skipped_no_coords", stats.SkippedNoCoords)
	}
	return stats, err
}

func (m *Materializer) sync(ctx context.Context, log *zap.Logger, opts Options) (*Stats, error) {
	recs, err := m.store.ListSyncCandidates(ctx, opts.Force, opts.Limit)
	if err != nil {
		return nil, eris.Wrap(err, "materialize: list candidates")
	}

	stats := &Stats{}
	for start := 0; start < len(recs); start += attemptChunk {
		chunk := recs[start:min(start+attemptChunk, len(recs))]
		ids := make([]string, len(chunk))
		for i, r := range chunk {
			ids[i] = r.ID
		}
		attempts, err := m.store.AttemptsFor(ctx, ids)
		if err != nil {
			return stats, eris.Wrap(err, "materialize: load attempts")
		}

		for _, r := range chunk {
			stats.Processed++
			switch loc, outcome := decide(r, attempts[r.ID], opts.Force); outcome {
			case outcomeNoResults:
				stats.SkippedNoResults++
			case outcomeAlreadySet:
				stats.AlreadySet++
			case outcomeNoCoords:
				stats.SkippedNoCoords++
			case outcomeUpdate:
				if err := m.store.SetLocation(ctx, r.ID, loc, !opts.SkipLegacy); err != nil {
					return stats, eris.Wrapf(err, "materialize: set location for %s", r.ID)
				}
				stats.Updated++
			}
		}
	}

	log.Info("materialize: complete",
		zap.Int("processed", stats.Processed),
		zap.Int("updated", stats.Updated),
		zap.Int("already_set", stats.AlreadySet),
		zap.Int("skipped_no_results", stats.SkippedNoResults),
		zap.Int("skipped_no_coords", stats.SkippedNoCoords),
	)
	return stats, nil
}

type outcome int

const (
	outcomeUpdate outcome = iota
	outcomeNoResults
	outcomeAlreadySet
	outcomeNoCoords
)

// decide classifies one record. The checks run in a fixed order: no
// attempts, already set (unless forced), best lacks coordinates.
func decide(r model.Record, attempts []model.Attempt, force bool) (model.Location, outcome) {
	if len(attempts) == 0 {
		return model.Location{}, outcomeNoResults
	}
	if !force && r.Location != nil {
		return model.Location{}, outcomeAlreadySet
	}
	loc, ok := resolve.Location(resolve.Best(attempts))
	if !ok {
		return model.Location{}, outcomeNoCoords
	}
	return loc, outcomeUpdate
}
