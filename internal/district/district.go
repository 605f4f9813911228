// Package district assigns located records to boundary polygons and compares
// the result with each record's self-reported value.
package district

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vote-match/internal/metrics"
	"github.com/sells-group/vote-match/internal/model"
	"github.com/sells-group/vote-match/internal/runlog"
	"github.com/sells-group/vote-match/internal/store"
)

// DefaultSaveBatchSize bounds one assignment upsert.
const DefaultSaveBatchSize = 1000

// Config holds district settings.
type Config struct {
	// Types are boundary types accepted even before any are loaded.
	Types         []string `yaml:"types" mapstructure:"types"`
	SaveBatchSize int      `yaml:"save_batch_size" mapstructure:"save_batch_size"`
}

// Store is what the engine needs from persistence.
type Store interface {
	BoundaryTypes(ctx context.Context) ([]string, error)
	SpatialJoin(ctx context.Context, boundaryType string, limit int) ([]store.SpatialMatch, error)
	UpsertAssignments(ctx context.Context, assignments []model.Assignment) error
	RefreshMismatch(ctx context.Context, recordIDs []string) error
}

// Options controls one compare.
type Options struct {
	// Type limits the run to one boundary type; empty runs every loaded type.
	Type   string
	Limit  int
	Rollup bool
}

// Stats counts outcomes for one boundary type. Every joined record lands in
// exactly one of the classification buckets or Failed.
type Stats struct {
	Total        int `json:"total" yaml:"total"`
	Matched      int `json:"matched" yaml:"matched"`
	Mismatched   int `json:"mismatched" yaml:"mismatched"`
	NoBoundary   int `json:"no_boundary" yaml:"no_boundary"`
	NoRegistered int `json:"no_registered" yaml:"no_registered"`
	Failed       int `json:"failed" yaml:"failed"`
	Overlapping  int `json:"overlapping" yaml:"overlapping"`
}

// Engine runs spatial comparisons.
type Engine struct {
	store   Store
	cfg     Config
	runs    *runlog.Log
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewEngine creates an Engine. runs and m may be nil.
func NewEngine(st Store, cfg Config, runs *runlog.Log, m *metrics.Metrics) *Engine {
	if cfg.SaveBatchSize <= 0 {
		cfg.SaveBatchSize = DefaultSaveBatchSize
	}
	return &Engine{store: st, cfg: cfg, runs: runs, metrics: m, now: func() time.Time { return time.Now().UTC() }}
}

// Compare runs one type or every loaded type, returning stats keyed by type.
func (e *Engine) Compare(ctx context.Context, opts Options) (map[string]*Stats, error) {
	types, err := e.resolveTypes(ctx, opts.Type)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*Stats, len(types))
	for _, t := range types {
		stats, err := e.compareLogged(ctx, t, opts)
		out[t] = stats
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func (e *Engine) resolveTypes(ctx context.Context, requested string) ([]string, error) {
	loaded, err := e.store.BoundaryTypes(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "district: list boundary types")
	}
	if requested == "" {
		return loaded, nil
	}
	if slices.Contains(loaded, requested) || slices.Contains(e.cfg.Types, requested) {
		return []string{requested}, nil
	}
	avail := append(slices.Clone(loaded), e.cfg.Types...)
	sort.Strings(avail)
	return nil, &UnknownBoundarySetTypeError{Type: requested, Available: slices.Compact(avail)}
}

func (e *Engine) compareLogged(ctx context.Context, boundaryType string, opts Options) (*Stats, error) {
	log := zap.L().With(zap.String("component", "district"), zap.String("type", boundaryType))

	runID, err := e.runs.Start(ctx, runlog.KindCompare, boundaryType)
	if err != nil {
		log.Warn("district: run log start failed", zap.Error(err))
	}
	stats, err := e.compareType(ctx, log, boundaryType, opts)
	e.runs.Finish(ctx, runID, stats, err)
	return stats, err
}

func (e *Engine) compareType(ctx context.Context, log *zap.Logger, boundaryType string, opts Options) (*Stats, error) {
	matches, err := e.store.SpatialJoin(ctx, boundaryType, opts.Limit)
	if err != nil {
		return nil, eris.Wrapf(err, "district: spatial join %s", boundaryType)
	}

	stats := &Stats{Total: len(matches)}
	comparedAt := e.now()
	assignments := make([]model.Assignment, 0, len(matches))
	for _, m := range matches {
		if m.Overlaps > 1 {
			stats.Overlapping++
			log.Warn("district: point in overlapping boundaries",
				zap.String("record_id", m.RecordID),
				zap.Int("overlaps", m.Overlaps),
				zap.String("chosen", m.BoundaryExternalID),
			)
		}
		a, err := assign(boundaryType, m, comparedAt)
		if err != nil {
			stats.Failed++
			log.Error("district: compare failed", zap.String("record_id", m.RecordID), zap.Error(err))
			continue
		}
		stats.count(a.Classification)
		assignments = append(assignments, a)
	}

	ids := make([]string, 0, len(assignments))
	for start := 0; start < len(assignments); start += e.cfg.SaveBatchSize {
		chunk := assignments[start:min(start+e.cfg.SaveBatchSize, len(assignments))]
		if err := e.store.UpsertAssignments(ctx, chunk); err != nil {
			return stats, eris.Wrapf(err, "district: save assignments for %s", boundaryType)
		}
		for _, a := range chunk {
			ids = append(ids, a.RecordID)
			e.metrics.IncAssignment(boundaryType, string(a.Classification))
		}
	}

	if opts.Rollup && len(ids) > 0 {
		for start := 0; start < len(ids); start += e.cfg.SaveBatchSize {
			if err := e.store.RefreshMismatch(ctx, ids[start:min(start+e.cfg.SaveBatchSize, len(ids))]); err != nil {
				return stats, eris.Wrap(err, "district: roll up mismatch flag")
			}
		}
	}

	log.Info("district: compare complete",
		zap.Int("total", stats.Total),
		zap.Int("matched", stats.Matched),
		zap.Int("mismatched", stats.Mismatched),
		zap.Int("no_boundary", stats.NoBoundary),
		zap.Int("no_registered", stats.NoRegistered),
		zap.Int("failed", stats.Failed),
		zap.Int("overlapping", stats.Overlapping),
	)
	return stats, nil
}

// assign classifies one spatial match. A panic is turned into an error so a
// single bad record cannot stop the run.
func assign(boundaryType string, m store.SpatialMatch, at time.Time) (a model.Assignment, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("district: panic classifying %s: %v", m.RecordID, r)
		}
	}()
	if m.RecordID == "" {
		return a, eris.New("district: spatial match without record id")
	}
	class, mismatch := Classify(m.Registered, m.BoundaryExternalID, m.Found())
	return model.Assignment{
		RecordID:       m.RecordID,
		Type:           boundaryType,
		Registered:     m.Registered,
		BoundaryID:     m.BoundaryExternalID,
		BoundaryName:   m.BoundaryName,
		Classification: class,
		Mismatch:       mismatch,
		ComparedAt:     at,
	}, nil
}

func (s *Stats) count(c model.Classification) {
	switch c {
	case model.ClassificationMatched:
		s.Matched++
	case model.ClassificationMismatched:
		s.Mismatched++
	case model.ClassificationNoBoundary:
		s.NoBoundary++
	case model.ClassificationNoRegistered:
		s.NoRegistered++
	default:
		s.Failed++
	}
}
