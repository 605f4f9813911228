// Package validation checks the postal addresses of records that no provider
// could locate and keeps one result per record.
package validation

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vote-match/internal/metrics"
	"github.com/sells-group/vote-match/internal/model"
	"github.com/sells-group/vote-match/internal/runlog"
	"github.com/sells-group/vote-match/pkg/geocode"
)

// DefaultBatchSize is how many results are saved at a time.
const DefaultBatchSize = 100

// Store is what a validation run needs from persistence.
type Store interface {
	ListValidationCandidates(ctx context.Context, retryFailed bool, limit int) ([]model.Record, error)
	UpsertValidations(ctx context.Context, validations []model.Validation) error
}

// Validator checks addresses. *geocode.USPS implements it.
type Validator interface {
	Validate(ctx context.Context, addrs []geocode.AddressInput) ([]model.Validation, error)
}

// Options selects what one run does.
type Options struct {
	Limit       int
	RetryFailed bool
	BatchSize   int
}

// Stats summarizes one run.
type Stats struct {
	Total     int `json:"total" yaml:"total"`
	Validated int `json:"validated" yaml:"validated"`
	Corrected int `json:"corrected" yaml:"corrected"`
	Failed    int `json:"failed" yaml:"failed"`
}

func (s *Stats) count(v model.Validation) {
	switch v.Status {
	case model.ValidationValidated:
		s.Validated++
	case model.ValidationCorrected:
		s.Corrected++
	default:
		s.Failed++
	}
}

// Runner validates candidate records in batches.
type Runner struct {
	store        Store
	validator    Validator
	runs         *runlog.Log
	metrics      *metrics.Metrics
	defaultState string
}

// Option configures a Runner.
type Option func(*Runner)

// WithRunLog records each run in the run log.
func WithRunLog(l *runlog.Log) Option {
	return func(r *Runner) { r.runs = l }
}

// WithMetrics counts validations by status.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithDefaultState fills in the state for records that have none.
func WithDefaultState(state string) Option {
	return func(r *Runner) { r.defaultState = state }
}

// New creates a Runner.
func New(st Store, v Validator, opts ...Option) *Runner {
	r := &Runner{store: st, validator: v}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run validates every candidate. When the validator aborts a batch, the
// records it did not reach are saved as failed and the error is returned.
func (r *Runner) Run(ctx context.Context, opts Options) (*Stats, error) {
	log := zap.L().With(zap.String("component", "validation"))

	runID, err := r.runs.Start(ctx, runlog.KindValidate, "usps")
	if err != nil {
		log.Warn("validation: run log start failed", zap.Error(err))
	}
	stats, err := r.run(ctx, log, opts)
	r.runs.Finish(ctx, runID, stats, err)
	return stats, err
}

func (r *Runner) run(ctx context.Context, log *zap.Logger, opts Options) (*Stats, error) {
	recs, err := r.store.ListValidationCandidates(ctx, opts.RetryFailed, opts.Limit)
	if err != nil {
		return nil, eris.Wrap(err, "validation: list candidates")
	}
	stats := &Stats{Total: len(recs)}
	if len(recs) == 0 {
		log.Info("validation: no pending records", zap.Bool("retry_failed", opts.RetryFailed))
		return stats, nil
	}

	size := opts.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	for start := 0; start < len(recs); start += size {
		batch := recs[start:min(start+size, len(recs))]
		addrs := make([]geocode.AddressInput, len(batch))
		for i, rec := range batch {
			addrs[i] = toInput(rec, r.defaultState)
		}

		results, vErr := r.validator.Validate(ctx, addrs)
		if vErr != nil {
			results = failRest(results, addrs, vErr)
		}
		if err := r.store.UpsertValidations(ctx, results); err != nil {
			return stats, eris.Wrap(err, "validation: save results")
		}
		for _, v := range results {
			stats.count(v)
			r.metrics.AddValidations(string(v.Status), 1)
		}
		if vErr != nil {
			return stats, eris.Wrap(vErr, "validation: validate batch")
		}
	}

	log.Info("validation: complete",
		zap.Int("total", stats.Total),
		zap.Int("validated", stats.Validated),
		zap.Int("corrected", stats.Corrected),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}

// failRest marks the addresses after the last result as failed with err.
func failRest(results []model.Validation, addrs []geocode.AddressInput, err error) []model.Validation {
	done := make(map[string]bool, len(results))
	for _, v := range results {
		done[v.RecordID] = true
	}
	for _, a := range addrs {
		if !done[a.ID] {
			results = append(results, model.Validation{RecordID: a.ID, Status: model.ValidationFailed, Error: err.Error()})
		}
	}
	return results
}

func toInput(r model.Record, defaultState string) geocode.AddressInput {
	state := strings.TrimSpace(r.Address.State)
	if state == "" {
		state = defaultState
	}
	return geocode.AddressInput{
		ID:        r.ID,
		Street:    r.Address.Primary(),
		Secondary: strings.TrimSpace(r.Address.Apartment),
		City:      r.Address.City,
		State:     state,
		ZipCode:   r.Address.Zip,
	}
}
