// Package pipeline runs one provider over the cascade's candidates in
// sequential batches. A failing batch is recorded as FAILED attempts for its
// own records and the run moves on.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vote-match/internal/cascade"
	"github.com/sells-group/vote-match/internal/metrics"
	"github.com/sells-group/vote-match/internal/model"
	"github.com/sells-group/vote-match/internal/runlog"
	"github.com/sells-group/vote-match/pkg/geocode"
)

// DefaultBatchSize is used when neither the caller nor config sets one.
const DefaultBatchSize = 10000

// Config holds pipeline defaults.
type Config struct {
	DefaultBatchSize int `yaml:"default_batch_size" mapstructure:"default_batch_size"`
}

// Store is what the pipeline needs from persistence.
type Store interface {
	cascade.CandidateSource
	InsertAttempts(ctx context.Context, attempts []model.Attempt) error
}

// ProviderFactory resolves a provider by name.
type ProviderFactory func(name string) (geocode.Provider, error)

// Options selects what one run does.
type Options struct {
	Provider      string
	BatchSize     int
	Limit         int
	OnlyUnmatched bool
	RetryFailed   bool
}

// Pipeline geocodes candidate records with one provider.
type Pipeline struct {
	store        Store
	providers    ProviderFactory
	runs         *runlog.Log
	metrics      *metrics.Metrics
	defaultBatch int
	defaultState string
	now          func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRunLog records each run in the run log.
func WithRunLog(l *runlog.Log) Option {
	return func(p *Pipeline) { p.runs = l }
}

// WithMetrics records attempts and batch outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithConfig applies pipeline defaults.
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) {
		if cfg.DefaultBatchSize > 0 {
			p.defaultBatch = cfg.DefaultBatchSize
		}
	}
}

// WithDefaultState fills in the state for records that have none.
func WithDefaultState(state string) Option {
	return func(p *Pipeline) { p.defaultState = state }
}

// New creates a Pipeline.
func New(st Store, providers ProviderFactory, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:        st,
		providers:    providers,
		defaultBatch: DefaultBatchSize,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// RegistryFactory resolves providers from the geocode registry.
func RegistryFactory(cfg geocode.Config, opts ...geocode.Option) ProviderFactory {
	return func(name string) (geocode.Provider, error) {
		return geocode.New(name, cfg, opts...)
	}
}

// Run executes one provider pass. Batch failures are absorbed into Stats;
// the returned error is reserved for setup problems and storage failures.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Stats, error) {
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("provider", opts.Provider))

	prov, err := p.providers(opts.Provider)
	if err != nil {
		return nil, err
	}

	batchSize, err := p.batchSize(prov, opts.BatchSize)
	if err != nil {
		return nil, err
	}

	runID, err := p.runs.Start(ctx, runlog.KindGeocode, prov.Name())
	if err != nil {
		log.Warn("pipeline: run log start failed", zap.Error(err))
	}

	stats, err := p.run(ctx, log, prov, batchSize, opts)
	p.runs.Finish(ctx, runID, stats, err)
	return stats, err
}

func (p *Pipeline) run(ctx context.Context, log *zap.Logger, prov geocode.Provider, batchSize int, opts Options) (*Stats, error) {
	filter := cascade.Filter{Provider: prov.Name(), OnlyUnmatched: opts.OnlyUnmatched, RetryFailed: opts.RetryFailed}
	candidates, err := cascade.NewSelector(p.store).Select(ctx, filter, opts.Limit)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Total: len(candidates)}
	log.Info("pipeline: starting",
		zap.Int("candidates", len(candidates)),
		zap.Int("batch_size", batchSize),
		zap.Bool("only_unmatched", opts.OnlyUnmatched),
		zap.Bool("retry_failed", opts.RetryFailed),
	)

	inputs := make([]geocode.AddressInput, 0, len(candidates))
	for _, r := range candidates {
		in := toInput(r, p.defaultState)
		if verr := prov.Validate(in); verr != nil {
			stats.Malformed++
			log.Debug("pipeline: skipping malformed record", zap.String("record_id", r.ID), zap.Error(verr))
			continue
		}
		inputs = append(inputs, in)
	}
	p.metrics.AddMalformed(prov.Name(), stats.Malformed)

	for start := 0; start < len(inputs); start += batchSize {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "pipeline: cancelled")
		}
		batch := inputs[start:min(start+batchSize, len(inputs))]
		if err := p.processBatch(ctx, log, prov, batch, stats); err != nil {
			return stats, err
		}
	}

	log.Info("pipeline: complete",
		zap.Int("total", stats.Total),
		zap.Int("exact", stats.Exact),
		zap.Int("interpolated", stats.Interpolated),
		zap.Int("approximate", stats.Approximate),
		zap.Int("no_match", stats.NoMatch),
		zap.Int("failed", stats.Failed),
		zap.Int("malformed", stats.Malformed),
		zap.Int("failed_batches", stats.FailedBatches),
	)
	return stats, nil
}

// processBatch submits one batch and persists an attempt for every record in it.
func (p *Pipeline) processBatch(ctx context.Context, log *zap.Logger, prov geocode.Provider, batch []geocode.AddressInput, stats *Stats) error {
	started := time.Now()
	results, gerr := prov.Geocode(ctx, batch)
	p.metrics.ObserveBatch(prov.Name(), gerr != nil, time.Since(started))

	stats.Batches++
	at := p.now()
	var attempts []model.Attempt
	if gerr != nil {
		stats.FailedBatches++
		log.Warn("pipeline: batch failed",
			zap.Int("batch", stats.Batches),
			zap.Int("records", len(batch)),
			zap.Error(gerr),
		)
		attempts = failedAttempts(prov.Name(), batch, gerr.Error(), at)
	} else {
		attempts = pairResults(prov.Name(), batch, results, at)
	}

	if err := p.store.InsertAttempts(ctx, attempts); err != nil {
		return eris.Wrapf(err, "pipeline: persist batch %d", stats.Batches)
	}
	for _, a := range attempts {
		stats.tally(a.Quality)
	}
	for q, n := range countByQuality(attempts) {
		p.metrics.AddAttempts(prov.Name(), string(q), n)
	}
	return nil
}

// batchSize applies the default and enforces the provider ceiling.
func (p *Pipeline) batchSize(prov geocode.Provider, requested int) (int, error) {
	ceiling := prov.MaxBatchSize()
	if requested > 0 {
		if ceiling > 0 && requested > ceiling {
			return 0, eris.Wrapf(geocode.ErrBatchTooLarge, "pipeline: batch size %d exceeds %s limit %d", requested, prov.Name(), ceiling)
		}
		return requested, nil
	}
	size := p.defaultBatch
	if ceiling > 0 && size > ceiling {
		size = ceiling
	}
	return size, nil
}

// pairResults turns provider results into attempts in batch order. A record
// the provider said nothing about gets a FAILED attempt; results for ids
// outside the batch are dropped.
func pairResults(provider string, batch []geocode.AddressInput, results []geocode.Result, at time.Time) []model.Attempt {
	byID := make(map[string]geocode.Result, len(results))
	for _, r := range results {
		if _, dup := byID[r.RecordID]; !dup {
			byID[r.RecordID] = r
		}
	}
	attempts := make([]model.Attempt, len(batch))
	for i, in := range batch {
		res, ok := byID[in.ID]
		if !ok {
			attempts[i] = model.Attempt{RecordID: in.ID, Provider: provider, Quality: model.QualityFailed,
				Error: "no result returned for record", CreatedAt: at}
			continue
		}
		res.Provider = provider
		attempts[i] = res.Attempt(at)
	}
	return attempts
}

func failedAttempts(provider string, batch []geocode.AddressInput, msg string, at time.Time) []model.Attempt {
	attempts := make([]model.Attempt, len(batch))
	for i, in := range batch {
		attempts[i] = model.Attempt{RecordID: in.ID, Provider: provider, Quality: model.QualityFailed, Error: msg, CreatedAt: at}
	}
	return attempts
}

func countByQuality(attempts []model.Attempt) map[model.Quality]int {
	out := make(map[model.Quality]int)
	for _, a := range attempts {
		out[a.Quality]++
	}
	return out
}

func toInput(r model.Record, defaultState string) geocode.AddressInput {
	state := strings.TrimSpace(r.Address.State)
	if state == "" {
		state = defaultState
	}
	return geocode.AddressInput{
		ID:      r.ID,
		Street:  r.Address.Street(),
		City:    r.Address.City,
		State:   state,
		ZipCode: r.Address.Zip,
	}
}
