// Package metrics holds the Prometheus instruments for geocode, sync,
// compare and address validation runs. Collected values are pushed to a Pushgateway when one is
// configured.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rotisserie/eris"
)

// Metrics provides observability for the resolution engine. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Attempts written by provider and quality
	Attempts *prometheus.CounterVec

	// Batch outcomes by provider: "ok" or "failed"
	Batches *prometheus.CounterVec

	BatchDuration *prometheus.HistogramVec

	Malformed *prometheus.CounterVec

	// Assignments written by boundary type and classification
	Assignments *prometheus.CounterVec

	Materialized *prometheus.CounterVec

	// Address validations by status
	Validations *prometheus.CounterVec
}

// Config controls where metrics go at the end of a command.
type Config struct {
	PushgatewayURL string `yaml:"pushgateway_url" mapstructure:"pushgateway_url"`
	Job            string `yaml:"job" mapstructure:"job"`
}

// New creates a Metrics instance registered on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vote_match_attempts_total",
			Help: "Lookup attempts persisted by provider and quality",
		}, []string{"provider", "quality"}),

		Batches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vote_match_batches_total",
			Help: "Provider batches by outcome",
		}, []string{"provider", "outcome"}),

		BatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vote_match_batch_duration_seconds",
			Help:    "Duration of one provider batch call",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"provider"}),

		Malformed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vote_match_malformed_records_total",
			Help: "Records skipped before submission for missing address fields",
		}, []string{"provider"}),

		Assignments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vote_match_assignments_total",
			Help: "Boundary assignments written by type and classification",
		}, []string{"type", "classification"}),

		Materialized: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vote_match_sync_records_total",
			Help: "Records visited by sync, by outcome",
		}, []string{"outcome"}),

		Validations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vote_match_address_validations_total",
			Help: "Address validations written by status",
		}, []string{"status"}),
	}
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// AddAttempts records n attempts of a quality.
func (m *Metrics) AddAttempts(provider, quality string, n int) {
	if m != nil && n > 0 {
		m.Attempts.WithLabelValues(provider, quality).Add(float64(n))
	}
}

// ObserveBatch records one batch outcome and its duration.
func (m *Metrics) ObserveBatch(provider string, failed bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	m.Batches.WithLabelValues(provider, outcome).Inc()
	m.BatchDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// AddMalformed records records filtered before submission.
func (m *Metrics) AddMalformed(provider string, n int) {
	if m != nil && n > 0 {
		m.Malformed.WithLabelValues(provider).Add(float64(n))
	}
}

// IncAssignment records one assignment write.
func (m *Metrics) IncAssignment(boundaryType, classification string) {
	if m != nil {
		m.Assignments.WithLabelValues(boundaryType, classification).Inc()
	}
}

// AddSync records n sync outcomes.
func (m *Metrics) AddSync(outcome string, n int) {
	if m != nil && n > 0 {
		m.Materialized.WithLabelValues(outcome).Add(float64(n))
	}
}

// AddValidations records n address validations of a status.
func (m *Metrics) AddValidations(status string, n int) {
	if m != nil && n > 0 {
		m.Validations.WithLabelValues(status).Add(float64(n))
	}
}

// Push sends everything collected to the Pushgateway. A blank URL is a no-op.
func (m *Metrics) Push(ctx context.Context, cfg Config) error {
	if m == nil || cfg.PushgatewayURL == "" {
		return nil
	}
	job := cfg.Job
	if job == "" {
		job = "vote_match"
	}
	if err := push.New(cfg.PushgatewayURL, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return eris.Wrapf(err, "metrics: push to %s", cfg.PushgatewayURL)
	}
	return nil
}
