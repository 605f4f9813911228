// Package store persists records, lookup attempts, boundaries, assignments
// and the run log. PostgresStore (PostGIS) is the system of record;
// SQLiteStore serves local runs and tests.
package store

import (
	"context"

	"github.com/sells-group/vote-match/internal/cascade"
	"github.com/sells-group/vote-match/internal/model"
	"github.com/sells-group/vote-match/internal/runlog"
)

// AttemptFilter selects attempts to delete. At least one criterion or All is required.
type AttemptFilter struct {
	Provider string
	Quality  model.Quality
	All      bool
}

// SpatialMatch is one record's containment result for a boundary type.
type SpatialMatch struct {
	RecordID           string
	Registered         string // self-reported value for the type, raw
	BoundaryID         int64
	BoundaryExternalID string
	BoundaryName       string
	Overlaps           int // boundaries of the type containing the point
}

// Found reports whether any boundary contained the record.
func (m SpatialMatch) Found() bool { return m.Overlaps > 0 }

// CountyBoundaryType is the boundary type holding county polygons.
const CountyBoundaryType = "county"

// CoverageFilter narrows a county coverage query. Blank fields match everything.
type CoverageFilter struct {
	Type      string // district boundary type; county boundaries are never listed
	StateFIPS string // only counties whose STATEFP metadata matches
}

// CountyCoverage is one district boundary with the counties its area overlaps.
// Counties that only share an edge with the district are not included.
type CountyCoverage struct {
	Type       string
	ExternalID string
	County     string   // stored county list, comma separated
	Counties   []string // overlapping county boundary names, sorted
}

// Count is one bucket of a grouped count.
type Count struct {
	Group string `json:"group" yaml:"group"`
	Key   string `json:"key" yaml:"key"`
	N     int64  `json:"count" yaml:"count"`
}

// Store defines the persistence interface for the resolution engine.
type Store interface {
	// Attempts
	InsertAttempts(ctx context.Context, attempts []model.Attempt) error
	AttemptsFor(ctx context.Context, recordIDs []string) (map[string][]model.Attempt, error)
	BestAttempt(ctx context.Context, recordID string) (*model.Attempt, error)
	DeleteAttempts(ctx context.Context, f AttemptFilter) (int64, error)

	// Cascade
	ListCandidates(ctx context.Context, f cascade.Filter, limit int) ([]model.Record, error)

	// Materialize
	ListSyncCandidates(ctx context.Context, force bool, limit int) ([]model.Record, error)
	SetLocation(ctx context.Context, recordID string, loc model.Location, legacy bool) error

	// Spatial
	BoundaryTypes(ctx context.Context) ([]string, error)
	SpatialJoin(ctx context.Context, boundaryType string, limit int) ([]SpatialMatch, error)
	UpsertAssignments(ctx context.Context, assignments []model.Assignment) error
	RefreshMismatch(ctx context.Context, recordIDs []string) error

	// Ingestion
	UpsertRecords(ctx context.Context, records []model.Record) error
	UpsertBoundaries(ctx context.Context, boundaries []model.Boundary) (int64, error)
	LinkCounty(ctx context.Context, boundaryType, externalID, county string) (bool, error)
	CountyCoverage(ctx context.Context, f CoverageFilter) ([]CountyCoverage, error)
	SetCounty(ctx context.Context, boundaryType, externalID, county string) error

	// Address validation
	ListValidationCandidates(ctx context.Context, retryFailed bool, limit int) ([]model.Record, error)
	UpsertValidations(ctx context.Context, validations []model.Validation) error

	// Reporting
	AttemptCounts(ctx context.Context) ([]Count, error)
	AssignmentCounts(ctx context.Context) ([]Count, error)
	ValidationCounts(ctx context.Context) ([]Count, error)

	// Run log
	runlog.Backend

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
