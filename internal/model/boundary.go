package model

import "time"

// Boundary is one polygon of a boundary set (e.g. one congressional district).
type Boundary struct {
	ID         int64          `json:"id"`
	Type       string         `json:"type"`
	ExternalID string         `json:"external_id"`
	Name       string         `json:"name,omitempty"`
	Geometry   []byte         `json:"-"` // EWKB, SRID 4326
	County     string         `json:"county,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Classification is the outcome of comparing a record's spatial boundary with
// its self-reported value.
type Classification string

const (
	ClassificationNoBoundary   Classification = "no_boundary"
	ClassificationNoRegistered Classification = "no_registered"
	ClassificationMatched      Classification = "matched"
	ClassificationMismatched   Classification = "mismatched"
)

// Assignment is the persisted comparison for one (record, boundary type).
// Recomputing upserts the row. Mismatch is nil when either side is missing.
type Assignment struct {
	RecordID       string         `json:"record_id"`
	Type           string         `json:"type"`
	Registered     string         `json:"registered,omitempty"`
	BoundaryID     string         `json:"boundary_id,omitempty"`
	BoundaryName   string         `json:"boundary_name,omitempty"`
	Classification Classification `json:"classification"`
	Mismatch       *bool          `json:"mismatch"`
	ComparedAt     time.Time      `json:"compared_at"`
}
