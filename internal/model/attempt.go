package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// Quality grades a single lookup attempt.
type Quality string

const (
	QualityExact        Quality = "exact"
	QualityInterpolated Quality = "interpolated"
	QualityApproximate  Quality = "approximate"
	QualityNoMatch      Quality = "no_match"
	QualityFailed       Quality = "failed"
)

// QualityUnknownRank sorts unrecognized qualities after every known one.
const QualityUnknownRank = 6

// AllQualities returns the known qualities, best first.
func AllQualities() []Quality {
	return []Quality{QualityExact, QualityInterpolated, QualityApproximate, QualityNoMatch, QualityFailed}
}

// Rank orders qualities: EXACT=1 ... FAILED=5, unknown=6. Lower is better.
func (q Quality) Rank() int {
	switch q {
	case QualityExact:
		return 1
	case QualityInterpolated:
		return 2
	case QualityApproximate:
		return 3
	case QualityNoMatch:
		return 4
	case QualityFailed:
		return 5
	default:
		return QualityUnknownRank
	}
}

// Usable reports whether the quality carries a usable location.
func (q Quality) Usable() bool {
	return q == QualityExact || q == QualityInterpolated || q == QualityApproximate
}

// ParseQuality validates a quality string.
func ParseQuality(s string) (Quality, error) {
	q := Quality(s)
	if q.Rank() == QualityUnknownRank {
		return "", eris.Errorf("model: invalid quality %q (valid: exact, interpolated, approximate, no_match, failed)", s)
	}
	return q, nil
}

// Attempt is one provider's recorded answer for one record. Attempts are
// append-only; a record's history is never rewritten.
type Attempt struct {
	ID          int64           `json:"id"`
	RecordID    string          `json:"record_id"`
	Provider    string          `json:"provider"`
	Quality     Quality         `json:"quality"`
	Lon         *float64        `json:"lon,omitempty"`
	Lat         *float64        `json:"lat,omitempty"`
	MatchedText string          `json:"matched_text,omitempty"`
	Confidence  *float64        `json:"confidence,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// HasCoordinates reports whether both longitude and latitude are present.
func (a Attempt) HasCoordinates() bool {
	return a.Lon != nil && a.Lat != nil
}

// ConfidenceOrZero treats an absent confidence as 0.
func (a Attempt) ConfidenceOrZero() float64 {
	if a.Confidence == nil {
		return 0
	}
	return *a.Confidence
}

// Float returns a pointer to v. Handy for optional coordinates and confidence.
func Float(v float64) *float64 {
	return &v
}
