package district

import (
	"strings"

	"github.com/sells-group/vote-match/internal/model"
)

// NormalizeRegistered strips every "District"/"district" from a self-reported
// value and trims the rest, so "District 5" and "5" compare equal.
func NormalizeRegistered(s string) string {
	s = strings.ReplaceAll(s, "District", "")
	s = strings.ReplaceAll(s, "district", "")
	return strings.TrimSpace(s)
}

// NormalizeBoundaryID trims whitespace. Ids are compared as text, so "05"
// and "5" differ.
func NormalizeBoundaryID(s string) string {
	return strings.TrimSpace(s)
}

// Classify compares a record's registered value with the boundary containing
// it. Missing data wins over comparison: no boundary, then no registered
// value. Mismatch is nil whenever either side is missing.
func Classify(registered, boundaryID string, hasBoundary bool) (model.Classification, *bool) {
	if !hasBoundary {
		return model.ClassificationNoBoundary, nil
	}
	reg := NormalizeRegistered(registered)
	if reg == "" {
		return model.ClassificationNoRegistered, nil
	}
	mismatch := reg != NormalizeBoundaryID(boundaryID)
	if mismatch {
		return model.ClassificationMismatched, &mismatch
	}
	return model.ClassificationMatched, &mismatch
}
