// Package resolve picks the single best lookup attempt for a record under the
// fixed quality order. Everything here is pure and safe to call repeatedly.
package resolve

import (
	"github.com/sells-group/vote-match/internal/model"
)

// Less reports whether a ranks ahead of b: lower quality rank first, then
// higher confidence (absent counts as 0). Exact ties keep the earlier attempt
// so the pick does not depend on slice order.
func Less(a, b model.Attempt) bool {
	if ra, rb := a.Quality.Rank(), b.Quality.Rank(); ra != rb {
		return ra < rb
	}
	if ca, cb := a.ConfidenceOrZero(), b.ConfidenceOrZero(); ca != cb {
		return ca > cb
	}
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// Best returns the winning attempt, or nil when there are none.
func Best(attempts []model.Attempt) *model.Attempt {
	if len(attempts) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(attempts); i++ {
		if Less(attempts[i], attempts[best]) {
			best = i
		}
	}
	out := attempts[best]
	return &out
}

// NeedsLookup is true when the best attempt is NO_MATCH or FAILED, or absent.
func NeedsLookup(attempts []model.Attempt) bool {
	b := Best(attempts)
	return b == nil || !b.Quality.Usable()
}

// HasUsableLocation is true when the best attempt is EXACT, INTERPOLATED or APPROXIMATE.
func HasUsableLocation(attempts []model.Attempt) bool {
	b := Best(attempts)
	return b != nil && b.Quality.Usable()
}

// Location converts an attempt into the denormalized current location.
// ok is false when the attempt has no coordinates.
func Location(a *model.Attempt) (loc model.Location, ok bool) {
	if a == nil || !a.HasCoordinates() {
		return model.Location{}, false
	}
	return model.Location{
		Lon:         *a.Lon,
		Lat:         *a.Lat,
		Provider:    a.Provider,
		Quality:     a.Quality,
		MatchedText: a.MatchedText,
	}, true
}
