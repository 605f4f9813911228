// Package cascade decides which records a provider should be asked about
// next. The same predicate backs both stores: Postgres renders it in SQL,
// SQLite calls Eligible directly.
package cascade

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vote-match/internal/model"
	"github.com/sells-group/vote-match/internal/resolve"
)

// Filter selects records for one provider run.
type Filter struct {
	Provider string
	// OnlyUnmatched restricts to records never tried by Provider whose best
	// attempt so far is NO_MATCH (or FAILED when RetryFailed is set).
	OnlyUnmatched bool
	RetryFailed   bool
}

// DefaultFilter builds the usual filter: the default provider sees untouched
// records, every other provider works the cascade.
func DefaultFilter(provider, defaultProvider string) Filter {
	return Filter{Provider: provider, OnlyUnmatched: provider != defaultProvider}
}

// Eligible reports whether a record with the given attempt history is a candidate.
func (f Filter) Eligible(attempts []model.Attempt) bool {
	if !f.OnlyUnmatched {
		return len(attempts) == 0
	}
	for _, a := range attempts {
		if a.Provider == f.Provider {
			return false
		}
	}
	best := resolve.Best(attempts)
	switch {
	case best == nil:
		return true
	case best.Quality == model.QualityNoMatch:
		return true
	case best.Quality == model.QualityFailed:
		return f.RetryFailed
	default:
		return false
	}
}

// CandidateSource lists records matching a filter, ordered by id.
type CandidateSource interface {
	ListCandidates(ctx context.Context, f Filter, limit int) ([]model.Record, error)
}

// Selector picks candidate records for a provider.
type Selector struct {
	src CandidateSource
}

// NewSelector creates a Selector over src.
func NewSelector(src CandidateSource) *Selector {
	return &Selector{src: src}
}

// Select returns up to limit candidates (0 = unbounded), ordered by record id.
func (s *Selector) Select(ctx context.Context, f Filter, limit int) ([]model.Record, error) {
	if f.Provider == "" {
		return nil, eris.New("cascade: provider is required")
	}
	if limit < 0 {
		limit = 0
	}
	recs, err := s.src.ListCandidates(ctx, f, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "cascade: select candidates for %s", f.Provider)
	}
	return recs, nil
}

// RankSQL renders the quality order as a SQL CASE over col, so SQL stores
// order attempts exactly like model.Quality.Rank.
func RankSQL(col string) string {
	var b strings.Builder
	b.WriteString("CASE ")
	b.WriteString(col)
	for _, q := range model.AllQualities() {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", q, q.Rank())
	}
	fmt.Fprintf(&b, " ELSE %d END", model.QualityUnknownRank)
	return b.String()
}
