package pipeline

import "github.com/sells-group/vote-match/internal/model"

// Stats summarizes one provider run. Total counts every candidate, including
// malformed ones that were never submitted.
type Stats struct {
	Total         int `json:"total" yaml:"total"`
	Exact         int `json:"exact" yaml:"exact"`
	Interpolated  int `json:"interpolated" yaml:"interpolated"`
	Approximate   int `json:"approximate" yaml:"approximate"`
	NoMatch       int `json:"no_match" yaml:"no_match"`
	Failed        int `json:"failed" yaml:"failed"`
	Malformed     int `json:"malformed" yaml:"malformed"`
	Batches       int `json:"batches" yaml:"batches"`
	FailedBatches int `json:"failed_batches" yaml:"failed_batches"`
}

// Matched is the number of attempts that produced a usable location.
func (s *Stats) Matched() int {
	return s.Exact + s.Interpolated + s.Approximate
}

func (s *Stats) tally(q model.Quality) {
	switch q {
	case model.QualityExact:
		s.Exact++
	case model.QualityInterpolated:
		s.Interpolated++
	case model.QualityApproximate:
		s.Approximate++
	case model.QualityNoMatch:
		s.NoMatch++
	default:
		s.Failed++
	}
}
