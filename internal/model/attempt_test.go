package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQualityRank(t *testing.T) {
	t.Parallel()

	tests := []struct {
		q    Quality
		want int
	}{
		{QualityExact, 1},
		{QualityInterpolated, 2},
		{QualityApproximate, 3},
		{QualityNoMatch, 4},
		{QualityFailed, 5},
		{Quality("rooftop"), 6},
		{Quality(""), 6},
	}
	for _, tt := range tests {
		t.Run(string(tt.q), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.q.Rank())
		})
	}
}

func TestAllQualities_BestFirst(t *testing.T) {
	qs := AllQualities()
	require.Len(t, qs, 5)
	for i := 1; i < len(qs); i++ {
		assert.Less(t, qs[i-1].Rank(), qs[i].Rank())
	}
}

func TestQualityUsable(t *testing.T) {
	assert.True(t, QualityExact.Usable())
	assert.True(t, QualityInterpolated.Usable())
	assert.True(t, QualityApproximate.Usable())
	assert.False(t, QualityNoMatch.Usable())
	assert.False(t, QualityFailed.Usable())
}

func TestParseQuality(t *testing.T) {
	q, err := ParseQuality("no_match")
	require.NoError(t, err)
	assert.Equal(t, QualityNoMatch, q)

	_, err = ParseQuality("rooftop")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid quality")
}

func TestAttemptHelpers(t *testing.T) {
	a := Attempt{Lon: Float(-84.5)}
	assert.False(t, a.HasCoordinates())
	assert.Equal(t, 0.0, a.ConfidenceOrZero())

	a.Lat = Float(33.5)
	a.Confidence = Float(0.85)
	assert.True(t, a.HasCoordinates())
	assert.InDelta(t, 0.85, a.ConfidenceOrZero(), 1e-9)
}
