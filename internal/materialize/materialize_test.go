package materialize

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/vote-match/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type setCall struct {
	id     string
	loc    model.Location
	legacy bool
}

type memStore struct {
	records  []model.Record
	attempts map[string][]model.Attempt
	sets     []setCall
	setErr   error
}

func (m *memStore) ListSyncCandidates(_ context.Context, force bool, limit int) ([]model.Record, error) {
	var out []model.Record
	for _, r := range m.records {
		hasCoords := false
		for _, a := range m.attempts[r.ID] {
			hasCoords = hasCoords || a.HasCoordinates()
		}
		if force || r.Location != nil || hasCoords {
			out = append(out, r)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) AttemptsFor(_ context.Context, ids []string) (map[string][]model.Attempt, error) {
	out := map[string][]model.Attempt{}
	for _, id := range ids {
		out[id] = m.attempts[id]
	}
	return out, nil
}

func (m *memStore) SetLocation(_ context.Context, id string, loc model.Location, legacy bool) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.sets = append(m.sets, setCall{id, loc, legacy})
	for i := range m.records {
		if m.records[i].ID == id {
			l := loc
			m.records[i].Location = &l
		}
	}
	return nil
}

func newStore() *memStore {
	return &memStore{
		records: []model.Record{{ID: "exact"}, {ID: "nomatch"}, {ID: "untried"}, {ID: "approx"}},
		attempts: map[string][]model.Attempt{
			"exact": {
				{ID: 1, RecordID: "exact", Provider: "census", Quality: model.QualityNoMatch},
				{ID: 2, RecordID: "exact", Provider: "geocodio", Quality: model.QualityExact, Lon: model.Float(-83.1), Lat: model.Float(33.1), MatchedText: "1 Main St"},
			},
			"nomatch": {{ID: 3, RecordID: "nomatch", Provider: "census", Quality: model.QualityNoMatch}},
			"approx": {
				{ID: 4, RecordID: "approx", Provider: "nominatim", Quality: model.QualityApproximate, Lon: model.Float(-84), Lat: model.Float(34), Confidence: model.Float(0.3)},
				{ID: 5, RecordID: "approx", Provider: "photon", Quality: model.QualityApproximate, Lon: model.Float(-85), Lat: model.Float(35), Confidence: model.Float(0.5)},
			},
		},
	}
}

func TestSync_UpdatesBestAttempt(t *testing.T) {
	st := newStore()

	stats, err := New(st, nil, nil).Sync(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, &Stats{Processed: 2, Updated: 2}, stats)

	require.Len(t, st.sets, 2)
	assert.Equal(t, "approx", st.sets[1].id)
	assert.Equal(t, "photon", st.sets[1].loc.Provider)
	assert.Equal(t, "geocodio", st.sets[0].loc.Provider)
	assert.Equal(t, "1 Main St", st.sets[0].loc.MatchedText)
	assert.True(t, st.sets[0].legacy)
}

func TestSync_Idempotent(t *testing.T) {
	st := newStore()
	m := New(st, nil, nil)

	_, err := m.Sync(context.Background(), Options{})
	require.NoError(t, err)
	writes := len(st.sets)

	stats, err := m.Sync(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, &Stats{Processed: 2, AlreadySet: 2}, stats)
	assert.Len(t, st.sets, writes)
}

func TestSync_ForceVisitsEverything(t *testing.T) {
	st := newStore()

	stats, err := New(st, nil, nil).Sync(context.Background(), Options{Force: true, SkipLegacy: true})
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Processed)
	assert.Equal(t, 2, stats.Updated)
	assert.Equal(t, 1, stats.SkippedNoResults)
	assert.Equal(t, 1, stats.SkippedNoCoords)
	for _, c := range st.sets {
		assert.False(t, c.legacy)
	}

	// forced rerun rewrites
	stats, err = New(st, nil, nil).Sync(context.Background(), Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Updated)
	assert.Zero(t, stats.AlreadySet)
}

func TestSync_Limit(t *testing.T) {
	stats, err := New(newStore(), nil, nil).Sync(context.Background(), Options{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
}

func TestSync_SetLocationError(t *testing.T) {
	st := newStore()
	st.setErr = errors.New("conn reset")

	_, err := New(st, nil, nil).Sync(context.Background(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "set location for exact")
}

func TestDecide_Order(t *testing.T) {
	located := model.Record{ID: "r", Location: &model.Location{Lon: 1, Lat: 1}}
	noCoords := []model.Attempt{{Quality: model.QualityFailed}}

	_, o := decide(located, nil, false)
	assert.Equal(t, outcomeNoResults, o)

	_, o = decide(located, noCoords, false)
	assert.Equal(t, outcomeAlreadySet, o)

	_, o = decide(located, noCoords, true)
	assert.Equal(t, outcomeNoCoords, o)
}
