package validation

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/vote-match/internal/metrics"
	"github.com/sells-group/vote-match/internal/model"
	"github.com/sells-group/vote-match/internal/runlog"
	"github.com/sells-group/vote-match/pkg/geocode"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type memStore struct {
	records   []model.Record
	retry     bool
	limit     int
	saved     [][]model.Validation
	listErr   error
	upsertErr error
}

func (m *memStore) ListValidationCandidates(_ context.Context, retryFailed bool, limit int) ([]model.Record, error) {
	m.retry, m.limit = retryFailed, limit
	return m.records, m.listErr
}

func (m *memStore) UpsertValidations(_ context.Context, vs []model.Validation) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.saved = append(m.saved, vs)
	return nil
}

// fakeValidator validates each address by its street: "bad" fails,
// "fix" is corrected and anything else is validated. abortAt stops a call
// with err once that many addresses have been handled.
type fakeValidator struct {
	calls   [][]geocode.AddressInput
	abortAt int
	err     error
}

func (f *fakeValidator) Validate(_ context.Context, addrs []geocode.AddressInput) ([]model.Validation, error) {
	f.calls = append(f.calls, addrs)
	var out []model.Validation
	for i, a := range addrs {
		if f.err != nil && i == f.abortAt {
			return out, f.err
		}
		v := model.Validation{RecordID: a.ID, Status: model.ValidationValidated}
		switch a.Street {
		case "bad":
			v.Status = model.ValidationFailed
		case "fix":
			v.Status = model.ValidationCorrected
		}
		out = append(out, v)
	}
	return out, nil
}

func rec(id, street string) model.Record {
	return model.Record{ID: id, Address: model.Address{StreetName: street, City: "Macon", State: "GA", Zip: "31201"}}
}

func TestRun_Batches(t *testing.T) {
	st := &memStore{records: []model.Record{rec("a", "ok"), rec("b", "fix"), rec("c", "bad"), rec("d", "ok"), rec("e", "ok")}}
	v := &fakeValidator{}
	m := metrics.New()

	stats, err := New(st, v, WithMetrics(m)).Run(context.Background(), Options{Limit: 10, RetryFailed: true, BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, &Stats{Total: 5, Validated: 3, Corrected: 1, Failed: 1}, stats)
	assert.True(t, st.retry)
	assert.Equal(t, 10, st.limit)

	require.Len(t, v.calls, 3)
	assert.Len(t, v.calls[0], 2)
	assert.Len(t, v.calls[2], 1)
	require.Len(t, st.saved, 3, "each batch is saved on its own")

	assert.InDelta(t, 3, testutil.ToFloat64(m.Validations.WithLabelValues("validated")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Validations.WithLabelValues("failed")), 0)
}

func TestRun_NoCandidates(t *testing.T) {
	v := &fakeValidator{}
	stats, err := New(&memStore{}, v).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, &Stats{}, stats)
	assert.Empty(t, v.calls)
}

func TestRun_InputsSplitUnit(t *testing.T) {
	r := model.Record{ID: "a", Address: model.Address{
		StreetNumber: "100", StreetName: "Main", StreetType: "St", Apartment: " 4B ", City: "Macon", Zip: "31201",
	}}
	v := &fakeValidator{}

	_, err := New(&memStore{records: []model.Record{r}}, v, WithDefaultState("GA")).Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, v.calls, 1)
	assert.Equal(t, geocode.AddressInput{
		ID: "a", Street: "100 Main St", Secondary: "4B", City: "Macon", State: "GA", ZipCode: "31201",
	}, v.calls[0][0])
}

func TestRun_AbortFailsRestOfBatch(t *testing.T) {
	st := &memStore{records: []model.Record{rec("a", "ok"), rec("b", "ok"), rec("c", "ok"), rec("d", "ok")}}
	v := &fakeValidator{abortAt: 1, err: &geocode.CredentialError{Provider: "usps", Reason: "rejected"}}

	stats, err := New(st, v).Run(context.Background(), Options{BatchSize: 3})
	require.Error(t, err)
	var credErr *geocode.CredentialError
	assert.True(t, errors.As(err, &credErr))

	assert.Equal(t, &Stats{Total: 4, Validated: 1, Failed: 2}, stats)
	require.Len(t, v.calls, 1, "later batches are not attempted")
	require.Len(t, st.saved, 1)
	require.Len(t, st.saved[0], 3)
	assert.Equal(t, model.ValidationValidated, st.saved[0][0].Status)
	for _, vr := range st.saved[0][1:] {
		assert.Equal(t, model.ValidationFailed, vr.Status)
		assert.Contains(t, vr.Error, "rejected")
	}
}

func TestRun_StoreErrors(t *testing.T) {
	_, err := New(&memStore{listErr: errors.New("boom")}, &fakeValidator{}).Run(context.Background(), Options{})
	assert.ErrorContains(t, err, "validation: list candidates")

	st := &memStore{records: []model.Record{rec("a", "ok")}, upsertErr: errors.New("boom")}
	_, err = New(st, &fakeValidator{}).Run(context.Background(), Options{})
	assert.ErrorContains(t, err, "validation: save results")
}

type memRunBackend struct {
	inserted []runlog.Entry
	finished map[string]string
}

func (m *memRunBackend) InsertRun(_ context.Context, e runlog.Entry) error {
	m.inserted = append(m.inserted, e)
	return nil
}

func (m *memRunBackend) FinishRun(_ context.Context, id, status string, _ []byte, _ string) error {
	if m.finished == nil {
		m.finished = map[string]string{}
	}
	m.finished[id] = status
	return nil
}

func (m *memRunBackend) ListRuns(context.Context, int) ([]runlog.Entry, error) {
	return m.inserted, nil
}

func TestRun_RecordsRunLog(t *testing.T) {
	backend := &memRunBackend{}
	st := &memStore{records: []model.Record{rec("a", "ok")}}

	_, err := New(st, &fakeValidator{}, WithRunLog(runlog.New(backend))).Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, backend.inserted, 1)
	assert.Equal(t, runlog.KindValidate, backend.inserted[0].Kind)
	assert.Equal(t, "usps", backend.inserted[0].Subject)
	assert.Equal(t, runlog.StatusComplete, backend.finished[backend.inserted[0].ID])
}
