package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/vote-match/internal/cascade"
	"github.com/sells-group/vote-match/internal/model"
	"github.com/sells-group/vote-match/internal/runlog"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func strPtr(s string) *string { return &s }

var attemptRowCols = []string{"id", "record_id", "provider", "quality", "lon", "lat", "matched_text", "confidence", "payload", "error", "created_at"}

var recordRowCols = []string{"id", "street_number", "street_direction", "street_name", "street_type", "apartment",
	"city", "state", "zip", "registered_districts", "st_x", "st_y", "location_provider", "location_quality", "matched_address"}

func addRecordRow(rows *pgxmock.Rows, id string) *pgxmock.Rows {
	return rows.AddRow(id, strPtr("12"), (*string)(nil), strPtr("Main"), strPtr("St"), (*string)(nil),
		strPtr("Athens"), strPtr("GA"), strPtr("30601"), []byte(`{"congressional":"10"}`),
		(*float64)(nil), (*float64)(nil), (*string)(nil), (*string)(nil), (*string)(nil))
}

func TestPostgresStore_InsertAttempts_Copy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"lookup_attempts"}, attemptColumns).WillReturnResult(2)

	err := s.InsertAttempts(context.Background(), []model.Attempt{
		{RecordID: "r1", Provider: "census", Quality: model.QualityExact, Lon: model.Float(-83.4), Lat: model.Float(33.9)},
		{RecordID: "r2", Provider: "census", Quality: model.QualityNoMatch},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertAttempts_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	require.NoError(t, s.InsertAttempts(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertAttempts_CopyError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"lookup_attempts"}, attemptColumns).WillReturnError(errors.New("disk full"))

	err := s.InsertAttempts(context.Background(), []model.Attempt{{RecordID: "r1", Provider: "census", Quality: model.QualityFailed}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert attempts")
}

func TestPostgresStore_BestAttempt_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM lookup_attempts WHERE record_id = \$1 ORDER BY CASE quality`).
		WithArgs("r1").
		WillReturnError(pgx.ErrNoRows)

	a, err := s.BestAttempt(context.Background(), "r1")
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BestAttempt(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectQuery(`FROM lookup_attempts WHERE record_id = \$1`).
		WithArgs("r1").
		WillReturnRows(mock.NewRows(attemptRowCols).AddRow(
			int64(7), "r1", "geocodio", "exact", model.Float(-83.1), model.Float(33.2),
			strPtr("12 Main St"), model.Float(0.9), []byte(`{"source":"x"}`), (*string)(nil), now))

	a, err := s.BestAttempt(context.Background(), "r1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, int64(7), a.ID)
	assert.Equal(t, model.QualityExact, a.Quality)
	assert.Equal(t, "12 Main St", a.MatchedText)
	assert.InDelta(t, -83.1, *a.Lon, 1e-9)
	assert.JSONEq(t, `{"source":"x"}`, string(a.Payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AttemptsFor_Groups(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectQuery(`WHERE record_id = ANY\(\$1\) ORDER BY record_id, id`).
		WithArgs([]string{"r1", "r2"}).
		WillReturnRows(mock.NewRows(attemptRowCols).
			AddRow(int64(1), "r1", "census", "no_match", (*float64)(nil), (*float64)(nil), (*string)(nil), (*float64)(nil), []byte(nil), (*string)(nil), now).
			AddRow(int64(2), "r1", "geocodio", "exact", model.Float(1), model.Float(2), (*string)(nil), model.Float(1), []byte(nil), (*string)(nil), now).
			AddRow(int64(3), "r2", "census", "failed", (*float64)(nil), (*float64)(nil), (*string)(nil), (*float64)(nil), []byte(nil), strPtr("timeout"), now))

	got, err := s.AttemptsFor(context.Background(), []string{"r1", "r2"})
	require.NoError(t, err)
	assert.Len(t, got["r1"], 2)
	require.Len(t, got["r2"], 1)
	assert.Equal(t, "timeout", got["r2"][0].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AttemptsFor_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	got, err := s.AttemptsFor(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteAttempts(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM lookup_attempts WHERE provider = \$1 AND quality = \$2`).
		WithArgs("census", "failed").
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := s.DeleteAttempts(context.Background(), AttemptFilter{Provider: "census", Quality: model.QualityFailed})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteAttempts_NeedsCriterion(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	_, err := s.DeleteAttempts(context.Background(), AttemptFilter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs a provider")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListCandidates_FirstPass(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE NOT EXISTS \(SELECT 1 FROM lookup_attempts a WHERE a.record_id = r.id\)\s+ORDER BY r.id LIMIT \$1`).
		WithArgs(50).
		WillReturnRows(addRecordRow(mock.NewRows(recordRowCols), "r1"))

	recs, err := s.ListCandidates(context.Background(), cascade.Filter{Provider: "census"}, 50)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "r1", recs[0].ID)
	assert.Equal(t, "12 Main St", recs[0].Address.Street())
	assert.Equal(t, "10", recs[0].Registered["congressional"])
	assert.Nil(t, recs[0].Location)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListCandidates_Cascade(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)LEFT JOIN LATERAL .* p.provider = \$1 .* \(\$2 AND best.quality = 'failed'\)`).
		WithArgs("geocodio", true).
		WillReturnRows(addRecordRow(mock.NewRows(recordRowCols), "r9"))

	recs, err := s.ListCandidates(context.Background(),
		cascade.Filter{Provider: "geocodio", OnlyUnmatched: true, RetryFailed: true}, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "r9", recs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetLocation_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE records SET location = ST_SetSRID\(ST_MakePoint\(\$2, \$3\), 4326\)`).
		WithArgs("missing", -83.0, 33.0, "census", "exact").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SetLocation(context.Background(), "missing",
		model.Location{Lon: -83, Lat: 33, Provider: "census", Quality: model.QualityExact}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetLocation_Legacy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`matched_address = \$6`).
		WithArgs("r1", -83.0, 33.0, "census", "exact", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.SetLocation(context.Background(), "r1",
		model.Location{Lon: -83, Lat: 33, Provider: "census", Quality: model.QualityExact, MatchedText: "12 MAIN ST"}, true)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SpatialJoin(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`ST_Contains\(b.geom, r.location\)`).
		WithArgs("congressional").
		WillReturnRows(mock.NewRows([]string{"id", "registered", "bid", "external_id", "name", "overlaps"}).
			AddRow("r1", "10", func() *int64 { v := int64(3); return &v }(), strPtr("1310"), strPtr("District 10"), int64(2)).
			AddRow("r2", "", (*int64)(nil), (*string)(nil), (*string)(nil), int64(0)))

	got, err := s.SpatialJoin(context.Background(), "congressional", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Found())
	assert.Equal(t, int64(3), got[0].BoundaryID)
	assert.Equal(t, "1310", got[0].BoundaryExternalID)
	assert.Equal(t, 2, got[0].Overlaps)
	assert.False(t, got[1].Found())
	assert.Empty(t, got[1].BoundaryName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RefreshMismatch(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`bool_or\(is_mismatch\)`).
		WithArgs([]string{"r1", "r2"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	require.NoError(t, s.RefreshMismatch(context.Background(), []string{"r1", "r2"}))
	require.NoError(t, s.RefreshMismatch(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertAssignments(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mismatch := true

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_assignments"`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_assignments"},
		[]string{"record_id", "boundary_type", "registered_value", "boundary_external_id", "boundary_name", "classification", "is_mismatch", "compared_at"}).
		WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "assignments"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`TRUNCATE`).WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCommit()

	err := s.UpsertAssignments(context.Background(), []model.Assignment{{
		RecordID: "r1", Type: "congressional", Registered: "10", BoundaryID: "1309",
		Classification: model.ClassificationMismatched, Mismatch: &mismatch, ComparedAt: time.Now(),
	}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LinkCounty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE boundaries SET county`).
		WithArgs("state_house", "117", "Clarke").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.LinkCounty(context.Background(), "state_house", "117", "Clarke")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountyCoverage(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)LEFT JOIN boundaries c ON c.boundary_type = \$1\s+AND ST_Intersects\(c.geom, d.geom\) AND NOT ST_Touches\(c.geom, d.geom\)\s+AND \(\$3 = '' OR c.metadata ->> 'STATEFP' = \$3\)`).
		WithArgs(CountyBoundaryType, "congressional", "13").
		WillReturnRows(mock.NewRows([]string{"boundary_type", "external_id", "county", "counties"}).
			AddRow("congressional", "010", "", []string{"Clarke", "Oconee"}).
			AddRow("congressional", "014", "WALKER", []string{}))

	got, err := s.CountyCoverage(context.Background(), CoverageFilter{Type: "congressional", StateFIPS: "13"})
	require.NoError(t, err)
	assert.Equal(t, []CountyCoverage{
		{Type: "congressional", ExternalID: "010", Counties: []string{"Clarke", "Oconee"}},
		{Type: "congressional", ExternalID: "014", County: "WALKER", Counties: []string{}},
	}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetCounty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE boundaries SET county = \$3 WHERE boundary_type = \$1 AND external_id = \$2`).
		WithArgs("state_house", "117", strPtr("CLARKE, OCONEE")).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE boundaries SET county = \$3`).
		WithArgs("state_house", "999", strPtr("CLARKE")).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, s.SetCounty(context.Background(), "state_house", "117", "CLARKE, OCONEE"))
	err := s.SetCounty(context.Background(), "state_house", "999", "CLARKE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boundary not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListValidationCandidates(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)a.quality IN \('exact', 'interpolated', 'approximate'\).*FROM address_validations v .*NOT \(\$1 AND v.status = 'failed'\)\)\s+ORDER BY r.id LIMIT \$2`).
		WithArgs(true, 25).
		WillReturnRows(addRecordRow(mock.NewRows(recordRowCols), "r4"))

	recs, err := s.ListValidationCandidates(context.Background(), true, 25)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "r4", recs[0].ID)
	assert.Equal(t, "12 Main St", recs[0].Address.Primary())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertValidations(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_address_validations"`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_address_validations"}, validationColumns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "address_validations"`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec(`TRUNCATE`).WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCommit()

	err := s.UpsertValidations(context.Background(), []model.Validation{
		{RecordID: "r1", Status: model.ValidationCorrected, Street: "100 MAIN ST", ZipPlus4: "1234", ValidatedAt: time.Now()},
		{RecordID: "r2", Status: model.ValidationFailed, Error: "Address Not Found."},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertValidations_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	require.NoError(t, s.UpsertValidations(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestValidationRow_FillsTimestamp(t *testing.T) {
	row := validationRow(model.Validation{RecordID: "r1", Status: model.ValidationFailed, Error: "HTTP 502"})
	require.Len(t, row, len(validationColumns))
	assert.Equal(t, "failed", row[1])
	assert.Nil(t, row[2])
	assert.Equal(t, strPtr("HTTP 502"), row[12])
	assert.False(t, row[13].(time.Time).IsZero())
}

func TestPostgresStore_ValidationCounts(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT 'usps', status, COUNT\(\*\) FROM address_validations GROUP BY`).
		WillReturnRows(mock.NewRows([]string{"validator", "status", "count"}).
			AddRow("usps", "corrected", int64(4)).
			AddRow("usps", "failed", int64(1)))

	counts, err := s.ValidationCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Count{{"usps", "corrected", 4}, {"usps", "failed", 1}}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AttemptCounts(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM lookup_attempts GROUP BY`).
		WillReturnRows(mock.NewRows([]string{"provider", "quality", "count"}).
			AddRow("census", "exact", int64(10)).
			AddRow("census", "no_match", int64(3)))

	counts, err := s.AttemptCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Count{{"census", "exact", 10}, {"census", "no_match", 3}}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RunLog(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	started := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO run_log`).
		WithArgs("run-1", runlog.KindGeocode, "census", runlog.StatusRunning, started).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE run_log SET status = \$1`).
		WithArgs(runlog.StatusComplete, []byte(`{"processed":3}`), pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`FROM run_log ORDER BY started_at DESC LIMIT \$1`).
		WithArgs(5).
		WillReturnRows(mock.NewRows([]string{"id", "kind", "subject", "status", "started_at", "completed_at", "metadata", "error"}).
			AddRow("run-1", "geocode", "census", "complete", started, &started, []byte(`{"processed":3}`), (*string)(nil)))

	ctx := context.Background()
	require.NoError(t, s.InsertRun(ctx, runlog.Entry{ID: "run-1", Kind: runlog.KindGeocode, Subject: "census", Status: runlog.StatusRunning, StartedAt: started}))
	require.NoError(t, s.FinishRun(ctx, "run-1", runlog.StatusComplete, []byte(`{"processed":3}`), ""))

	runs, err := s.ListRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "complete", runs[0].Status)
	assert.NotNil(t, runs[0].CompletedAt)
	assert.EqualValues(t, 3, runs[0].Metadata["processed"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE run_log`).
		WithArgs(runlog.StatusFailed, pgxmock.AnyArg(), pgxmock.AnyArg(), "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinishRun(context.Background(), "ghost", runlog.StatusFailed, nil, "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}

func TestPostgresStore_Migrate_AppliesPending(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT pg_advisory_lock`).WithArgs(migrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectQuery(`SELECT filename FROM schema_migrations`).
		WillReturnRows(mock.NewRows([]string{"filename"}).AddRow("001_init.sql"))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS boundaries`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs("002_boundaries.sql").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS run_log`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs("003_run_log.sql").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS address_validations`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs("004_address_validations.sql").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`SELECT pg_advisory_unlock`).WithArgs(migrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate_LockError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT pg_advisory_lock`).WithArgs(migrationLockID).WillReturnError(errors.New("conn refused"))

	err := s.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "advisory lock")
}
