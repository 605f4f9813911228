package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/vote-match/internal/cascade"
	"github.com/sells-group/vote-match/internal/db"
	"github.com/sells-group/vote-match/internal/model"
	"github.com/sells-group/vote-match/internal/runlog"
)

// PostgresStore implements Store on PostGIS using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migratePostgres(ctx, s.pool)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- attempts ---

var attemptColumns = []string{
	"record_id", "provider", "quality", "lon", "lat",
	"matched_text", "confidence", "payload", "error", "created_at",
}

const attemptSelect = `SELECT id, record_id, provider, quality, lon, lat, matched_text, confidence, payload, error, created_at FROM lookup_attempts`

// bestOrder sorts attempts best first: quality rank, confidence, then age.
var bestOrder = cascade.RankSQL("quality") + " ASC, COALESCE(confidence, 0) DESC, id ASC"

func (s *PostgresStore) InsertAttempts(ctx context.Context, attempts []model.Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	rows := make([][]any, len(attempts))
	for i, a := range attempts {
		created := a.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		var payload []byte
		if len(a.Payload) > 0 {
			payload = a.Payload
		}
		rows[i] = []any{
			a.RecordID, a.Provider, string(a.Quality), a.Lon, a.Lat,
			nullString(a.MatchedText), a.Confidence, payload, nullString(a.Error), created,
		}
	}
	if _, err := db.CopyFrom(ctx, s.pool, "lookup_attempts", attemptColumns, rows); err != nil {
		return eris.Wrap(err, "postgres: insert attempts")
	}
	return nil
}

func (s *PostgresStore) AttemptsFor(ctx context.Context, recordIDs []string) (map[string][]model.Attempt, error) {
	out := make(map[string][]model.Attempt, len(recordIDs))
	if len(recordIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, attemptSelect+` WHERE record_id = ANY($1) ORDER BY record_id, id`, recordIDs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query attempts")
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanPgAttempt(rows)
		if err != nil {
			return nil, err
		}
		out[a.RecordID] = append(out[a.RecordID], a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate attempts")
}

func (s *PostgresStore) BestAttempt(ctx context.Context, recordID string) (*model.Attempt, error) {
	row := s.pool.QueryRow(ctx, attemptSelect+` WHERE record_id = $1 ORDER BY `+bestOrder+` LIMIT 1`, recordID)
	a, err := scanPgAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: best attempt for %s", recordID)
	}
	return &a, nil
}

func (s *PostgresStore) DeleteAttempts(ctx context.Context, f AttemptFilter) (int64, error) {
	where, args, err := attemptFilterSQL(f, func(i int) string { return fmt.Sprintf("$%d", i) })
	if err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM lookup_attempts`+where, args...)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete attempts")
	}
	return tag.RowsAffected(), nil
}

// attemptFilterSQL renders a WHERE clause for f using placeholder style ph.
func attemptFilterSQL(f AttemptFilter, ph func(int) string) (string, []any, error) {
	var conds []string
	var args []any
	if f.Provider != "" {
		args = append(args, f.Provider)
		conds = append(conds, "provider = "+ph(len(args)))
	}
	if f.Quality != "" {
		args = append(args, string(f.Quality))
		conds = append(conds, "quality = "+ph(len(args)))
	}
	if len(conds) == 0 {
		if !f.All {
			return "", nil, eris.New("store: delete attempts needs a provider, a quality or all")
		}
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// --- cascade ---

const recordSelect = `SELECT r.id, r.street_number, r.street_direction, r.street_name, r.street_type, r.apartment,
	r.city, r.state, r.zip, r.registered_districts,
	ST_X(r.location), ST_Y(r.location), r.location_provider, r.location_quality, r.matched_address
	FROM records r`

func (s *PostgresStore) ListCandidates(ctx context.Context, f cascade.Filter, limit int) ([]model.Record, error) {
	var query string
	var args []any
	if !f.OnlyUnmatched {
		query = recordSelect + `
	WHERE NOT EXISTS (SELECT 1 FROM lookup_attempts a WHERE a.record_id = r.id)
	ORDER BY r.id`
	} else {
		query = recordSelect + `
	LEFT JOIN LATERAL (
		SELECT quality FROM lookup_attempts
		WHERE record_id = r.id
		ORDER BY ` + bestOrder + `
		LIMIT 1
	) best ON true
	WHERE NOT EXISTS (SELECT 1 FROM lookup_attempts p WHERE p.record_id = r.id AND p.provider = $1)
	  AND (best.quality IS NULL OR best.quality = 'no_match' OR ($2 AND best.quality = 'failed'))
	ORDER BY r.id`
		args = append(args, f.Provider, f.RetryFailed)
	}
	query, args = withLimit(query, args, limit)
	return s.queryRecords(ctx, query, args...)
}

// --- materialize ---

func (s *PostgresStore) ListSyncCandidates(ctx context.Context, force bool, limit int) ([]model.Record, error) {
	query := recordSelect
	if !force {
		query += `
	WHERE r.location IS NOT NULL
	   OR EXISTS (SELECT 1 FROM lookup_attempts a WHERE a.record_id = r.id AND a.lon IS NOT NULL AND a.lat IS NOT NULL)`
	}
	query += `
	ORDER BY r.id`
	query, args := withLimit(query, nil, limit)
	return s.queryRecords(ctx, query, args...)
}

func (s *PostgresStore) SetLocation(ctx context.Context, recordID string, loc model.Location, legacy bool) error {
	query := `UPDATE records SET location = ST_SetSRID(ST_MakePoint($2, $3), 4326),
	location_provider = $4, location_quality = $5, updated_at = now() WHERE id = $1`
	args := []any{recordID, loc.Lon, loc.Lat, loc.Provider, string(loc.Quality)}
	if legacy {
		query = `UPDATE records SET location = ST_SetSRID(ST_MakePoint($2, $3), 4326),
	location_provider = $4, location_quality = $5, matched_address = $6, updated_at = now() WHERE id = $1`
		args = append(args, nullString(loc.MatchedText))
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: set location %s", recordID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("record not found: %s", recordID)
	}
	return nil
}

// --- spatial ---

func (s *PostgresStore) BoundaryTypes(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT boundary_type FROM boundaries ORDER BY boundary_type`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: boundary types")
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, eris.Wrap(err, "postgres: scan boundary type")
		}
		types = append(types, t)
	}
	return types, eris.Wrap(rows.Err(), "postgres: iterate boundary types")
}

// SpatialJoin finds, for each located record, the lowest-id boundary of the
// type containing its point plus how many boundaries contained it.
func (s *PostgresStore) SpatialJoin(ctx context.Context, boundaryType string, limit int) ([]SpatialMatch, error) {
	query := `SELECT r.id, COALESCE(r.registered_districts ->> $1, ''),
	m.id, m.external_id, m.name, COALESCE(m.overlaps, 0)
	FROM records r
	LEFT JOIN LATERAL (
		SELECT b.id, b.external_id, b.name, count(*) OVER () AS overlaps
		FROM boundaries b
		WHERE b.boundary_type = $1 AND ST_Contains(b.geom, r.location)
		ORDER BY b.id
		LIMIT 1
	) m ON true
	WHERE r.location IS NOT NULL
	ORDER BY r.id`
	query, args := withLimit(query, []any{boundaryType}, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: spatial join %s", boundaryType)
	}
	defer rows.Close()

	var out []SpatialMatch
	for rows.Next() {
		var (
			m          SpatialMatch
			boundaryID *int64
			externalID *string
			name       *string
			overlaps   int64
		)
		if err := rows.Scan(&m.RecordID, &m.Registered, &boundaryID, &externalID, &name, &overlaps); err != nil {
			return nil, eris.Wrap(err, "postgres: scan spatial match")
		}
		if boundaryID != nil {
			m.BoundaryID = *boundaryID
		}
		m.BoundaryExternalID = deref(externalID)
		m.BoundaryName = deref(name)
		m.Overlaps = int(overlaps)
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate spatial matches")
}

func (s *PostgresStore) UpsertAssignments(ctx context.Context, assignments []model.Assignment) error {
	if len(assignments) == 0 {
		return nil
	}
	rows := make([][]any, len(assignments))
	for i, a := range assignments {
		rows[i] = []any{
			a.RecordID, a.Type, nullString(a.Registered), nullString(a.BoundaryID), nullString(a.BoundaryName),
			string(a.Classification), a.Mismatch, a.ComparedAt,
		}
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "assignments",
		Columns:      []string{"record_id", "boundary_type", "registered_value", "boundary_external_id", "boundary_name", "classification", "is_mismatch", "compared_at"},
		ConflictKeys: []string{"record_id", "boundary_type"},
	}, rows)
	return eris.Wrap(err, "postgres: upsert assignments")
}

// RefreshMismatch rolls assignments up to records.district_mismatch. bool_or
// skips NULLs, so the flag is NULL only when every assignment is unknown.
func (s *PostgresStore) RefreshMismatch(ctx context.Context, recordIDs []string) error {
	if len(recordIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE records r SET district_mismatch = s.any_mismatch, updated_at = now()
	FROM (
		SELECT record_id, bool_or(is_mismatch) AS any_mismatch
		FROM assignments WHERE record_id = ANY($1) GROUP BY record_id
	) s
	WHERE r.id = s.record_id`, recordIDs)
	return eris.Wrap(err, "postgres: refresh mismatch")
}

// --- ingestion ---

func (s *PostgresStore) UpsertRecords(ctx context.Context, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([][]any, len(records))
	for i, r := range records {
		reg, err := marshalRegistered(r.Registered)
		if err != nil {
			return err
		}
		a := r.Address
		rows[i] = []any{
			r.ID, nullString(a.StreetNumber), nullString(a.StreetDirection), nullString(a.StreetName),
			nullString(a.StreetType), nullString(a.Apartment), nullString(a.City), nullString(a.State),
			nullString(a.Zip), reg,
		}
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "records",
		Columns: []string{
			"id", "street_number", "street_direction", "street_name", "street_type", "apartment",
			"city", "state", "zip", "registered_districts",
		},
		ConflictKeys: []string{"id"},
	}, rows)
	return eris.Wrap(err, "postgres: upsert records")
}

func (s *PostgresStore) UpsertBoundaries(ctx context.Context, boundaries []model.Boundary) (int64, error) {
	if len(boundaries) == 0 {
		return 0, nil
	}
	rows := make([][]any, len(boundaries))
	for i, b := range boundaries {
		var meta []byte
		if len(b.Metadata) > 0 {
			var err error
			if meta, err = json.Marshal(b.Metadata); err != nil {
				return 0, eris.Wrap(err, "postgres: marshal boundary metadata")
			}
		}
		rows[i] = []any{b.Type, b.ExternalID, nullString(b.Name), nullString(b.County), meta, b.Geometry}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "boundaries",
		Columns:      []string{"boundary_type", "external_id", "name", "county", "metadata", "geom"},
		ConflictKeys: []string{"boundary_type", "external_id"},
		UpdateCols:   []string{"name", "metadata", "geom"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert boundaries")
	}
	return n, nil
}

// LinkCounty appends county to the boundary's comma-separated county list
// unless it is already listed.
func (s *PostgresStore) LinkCounty(ctx context.Context, boundaryType, externalID, county string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE boundaries SET county = CASE
		WHEN county IS NULL OR county = '' THEN $3
		WHEN $3 = ANY(string_to_array(county, ', ')) THEN county
		ELSE county || ', ' || $3 END
	WHERE boundary_type = $1 AND external_id = $2`,
		boundaryType, externalID, county,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: link county %s/%s", boundaryType, externalID)
	}
	return tag.RowsAffected() > 0, nil
}

// CountyCoverage lists district boundaries with the counties whose polygons
// overlap them in area.
func (s *PostgresStore) CountyCoverage(ctx context.Context, f CoverageFilter) ([]CountyCoverage, error) {
	rows, err := s.pool.Query(ctx, `SELECT d.boundary_type, d.external_id, COALESCE(d.county, ''),
	COALESCE(array_agg(COALESCE(c.name, c.external_id) ORDER BY COALESCE(c.name, c.external_id))
		FILTER (WHERE c.id IS NOT NULL), '{}')
	FROM boundaries d
	LEFT JOIN boundaries c ON c.boundary_type = $1
		AND ST_Intersects(c.geom, d.geom) AND NOT ST_Touches(c.geom, d.geom)
		AND ($3 = '' OR c.metadata ->> 'STATEFP' = $3)
	WHERE d.boundary_type <> $1 AND ($2 = '' OR d.boundary_type = $2)
	GROUP BY d.id, d.boundary_type, d.external_id, d.county
	ORDER BY d.boundary_type, d.external_id`,
		CountyBoundaryType, f.Type, f.StateFIPS)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: county coverage")
	}
	defer rows.Close()

	var out []CountyCoverage
	for rows.Next() {
		var c CountyCoverage
		if err := rows.Scan(&c.Type, &c.ExternalID, &c.County, &c.Counties); err != nil {
			return nil, eris.Wrap(err, "postgres: scan county coverage")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate county coverage")
}

// SetCounty replaces a boundary's county list.
func (s *PostgresStore) SetCounty(ctx context.Context, boundaryType, externalID, county string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE boundaries SET county = $3 WHERE boundary_type = $1 AND external_id = $2`,
		boundaryType, externalID, nullString(county))
	if err != nil {
		return eris.Wrapf(err, "postgres: set county %s/%s", boundaryType, externalID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: boundary not found: %s/%s", boundaryType, externalID)
	}
	return nil
}

// --- address validation ---

// ListValidationCandidates selects records that were looked up but have no
// usable attempt, and that have not been validated yet (or whose validation
// failed, with retryFailed).
func (s *PostgresStore) ListValidationCandidates(ctx context.Context, retryFailed bool, limit int) ([]model.Record, error) {
	query := recordSelect + `
	WHERE EXISTS (SELECT 1 FROM lookup_attempts a WHERE a.record_id = r.id)
	  AND NOT EXISTS (SELECT 1 FROM lookup_attempts a WHERE a.record_id = r.id
		AND a.quality IN ('exact', 'interpolated', 'approximate'))
	  AND NOT EXISTS (SELECT 1 FROM address_validations v WHERE v.record_id = r.id
		AND NOT ($1 AND v.status = 'failed'))
	ORDER BY r.id`
	query, args := withLimit(query, []any{retryFailed}, limit)
	return s.queryRecords(ctx, query, args...)
}

var validationColumns = []string{
	"record_id", "status", "street", "city", "state", "zip", "zip_plus4", "delivery_point",
	"carrier_route", "dpv_confirmation", "business", "vacant", "error", "validated_at",
}

// UpsertValidations replaces each record's validation row.
func (s *PostgresStore) UpsertValidations(ctx context.Context, validations []model.Validation) error {
	if len(validations) == 0 {
		return nil
	}
	rows := make([][]any, len(validations))
	for i, v := range validations {
		rows[i] = validationRow(v)
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "address_validations",
		Columns:      validationColumns,
		ConflictKeys: []string{"record_id"},
	}, rows)
	return eris.Wrap(err, "postgres: upsert validations")
}

func validationRow(v model.Validation) []any {
	at := v.ValidatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return []any{
		v.RecordID, string(v.Status), nullString(v.Street), nullString(v.City), nullString(v.State),
		nullString(v.Zip), nullString(v.ZipPlus4), nullString(v.DeliveryPoint), nullString(v.CarrierRoute),
		nullString(v.DPVConfirmation), nullString(v.Business), nullString(v.Vacant), nullString(v.Error), at,
	}
}

// --- reporting ---

func (s *PostgresStore) AttemptCounts(ctx context.Context) ([]Count, error) {
	return s.queryCounts(ctx, `SELECT provider, quality, count(*) FROM lookup_attempts GROUP BY 1, 2 ORDER BY 1, 2`)
}

func (s *PostgresStore) AssignmentCounts(ctx context.Context) ([]Count, error) {
	return s.queryCounts(ctx, `SELECT boundary_type, classification, count(*) FROM assignments GROUP BY 1, 2 ORDER BY 1, 2`)
}

func (s *PostgresStore) ValidationCounts(ctx context.Context) ([]Count, error) {
	return s.queryCounts(ctx, `SELECT 'usps', status, COUNT(*) FROM address_validations GROUP BY 1, 2 ORDER BY 1, 2`)
}

func (s *PostgresStore) queryCounts(ctx context.Context, query string) ([]Count, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: counts")
	}
	defer rows.Close()

	var out []Count
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Group, &c.Key, &c.N); err != nil {
			return nil, eris.Wrap(err, "postgres: scan count")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate counts")
}

// --- run log ---

func (s *PostgresStore) InsertRun(ctx context.Context, e runlog.Entry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_log (id, kind, subject, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.Kind, e.Subject, e.Status, e.StartedAt,
	)
	return eris.Wrap(err, "postgres: insert run")
}

func (s *PostgresStore) FinishRun(ctx context.Context, id, status string, metadata []byte, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE run_log SET status = $1, completed_at = now(), metadata = $2, error = $3 WHERE id = $4`,
		status, metadata, nullString(errMsg), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]runlog.Entry, error) {
	query, args := withLimit(`SELECT id, kind, subject, status, started_at, completed_at, metadata, error
	FROM run_log ORDER BY started_at DESC`, nil, limit)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []runlog.Entry
	for rows.Next() {
		var (
			e       runlog.Entry
			meta    []byte
			errText *string
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.Subject, &e.Status, &e.StartedAt, &e.CompletedAt, &meta, &errText); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal run metadata")
			}
		}
		e.Error = deref(errText)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

// --- helpers ---

func (s *PostgresStore) queryRecords(ctx context.Context, query string, args ...any) ([]model.Record, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query records")
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		var (
			r                                      model.Record
			num, dir, name, typ, apt, city, st, zp *string
			reg                                    []byte
			lon, lat                               *float64
			provider, quality, matched             *string
		)
		if err := rows.Scan(&r.ID, &num, &dir, &name, &typ, &apt, &city, &st, &zp, &reg,
			&lon, &lat, &provider, &quality, &matched); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		r.Address = model.Address{
			StreetNumber: deref(num), StreetDirection: deref(dir), StreetName: deref(name),
			StreetType: deref(typ), Apartment: deref(apt), City: deref(city), State: deref(st), Zip: deref(zp),
		}
		if len(reg) > 0 {
			if err := json.Unmarshal(reg, &r.Registered); err != nil {
				return nil, eris.Wrapf(err, "postgres: unmarshal registered districts for %s", r.ID)
			}
		}
		if lon != nil && lat != nil {
			r.Location = &model.Location{
				Lon: *lon, Lat: *lat, Provider: deref(provider),
				Quality: model.Quality(deref(quality)), MatchedText: deref(matched),
			}
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate records")
}

func scanPgAttempt(row pgx.Row) (model.Attempt, error) {
	var (
		a                model.Attempt
		quality          string
		matched, errText *string
		payload          []byte
	)
	if err := row.Scan(&a.ID, &a.RecordID, &a.Provider, &quality, &a.Lon, &a.Lat,
		&matched, &a.Confidence, &payload, &errText, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return a, err
		}
		return a, eris.Wrap(err, "postgres: scan attempt")
	}
	a.Quality = model.Quality(quality)
	a.MatchedText = deref(matched)
	a.Error = deref(errText)
	if len(payload) > 0 {
		a.Payload = json.RawMessage(payload)
	}
	return a, nil
}

// withLimit appends a LIMIT placeholder when limit > 0.
func withLimit(query string, args []any, limit int) (string, []any) {
	if limit <= 0 {
		return query, args
	}
	args = append(args, limit)
	return fmt.Sprintf("%s LIMIT $%d", query, len(args)), args
}

func marshalRegistered(reg map[string]string) ([]byte, error) {
	if reg == nil {
		reg = map[string]string{}
	}
	b, err := json.Marshal(reg)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal registered districts")
	}
	return b, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
