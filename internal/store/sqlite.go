package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/vote-match/internal/cascade"
	"github.com/sells-group/vote-match/internal/model"
	"github.com/sells-group/vote-match/internal/runlog"
)

// SQLiteStore implements Store using modernc.org/sqlite. Geometry is kept as
// EWKB and containment is evaluated in Go.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS records (
	id                   TEXT PRIMARY KEY,
	street_number        TEXT,
	street_direction     TEXT,
	street_name          TEXT,
	street_type          TEXT,
	apartment            TEXT,
	city                 TEXT,
	state                TEXT,
	zip                  TEXT,
	registered_districts TEXT NOT NULL DEFAULT '{}',
	location_lon         REAL,
	location_lat         REAL,
	location_provider    TEXT,
	location_quality     TEXT,
	matched_address      TEXT,
	district_mismatch    INTEGER,
	created_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS lookup_attempts (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	record_id    TEXT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
	provider     TEXT NOT NULL,
	quality      TEXT NOT NULL,
	lon          REAL,
	lat          REAL,
	matched_text TEXT,
	confidence   REAL,
	payload      TEXT,
	error        TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_lookup_attempts_record ON lookup_attempts(record_id);
CREATE INDEX IF NOT EXISTS idx_lookup_attempts_provider_quality ON lookup_attempts(provider, quality);

CREATE TABLE IF NOT EXISTS boundaries (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	boundary_type TEXT NOT NULL,
	external_id   TEXT NOT NULL,
	name          TEXT,
	county        TEXT,
	metadata      TEXT,
	geom          BLOB NOT NULL,
	UNIQUE (boundary_type, external_id)
);

CREATE TABLE IF NOT EXISTS assignments (
	record_id            TEXT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
	boundary_type        TEXT NOT NULL,
	registered_value     TEXT,
	boundary_external_id TEXT,
	boundary_name        TEXT,
	classification       TEXT NOT NULL,
	is_mismatch          INTEGER,
	compared_at          DATETIME NOT NULL,
	PRIMARY KEY (record_id, boundary_type)
);

CREATE TABLE IF NOT EXISTS address_validations (
	record_id        TEXT PRIMARY KEY REFERENCES records(id) ON DELETE CASCADE,
	status           TEXT NOT NULL,
	street           TEXT,
	city             TEXT,
	state            TEXT,
	zip              TEXT,
	zip_plus4        TEXT,
	delivery_point   TEXT,
	carrier_route    TEXT,
	dpv_confirmation TEXT,
	business         TEXT,
	vacant           TEXT,
	error            TEXT,
	validated_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS run_log (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	subject      TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	started_at   DATETIME NOT NULL,
	completed_at DATETIME,
	metadata     TEXT,
	error        TEXT
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- attempts ---

const sqliteAttemptSelect = `SELECT id, record_id, provider, quality, lon, lat, matched_text, confidence, payload, error, created_at FROM lookup_attempts`

func (s *SQLiteStore) InsertAttempts(ctx context.Context, attempts []model.Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO lookup_attempts
		(record_id, provider, quality, lon, lat, matched_text, confidence, payload, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert attempt")
	}
	defer stmt.Close() //nolint:errcheck

	for _, a := range attempts {
		created := a.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		var payload *string
		if len(a.Payload) > 0 {
			p := string(a.Payload)
			payload = &p
		}
		if _, err := stmt.ExecContext(ctx, a.RecordID, a.Provider, string(a.Quality), a.Lon, a.Lat,
			nullString(a.MatchedText), a.Confidence, payload, nullString(a.Error), created); err != nil {
			return eris.Wrapf(err, "sqlite: insert attempt for %s", a.RecordID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit attempts")
}

func (s *SQLiteStore) AttemptsFor(ctx context.Context, recordIDs []string) (map[string][]model.Attempt, error) {
	out := make(map[string][]model.Attempt, len(recordIDs))
	for _, chunk := range chunkStrings(recordIDs, 500) {
		query := sqliteAttemptSelect + ` WHERE record_id IN (` + placeholders(len(chunk)) + `) ORDER BY record_id, id`
		rows, err := s.db.QueryContext(ctx, query, stringArgs(chunk)...)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: query attempts")
		}
		for rows.Next() {
			a, err := scanSQLiteAttempt(rows)
			if err != nil {
				rows.Close() //nolint:errcheck
				return nil, err
			}
			out[a.RecordID] = append(out[a.RecordID], a)
		}
		err = rows.Err()
		rows.Close() //nolint:errcheck
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: iterate attempts")
		}
	}
	return out, nil
}

func (s *SQLiteStore) BestAttempt(ctx context.Context, recordID string) (*model.Attempt, error) {
	row := s.db.QueryRowContext(ctx, sqliteAttemptSelect+` WHERE record_id = ? ORDER BY `+
		cascade.RankSQL("quality")+` ASC, COALESCE(confidence, 0) DESC, id ASC LIMIT 1`, recordID)
	a, err := scanSQLiteAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLiteStore) DeleteAttempts(ctx context.Context, f AttemptFilter) (int64, error) {
	where, args, err := attemptFilterSQL(f, func(int) string { return "?" })
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM lookup_attempts`+where, args...)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete attempts")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

// --- cascade ---

const sqliteRecordSelect = `SELECT id, street_number, street_direction, street_name, street_type, apartment,
	city, state, zip, registered_districts, location_lon, location_lat, location_provider, location_quality, matched_address
	FROM records`

// ListCandidates pages through records in id order and keeps those the
// filter accepts.
func (s *SQLiteStore) ListCandidates(ctx context.Context, f cascade.Filter, limit int) ([]model.Record, error) {
	const page = 1000
	var out []model.Record
	after := ""
	for {
		recs, err := s.queryRecords(ctx, sqliteRecordSelect+` WHERE id > ? ORDER BY id LIMIT ?`, after, page)
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			return out, nil
		}
		ids := make([]string, len(recs))
		for i, r := range recs {
			ids[i] = r.ID
		}
		attempts, err := s.AttemptsFor(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if f.Eligible(attempts[r.ID]) {
				out = append(out, r)
				if limit > 0 && len(out) == limit {
					return out, nil
				}
			}
		}
		after = recs[len(recs)-1].ID
	}
}

// --- materialize ---

func (s *SQLiteStore) ListSyncCandidates(ctx context.Context, force bool, limit int) ([]model.Record, error) {
	query := sqliteRecordSelect
	if !force {
		query += ` WHERE location_lon IS NOT NULL
		OR EXISTS (SELECT 1 FROM lookup_attempts a WHERE a.record_id = records.id AND a.lon IS NOT NULL AND a.lat IS NOT NULL)`
	}
	query += ` ORDER BY id LIMIT ?`
	return s.queryRecords(ctx, query, sqliteLimit(limit))
}

func (s *SQLiteStore) SetLocation(ctx context.Context, recordID string, loc model.Location, legacy bool) error {
	query := `UPDATE records SET location_lon = ?, location_lat = ?, location_provider = ?, location_quality = ?,
		updated_at = datetime('now') WHERE id = ?`
	args := []any{loc.Lon, loc.Lat, loc.Provider, string(loc.Quality), recordID}
	if legacy {
		query = `UPDATE records SET location_lon = ?, location_lat = ?, location_provider = ?, location_quality = ?,
		matched_address = ?, updated_at = datetime('now') WHERE id = ?`
		args = []any{loc.Lon, loc.Lat, loc.Provider, string(loc.Quality), nullString(loc.MatchedText), recordID}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set location %s", recordID)
	}
	return checkRowsAffected(res, "record", recordID)
}

// --- spatial ---

func (s *SQLiteStore) BoundaryTypes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT boundary_type FROM boundaries ORDER BY boundary_type`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: boundary types")
	}
	defer rows.Close() //nolint:errcheck

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan boundary type")
		}
		types = append(types, t)
	}
	return types, eris.Wrap(rows.Err(), "sqlite: iterate boundary types")
}

type sqliteBoundary struct {
	id           int64
	boundaryType string
	externalID   string
	name         string
	county       string
	area         *area
}

// SpatialJoin tests every located record against the type's boundaries,
// choosing the lowest boundary id when several contain the point.
func (s *SQLiteStore) SpatialJoin(ctx context.Context, boundaryType string, limit int) ([]SpatialMatch, error) {
	bounds, err := s.loadBoundaries(ctx, boundaryType)
	if err != nil {
		return nil, err
	}

	recs, err := s.queryRecords(ctx, sqliteRecordSelect+` WHERE location_lon IS NOT NULL AND location_lat IS NOT NULL ORDER BY id LIMIT ?`, sqliteLimit(limit))
	if err != nil {
		return nil, err
	}

	out := make([]SpatialMatch, 0, len(recs))
	for _, r := range recs {
		m := SpatialMatch{RecordID: r.ID, Registered: r.Registered[boundaryType]}
		for _, b := range bounds {
			if !b.area.contains(r.Location.Lon, r.Location.Lat) {
				continue
			}
			if m.Overlaps == 0 {
				m.BoundaryID, m.BoundaryExternalID, m.BoundaryName = b.id, b.externalID, b.name
			}
			m.Overlaps++
		}
		out = append(out, m)
	}
	return out, nil
}

// loadBoundaries decodes every boundary of a type, ordered by id.
func (s *SQLiteStore) loadBoundaries(ctx context.Context, boundaryType string) ([]sqliteBoundary, error) {
	return s.decodeBoundaries(ctx, boundaryType,
		`SELECT id, boundary_type, external_id, name, county, geom FROM boundaries WHERE boundary_type = ? ORDER BY id`, boundaryType)
}

func (s *SQLiteStore) decodeBoundaries(ctx context.Context, label, query string, args ...any) ([]sqliteBoundary, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load boundaries %s", label)
	}
	defer rows.Close() //nolint:errcheck

	var out []sqliteBoundary
	for rows.Next() {
		var (
			b            sqliteBoundary
			name, county sql.NullString
			geom         []byte
		)
		if err := rows.Scan(&b.id, &b.boundaryType, &b.externalID, &name, &county, &geom); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan boundary")
		}
		b.name, b.county = name.String, county.String
		if b.area, err = decodeArea(geom); err != nil {
			return nil, eris.Wrapf(err, "sqlite: boundary %s/%s", b.boundaryType, b.externalID)
		}
		out = append(out, b)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate boundaries")
}

func (s *SQLiteStore) UpsertAssignments(ctx context.Context, assignments []model.Assignment) error {
	if len(assignments) == 0 {
		return nil
	}
	return s.inTx(ctx, `INSERT INTO assignments
		(record_id, boundary_type, registered_value, boundary_external_id, boundary_name, classification, is_mismatch, compared_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (record_id, boundary_type) DO UPDATE SET
			registered_value = excluded.registered_value,
			boundary_external_id = excluded.boundary_external_id,
			boundary_name = excluded.boundary_name,
			classification = excluded.classification,
			is_mismatch = excluded.is_mismatch,
			compared_at = excluded.compared_at`,
		len(assignments), func(i int) []any {
			a := assignments[i]
			return []any{a.RecordID, a.Type, nullString(a.Registered), nullString(a.BoundaryID), nullString(a.BoundaryName),
				string(a.Classification), a.Mismatch, a.ComparedAt}
		})
}

// RefreshMismatch sets district_mismatch to true when any assignment is a
// mismatch; NULL assignments are skipped and an all-NULL record stays NULL.
func (s *SQLiteStore) RefreshMismatch(ctx context.Context, recordIDs []string) error {
	for _, chunk := range chunkStrings(recordIDs, 500) {
		_, err := s.db.ExecContext(ctx, `UPDATE records SET district_mismatch = (
			SELECT CASE WHEN COUNT(is_mismatch) = 0 THEN NULL ELSE MAX(is_mismatch) END
			FROM assignments WHERE assignments.record_id = records.id
		), updated_at = datetime('now')
		WHERE id IN (`+placeholders(len(chunk))+`)
		  AND EXISTS (SELECT 1 FROM assignments WHERE assignments.record_id = records.id)`,
			stringArgs(chunk)...)
		if err != nil {
			return eris.Wrap(err, "sqlite: refresh mismatch")
		}
	}
	return nil
}

// --- ingestion ---

func (s *SQLiteStore) UpsertRecords(ctx context.Context, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}
	regs := make([][]byte, len(records))
	for i, r := range records {
		b, err := marshalRegistered(r.Registered)
		if err != nil {
			return err
		}
		regs[i] = b
	}
	return s.inTx(ctx, `INSERT INTO records
		(id, street_number, street_direction, street_name, street_type, apartment, city, state, zip, registered_districts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			street_number = excluded.street_number,
			street_direction = excluded.street_direction,
			street_name = excluded.street_name,
			street_type = excluded.street_type,
			apartment = excluded.apartment,
			city = excluded.city,
			state = excluded.state,
			zip = excluded.zip,
			registered_districts = excluded.registered_districts,
			updated_at = datetime('now')`,
		len(records), func(i int) []any {
			r, a := records[i], records[i].Address
			return []any{r.ID, nullString(a.StreetNumber), nullString(a.StreetDirection), nullString(a.StreetName),
				nullString(a.StreetType), nullString(a.Apartment), nullString(a.City), nullString(a.State),
				nullString(a.Zip), string(regs[i])}
		})
}

func (s *SQLiteStore) UpsertBoundaries(ctx context.Context, boundaries []model.Boundary) (int64, error) {
	if len(boundaries) == 0 {
		return 0, nil
	}
	metas := make([]*string, len(boundaries))
	for i, b := range boundaries {
		if len(b.Metadata) == 0 {
			continue
		}
		m, err := json.Marshal(b.Metadata)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal boundary metadata")
		}
		str := string(m)
		metas[i] = &str
	}
	err := s.inTx(ctx, `INSERT INTO boundaries (boundary_type, external_id, name, county, metadata, geom)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (boundary_type, external_id) DO UPDATE SET
			name = excluded.name,
			metadata = excluded.metadata,
			geom = excluded.geom`,
		len(boundaries), func(i int) []any {
			b := boundaries[i]
			return []any{b.Type, b.ExternalID, nullString(b.Name), nullString(b.County), metas[i], b.Geometry}
		})
	if err != nil {
		return 0, err
	}
	return int64(len(boundaries)), nil
}

func (s *SQLiteStore) LinkCounty(ctx context.Context, boundaryType, externalID, county string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE boundaries SET county = CASE
		WHEN county IS NULL OR county = '' THEN ?1
		WHEN instr(', ' || county || ', ', ', ' || ?1 || ', ') > 0 THEN county
		ELSE county || ', ' || ?1 END
	WHERE boundary_type = ?2 AND external_id = ?3`,
		county, boundaryType, externalID)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: link county %s/%s", boundaryType, externalID)
	}
	n, err := res.RowsAffected()
	return n > 0, eris.Wrap(err, "sqlite: rows affected")
}

// CountyCoverage tests every district against the county polygons in Go.
func (s *SQLiteStore) CountyCoverage(ctx context.Context, f CoverageFilter) ([]CountyCoverage, error) {
	counties, err := s.decodeBoundaries(ctx, CountyBoundaryType,
		`SELECT id, boundary_type, external_id, name, county, geom FROM boundaries
		WHERE boundary_type = ?1 AND (?2 = '' OR json_extract(metadata, '$.STATEFP') = ?2) ORDER BY id`,
		CountyBoundaryType, f.StateFIPS)
	if err != nil {
		return nil, err
	}
	districts, err := s.decodeBoundaries(ctx, "districts",
		`SELECT id, boundary_type, external_id, name, county, geom FROM boundaries
		WHERE boundary_type <> ?1 AND (?2 = '' OR boundary_type = ?2) ORDER BY boundary_type, external_id`,
		CountyBoundaryType, f.Type)
	if err != nil {
		return nil, err
	}

	out := make([]CountyCoverage, 0, len(districts))
	for _, d := range districts {
		c := CountyCoverage{Type: d.boundaryType, ExternalID: d.externalID, County: d.county, Counties: []string{}}
		for _, cty := range counties {
			if !cty.area.overlaps(d.area) {
				continue
			}
			name := cty.name
			if name == "" {
				name = cty.externalID
			}
			c.Counties = append(c.Counties, name)
		}
		sort.Strings(c.Counties)
		out = append(out, c)
	}
	return out, nil
}

func (s *SQLiteStore) SetCounty(ctx context.Context, boundaryType, externalID, county string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE boundaries SET county = ? WHERE boundary_type = ? AND external_id = ?`,
		nullString(county), boundaryType, externalID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set county %s/%s", boundaryType, externalID)
	}
	return checkRowsAffected(res, "boundary", boundaryType+"/"+externalID)
}

// --- address validation ---

func (s *SQLiteStore) ListValidationCandidates(ctx context.Context, retryFailed bool, limit int) ([]model.Record, error) {
	return s.queryRecords(ctx, sqliteRecordSelect+`
	WHERE EXISTS (SELECT 1 FROM lookup_attempts a WHERE a.record_id = records.id)
	  AND NOT EXISTS (SELECT 1 FROM lookup_attempts a WHERE a.record_id = records.id
		AND a.quality IN ('exact', 'interpolated', 'approximate'))
	  AND NOT EXISTS (SELECT 1 FROM address_validations v WHERE v.record_id = records.id
		AND NOT (? AND v.status = 'failed'))
	ORDER BY id LIMIT ?`, retryFailed, sqliteLimit(limit))
}

func (s *SQLiteStore) UpsertValidations(ctx context.Context, validations []model.Validation) error {
	if len(validations) == 0 {
		return nil
	}
	return s.inTx(ctx, `INSERT INTO address_validations
		(record_id, status, street, city, state, zip, zip_plus4, delivery_point,
		 carrier_route, dpv_confirmation, business, vacant, error, validated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (record_id) DO UPDATE SET
			status = excluded.status,
			street = excluded.street,
			city = excluded.city,
			state = excluded.state,
			zip = excluded.zip,
			zip_plus4 = excluded.zip_plus4,
			delivery_point = excluded.delivery_point,
			carrier_route = excluded.carrier_route,
			dpv_confirmation = excluded.dpv_confirmation,
			business = excluded.business,
			vacant = excluded.vacant,
			error = excluded.error,
			validated_at = excluded.validated_at`,
		len(validations), func(i int) []any {
			return validationRow(validations[i])
		})
}

// --- reporting ---

func (s *SQLiteStore) AttemptCounts(ctx context.Context) ([]Count, error) {
	return s.queryCounts(ctx, `SELECT provider, quality, COUNT(*) FROM lookup_attempts GROUP BY 1, 2 ORDER BY 1, 2`)
}

func (s *SQLiteStore) AssignmentCounts(ctx context.Context) ([]Count, error) {
	return s.queryCounts(ctx, `SELECT boundary_type, classification, COUNT(*) FROM assignments GROUP BY 1, 2 ORDER BY 1, 2`)
}

func (s *SQLiteStore) ValidationCounts(ctx context.Context) ([]Count, error) {
	return s.queryCounts(ctx, `SELECT 'usps', status, COUNT(*) FROM address_validations GROUP BY 1, 2 ORDER BY 1, 2`)
}

func (s *SQLiteStore) queryCounts(ctx context.Context, query string) ([]Count, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: counts")
	}
	defer rows.Close() //nolint:errcheck

	var out []Count
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Group, &c.Key, &c.N); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan count")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate counts")
}

// --- run log ---

func (s *SQLiteStore) InsertRun(ctx context.Context, e runlog.Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_log (id, kind, subject, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.Subject, e.Status, e.StartedAt)
	return eris.Wrap(err, "sqlite: insert run")
}

func (s *SQLiteStore) FinishRun(ctx context.Context, id, status string, metadata []byte, errMsg string) error {
	var meta *string
	if len(metadata) > 0 {
		m := string(metadata)
		meta = &m
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_log SET status = ?, completed_at = ?, metadata = ?, error = ? WHERE id = ?`,
		status, time.Now().UTC(), meta, nullString(errMsg), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", id)
	}
	return checkRowsAffected(res, "run", id)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]runlog.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, kind, subject, status, started_at, completed_at, metadata, error
		FROM run_log ORDER BY started_at DESC LIMIT ?`, sqliteLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []runlog.Entry
	for rows.Next() {
		var (
			e         runlog.Entry
			completed sql.NullTime
			meta      sql.NullString
			errText   sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.Subject, &e.Status, &e.StartedAt, &completed, &meta, &errText); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if completed.Valid {
			t := completed.Time
			e.CompletedAt = &t
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &e.Metadata); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal run metadata")
			}
		}
		e.Error = errText.String
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

// --- helpers ---

// inTx runs one prepared statement n times inside a transaction.
func (s *SQLiteStore) inTx(ctx context.Context, query string, n int, args func(i int) []any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return eris.Wrapf(err, "sqlite: exec row %d", i)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func (s *SQLiteStore) queryRecords(ctx context.Context, query string, args ...any) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query records")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Record
	for rows.Next() {
		var (
			r                                      model.Record
			num, dir, name, typ, apt, city, st, zp sql.NullString
			reg                                    string
			lon, lat                               sql.NullFloat64
			provider, quality, matched             sql.NullString
		)
		if err := rows.Scan(&r.ID, &num, &dir, &name, &typ, &apt, &city, &st, &zp, &reg,
			&lon, &lat, &provider, &quality, &matched); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		r.Address = model.Address{
			StreetNumber: num.String, StreetDirection: dir.String, StreetName: name.String,
			StreetType: typ.String, Apartment: apt.String, City: city.String, State: st.String, Zip: zp.String,
		}
		if reg != "" {
			if err := json.Unmarshal([]byte(reg), &r.Registered); err != nil {
				return nil, eris.Wrapf(err, "sqlite: unmarshal registered districts for %s", r.ID)
			}
		}
		if lon.Valid && lat.Valid {
			r.Location = &model.Location{
				Lon: lon.Float64, Lat: lat.Float64, Provider: provider.String,
				Quality: model.Quality(quality.String), MatchedText: matched.String,
			}
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate records")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteAttempt(row scannable) (model.Attempt, error) {
	var (
		a                         model.Attempt
		quality                   string
		lon, lat, conf            sql.NullFloat64
		matched, payload, errText sql.NullString
	)
	err := row.Scan(&a.ID, &a.RecordID, &a.Provider, &quality, &lon, &lat, &matched, &conf, &payload, &errText, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return a, err
	}
	if err != nil {
		return a, eris.Wrap(err, "sqlite: scan attempt")
	}
	a.Quality = model.Quality(quality)
	if lon.Valid {
		a.Lon = model.Float(lon.Float64)
	}
	if lat.Valid {
		a.Lat = model.Float(lat.Float64)
	}
	if conf.Valid {
		a.Confidence = model.Float(conf.Float64)
	}
	a.MatchedText = matched.String
	a.Error = errText.String
	if payload.Valid && payload.String != "" {
		a.Payload = json.RawMessage(payload.String)
	}
	return a, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

// sqliteLimit maps 0 (unbounded) to SQLite's -1.
func sqliteLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func chunkStrings(ss []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(ss); start += size {
		out = append(out, ss[start:min(start+size, len(ss))])
	}
	return out
}
