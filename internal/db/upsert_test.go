package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "public.assignments",
		Columns:      []string{"record_id", "boundary_type"},
		ConflictKeys: []string{"record_id", "boundary_type"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "public.assignments",
		ConflictKeys: []string{"record_id"},
	}, [][]any{{"r1", "congressional"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:   "public.assignments",
		Columns: []string{"record_id", "boundary_type"},
	}, [][]any{{"r1", "congressional"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_ChunksInOneTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"record_id", "boundary_type", "is_mismatch"}
	tmp := pgx.Identifier{"_tmp_upsert_assignments"}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_assignments" \(LIKE "assignments"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(tmp, cols).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "assignments"`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec(`TRUNCATE`).WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCopyFrom(tmp, cols).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "assignments"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`TRUNCATE`).WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCommit()

	rows := [][]any{
		{"r1", "congressional", false},
		{"r2", "congressional", true},
		{"r3", "congressional", nil},
	}
	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "assignments",
		Columns:      cols,
		ConflictKeys: []string{"record_id", "boundary_type"},
		ChunkSize:    2,
	}, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyErrorRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_public_boundaries"}, []string{"boundary_type", "external_id"}).
		WillReturnError(fmt.Errorf("copy failed"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "public.boundaries",
		Columns:      []string{"boundary_type", "external_id"},
		ConflictKeys: []string{"boundary_type", "external_id"},
	}, [][]any{{"congressional", "14"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table for public.boundaries")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildUpsertSQL(t *testing.T) {
	sql := buildUpsertSQL(UpsertConfig{
		Table:        "public.assignments",
		Columns:      []string{"record_id", "boundary_type", "is_mismatch"},
		ConflictKeys: []string{"record_id", "boundary_type"},
	}, "_tmp")

	assert.Contains(t, sql, `INSERT INTO "public"."assignments" ("record_id", "boundary_type", "is_mismatch")`)
	assert.Contains(t, sql, `SELECT DISTINCT ON ("record_id", "boundary_type")`)
	assert.Contains(t, sql, `ON CONFLICT ("record_id", "boundary_type") DO UPDATE SET "is_mismatch" = EXCLUDED."is_mismatch"`)
}

func TestBuildUpsertSQL_AllKeysDoNothing(t *testing.T) {
	sql := buildUpsertSQL(UpsertConfig{
		Table:        "links",
		Columns:      []string{"a", "b"},
		ConflictKeys: []string{"a", "b"},
	}, "_tmp")
	assert.Contains(t, sql, "DO NOTHING")
}

func TestChunk(t *testing.T) {
	assert.Nil(t, Chunk([]int{}, 3))
	assert.Equal(t, [][]int{{1, 2, 3}}, Chunk([]int{1, 2, 3}, 0))
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, Chunk([]int{1, 2, 3, 4, 5}, 2))
	assert.Equal(t, [][]int{{1, 2}}, Chunk([]int{1, 2}, 10))
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"public.assignments", `"public"."assignments"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "name", "value"`, quoteAndJoin([]string{"id", "name", "value"}))
}
