package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBackend struct {
	entries   map[string]*Entry
	insertErr error
}

func newMem() *memBackend { return &memBackend{entries: make(map[string]*Entry)} }

func (m *memBackend) InsertRun(_ context.Context, e Entry) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.entries[e.ID] = &e
	return nil
}

func (m *memBackend) FinishRun(_ context.Context, id, status string, metadata []byte, errMsg string) error {
	e, ok := m.entries[id]
	if !ok {
		return errors.New("not found")
	}
	now := time.Now()
	e.Status, e.Error, e.CompletedAt = status, errMsg, &now
	if metadata != nil {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return err
		}
	}
	return nil
}

func (m *memBackend) ListRuns(_ context.Context, _ int) ([]Entry, error) {
	var out []Entry
	for _, e := range m.entries {
		out = append(out, *e)
	}
	return out, nil
}

func TestLog_StartComplete(t *testing.T) {
	mem := newMem()
	l := New(mem)
	ctx := context.Background()

	id, err := l.Start(ctx, KindGeocode, "census")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, StatusRunning, mem.entries[id].Status)
	assert.Equal(t, "census", mem.entries[id].Subject)

	require.NoError(t, l.Complete(ctx, id, map[string]int{"total": 3}))
	assert.Equal(t, StatusComplete, mem.entries[id].Status)
	assert.InDelta(t, 3, mem.entries[id].Metadata["total"], 0.001)
	assert.NotNil(t, mem.entries[id].CompletedAt)
}

func TestLog_Finish(t *testing.T) {
	mem := newMem()
	l := New(mem)
	ctx := context.Background()

	id, err := l.Start(ctx, KindSync, "")
	require.NoError(t, err)
	l.Finish(ctx, id, nil, errors.New("boom"))
	assert.Equal(t, StatusFailed, mem.entries[id].Status)
	assert.Equal(t, "boom", mem.entries[id].Error)

	// Unknown id is logged, not returned.
	l.Finish(ctx, "missing", nil, nil)

	var nilLog *Log
	nilLog.Finish(ctx, id, nil, nil)
}

func TestLog_StartError(t *testing.T) {
	mem := newMem()
	mem.insertErr = errors.New("db down")
	_, err := New(mem).Start(context.Background(), KindCompare, "congressional")
	assert.ErrorContains(t, err, "db down")
}

func TestLog_NilStart(t *testing.T) {
	var l *Log
	id, err := l.Start(context.Background(), KindGeocode, "census")
	require.NoError(t, err)
	assert.Empty(t, id)
}
