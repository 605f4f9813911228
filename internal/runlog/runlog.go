// Package runlog records one row per geocode, sync, compare or address
// validation invocation.
package runlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Run kinds.
const (
	KindGeocode  = "geocode"
	KindSync     = "sync"
	KindCompare  = "compare"
	KindValidate = "validate"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Entry is one row of the run log.
type Entry struct {
	ID          string         `json:"id" yaml:"id"`
	Kind        string         `json:"kind" yaml:"kind"`
	Subject     string         `json:"subject,omitempty" yaml:"subject,omitempty"`
	Status      string         `json:"status" yaml:"status"`
	StartedAt   time.Time      `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Error       string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// Backend persists run log rows. Both stores implement it.
type Backend interface {
	InsertRun(ctx context.Context, e Entry) error
	FinishRun(ctx context.Context, id, status string, metadata []byte, errMsg string) error
	ListRuns(ctx context.Context, limit int) ([]Entry, error)
}

// Log writes run log entries.
type Log struct {
	backend Backend
	now     func() time.Time
}

// New creates a Log over backend.
func New(backend Backend) *Log {
	return &Log{backend: backend, now: time.Now}
}

// Start records a running entry and returns its id. A nil Log records
// nothing and returns an empty id.
func (l *Log) Start(ctx context.Context, kind, subject string) (string, error) {
	if l == nil {
		return "", nil
	}
	e := Entry{
		ID:        uuid.New().String(),
		Kind:      kind,
		Subject:   subject,
		Status:    StatusRunning,
		StartedAt: l.now().UTC(),
	}
	if err := l.backend.InsertRun(ctx, e); err != nil {
		return "", eris.Wrapf(err, "runlog: start %s", kind)
	}
	return e.ID, nil
}

// Complete marks the run complete. result is stored as JSON metadata.
func (l *Log) Complete(ctx context.Context, id string, result any) error {
	var meta []byte
	if result != nil {
		var err error
		meta, err = json.Marshal(result)
		if err != nil {
			return eris.Wrap(err, "runlog: marshal metadata")
		}
	}
	if err := l.backend.FinishRun(ctx, id, StatusComplete, meta, ""); err != nil {
		return eris.Wrapf(err, "runlog: complete %s", id)
	}
	return nil
}

// Fail marks the run failed with errMsg.
func (l *Log) Fail(ctx context.Context, id string, errMsg string) error {
	if err := l.backend.FinishRun(ctx, id, StatusFailed, nil, errMsg); err != nil {
		return eris.Wrapf(err, "runlog: fail %s", id)
	}
	return nil
}

// List returns the most recent entries first; limit 0 means all.
func (l *Log) List(ctx context.Context, limit int) ([]Entry, error) {
	entries, err := l.backend.ListRuns(ctx, limit)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list")
	}
	return entries, nil
}

// Finish completes or fails id depending on runErr. Bookkeeping failures are
// logged, never returned, so they cannot mask the run's own outcome.
func (l *Log) Finish(ctx context.Context, id string, result any, runErr error) {
	if l == nil || id == "" {
		return
	}
	var err error
	if runErr != nil {
		err = l.Fail(ctx, id, runErr.Error())
	} else {
		err = l.Complete(ctx, id, result)
	}
	if err != nil {
		zap.L().Warn("runlog: finish failed", zap.String("run_id", id), zap.Error(err))
	}
}
