// Package journal records submitted runs and every stream event applied to
// them, so a past run's grid can be rebuilt with progress.Fold.
//
// Writes go through a Buffer that batches events in memory and flushes them
// to a Store on a timer or when the batch fills. Two stores share one schema:
// SQLite for a single operator and Postgres when several dashboards share a
// history.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/skillcheck/internal/model"
)

// ErrNotFound is returned when a run has no journal record.
var ErrNotFound = errors.New("journal: run not found")

// Run phases as stored. A run stays PhaseRunning until its terminal event is
// flushed; a process that exits mid-run leaves it there.
const (
	PhaseRunning        = "running"
	PhaseCompleted      = "completed"
	PhaseFailed         = "failed"
	PhaseConnectionLost = "connection_lost"
)

// RunRecord is one submitted run.
type RunRecord struct {
	RunID       string        `json:"run_id"`
	Spec        model.RunSpec `json:"spec"`
	Total       int           `json:"total"`
	Phase       string        `json:"phase"`
	SubmittedAt time.Time     `json:"submitted_at"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
	EventCount  int           `json:"event_count"`
}

// Entry is one journaled event. Seq is the local arrival order within the
// run, starting at 1.
type Entry struct {
	ID         uuid.UUID       `json:"id"`
	RunID      string          `json:"run_id"`
	Seq        int64           `json:"seq"`
	Type       model.EventType `json:"type"`
	Payload    []byte          `json:"payload"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Event decodes the entry back into the event it was recorded from.
func (e Entry) Event() (model.Event, error) {
	return model.DecodeEvent(string(e.Type), e.Payload)
}

// Store persists runs and entries.
type Store interface {
	SaveRun(ctx context.Context, run RunRecord) error
	FinishRun(ctx context.Context, runID, phase string, at time.Time) error
	// AppendEvents must skip entries that already exist, so a batch retried
	// after a failed commit does not duplicate events. Entries whose run was
	// never saved are skipped too; one orphan must not fail the batch for
	// every other run.
	AppendEvents(ctx context.Context, entries []Entry) (int64, error)
	Events(ctx context.Context, runID string) ([]Entry, error)
	GetRun(ctx context.Context, runID string) (RunRecord, error)
	// Runs lists the most recently submitted runs first.
	Runs(ctx context.Context, limit int) ([]RunRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

// terminalPhase maps a terminal event type to the phase stored for the run.
func terminalPhase(t model.EventType) (string, bool) {
	switch t {
	case model.EventCompleted:
		return PhaseCompleted, true
	case model.EventError:
		return PhaseFailed, true
	case model.EventConnectionLost:
		return PhaseConnectionLost, true
	}
	return "", false
}

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 1000
)

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultRunsLimit
	case limit > maxRunsLimit:
		return maxRunsLimit
	}
	return limit
}
