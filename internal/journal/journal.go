package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashita-ai/skillcheck/internal/model"
	"github.com/ashita-ai/skillcheck/internal/progress"
)

// Options tunes the write buffer.
type Options struct {
	BatchSize     int
	FlushInterval time.Duration
}

// Journal records runs for the coordinator and replays them on demand.
type Journal struct {
	store  Store
	buf    *Buffer
	logger *slog.Logger

	mu    sync.Mutex
	saved map[string]bool // runs whose BeginRun succeeded
}

// New wraps store with a write buffer. Call Start before recording and
// Drain on shutdown.
func New(store Store, logger *slog.Logger, opts Options) *Journal {
	return &Journal{
		store:  store,
		buf:    NewBuffer(store, logger, opts.BatchSize, opts.FlushInterval),
		logger: logger,
		saved:  make(map[string]bool),
	}
}

// Start launches the flush loop.
func (j *Journal) Start(ctx context.Context) {
	j.buf.Start(ctx)
}

// BeginRun stores the run synchronously so its events always have a parent.
// Until it succeeds for a run, Record discards that run's events.
func (j *Journal) BeginRun(ctx context.Context, spec model.RunSpec, handle model.RunHandle) error {
	if err := j.store.SaveRun(ctx, RunRecord{
		RunID:       handle.RunID,
		Spec:        spec,
		Total:       handle.Total,
		Phase:       PhaseRunning,
		SubmittedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}
	j.mu.Lock()
	j.saved[handle.RunID] = true
	j.mu.Unlock()
	return nil
}

// Record queues ev. It never blocks on the store.
func (j *Journal) Record(runID string, ev model.Event) {
	j.mu.Lock()
	saved := j.saved[runID]
	if saved && model.IsTerminal(ev) {
		delete(j.saved, runID)
	}
	j.mu.Unlock()
	if !saved {
		j.logger.Debug("journal: run not journaled, event discarded", "run_id", runID, "event", ev.Type())
		return
	}

	if _, err := j.buf.Append(runID, ev); err != nil {
		j.logger.Warn("journal: record event", "run_id", runID, "event", ev.Type(), "error", err)
	}
}

// Runs lists recent runs, newest first.
func (j *Journal) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	return j.store.Runs(ctx, limit)
}

// Replay folds a run's journaled events into the state a live viewer would
// have ended with. Buffered entries are flushed first so the fold sees
// everything recorded so far.
func (j *Journal) Replay(ctx context.Context, runID string) (RunRecord, progress.State, error) {
	if err := j.buf.Flush(ctx); err != nil {
		j.logger.Warn("journal: flush before replay", "run_id", runID, "error", err)
	}

	run, err := j.store.GetRun(ctx, runID)
	if err != nil {
		return RunRecord{}, progress.State{}, err
	}
	entries, err := j.store.Events(ctx, runID)
	if err != nil {
		return RunRecord{}, progress.State{}, err
	}
	run.EventCount = len(entries)

	events := make([]model.Event, 0, len(entries))
	for _, e := range entries {
		ev, err := e.Event()
		if err != nil {
			return RunRecord{}, progress.State{}, fmt.Errorf("journal: run %s seq %d: %w", runID, e.Seq, err)
		}
		events = append(events, ev)
	}
	return run, progress.FoldFrom(progress.New(run.Spec, run.Total), events), nil
}

// Ping checks the store.
func (j *Journal) Ping(ctx context.Context) error {
	return j.store.Ping(ctx)
}

// Pending returns the number of entries not yet written.
func (j *Journal) Pending() int {
	return j.buf.Len()
}

// Drain flushes outstanding entries, bounded by ctx.
func (j *Journal) Drain(ctx context.Context) {
	j.buf.Drain(ctx)
}

// Close releases the store. Drain first.
func (j *Journal) Close() error {
	return j.store.Close()
}
