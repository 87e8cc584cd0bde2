package journal_test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/skillcheck/internal/journal"
	"github.com/ashita-ai/skillcheck/internal/model"
	"github.com/ashita-ai/skillcheck/internal/progress"
	"github.com/ashita-ai/skillcheck/internal/testutil"
)

// pg is nil when Postgres tests are disabled (-short or no Docker).
var pg *testutil.TestContainer

func TestMain(m *testing.M) {
	flag.Parse()
	if !testing.Short() {
		tc, err := testutil.StartPostgres(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "journal: postgres tests disabled: %v\n", err)
		} else {
			pg = tc
		}
	}
	code := m.Run()
	if pg != nil {
		pg.Terminate()
	}
	os.Exit(code)
}

func openSQLite(t *testing.T) *journal.SQLiteStore {
	t.Helper()
	s, err := journal.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "nested", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func openPostgres(t *testing.T) *journal.PostgresStore {
	t.Helper()
	if pg == nil {
		t.Skip("postgres container not available")
	}
	s, err := pg.NewJournalStore(context.Background(), testutil.TestLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.Pool().Exec(context.Background(), `TRUNCATE journal_runs CASCADE`)
		_ = s.Close()
	})
	return s
}

func stores(t *testing.T) map[string]func(*testing.T) journal.Store {
	return map[string]func(*testing.T) journal.Store{
		"sqlite":   func(t *testing.T) journal.Store { return openSQLite(t) },
		"postgres": func(t *testing.T) journal.Store { return openPostgres(t) },
	}
}

func entry(t *testing.T, runID string, seq int64, ev model.Event) journal.Entry {
	t.Helper()
	typ, payload, err := model.EncodeEvent(ev)
	require.NoError(t, err)
	return journal.Entry{
		ID:         uuid.New(),
		RunID:      runID,
		Seq:        seq,
		Type:       typ,
		Payload:    payload,
		RecordedAt: time.Now().UTC(),
	}
}

func TestStoreContract(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			spec := model.RunSpec{Kind: model.RunKindScenario, Models: []string{"opus", "haiku"}, Concurrency: 3}
			now := time.Now().UTC().Truncate(time.Millisecond)

			require.NoError(t, s.Ping(ctx))
			require.NoError(t, s.SaveRun(ctx, journal.RunRecord{
				RunID: "run-a", Spec: spec, Total: 4, Phase: journal.PhaseRunning, SubmittedAt: now.Add(-time.Minute),
			}))
			require.NoError(t, s.SaveRun(ctx, journal.RunRecord{
				RunID: "run-b", Spec: spec, Total: 2, Phase: journal.PhaseRunning, SubmittedAt: now,
			}))

			entries := []journal.Entry{
				entry(t, "run-a", 1, model.Started{RunID: "run-a", Total: 4}),
				entry(t, "run-a", 2, model.Progress{ScenarioID: "s1", Model: "opus", Status: model.TaskRunning}),
				entry(t, "run-a", 3, model.Progress{ScenarioID: "s1", Model: "opus", Status: model.TaskOK, DurationS: 1.5}),
			}
			n, err := s.AppendEvents(ctx, entries)
			require.NoError(t, err)
			assert.Equal(t, int64(3), n)

			n, err = s.AppendEvents(ctx, entries[1:])
			require.NoError(t, err)
			assert.Zero(t, n, "retried entries are skipped")

			got, err := s.Events(ctx, "run-a")
			require.NoError(t, err)
			require.Len(t, got, 3)
			for i, e := range got {
				assert.Equal(t, int64(i+1), e.Seq)
				assert.Equal(t, entries[i].ID, e.ID)
				assert.Equal(t, entries[i].Type, e.Type)
			}
			ev, err := got[2].Event()
			require.NoError(t, err)
			assert.Equal(t, model.Progress{ScenarioID: "s1", Model: "opus", Status: model.TaskOK, DurationS: 1.5}, ev)

			require.NoError(t, s.FinishRun(ctx, "run-a", journal.PhaseCompleted, now))
			run, err := s.GetRun(ctx, "run-a")
			require.NoError(t, err)
			assert.Equal(t, spec, run.Spec)
			assert.Equal(t, 4, run.Total)
			assert.Equal(t, journal.PhaseCompleted, run.Phase)
			assert.Equal(t, 3, run.EventCount)
			require.NotNil(t, run.FinishedAt)
			assert.WithinDuration(t, now, *run.FinishedAt, time.Millisecond)

			assert.ErrorIs(t, s.FinishRun(ctx, "missing", journal.PhaseFailed, now), journal.ErrNotFound)
			_, err = s.GetRun(ctx, "missing")
			assert.ErrorIs(t, err, journal.ErrNotFound)

			runs, err := s.Runs(ctx, 10)
			require.NoError(t, err)
			require.Len(t, runs, 2)
			assert.Equal(t, "run-b", runs[0].RunID)
			assert.Equal(t, "run-a", runs[1].RunID)
			assert.Nil(t, runs[0].FinishedAt)

			runs, err = s.Runs(ctx, 1)
			require.NoError(t, err)
			assert.Len(t, runs, 1)
		})
	}
}

func TestReplayMatchesLiveFold(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			j := journal.New(open(t), testutil.TestLogger(), journal.Options{BatchSize: 4, FlushInterval: time.Hour})
			j.Start(ctx)
			defer j.Drain(ctx)

			spec := model.RunSpec{Kind: model.RunKindScenario, ScenarioIDs: []string{"s1", "s2"}, Models: []string{"opus"}, Concurrency: 2}
			handle := model.RunHandle{RunID: "run-1", Total: 2}
			require.NoError(t, j.BeginRun(ctx, spec, handle))

			events := []model.Event{
				model.Started{RunID: "run-1", Total: 2},
				model.Progress{ScenarioID: "s1", Model: "opus", Status: model.TaskRunning},
				model.Progress{ScenarioID: "s2", Model: "opus", Status: model.TaskRunning},
				model.Progress{ScenarioID: "s1", Model: "opus", Status: model.TaskOK},
				model.Progress{ScenarioID: "s3", Model: "opus", Status: model.TaskOK},
				model.Progress{ScenarioID: "s2", Model: "opus", Status: model.TaskError, Error: "timeout"},
				model.Completed{RunID: "run-1", Report: model.ReportRef{Markdown: "r.md", JSON: "r.json"}},
			}
			for _, ev := range events {
				j.Record("run-1", ev)
			}

			run, state, err := j.Replay(ctx, "run-1")
			require.NoError(t, err)
			live := progress.FoldFrom(progress.New(spec, 2), events)

			assert.Equal(t, live.Grid, state.Grid)
			assert.Equal(t, live.Outcome, state.Outcome)
			assert.Equal(t, live.Report, state.Report)
			assert.Equal(t, live.Anomalies, state.Anomalies, "the stray s3 pair is an anomaly in both")
			assert.Equal(t, len(events), state.Applied)
			assert.Equal(t, journal.PhaseCompleted, run.Phase)
			assert.Equal(t, len(events), run.EventCount)
			assert.Zero(t, j.Pending())

			runs, err := j.Runs(ctx, 0)
			require.NoError(t, err)
			require.Len(t, runs, 1)
			assert.Equal(t, "run-1", runs[0].RunID)
		})
	}
}

func TestReplayConnectionLost(t *testing.T) {
	ctx := context.Background()
	j := journal.New(openSQLite(t), testutil.TestLogger(), journal.Options{})
	spec := model.RunSpec{Kind: model.RunKindScored, Models: []string{"opus"}, Concurrency: 1}
	require.NoError(t, j.BeginRun(ctx, spec, model.RunHandle{RunID: "r", Total: 3}))

	j.Record("r", model.Progress{ScenarioID: "a", Model: "opus", Status: model.TaskRunning})
	j.Record("r", model.ConnectionLost{Err: &model.StreamTransportError{RunID: "r", Err: errors.New("EOF")}})

	run, state, err := j.Replay(ctx, "r")
	require.NoError(t, err)
	assert.True(t, state.ConnectionLost)
	assert.Equal(t, progress.OutcomeFailed, state.Outcome)
	assert.Equal(t, 3, state.Total)
	assert.Equal(t, journal.PhaseConnectionLost, run.Phase)
}

func TestReplayUnknownRun(t *testing.T) {
	j := journal.New(openSQLite(t), testutil.TestLogger(), journal.Options{})
	_, _, err := j.Replay(context.Background(), "nope")
	assert.ErrorIs(t, err, journal.ErrNotFound)
}

func TestAppendEventsSkipsUnsavedRuns(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			require.NoError(t, s.SaveRun(ctx, journal.RunRecord{
				RunID: "run-b", Spec: model.RunSpec{Kind: model.RunKindScenario, Models: []string{"opus"}},
				Total: 1, Phase: journal.PhaseRunning, SubmittedAt: time.Now().UTC(),
			}))

			n, err := s.AppendEvents(ctx, []journal.Entry{
				entry(t, "run-a", 1, model.Started{RunID: "run-a", Total: 1}),
				entry(t, "run-b", 1, model.Started{RunID: "run-b", Total: 1}),
				entry(t, "run-b", 2, model.Progress{ScenarioID: "s1", Model: "opus", Status: model.TaskOK}),
			})
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			got, err := s.Events(ctx, "run-b")
			require.NoError(t, err)
			assert.Len(t, got, 2)
			got, err = s.Events(ctx, "run-a")
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

// saveFailStore refuses to save one run.
type saveFailStore struct {
	journal.Store
	failRun string
}

func (s *saveFailStore) SaveRun(ctx context.Context, run journal.RunRecord) error {
	if run.RunID == s.failRun {
		return errors.New("database is locked")
	}
	return s.Store.SaveRun(ctx, run)
}

func TestFailedBeginRunDoesNotBlockOtherRuns(t *testing.T) {
	ctx := context.Background()
	j := journal.New(&saveFailStore{Store: openSQLite(t), failRun: "run-a"}, testutil.TestLogger(),
		journal.Options{BatchSize: 100, FlushInterval: time.Hour})
	spec := model.RunSpec{Kind: model.RunKindScenario, ScenarioIDs: []string{"s1"}, Models: []string{"opus"}, Concurrency: 1}

	require.Error(t, j.BeginRun(ctx, spec, model.RunHandle{RunID: "run-a", Total: 1}))
	j.Record("run-a", model.Started{RunID: "run-a", Total: 1})
	assert.Zero(t, j.Pending(), "events of an unsaved run are not queued")

	require.NoError(t, j.BeginRun(ctx, spec, model.RunHandle{RunID: "run-b", Total: 1}))
	j.Record("run-b", model.Progress{ScenarioID: "s1", Model: "opus", Status: model.TaskOK})
	j.Record("run-b", model.Completed{RunID: "run-b"})

	run, state, err := j.Replay(ctx, "run-b")
	require.NoError(t, err)
	assert.Equal(t, progress.Grid{"s1": {"opus": model.TaskOK}}, state.Grid)
	assert.Equal(t, progress.OutcomeCompleted, state.Outcome)
	assert.Equal(t, 2, run.EventCount)
	assert.Zero(t, j.Pending())

	_, _, err = j.Replay(ctx, "run-a")
	assert.ErrorIs(t, err, journal.ErrNotFound)
}

// flakyStore fails AppendEvents until healed.
type flakyStore struct {
	journal.Store
	mu      sync.Mutex
	failing bool
	appends int
}

func (f *flakyStore) AppendEvents(ctx context.Context, entries []journal.Entry) (int64, error) {
	f.mu.Lock()
	f.appends++
	failing := f.failing
	f.mu.Unlock()
	if failing {
		return 0, errors.New("disk full")
	}
	return f.Store.AppendEvents(ctx, entries)
}

func (f *flakyStore) heal() {
	f.mu.Lock()
	f.failing = false
	f.mu.Unlock()
}

func TestBufferRequeuesFailedBatch(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: openSQLite(t), failing: true}
	require.NoError(t, store.SaveRun(ctx, journal.RunRecord{RunID: "r", Phase: journal.PhaseRunning, SubmittedAt: time.Now()}))

	buf := journal.NewBuffer(store, testutil.TestLogger(), 10, time.Hour)
	first, err := buf.Append("r", model.Started{RunID: "r", Total: 1})
	require.NoError(t, err)
	second, err := buf.Append("r", model.Progress{ScenarioID: "a", Model: "m", Status: model.TaskOK})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(2), second.Seq)

	require.Error(t, buf.Flush(ctx))
	assert.Equal(t, 2, buf.Len(), "failed batch goes back")
	assert.Zero(t, buf.Dropped())

	_, err = buf.Append("r", model.Completed{RunID: "r"})
	require.NoError(t, err)

	store.heal()
	require.NoError(t, buf.Flush(ctx))
	assert.Zero(t, buf.Len())

	got, err := store.Events(ctx, "r")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []model.EventType{model.EventStarted, model.EventProgress, model.EventCompleted},
		[]model.EventType{got[0].Type, got[1].Type, got[2].Type})

	run, err := store.GetRun(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, journal.PhaseCompleted, run.Phase)
}

func TestBufferSequencesPerRun(t *testing.T) {
	buf := journal.NewBuffer(&flakyStore{Store: openSQLite(t)}, testutil.TestLogger(), 100, time.Hour)
	a1, _ := buf.Append("a", model.Started{RunID: "a"})
	b1, _ := buf.Append("b", model.Started{RunID: "b"})
	a2, _ := buf.Append("a", model.Progress{ScenarioID: "s", Model: "m", Status: model.TaskRunning})
	assert.Equal(t, int64(1), a1.Seq)
	assert.Equal(t, int64(1), b1.Seq)
	assert.Equal(t, int64(2), a2.Seq)
}

func TestBufferTerminalEventTriggersFlush(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)
	require.NoError(t, store.SaveRun(ctx, journal.RunRecord{RunID: "r", Phase: journal.PhaseRunning, SubmittedAt: time.Now()}))

	buf := journal.NewBuffer(store, testutil.TestLogger(), 1000, time.Hour)
	buf.Start(ctx)
	buf.Start(ctx)

	_, err := buf.Append("r", model.Failed{RunID: "r", Message: "boom"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		run, err := store.GetRun(ctx, "r")
		return err == nil && run.Phase == journal.PhaseFailed
	}, 5*time.Second, 10*time.Millisecond)

	drainCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	buf.Drain(drainCtx)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	_, err := journal.Open(ctx, journal.StoreConfig{Driver: journal.DriverNone}, testutil.TestLogger())
	assert.ErrorIs(t, err, journal.ErrDisabled)

	_, err = journal.Open(ctx, journal.StoreConfig{Driver: "mysql"}, testutil.TestLogger())
	assert.EqualError(t, err, `journal: unknown driver "mysql"`)

	s, err := journal.Open(ctx, journal.StoreConfig{Driver: journal.DriverSQLite, Path: ":memory:"}, testutil.TestLogger())
	require.NoError(t, err)
	assert.NoError(t, s.Ping(ctx))
	assert.NoError(t, s.Close())
}
