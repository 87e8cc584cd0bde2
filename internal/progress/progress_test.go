package progress

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/skillcheck/internal/model"
)

var twoModels = model.RunSpec{Kind: model.RunKindScenario, Models: []string{"sonnet", "haiku"}, Concurrency: 3}

func progressEv(s, m string, st model.TaskStatus) model.Event {
	return model.Progress{ScenarioID: s, Model: m, Status: st}
}

// sampleLog is a realistic run: every pair goes running then ok/error, with
// interleaving across pairs.
func sampleLog(scenarios int) []model.Event {
	events := []model.Event{model.Started{RunID: "r1", Total: scenarios * 2}}
	for i := range scenarios {
		s := fmt.Sprintf("s%d", i)
		events = append(events, progressEv(s, "sonnet", model.TaskRunning), progressEv(s, "haiku", model.TaskRunning))
	}
	for i := range scenarios {
		s := fmt.Sprintf("s%d", i)
		final := model.TaskOK
		if i%3 == 0 {
			final = model.TaskError
		}
		events = append(events, progressEv(s, "haiku", final), progressEv(s, "sonnet", model.TaskOK))
	}
	return append(events, model.Completed{RunID: "r1", Report: model.ReportRef{Markdown: "r.md", JSON: "r.json"}})
}

func TestApplyProgressOverwritesLastWins(t *testing.T) {
	s := New(twoModels, 2)
	s = Apply(s, progressEv("s1", "sonnet", model.TaskRunning))
	s = Apply(s, progressEv("s1", "sonnet", model.TaskOK))

	st, ok := s.Grid.Status("s1", "sonnet")
	require.True(t, ok)
	assert.Equal(t, model.TaskOK, st)

	// An older status arriving later still wins; ordering is by arrival.
	s = Apply(s, progressEv("s1", "sonnet", model.TaskRunning))
	st, _ = s.Grid.Status("s1", "sonnet")
	assert.Equal(t, model.TaskRunning, st)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	before := Apply(New(twoModels, 2), progressEv("s1", "sonnet", model.TaskRunning))
	after := Apply(before, progressEv("s1", "sonnet", model.TaskOK))
	_ = Apply(after, progressEv("s2", "haiku", model.TaskRunning))

	st, _ := before.Grid.Status("s1", "sonnet")
	assert.Equal(t, model.TaskRunning, st)
	_, ok := after.Grid.Status("s2", "haiku")
	assert.False(t, ok)
	assert.Equal(t, 1, before.Applied)
}

func TestStartedRecordsTotalWithoutReset(t *testing.T) {
	s := New(twoModels, 4)
	s = Apply(s, progressEv("s1", "sonnet", model.TaskRunning))
	s = Apply(s, model.Started{RunID: "r", Total: 6})

	assert.Equal(t, 6, s.Total)
	assert.True(t, s.Started)
	assert.Equal(t, 1, RunningCount(s.Grid))
	assert.Empty(t, s.Anomalies)
}

func TestCountsScanGrid(t *testing.T) {
	s := Fold(twoModels, []model.Event{
		progressEv("s1", "sonnet", model.TaskOK),
		progressEv("s1", "haiku", model.TaskError),
		progressEv("s2", "sonnet", model.TaskRunning),
		progressEv("s2", "haiku", model.TaskPending),
	})
	assert.Equal(t, 2, CompletedCount(s.Grid))
	assert.Equal(t, 1, RunningCount(s.Grid))

	s = Apply(s, progressEv("s2", "sonnet", model.TaskOK))
	assert.Equal(t, 3, CompletedCount(s.Grid))
	assert.Equal(t, 0, RunningCount(s.Grid))
}

func TestTerminalEvents(t *testing.T) {
	completed := Apply(New(twoModels, 0), model.Completed{RunID: "r", Report: model.ReportRef{Markdown: "m.md"}})
	assert.Equal(t, OutcomeCompleted, completed.Outcome)
	require.NotNil(t, completed.Report)
	assert.Equal(t, "m.md", completed.Report.Markdown)
	assert.False(t, IsRunning(true, completed))

	failed := Apply(New(twoModels, 0), model.Failed{RunID: "r", Message: "judge timeout"})
	assert.Equal(t, OutcomeFailed, failed.Outcome)
	assert.Equal(t, "judge timeout", failed.Error)
	assert.False(t, failed.ConnectionLost)

	lost := Apply(New(twoModels, 0), model.ConnectionLost{Err: errors.New("EOF")})
	assert.Equal(t, OutcomeFailed, lost.Outcome)
	assert.True(t, lost.ConnectionLost)
	assert.Equal(t, "EOF", lost.Error)
}

func TestEventsAfterTerminalAreRecordedNotApplied(t *testing.T) {
	s := Fold(twoModels, []model.Event{
		progressEv("s1", "sonnet", model.TaskOK),
		model.Completed{RunID: "r"},
		progressEv("s1", "sonnet", model.TaskError),
	})
	st, _ := s.Grid.Status("s1", "sonnet")
	assert.Equal(t, model.TaskOK, st)
	require.Len(t, s.Anomalies, 1)
	assert.Equal(t, model.AnomalyAfterTerminal, s.Anomalies[0].Kind)
}

func TestAnomaliesAreAcceptedAndRecorded(t *testing.T) {
	spec := model.RunSpec{ScenarioIDs: []string{"s1"}, Models: []string{"sonnet"}}
	s := Fold(spec, []model.Event{
		model.Started{Total: 1},
		model.Started{Total: 1},
		progressEv("s1", "sonnet", model.TaskOK),
		progressEv("s9", "opus", model.TaskOK),
	})

	require.Len(t, s.Anomalies, 2)
	assert.Equal(t, model.AnomalyDuplicateStarted, s.Anomalies[0].Kind)
	assert.Equal(t, model.ProtocolAnomaly{Kind: model.AnomalyUnexpectedPair, Event: model.EventProgress, ScenarioID: "s9", Model: "opus"}, s.Anomalies[1])

	// The extra pair is still tracked.
	st, ok := s.Grid.Status("s9", "opus")
	require.True(t, ok)
	assert.Equal(t, model.TaskOK, st)
	assert.Equal(t, 2, CompletedCount(s.Grid))
}

func TestReplayStableUnderChunking(t *testing.T) {
	events := sampleLog(7)
	want := Fold(twoModels, events)

	rng := rand.New(rand.NewPCG(1, 2))
	for trial := range 50 {
		s := New(twoModels, 0)
		for i := 0; i < len(events); {
			n := 1 + rng.IntN(5)
			end := min(i+n, len(events))
			s = FoldFrom(s, events[i:end])
			i = end
		}
		assert.Equal(t, want, s, "trial %d", trial)
	}

	// Recomputing from scratch is stable too.
	assert.Equal(t, want, Fold(twoModels, events))
}

func TestFoldPrefixReflectsProcessedEventsOnly(t *testing.T) {
	events := sampleLog(3)
	for i := range events {
		prefix := Fold(twoModels, events[:i])
		assert.Equal(t, i, prefix.Applied)
		assert.Equal(t, i == len(events), prefix.Finished())
	}
}

func TestCatalogOfFiveWithTwoModels(t *testing.T) {
	s := New(twoModels, 10)
	s = Apply(s, model.Started{RunID: "r", Total: 10})
	for i := range 5 {
		for _, m := range twoModels.Models {
			s = Apply(s, progressEv(fmt.Sprintf("s%d", i), m, model.TaskOK))
		}
	}
	assert.Equal(t, 10, CompletedCount(s.Grid))
	assert.True(t, IsRunning(true, s), "counts reaching the total must not end the run")

	s = Apply(s, model.Completed{RunID: "r"})
	assert.False(t, IsRunning(true, s))
}

func TestIsRunningRequiresLiveSubscription(t *testing.T) {
	s := New(twoModels, 2)
	assert.True(t, IsRunning(true, s))
	assert.False(t, IsRunning(false, s))
}
