// Package progress derives per-task run status from a run's event log.
//
// Apply is a pure reducer: it never mutates the State it is given, so a
// State handed to a renderer stays valid after later events are applied.
// Every count is computed by scanning the grid, which keeps
// Fold(events) == FoldFrom(Fold(prefix), rest) for any split of the log.
package progress

import (
	"fmt"
	"maps"

	"github.com/ashita-ai/skillcheck/internal/model"
)

// Grid maps scenario id to model id to the latest observed status.
type Grid map[string]map[string]model.TaskStatus

// Status returns the latest status for a pair and whether one was observed.
func (g Grid) Status(scenarioID, modelID string) (model.TaskStatus, bool) {
	st, ok := g[scenarioID][modelID]
	return st, ok
}

// Outcome is the terminal result of a run.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// State is the derived view of one run's event log.
type State struct {
	Spec           model.RunSpec           `json:"-"`
	Grid           Grid                    `json:"grid"`
	Total          int                     `json:"total"`
	Started        bool                    `json:"started"`
	Outcome        Outcome                 `json:"outcome,omitempty"`
	Report         *model.ReportRef        `json:"report,omitempty"`
	Error          string                  `json:"error,omitempty"`
	ConnectionLost bool                    `json:"connection_lost"`
	Anomalies      []model.ProtocolAnomaly `json:"anomalies,omitempty"`
	Applied        int                     `json:"applied"`
}

// New returns the empty state for a run submitted with spec. total seeds the
// denominator from the submission handle until a started event arrives.
func New(spec model.RunSpec, total int) State {
	return State{Spec: spec, Grid: Grid{}, Total: total}
}

// Finished reports whether a terminal event has been applied.
func (s State) Finished() bool {
	return s.Outcome != OutcomeNone
}

// Apply returns the state after ev. s is left untouched.
func Apply(s State, ev model.Event) State {
	next := s
	next.Applied++

	if s.Finished() {
		return next.withAnomaly(model.ProtocolAnomaly{Kind: model.AnomalyAfterTerminal, Event: ev.Type()})
	}

	switch e := ev.(type) {
	case model.Started:
		if s.Started {
			next = next.withAnomaly(model.ProtocolAnomaly{Kind: model.AnomalyDuplicateStarted, Event: ev.Type()})
		}
		next.Started = true
		next.Total = e.Total
	case model.Progress:
		if len(s.Spec.Models) > 0 && !s.Spec.Expects(e.ScenarioID, e.Model) {
			next = next.withAnomaly(model.ProtocolAnomaly{
				Kind:       model.AnomalyUnexpectedPair,
				Event:      ev.Type(),
				ScenarioID: e.ScenarioID,
				Model:      e.Model,
			})
		}
		next.Grid = s.Grid.with(e.ScenarioID, e.Model, e.Status)
	case model.Completed:
		report := e.Report
		next.Report = &report
		next.Outcome = OutcomeCompleted
	case model.Failed:
		next.Error = e.Message
		next.Outcome = OutcomeFailed
	case model.ConnectionLost:
		next.ConnectionLost = true
		if e.Err != nil {
			next.Error = e.Err.Error()
		} else {
			next.Error = "connection lost"
		}
		next.Outcome = OutcomeFailed
	default:
		panic(fmt.Sprintf("progress: unknown event type %T", ev))
	}
	return next
}

// Fold replays events from the empty state.
func Fold(spec model.RunSpec, events []model.Event) State {
	return FoldFrom(New(spec, 0), events)
}

// FoldFrom replays events on top of s.
func FoldFrom(s State, events []model.Event) State {
	for _, ev := range events {
		s = Apply(s, ev)
	}
	return s
}

// CompletedCount is the number of pairs whose latest status is ok or error.
func CompletedCount(g Grid) int {
	n := 0
	for _, models := range g {
		for _, st := range models {
			if st.Done() {
				n++
			}
		}
	}
	return n
}

// RunningCount is the number of pairs whose latest status is running.
func RunningCount(g Grid) int {
	n := 0
	for _, models := range g {
		for _, st := range models {
			if st == model.TaskRunning {
				n++
			}
		}
	}
	return n
}

// IsRunning reports whether a run is still in flight from the viewer's
// perspective: the subscription is live and no terminal event was seen.
func IsRunning(live bool, s State) bool {
	return live && !s.Finished()
}

func (g Grid) with(scenarioID, modelID string, st model.TaskStatus) Grid {
	out := make(Grid, len(g)+1)
	maps.Copy(out, g)
	inner := make(map[string]model.TaskStatus, len(g[scenarioID])+1)
	maps.Copy(inner, g[scenarioID])
	inner[modelID] = st
	out[scenarioID] = inner
	return out
}

func (s State) withAnomaly(a model.ProtocolAnomaly) State {
	anomalies := make([]model.ProtocolAnomaly, len(s.Anomalies), len(s.Anomalies)+1)
	copy(anomalies, s.Anomalies)
	s.Anomalies = append(anomalies, a)
	return s
}
