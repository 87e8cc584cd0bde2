package coordinator

import (
	"github.com/ashita-ai/skillcheck/internal/model"
	"github.com/ashita-ai/skillcheck/internal/progress"
)

// Snapshot is an immutable view of the coordinator for renderers. Grid is
// shared with the tracker but never mutated after it is handed out.
type Snapshot struct {
	Version        uint64                  `json:"version"`
	Phase          Phase                   `json:"phase"`
	RunID          string                  `json:"run_id,omitempty"`
	Kind           model.RunKind           `json:"kind,omitempty"`
	Models         []string                `json:"models,omitempty"`
	Total          int                     `json:"total"`
	Completed      int                     `json:"completed"`
	Running        int                     `json:"running"`
	IsRunning      bool                    `json:"is_running"`
	Grid           progress.Grid           `json:"grid"`
	Report         *model.ReportRef        `json:"report,omitempty"`
	Error          string                  `json:"error,omitempty"`
	ConnectionLost bool                    `json:"connection_lost"`
	SubmitError    string                  `json:"submit_error,omitempty"`
	Anomalies      []model.ProtocolAnomaly `json:"anomalies,omitempty"`
}

// Snapshot returns the current view.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() Snapshot {
	s := Snapshot{
		Version:        c.version,
		Phase:          c.phase,
		RunID:          c.handle.RunID,
		Kind:           c.spec.Kind,
		Models:         c.spec.Models,
		Total:          c.state.Total,
		Completed:      progress.CompletedCount(c.state.Grid),
		Running:        progress.RunningCount(c.state.Grid),
		IsRunning:      c.phase == PhaseRunning && progress.IsRunning(c.live, c.state),
		Grid:           c.state.Grid,
		Report:         c.state.Report,
		Error:          c.state.Error,
		ConnectionLost: c.state.ConnectionLost,
		Anomalies:      c.state.Anomalies,
	}
	if c.submitErr != nil {
		s.SubmitError = c.submitErr.Error()
	}
	return s
}

// State returns the tracker state of the current run.
func (c *Coordinator) State() progress.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe returns a channel that receives the latest snapshot after every
// change, and a function that unsubscribes. A slow reader only misses
// intermediate snapshots, never the latest one.
func (c *Coordinator) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	c.mu.Lock()
	c.watchers[ch] = struct{}{}
	ch <- c.snapshotLocked()
	c.mu.Unlock()

	stop := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.watchers[ch]; ok {
			delete(c.watchers, ch)
			close(ch)
		}
	}
	return ch, stop
}

// changedLocked bumps the version and publishes the new snapshot. Every
// send happens under mu, so after draining a full channel the send cannot
// block.
func (c *Coordinator) changedLocked() {
	c.version++
	if len(c.watchers) == 0 {
		return
	}
	snap := c.snapshotLocked()
	for ch := range c.watchers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}
