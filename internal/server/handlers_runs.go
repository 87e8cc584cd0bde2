package server

import (
	"net/http"
	"time"

	"github.com/ashita-ai/skillcheck/internal/journal"
	"github.com/ashita-ai/skillcheck/internal/model"
	"github.com/ashita-ai/skillcheck/internal/progress"
)

const (
	eventsPath        = "/api/runs/current/events"
	keepaliveInterval = 15 * time.Second
)

// HandleSubmitRun handles POST /api/runs.
func (h *Handlers) HandleSubmitRun(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitRunRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	h.submit(w, r, model.RunSpec{
		Kind:        model.RunKindScenario,
		ScenarioIDs: req.ScenarioIDs,
		Models:      req.Models,
		Concurrency: req.Concurrency,
	})
}

// HandleSubmitScoredRun handles POST /api/heatmap/run.
func (h *Handlers) HandleSubmitScoredRun(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitScoredRunRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	h.submit(w, r, model.RunSpec{
		Kind:        model.RunKindScored,
		Domains:     req.Domains,
		Models:      req.Models,
		Concurrency: req.Concurrency,
	})
}

func (h *Handlers) submit(w http.ResponseWriter, r *http.Request, spec model.RunSpec) {
	handle, err := h.coord.Submit(r.Context(), spec)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, handle)
}

// HandleCurrentRun handles GET /api/runs/current.
func (h *Handlers) HandleCurrentRun(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.coord.Snapshot())
}

// HandleDisconnect handles DELETE /api/runs/current. It stops watching the
// run; the backend keeps running it.
func (h *Handlers) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	h.coord.Disconnect()
	writeJSON(w, r, http.StatusOK, h.coord.Snapshot())
}

// HandleRunEvents handles GET /api/runs/current/events (SSE). Each event
// carries a full snapshot; clients render the latest one.
func (h *Handlers) HandleRunEvents(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "snapshot stream not available")
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Warn("sse: streaming not supported", "error", err)
		return
	}

	// Disable the server's WriteTimeout for this long-lived connection.
	_ = rc.SetWriteDeadline(time.Time{})

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			_ = rc.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			_ = rc.Flush()
		}
	}
}

// HandleRunResult handles GET /api/runs/{run_id}/result. Dashboards call it
// after a lost stream to recover what the backend finished.
func (h *Handlers) HandleRunResult(w http.ResponseWriter, r *http.Request) {
	res, err := h.dash.RunResult(r.Context(), r.PathValue("run_id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// HandleRunHistory handles GET /api/runs/history.
func (h *Handlers) HandleRunHistory(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "run journal is disabled")
		return
	}
	runs, err := h.journal.Runs(r.Context(), queryLimit(r, 50))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if runs == nil {
		runs = []journal.RunRecord{}
	}
	writeJSON(w, r, http.StatusOK, runs)
}

// ReplayResponse is a past run rebuilt from its journal.
type ReplayResponse struct {
	Run       journal.RunRecord `json:"run"`
	State     progress.State    `json:"state"`
	Completed int               `json:"completed"`
	Running   int               `json:"running"`
}

// HandleReplay handles GET /api/runs/{run_id}/replay.
func (h *Handlers) HandleReplay(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "run journal is disabled")
		return
	}
	run, state, err := h.journal.Replay(r.Context(), r.PathValue("run_id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ReplayResponse{
		Run:       run,
		State:     state,
		Completed: progress.CompletedCount(state.Grid),
		Running:   progress.RunningCount(state.Grid),
	})
}
