package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType is the wire name of a run stream event.
type EventType string

const (
	EventStarted   EventType = "started"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventError     EventType = "error"

	// EventConnectionLost never appears on the wire. The stream client
	// synthesizes it when the transport fails.
	EventConnectionLost EventType = "connection_lost"
)

// TaskStatus is the status of one (scenario, model) task unit.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskOK      TaskStatus = "ok"
	TaskError   TaskStatus = "error"
)

// Valid reports whether s is one of the statuses the backend emits.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskRunning, TaskOK, TaskError:
		return true
	}
	return false
}

// Done reports whether the task has finished, successfully or not.
func (s TaskStatus) Done() bool {
	return s == TaskOK || s == TaskError
}

// Event is a decoded run stream event. The set of implementations is closed:
// Started, Progress, Completed, Failed and ConnectionLost.
type Event interface {
	Type() EventType
	event()
}

// Started is emitted once, before any task runs.
type Started struct {
	RunID string `json:"run_id"`
	Total int    `json:"total"`
}

// Progress reports a status change for one task unit.
type Progress struct {
	ScenarioID string     `json:"scenario_id"`
	Model      string     `json:"model"`
	Status     TaskStatus `json:"status"`
	DurationS  float64    `json:"duration_s,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// ReportRef points at the reports written by a completed run. Both names
// resolve through the backend's report endpoint.
type ReportRef struct {
	Markdown string `json:"report_md"`
	JSON     string `json:"report_json"`
}

// Completed is the successful terminal event.
type Completed struct {
	RunID  string    `json:"run_id"`
	Report ReportRef `json:"report"`
}

// Failed is the backend's terminal error event (wire name "error").
type Failed struct {
	RunID   string `json:"run_id"`
	Message string `json:"error"`
}

// ConnectionLost is the local terminal event for a broken subscription.
type ConnectionLost struct {
	Err error `json:"-"`
}

func (Started) Type() EventType        { return EventStarted }
func (Progress) Type() EventType       { return EventProgress }
func (Completed) Type() EventType      { return EventCompleted }
func (Failed) Type() EventType         { return EventError }
func (ConnectionLost) Type() EventType { return EventConnectionLost }

func (Started) event()        {}
func (Progress) event()       {}
func (Completed) event()      {}
func (Failed) event()         {}
func (ConnectionLost) event() {}

// IsTerminal reports whether ev ends a run's stream.
func IsTerminal(ev Event) bool {
	switch ev.(type) {
	case Completed, Failed, ConnectionLost:
		return true
	case Started, Progress:
		return false
	default:
		panic(fmt.Sprintf("model: unknown event type %T", ev))
	}
}

type completedWire struct {
	RunID    string `json:"run_id"`
	Markdown string `json:"report_md"`
	JSON     string `json:"report_json"`
}

type connectionLostWire struct {
	Error string `json:"error"`
}

// DecodeEvent decodes one wire event. Unknown names and payloads that do not
// match the event's shape are errors.
func DecodeEvent(name string, data []byte) (Event, error) {
	switch EventType(name) {
	case EventStarted:
		var ev Started
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("model: decode started: %w", err)
		}
		return ev, nil
	case EventProgress:
		var ev Progress
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("model: decode progress: %w", err)
		}
		if ev.ScenarioID == "" || ev.Model == "" {
			return nil, fmt.Errorf("model: decode progress: scenario_id and model are required")
		}
		if !ev.Status.Valid() {
			return nil, fmt.Errorf("model: decode progress: unknown status %q", ev.Status)
		}
		return ev, nil
	case EventCompleted:
		var w completedWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("model: decode completed: %w", err)
		}
		return Completed{RunID: w.RunID, Report: ReportRef{Markdown: w.Markdown, JSON: w.JSON}}, nil
	case EventError:
		var ev Failed
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("model: decode error event: %w", err)
		}
		return ev, nil
	case EventConnectionLost:
		var w connectionLostWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("model: decode connection_lost: %w", err)
		}
		return ConnectionLost{Err: errors.New(w.Error)}, nil
	default:
		return nil, fmt.Errorf("model: unknown event %q", name)
	}
}

// EncodeEvent is the inverse of DecodeEvent. ConnectionLost encodes its
// error text so journaled runs replay to the same terminal state.
func EncodeEvent(ev Event) (EventType, []byte, error) {
	var payload any
	switch e := ev.(type) {
	case Started, Progress, Failed:
		payload = e
	case Completed:
		payload = completedWire{RunID: e.RunID, Markdown: e.Report.Markdown, JSON: e.Report.JSON}
	case ConnectionLost:
		msg := ""
		if e.Err != nil {
			msg = e.Err.Error()
		}
		payload = connectionLostWire{Error: msg}
	default:
		panic(fmt.Sprintf("model: unknown event type %T", ev))
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("model: encode %s: %w", ev.Type(), err)
	}
	return ev.Type(), data, nil
}
