package model

import (
	"errors"
	"fmt"
)

// ErrNoActiveRun is returned when an operation needs a run but none was
// submitted in this process.
var ErrNoActiveRun = errors.New("no active run")

// ErrNotFound is returned when a named entity does not exist locally.
var ErrNotFound = errors.New("not found")

// ValidationError rejects a request locally, before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// BackendError reports a failed call to the evaluation backend. StatusCode
// is zero when the request never produced a response.
type BackendError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *BackendError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("backend: %s (%d): %s", e.Op, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("backend: %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("backend: %s: %s", e.Op, e.Message)
	}
}

func (e *BackendError) Unwrap() error { return e.Err }

// StreamTransportError reports a run stream that broke before a terminal
// event: a dropped connection, a non-2xx response or a malformed frame.
type StreamTransportError struct {
	RunID string
	Err   error
}

func (e *StreamTransportError) Error() string {
	return fmt.Sprintf("stream %s: connection lost: %v", e.RunID, e.Err)
}

func (e *StreamTransportError) Unwrap() error { return e.Err }

// AnomalyKind classifies a ProtocolAnomaly.
type AnomalyKind string

const (
	AnomalyUnexpectedPair   AnomalyKind = "unexpected_pair"
	AnomalyDuplicateStarted AnomalyKind = "duplicate_started"
	AnomalyAfterTerminal    AnomalyKind = "after_terminal"
)

// ProtocolAnomaly is stream content the tracker accepted but did not expect.
// Anomalies are recorded, never fatal.
type ProtocolAnomaly struct {
	Kind       AnomalyKind `json:"kind"`
	Event      EventType   `json:"event"`
	ScenarioID string      `json:"scenario_id,omitempty"`
	Model      string      `json:"model,omitempty"`
}

func (a ProtocolAnomaly) String() string {
	if a.ScenarioID != "" {
		return fmt.Sprintf("%s: %s %s/%s", a.Kind, a.Event, a.ScenarioID, a.Model)
	}
	return fmt.Sprintf("%s: %s", a.Kind, a.Event)
}
