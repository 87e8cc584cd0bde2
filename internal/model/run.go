package model

import (
	"slices"
	"strings"
)

// Concurrency bounds for a run. The backend runs at most Concurrency task
// units at once.
const (
	DefaultConcurrency = 3
	MinConcurrency     = 1
	MaxConcurrency     = 10
)

// RunKind selects which backend run flavour a RunSpec describes.
type RunKind string

const (
	// RunKindScenario runs selected scenarios against selected models.
	RunKindScenario RunKind = "scenario"
	// RunKindScored runs every scenario of the selected domains and scores
	// each response per check (the heatmap run).
	RunKindScored RunKind = "scored"
)

// RunSpec is the operator's intent for one run. Empty ScenarioIDs or
// Domains mean "all".
type RunSpec struct {
	Kind        RunKind  `json:"kind"`
	ScenarioIDs []string `json:"scenario_ids,omitempty"`
	Domains     []string `json:"domains,omitempty"`
	Models      []string `json:"models"`
	Concurrency int      `json:"concurrency"`
}

// Normalized returns a copy with defaults applied: an empty Kind becomes
// RunKindScenario, zero Concurrency becomes DefaultConcurrency, and blank or
// repeated identifiers are removed.
func (s RunSpec) Normalized() RunSpec {
	out := RunSpec{
		Kind:        s.Kind,
		ScenarioIDs: dedupe(s.ScenarioIDs),
		Domains:     dedupe(s.Domains),
		Models:      dedupe(s.Models),
		Concurrency: s.Concurrency,
	}
	if out.Kind == "" {
		out.Kind = RunKindScenario
	}
	if out.Concurrency == 0 {
		out.Concurrency = DefaultConcurrency
	}
	return out
}

// Validate checks a normalized spec. It never touches the network.
func (s RunSpec) Validate() error {
	switch s.Kind {
	case RunKindScenario, RunKindScored:
	default:
		return &ValidationError{Field: "kind", Message: "must be \"scenario\" or \"scored\""}
	}
	if len(s.Models) == 0 {
		return &ValidationError{Field: "models", Message: "at least one model is required"}
	}
	if s.Concurrency < MinConcurrency || s.Concurrency > MaxConcurrency {
		return &ValidationError{Field: "concurrency", Message: "must be between 1 and 10"}
	}
	if s.Kind == RunKindScored && len(s.ScenarioIDs) > 0 {
		return &ValidationError{Field: "scenario_ids", Message: "scored runs select scenarios by domain"}
	}
	if s.Kind == RunKindScenario && len(s.Domains) > 0 {
		return &ValidationError{Field: "domains", Message: "only scored runs accept a domain filter"}
	}
	return nil
}

// Expects reports whether a (scenario, model) pair belongs to the spec.
// An empty scenario or domain selection accepts every scenario, since the
// backend resolves "all" against its own catalog.
func (s RunSpec) Expects(scenarioID, model string) bool {
	if !slices.Contains(s.Models, model) {
		return false
	}
	if len(s.ScenarioIDs) == 0 {
		return true
	}
	return slices.Contains(s.ScenarioIDs, scenarioID)
}

// RunHandle is the backend's acknowledgement of a submitted run.
type RunHandle struct {
	RunID string `json:"run_id"`
	Total int    `json:"total"`
}

// RunResult is the backend's post-hoc view of a run, used to recover state
// after the stream was lost.
type RunResult struct {
	RunID       string                           `json:"run_id"`
	Status      string                           `json:"status"`
	Models      []string                         `json:"models"`
	ScenarioIDs []string                         `json:"scenario_ids"`
	Progress    map[string]map[string]TaskStatus `json:"progress"`
	StartedAt   string                           `json:"started_at"`
	CompletedAt string                           `json:"completed_at"`
	Error       *string                          `json:"error"`
	ResultCount int                              `json:"result_count"`
	Results     []TaskResult                     `json:"results"`
}

// TaskResult is one model response inside a RunResult.
type TaskResult struct {
	ScenarioID string         `json:"scenario_id"`
	Model      string         `json:"model"`
	Response   string         `json:"response"`
	DurationS  float64        `json:"duration_s"`
	CostInfo   map[string]any `json:"cost_info,omitempty"`
	Error      *string        `json:"error"`
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
