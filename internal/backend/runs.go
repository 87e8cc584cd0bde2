package backend

import (
	"context"
	"fmt"
	"net/url"

	"github.com/ashita-ai/skillcheck/internal/model"
)

// scenarioRunBody is the wire format for POST /api/runs. A nil ScenarioIDs
// serializes as null, which the service reads as "all scenarios".
type scenarioRunBody struct {
	ScenarioIDs []string `json:"scenario_ids"`
	Models      []string `json:"models"`
	Concurrency int      `json:"concurrency"`
}

// scoredRunBody is the wire format for POST /api/heatmap/run. Model repeats
// the first model for services that predate multi-model scoring.
type scoredRunBody struct {
	Domains     []string `json:"domains"`
	Model       string   `json:"model"`
	Models      []string `json:"models"`
	Concurrency int      `json:"concurrency"`
}

type runStartResponse struct {
	RunID string `json:"run_id"`
	Total int    `json:"total"`
}

// SubmitRun starts a run. spec must already be normalized and validated.
func (c *Client) SubmitRun(ctx context.Context, spec model.RunSpec) (model.RunHandle, error) {
	var (
		resp runStartResponse
		err  error
	)
	switch spec.Kind {
	case model.RunKindScored:
		body := scoredRunBody{
			Domains:     spec.Domains,
			Models:      spec.Models,
			Concurrency: spec.Concurrency,
		}
		if len(spec.Models) > 0 {
			body.Model = spec.Models[0]
		}
		err = c.post(ctx, "submit scored run", "/api/heatmap/run", body, &resp)
	default:
		body := scenarioRunBody{
			ScenarioIDs: spec.ScenarioIDs,
			Models:      spec.Models,
			Concurrency: spec.Concurrency,
		}
		err = c.post(ctx, "submit run", "/api/runs", body, &resp)
	}
	if err != nil {
		return model.RunHandle{}, err
	}
	if resp.RunID == "" {
		return model.RunHandle{}, &model.BackendError{Op: "submit run", Message: "response has no run_id"}
	}
	return model.RunHandle{RunID: resp.RunID, Total: resp.Total}, nil
}

// StreamPath returns the event stream path for a run of the given kind.
func StreamPath(kind model.RunKind, runID string) string {
	if kind == model.RunKindScored {
		return "/api/heatmap/run/" + url.PathEscape(runID) + "/stream"
	}
	return "/api/runs/" + url.PathEscape(runID) + "/stream"
}

// FetchRunResult returns the service's post-hoc view of a run.
func (c *Client) FetchRunResult(ctx context.Context, runID string) (*model.RunResult, error) {
	if runID == "" {
		return nil, fmt.Errorf("backend: run id is required")
	}
	var resp model.RunResult
	if err := c.get(ctx, "fetch run result", "/api/runs/"+url.PathEscape(runID)+"/result", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchReports lists the report files the service has written.
func (c *Client) FetchReports(ctx context.Context) ([]model.ReportSummary, error) {
	var resp []model.ReportSummary
	if err := c.get(ctx, "fetch reports", "/api/reports", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// FetchReport resolves a report reference from a completed event.
func (c *Client) FetchReport(ctx context.Context, name string) (*model.Report, error) {
	if name == "" {
		return nil, fmt.Errorf("backend: report name is required")
	}
	var resp model.Report
	if err := c.get(ctx, "fetch report", "/api/reports/"+url.PathEscape(name), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
