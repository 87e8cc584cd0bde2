package mcp

import (
	"github.com/ashita-ai/skillcheck/internal/coordinator"
	"github.com/ashita-ai/skillcheck/internal/model"
	"github.com/ashita-ai/skillcheck/internal/service/dashboard"
)

const (
	defaultCellLimit = 50
	maxCompactError  = 300
)

// compactSnapshot returns the parts of a snapshot an agent acts on. The grid
// is the bulk of a snapshot and is only included on request.
func compactSnapshot(s coordinator.Snapshot, includeGrid bool) map[string]any {
	m := map[string]any{
		"phase":      s.Phase,
		"is_running": s.IsRunning,
		"total":      s.Total,
		"completed":  s.Completed,
		"running":    s.Running,
	}
	if s.RunID != "" {
		m["run_id"] = s.RunID
		m["kind"] = s.Kind
		m["models"] = s.Models
	}
	if s.Total > 0 {
		m["percent"] = s.Completed * 100 / s.Total
	}
	if s.Report != nil {
		m["report"] = s.Report
	}
	if s.Error != "" {
		m["error"] = truncate(s.Error, maxCompactError)
	}
	if s.SubmitError != "" {
		m["submit_error"] = truncate(s.SubmitError, maxCompactError)
	}
	if s.ConnectionLost {
		m["connection_lost"] = true
		m["hint"] = "the stream dropped; the backend may still be running the run"
	}
	if len(s.Anomalies) > 0 {
		m["anomalies"] = len(s.Anomalies)
	}
	if includeGrid {
		m["grid"] = s.Grid
	}
	return m
}

// failingCell is one non-passing outcome in a heatmap.
type failingCell struct {
	CheckID    string            `json:"check_id"`
	Check      string            `json:"check"`
	Severity   string            `json:"severity,omitempty"`
	ScenarioID string            `json:"scenario_id"`
	Model      string            `json:"model"`
	Variant    model.Variant     `json:"variant"`
	Result     model.ResultValue `json:"result"`
}

// compactHeatmap flattens a domain heatmap into its headline numbers and the
// fail and unclear cells, in display order, capped at limit.
func compactHeatmap(hm dashboard.DomainHeatmap, limit int) map[string]any {
	if limit <= 0 {
		limit = defaultCellLimit
	}

	var cells []failingCell
	total := 0
	for _, g := range hm.Groups {
		for _, row := range g.Rows {
			for i, byModel := range row.Cells {
				for j, c := range byModel {
					for _, v := range []struct {
						variant model.Variant
						result  model.ResultValue
					}{
						{model.VariantSpecialist, c.Specialist},
						{model.VariantMCPC, c.MCPC},
					} {
						if v.result != model.ResultFail && v.result != model.ResultUnclear {
							continue
						}
						total++
						if len(cells) >= limit {
							continue
						}
						cells = append(cells, failingCell{
							CheckID:    row.Check.ID,
							Check:      row.Check.Name,
							Severity:   row.Check.Severity,
							ScenarioID: hm.Scenarios[i].ID,
							Model:      hm.Models[j],
							Variant:    v.variant,
							Result:     v.result,
						})
					}
				}
			}
		}
	}

	m := map[string]any{
		"domain":         hm.Domain,
		"specialist":     hm.Specialist,
		"single_variant": hm.SingleVariant,
		"scenarios":      len(hm.Scenarios),
		"models":         hm.Models,
		"summary":        hm.Summary,
		"pass_pct":       hm.PassPct,
		"top_gaps":       hm.TopGaps,
		"failing_cells":  cells,
		"failing_total":  total,
	}
	if total > len(cells) {
		m["truncated"] = true
	}
	return m
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
