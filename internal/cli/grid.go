package cli

import (
	"fmt"
	"slices"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ashita-ai/skillcheck/internal/model"
	"github.com/ashita-ai/skillcheck/internal/progress"
)

// gridAxes returns the scenario rows and model columns for a grid. Models
// follow the spec's order; models the stream reported but the spec did not
// name are appended sorted. Scenario order is the spec's when it names
// scenarios, otherwise sorted.
func gridAxes(spec model.RunSpec, g progress.Grid) (scenarios, models []string) {
	models = slices.Clone(spec.Models)
	var extra []string
	for sid, row := range g {
		if !slices.Contains(spec.ScenarioIDs, sid) {
			scenarios = append(scenarios, sid)
		}
		for m := range row {
			if !slices.Contains(models, m) && !slices.Contains(extra, m) {
				extra = append(extra, m)
			}
		}
	}
	slices.Sort(scenarios)
	slices.Sort(extra)
	return append(slices.Clone(spec.ScenarioIDs), scenarios...), append(models, extra...)
}

// renderGrid writes the (scenario, model) status table followed by a
// completion summary.
func (r *Renderer) renderGrid(spec model.RunSpec, g progress.Grid, total int) {
	scenarios, models := gridAxes(spec, g)
	if len(scenarios) == 0 {
		r.Noticef("no task progress recorded")
		return
	}

	t := r.NewTable()
	header := table.Row{"Scenario"}
	for _, m := range models {
		header = append(header, m)
	}
	t.AppendHeader(header)
	for _, sid := range scenarios {
		row := table.Row{sid}
		for _, m := range models {
			st, ok := g.Status(sid, m)
			if !ok {
				st = model.TaskPending
			}
			row = append(row, r.Status(st))
		}
		t.AppendRow(row)
	}
	t.Render()

	_, _ = fmt.Fprintf(r.out, "%d/%d complete, %d running\n",
		progress.CompletedCount(g), total, progress.RunningCount(g))
}
