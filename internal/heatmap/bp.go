package heatmap

import "github.com/ashita-ai/skillcheck/internal/model"

// bpModel is the single model column a linter matrix is folded under. The
// linter runs once per skill, so there is no model axis to show.
const bpModel = "lint"

// BPView is the best-practice linter matrix: one row per check, one column
// per skill. Absent cells render as na.
type BPView struct {
	Skills  []string         `json:"skills"`
	Checks  []model.Check    `json:"checks"`
	Rows    []BPRow          `json:"rows"`
	Summary Summary          `json:"summary"`
	PassPct float64          `json:"pass_pct"`
	Errors  int              `json:"errors"`
	TopGaps []model.CheckGap `json:"top_gaps"`
	Dropped int              `json:"dropped,omitempty"`
}

// BPRow is one check with a cell per skill in Skills order.
type BPRow struct {
	Check model.Check  `json:"check"`
	Cells []BPCellView `json:"cells"`
}

// BPCellView is one rendered linter cell.
type BPCellView struct {
	Result model.ResultValue `json:"result"`
	Detail string            `json:"detail,omitempty"`
}

// FromBP folds a linter result into a single-variant Matrix with skills on
// the scenario axis. error cells are kept as error.
func FromBP(r model.BPResult) *Matrix {
	skills := make([]model.Scenario, len(r.Skills))
	for i, s := range r.Skills {
		skills[i] = model.Scenario{ID: s, Name: s}
	}
	cells := make([]model.ResultCell, 0, len(r.Cells))
	for _, c := range r.Cells {
		cells = append(cells, model.ResultCell{
			ScenarioID: c.Skill,
			CheckID:    c.CheckID,
			Model:      bpModel,
			Variant:    model.VariantSpecialist,
			Result:     c.Result,
			Evidence:   c.Detail,
		})
	}
	return Build(cells, skills, r.Checks, []string{bpModel}, Options{SingleVariant: true})
}

// BPMatrix builds the render-ready linter view.
func BPMatrix(r model.BPResult) BPView {
	m := FromBP(r)
	sum := m.Summary()
	v := BPView{
		Checks:  m.Checks(),
		Summary: sum,
		PassPct: sum.PassPct(),
		TopGaps: m.TopGaps(DefaultTopGaps),
		Dropped: m.Dropped,
	}
	for _, s := range m.scenarios {
		v.Skills = append(v.Skills, s.ID)
	}
	for _, c := range m.checks {
		row := BPRow{Check: c, Cells: make([]BPCellView, len(m.scenarios))}
		for i, s := range m.scenarios {
			cell := BPCellView{Result: model.ResultNA}
			if slot, ok := m.Lookup(s.ID, c.ID, bpModel); ok && slot.Specialist != nil {
				cell = BPCellView{Result: slot.Specialist.Result, Detail: slot.Specialist.Evidence}
			}
			if cell.Result == model.ResultError {
				v.Errors++
			}
			row.Cells[i] = cell
		}
		v.Rows = append(v.Rows, row)
	}
	return v
}
