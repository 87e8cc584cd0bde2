package heatmap

import "github.com/ashita-ai/skillcheck/internal/model"

// View is the render-ready form of a Matrix: every slot of the dense grid is
// materialized with na defaults, checks are grouped and the summary is
// attached.
type View struct {
	Scenarios     []model.Scenario `json:"scenarios"`
	Models        []string         `json:"models"`
	SingleVariant bool             `json:"single_variant"`
	Groups        []GroupView      `json:"groups"`
	Summary       Summary          `json:"summary"`
	PassPct       float64          `json:"pass_pct"`
	TopGaps       []model.CheckGap `json:"top_gaps"`
	Dropped       int              `json:"dropped,omitempty"`
}

// GroupView is one group header with its rows.
type GroupView struct {
	Key  string    `json:"key"`
	Name string    `json:"name"`
	Rows []RowView `json:"rows"`
}

// RowView is one check row. Cells are indexed by scenario then model, in
// axis order.
type RowView struct {
	Check model.Check     `json:"check"`
	Cells [][]DisplayCell `json:"cells"`
}

// View materializes the matrix. Group names come from tax when it knows the
// group key.
func (m *Matrix) View(tax model.Taxonomy) View {
	sum := m.Summary()
	v := View{
		Scenarios:     m.Scenarios(),
		Models:        m.Models(),
		SingleVariant: m.singleVariant,
		Summary:       sum,
		PassPct:       sum.PassPct(),
		TopGaps:       m.TopGaps(DefaultTopGaps),
		Dropped:       m.Dropped,
	}
	for _, g := range NameGroups(m.groups, tax) {
		gv := GroupView{Key: g.Key, Name: g.Name}
		for _, c := range g.Checks {
			row := RowView{Check: c, Cells: make([][]DisplayCell, len(m.scenarios))}
			for i, s := range m.scenarios {
				row.Cells[i] = make([]DisplayCell, len(m.models))
				for j, mdl := range m.models {
					row.Cells[i][j] = m.Display(s.ID, c.ID, mdl)
				}
			}
			gv.Rows = append(gv.Rows, row)
		}
		v.Groups = append(v.Groups, gv)
	}
	return v
}

// FromDomain builds the matrix for one domain result set. Dev domains only
// have a specialist variant.
func FromDomain(d model.DomainResult) *Matrix {
	return Build(d.Cells, d.Scenarios, d.Checks, d.Models, Options{SingleVariant: d.IsDev})
}
