package heatmap

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/skillcheck/internal/model"
)

var (
	scenarios = []model.Scenario{{ID: "s1", Name: "Search"}, {ID: "s2", Name: "Scrape"}}
	checks    = []model.Check{
		{ID: "WF-1", Name: "Workflow", Group: "workflow", Severity: "HIGH"},
		{ID: "SEC-1", Name: "Secrets", Group: "security", Severity: "CRITICAL"},
		{ID: "WF-2", Name: "Retries", Group: "workflow", Severity: "LOW"},
	}
	models = []string{"sonnet", "haiku"}
)

func cell(s, c, m string, v model.Variant, r model.ResultValue) model.ResultCell {
	return model.ResultCell{ScenarioID: s, CheckID: c, Model: m, Variant: v, Result: r}
}

func bothVariants(n int) []model.ResultCell {
	results := []model.ResultValue{model.ResultPass, model.ResultFail, model.ResultUnclear, model.ResultNA}
	var cells []model.ResultCell
	i := 0
	for _, s := range scenarios {
		for _, c := range checks {
			for _, m := range models {
				if i == n {
					return cells
				}
				cells = append(cells,
					cell(s.ID, c.ID, m, model.VariantSpecialist, results[i%4]),
					cell(s.ID, c.ID, m, model.VariantMCPC, results[(i+1)%4]),
				)
				i++
			}
		}
	}
	return cells
}

func TestBuildIsIdempotent(t *testing.T) {
	cells := bothVariants(9)
	a := Build(cells, scenarios, checks, models, Options{})
	b := Build(cells, scenarios, checks, models, Options{})

	assert.Equal(t, a, b)
	assert.Equal(t, a.Summary(), b.Summary())
	for _, s := range scenarios {
		for _, c := range checks {
			for _, m := range models {
				assert.Equal(t, a.Display(s.ID, c.ID, m), b.Display(s.ID, c.ID, m))
			}
		}
	}
}

func TestCountingSymmetry(t *testing.T) {
	for _, n := range []int{0, 1, 5, 12} {
		t.Run(fmt.Sprintf("both/%d", n), func(t *testing.T) {
			m := Build(bothVariants(n), scenarios, checks, models, Options{})
			assert.Equal(t, 2*n, m.Summary().Total())
		})
		t.Run(fmt.Sprintf("specialist/%d", n), func(t *testing.T) {
			var only []model.ResultCell
			for _, c := range bothVariants(n) {
				if c.Variant == model.VariantSpecialist {
					only = append(only, c)
				}
			}
			m := Build(only, scenarios, checks, models, Options{})
			assert.Equal(t, n, m.Summary().Total())
		})
	}
}

func TestSingleVariantIgnoresMCPC(t *testing.T) {
	m := Build(bothVariants(4), scenarios, checks, models, Options{SingleVariant: true})
	assert.Equal(t, 4, m.Summary().Total())

	slot, ok := m.Lookup("s1", "WF-1", "sonnet")
	require.True(t, ok)
	assert.Nil(t, slot.MCPC)
	assert.Equal(t, DisplayCell{Specialist: model.ResultPass}, m.Display("s1", "WF-1", "sonnet"))
}

func TestAbsentSlotsAreNotCounted(t *testing.T) {
	m := Build([]model.ResultCell{
		cell("s1", "WF-1", "sonnet", model.VariantSpecialist, model.ResultNA),
	}, scenarios, checks, models, Options{})

	assert.Equal(t, Summary{NA: 1}, m.Summary())

	_, ok := m.Lookup("s2", "SEC-1", "haiku")
	assert.False(t, ok)
	assert.Equal(t, DisplayCell{Specialist: model.ResultNA, MCPC: model.ResultNA}, m.Display("s2", "SEC-1", "haiku"))
}

func TestBuildDropsOffAxisCellsAndKeepsLastDuplicate(t *testing.T) {
	m := Build([]model.ResultCell{
		cell("s1", "WF-1", "sonnet", model.VariantSpecialist, model.ResultFail),
		cell("s1", "WF-1", "sonnet", model.VariantSpecialist, model.ResultPass),
		cell("s9", "WF-1", "sonnet", model.VariantSpecialist, model.ResultPass),
		cell("s1", "XX-1", "sonnet", model.VariantSpecialist, model.ResultPass),
		cell("s1", "WF-1", "opus", model.VariantSpecialist, model.ResultPass),
		cell("s1", "WF-1", "sonnet", "hybrid", model.ResultPass),
	}, scenarios, checks, models, Options{})

	assert.Equal(t, 4, m.Dropped)
	assert.Equal(t, Summary{Pass: 1}, m.Summary())
}

func TestBuildOpenAxesFollowFirstSeenOrder(t *testing.T) {
	m := Build([]model.ResultCell{
		cell("b", "C2", "opus", model.VariantSpecialist, model.ResultPass),
		cell("a", "C1", "haiku", model.VariantSpecialist, model.ResultPass),
		cell("b", "C1", "opus", model.VariantSpecialist, model.ResultFail),
	}, nil, nil, nil, Options{})

	assert.Equal(t, []string{"opus", "haiku"}, m.Models())
	require.Len(t, m.Scenarios(), 2)
	assert.Equal(t, "b", m.Scenarios()[0].ID)
	assert.Equal(t, "C2", m.Checks()[0].ID)
	assert.Zero(t, m.Dropped)
}

func TestBuildDoesNotAliasInputs(t *testing.T) {
	axis := []string{"sonnet", "haiku"}
	m := Build(nil, scenarios, checks, axis, Options{})
	axis[0] = "mutated"
	assert.Equal(t, []string{"sonnet", "haiku"}, m.Models())
}

func TestGroupChecksKeepsFirstSeenOrder(t *testing.T) {
	groups := GroupChecks(checks)
	require.Len(t, groups, 2)
	assert.Equal(t, "workflow", groups[0].Key)
	assert.Equal(t, []string{"WF-1", "WF-2"}, []string{groups[0].Checks[0].ID, groups[0].Checks[1].ID})
	assert.Equal(t, "security", groups[1].Key)
}

func TestPassPct(t *testing.T) {
	assert.Equal(t, 0.0, Summary{NA: 4}.PassPct())
	assert.Equal(t, 66.7, Summary{Pass: 2, Fail: 1, NA: 10}.PassPct())
	assert.Equal(t, 33.3, Summary{Pass: 1, Fail: 1, Unclear: 1}.PassPct())
	assert.Equal(t, 100.0, Summary{Pass: 3}.PassPct())
}

func TestPassPctBreaksExactTiesToEven(t *testing.T) {
	assert.Equal(t, 6.2, Summary{Pass: 1, Fail: 15}.PassPct())
	assert.Equal(t, 18.8, Summary{Pass: 3, Fail: 13}.PassPct())
	assert.Equal(t, 12.5, Summary{Pass: 1, Fail: 7}.PassPct())
	assert.Equal(t, 0.1, Summary{Pass: 1, Fail: 999}.PassPct())
	assert.Equal(t, 99.9, Summary{Pass: 999, Unclear: 1}.PassPct())
}

func TestTopGapsOrdersByFailsThenAxis(t *testing.T) {
	m := Build([]model.ResultCell{
		cell("s1", "WF-2", "sonnet", model.VariantSpecialist, model.ResultFail),
		cell("s2", "WF-2", "sonnet", model.VariantSpecialist, model.ResultFail),
		cell("s1", "SEC-1", "sonnet", model.VariantSpecialist, model.ResultFail),
		cell("s1", "WF-1", "sonnet", model.VariantSpecialist, model.ResultFail),
		cell("s2", "WF-1", "haiku", model.VariantSpecialist, model.ResultPass),
	}, scenarios, checks, models, Options{})

	gaps := m.TopGaps(2)
	require.Len(t, gaps, 2)
	assert.Equal(t, "WF-2", gaps[0].CheckID)
	assert.Equal(t, "WF-1", gaps[1].CheckID)
	assert.Equal(t, "HIGH", gaps[1].Severity)

	assert.Len(t, m.TopGaps(0), 3)
}

func TestViewMaterializesDenseGrid(t *testing.T) {
	tax := model.Taxonomy{Groups: []model.CheckGroup{{Key: "security", Name: "Security"}}}
	m := Build([]model.ResultCell{
		cell("s2", "SEC-1", "haiku", model.VariantMCPC, model.ResultFail),
	}, scenarios, checks, models, Options{})

	v := m.View(tax)
	require.Len(t, v.Groups, 2)
	assert.Equal(t, "workflow", v.Groups[0].Name)
	assert.Equal(t, "Security", v.Groups[1].Name)

	row := v.Groups[1].Rows[0]
	require.Len(t, row.Cells, 2)
	require.Len(t, row.Cells[1], 2)
	assert.Equal(t, DisplayCell{Specialist: model.ResultNA, MCPC: model.ResultFail}, row.Cells[1][1])
	assert.Equal(t, Summary{Fail: 1}, v.Summary)
	assert.Equal(t, 0.0, v.PassPct)
}

func TestOrderByTaxonomy(t *testing.T) {
	tax := model.Taxonomy{Groups: []model.CheckGroup{
		{Key: "security", Checks: []model.Check{{ID: "SEC-1"}}},
		{Key: "workflow", Checks: []model.Check{{ID: "WF-2"}, {ID: "WF-1"}}},
	}}
	in := append([]model.Check{{ID: "ZZ-9"}}, checks...)
	got := OrderByTaxonomy(in, tax)

	ids := make([]string, len(got))
	for i, c := range got {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"SEC-1", "WF-2", "WF-1", "ZZ-9"}, ids)
}
