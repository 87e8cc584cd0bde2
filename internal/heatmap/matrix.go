// Package heatmap folds a sparse set of scored result cells into a dense,
// read-only scenario × check × model lookup with summary statistics.
//
// A Matrix stores only what the backend returned. Absent slots are filled
// with na by Display at render time and are never counted.
package heatmap

import (
	"slices"
	"strconv"

	"github.com/ashita-ai/skillcheck/internal/model"
)

// DefaultTopGaps is the number of checks TopGaps reports when asked for a
// non-positive count.
const DefaultTopGaps = 5

// Options controls how cells are read.
type Options struct {
	// SingleVariant reads only the specialist result. mcpc cells are ignored
	// entirely: not stored and not counted.
	SingleVariant bool
}

// Outcome is one variant's judged result for a slot.
type Outcome struct {
	Result   model.ResultValue `json:"result"`
	Evidence string            `json:"evidence,omitempty"`
	Summary  string            `json:"summary,omitempty"`
}

// Slot holds the variant outcomes the backend reported for one
// (scenario, check, model). Either pointer may be nil.
type Slot struct {
	Specialist *Outcome `json:"specialist"`
	MCPC       *Outcome `json:"mcpc"`
}

// DisplayCell is a slot with absent variants rendered as na.
type DisplayCell struct {
	Specialist model.ResultValue `json:"specialist"`
	MCPC       model.ResultValue `json:"mcpc,omitempty"`
}

// Matrix is the built lookup. It is never mutated after Build returns.
type Matrix struct {
	scenarios     []model.Scenario
	checks        []model.Check
	models        []string
	groups        []Group
	slots         map[string]map[string]map[string]Slot
	singleVariant bool

	// Dropped counts cells whose scenario, check or model fell outside a
	// non-empty axis.
	Dropped int
}

// Build folds cells into a Matrix. An empty axis accepts every value seen
// in cells, in first-seen order. When several cells target the same slot and
// variant, the last one wins. Build is deterministic: identical inputs give
// equal matrices.
func Build(cells []model.ResultCell, scenarios []model.Scenario, checks []model.Check, models []string, opts Options) *Matrix {
	m := &Matrix{
		scenarios:     slices.Clone(scenarios),
		checks:        slices.Clone(checks),
		models:        slices.Clone(models),
		slots:         make(map[string]map[string]map[string]Slot),
		singleVariant: opts.SingleVariant,
	}

	scenarioAxis := newAxis(scenarioIDs(scenarios))
	checkAxis := newAxis(checkIDs(checks))
	modelAxis := newAxis(models)

	for _, c := range cells {
		if c.Variant == model.VariantMCPC && opts.SingleVariant {
			continue
		}
		if c.Variant != model.VariantSpecialist && c.Variant != model.VariantMCPC {
			m.Dropped++
			continue
		}
		if !scenarioAxis.admits(c.ScenarioID) || !checkAxis.admits(c.CheckID) || !modelAxis.admits(c.Model) {
			m.Dropped++
			continue
		}

		if scenarioAxis.open && !scenarioAxis.seen(c.ScenarioID) {
			m.scenarios = append(m.scenarios, model.Scenario{ID: c.ScenarioID, Name: c.ScenarioID})
		}
		if checkAxis.open && !checkAxis.seen(c.CheckID) {
			m.checks = append(m.checks, model.Check{ID: c.CheckID, Name: c.CheckID})
		}
		if modelAxis.open && !modelAxis.seen(c.Model) {
			m.models = append(m.models, c.Model)
		}

		m.put(c)
	}

	m.groups = GroupChecks(m.checks)
	return m
}

func (m *Matrix) put(c model.ResultCell) {
	byCheck, ok := m.slots[c.ScenarioID]
	if !ok {
		byCheck = make(map[string]map[string]Slot)
		m.slots[c.ScenarioID] = byCheck
	}
	byModel, ok := byCheck[c.CheckID]
	if !ok {
		byModel = make(map[string]Slot)
		byCheck[c.CheckID] = byModel
	}
	slot := byModel[c.Model]
	res := model.ParseResult(string(c.Result))
	if c.Result == model.ResultError {
		res = model.ResultError
	}
	out := &Outcome{Result: res, Evidence: c.Evidence, Summary: c.Summary}
	if c.Variant == model.VariantMCPC {
		slot.MCPC = out
	} else {
		slot.Specialist = out
	}
	byModel[c.Model] = slot
}

// Scenarios returns the scenario axis in display order.
func (m *Matrix) Scenarios() []model.Scenario { return slices.Clone(m.scenarios) }

// Checks returns the check axis in display order.
func (m *Matrix) Checks() []model.Check { return slices.Clone(m.checks) }

// Models returns the model axis in display order.
func (m *Matrix) Models() []string { return slices.Clone(m.models) }

// Groups returns the checks partitioned by taxonomy group.
func (m *Matrix) Groups() []Group { return slices.Clone(m.groups) }

// SingleVariant reports whether the matrix was built in single-variant mode.
func (m *Matrix) SingleVariant() bool { return m.singleVariant }

// Lookup returns the stored slot and whether the backend reported anything
// for it.
func (m *Matrix) Lookup(scenarioID, checkID, modelID string) (Slot, bool) {
	slot, ok := m.slots[scenarioID][checkID][modelID]
	return slot, ok
}

// Display returns render values for a slot, defaulting absent variants to
// na. In single-variant mode MCPC is left empty.
func (m *Matrix) Display(scenarioID, checkID, modelID string) DisplayCell {
	slot, _ := m.Lookup(scenarioID, checkID, modelID)
	cell := DisplayCell{Specialist: model.ResultNA}
	if slot.Specialist != nil {
		cell.Specialist = slot.Specialist.Result
	}
	if m.singleVariant {
		return cell
	}
	cell.MCPC = model.ResultNA
	if slot.MCPC != nil {
		cell.MCPC = slot.MCPC.Result
	}
	return cell
}

// Summary tallies outcomes across the stored slots. error outcomes count as
// na.
type Summary struct {
	Pass    int `json:"pass"`
	Fail    int `json:"fail"`
	Unclear int `json:"unclear"`
	NA      int `json:"na"`
}

// Total is the number of counted outcomes.
func (s Summary) Total() int { return s.Pass + s.Fail + s.Unclear + s.NA }

// PassPct is the pass share of decided outcomes, rounded to one decimal.
// na does not enter the denominator. Exact ties round half to even on the
// float's true value, so 1 of 16 gives 6.2.
func (s Summary) PassPct() float64 {
	decided := s.Pass + s.Fail + s.Unclear
	if decided == 0 {
		return 0
	}
	return roundTenth(float64(100*s.Pass) / float64(decided))
}

// roundTenth rounds x to one decimal place. FormatFloat rounds the exact
// binary value and breaks exact ties to even.
func roundTenth(x float64) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(x, 'f', 1, 64), 64)
	if err != nil {
		return x
	}
	return r
}

func (s *Summary) add(o *Outcome) {
	if o == nil {
		return
	}
	switch o.Result {
	case model.ResultPass:
		s.Pass++
	case model.ResultFail:
		s.Fail++
	case model.ResultUnclear:
		s.Unclear++
	default:
		s.NA++
	}
}

// Summary counts every present variant of every stored slot independently,
// so one slot contributes 0, 1 or 2 outcomes.
func (m *Matrix) Summary() Summary {
	var s Summary
	for _, byCheck := range m.slots {
		for _, byModel := range byCheck {
			for _, slot := range byModel {
				s.add(slot.Specialist)
				s.add(slot.MCPC)
			}
		}
	}
	return s
}

// CheckSummary tallies one check across scenarios and models.
func (m *Matrix) CheckSummary(checkID string) Summary {
	var s Summary
	for _, byCheck := range m.slots {
		for _, slot := range byCheck[checkID] {
			s.add(slot.Specialist)
			s.add(slot.MCPC)
		}
	}
	return s
}

// TopGaps returns up to n checks with at least one fail, most fails first.
// Ties keep the check axis order.
func (m *Matrix) TopGaps(n int) []model.CheckGap {
	if n <= 0 {
		n = DefaultTopGaps
	}
	type ranked struct {
		check model.Check
		fails int
	}
	var rs []ranked
	for _, c := range m.checks {
		if f := m.CheckSummary(c.ID).Fail; f > 0 {
			rs = append(rs, ranked{check: c, fails: f})
		}
	}
	slices.SortStableFunc(rs, func(a, b ranked) int { return b.fails - a.fails })

	gaps := make([]model.CheckGap, 0, min(n, len(rs)))
	for _, r := range rs[:min(n, len(rs))] {
		name := r.check.Name
		if name == "" {
			name = r.check.ID
		}
		gaps = append(gaps, model.CheckGap{CheckID: r.check.ID, Name: name, Severity: r.check.Severity})
	}
	return gaps
}

type axis struct {
	open  bool
	known map[string]bool
}

func newAxis(ids []string) *axis {
	a := &axis{open: len(ids) == 0, known: make(map[string]bool, len(ids))}
	for _, id := range ids {
		a.known[id] = true
	}
	return a
}

func (a *axis) admits(id string) bool {
	return id != "" && (a.open || a.known[id])
}

// seen records id on an open axis and reports whether it was known before.
func (a *axis) seen(id string) bool {
	if a.known[id] {
		return true
	}
	a.known[id] = true
	return false
}

func scenarioIDs(ss []model.Scenario) []string {
	ids := make([]string, len(ss))
	for i, s := range ss {
		ids[i] = s.ID
	}
	return ids
}

func checkIDs(cs []model.Check) []string {
	ids := make([]string, len(cs))
	for i, c := range cs {
		ids[i] = c.ID
	}
	return ids
}
