package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"

	"github.com/ashita-ai/skillcheck/internal/model"
)

// LegacyModel labels cells from services whose domain matrix has no model
// level.
const LegacyModel = "default"

// FetchDomains lists the heatmap domains.
func (c *Client) FetchDomains(ctx context.Context) ([]model.Domain, error) {
	var resp []model.Domain
	if err := c.get(ctx, "fetch domains", "/api/heatmap/domains", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// FetchSkillHealth returns the per-skill roll-up of the latest scored report.
func (c *Client) FetchSkillHealth(ctx context.Context) ([]model.SkillHealth, error) {
	var resp []model.SkillHealth
	if err := c.get(ctx, "fetch skill health", "/api/heatmap/skills", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// FetchCellDetail returns both variants' full answers for one cell.
func (c *Client) FetchCellDetail(ctx context.Context, scenarioID, checkID string) (*model.CellDetail, error) {
	if scenarioID == "" || checkID == "" {
		return nil, fmt.Errorf("backend: scenario and check ids are required")
	}
	var resp model.CellDetail
	path := "/api/heatmap/detail/" + url.PathEscape(scenarioID) + "/" + url.PathEscape(checkID)
	if err := c.get(ctx, "fetch cell detail", path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchResultCells returns the latest scored results for a domain, flattened
// from the service's nested matrix into cells, together with the domain's
// axes. Variants reported as null are absent, not na.
func (c *Client) FetchResultCells(ctx context.Context, domain string) (model.DomainResult, error) {
	if domain == "" {
		return model.DomainResult{}, fmt.Errorf("backend: domain is required")
	}
	var resp domainMatrixResponse
	if err := c.get(ctx, "fetch result cells", "/api/heatmap/domain/"+url.PathEscape(domain), &resp); err != nil {
		return model.DomainResult{}, err
	}
	out, err := resp.flatten()
	if err != nil {
		return model.DomainResult{}, &model.BackendError{Op: "fetch result cells", Err: err}
	}
	return out, nil
}

// FetchBPMatrix returns the static best-practice linter results for every
// skill, flattened in check then skill order. A skill the service could not
// read reports error on every check.
func (c *Client) FetchBPMatrix(ctx context.Context) (model.BPResult, error) {
	var resp bpMatrixResponse
	if err := c.get(ctx, "fetch bp matrix", "/api/heatmap/bp", &resp); err != nil {
		return model.BPResult{}, err
	}
	return resp.flatten(), nil
}

type bpMatrixResponse struct {
	Skills []string                                `json:"skills"`
	Checks []model.Check                           `json:"checks"`
	Matrix map[string]map[string]*bpCellResultWire `json:"matrix"`
}

type bpCellResultWire struct {
	Result string `json:"result"`
	Detail string `json:"detail"`
}

func (r bpMatrixResponse) flatten() model.BPResult {
	out := model.BPResult{Skills: r.Skills, Checks: r.Checks}
	for _, c := range orderedKeys(r.Matrix, checkIDs(r.Checks)) {
		bySkill := r.Matrix[c]
		for _, s := range orderedKeys(bySkill, r.Skills) {
			w := bySkill[s]
			if w == nil {
				continue
			}
			out.Cells = append(out.Cells, model.BPCell{
				Skill:   s,
				CheckID: c,
				Result:  model.ParseBPResult(w.Result),
				Detail:  w.Detail,
			})
		}
	}
	return out
}

type domainMatrixResponse struct {
	Domain     string                                           `json:"domain"`
	Specialist string                                           `json:"specialist"`
	IsDev      bool                                             `json:"is_dev"`
	Scenarios  []model.Scenario                                 `json:"scenarios"`
	Checks     []model.Check                                    `json:"checks"`
	Models     []string                                         `json:"models"`
	Matrix     map[string]map[string]map[string]json.RawMessage `json:"matrix"`
}

type cellResultWire struct {
	Result   string `json:"result"`
	Evidence string `json:"evidence"`
	Summary  string `json:"summary"`
}

type variantPairWire struct {
	Specialist *cellResultWire `json:"specialist"`
	MCPC       *cellResultWire `json:"mcpc"`
}

// flatten turns matrix[scenario][check] into cells. The innermost object is
// either {model: {specialist, mcpc}} or, from older services, the variant
// pair itself. Output order is deterministic: scenarios, checks and models
// follow the axes, with keys outside them sorted after.
func (r domainMatrixResponse) flatten() (model.DomainResult, error) {
	out := model.DomainResult{
		Domain:     r.Domain,
		Specialist: r.Specialist,
		IsDev:      r.IsDev,
		Scenarios:  r.Scenarios,
		Checks:     r.Checks,
		Models:     r.Models,
	}

	legacy := false
	for _, s := range orderedKeys(r.Matrix, scenarioIDs(r.Scenarios)) {
		byCheck := r.Matrix[s]
		for _, c := range orderedKeys(byCheck, checkIDs(r.Checks)) {
			inner := byCheck[c]
			if isVariantPair(inner) {
				legacy = true
				pair, err := decodePair(inner)
				if err != nil {
					return model.DomainResult{}, fmt.Errorf("matrix %s/%s: %w", s, c, err)
				}
				out.Cells = appendPair(out.Cells, s, c, LegacyModel, pair)
				continue
			}
			for _, m := range orderedKeys(inner, r.Models) {
				var pair variantPairWire
				if err := json.Unmarshal(inner[m], &pair); err != nil {
					return model.DomainResult{}, fmt.Errorf("matrix %s/%s/%s: %w", s, c, m, err)
				}
				out.Cells = appendPair(out.Cells, s, c, m, pair)
			}
		}
	}
	if legacy && len(out.Models) == 0 {
		out.Models = []string{LegacyModel}
	}
	return out, nil
}

func isVariantPair(inner map[string]json.RawMessage) bool {
	if len(inner) == 0 {
		return false
	}
	for k := range inner {
		if k != string(model.VariantSpecialist) && k != string(model.VariantMCPC) {
			return false
		}
	}
	return true
}

func decodePair(inner map[string]json.RawMessage) (variantPairWire, error) {
	var pair variantPairWire
	if raw, ok := inner[string(model.VariantSpecialist)]; ok {
		if err := json.Unmarshal(raw, &pair.Specialist); err != nil {
			return pair, err
		}
	}
	if raw, ok := inner[string(model.VariantMCPC)]; ok {
		if err := json.Unmarshal(raw, &pair.MCPC); err != nil {
			return pair, err
		}
	}
	return pair, nil
}

func appendPair(cells []model.ResultCell, scenarioID, checkID, modelID string, pair variantPairWire) []model.ResultCell {
	add := func(v model.Variant, w *cellResultWire) {
		if w == nil {
			return
		}
		cells = append(cells, model.ResultCell{
			ScenarioID: scenarioID,
			CheckID:    checkID,
			Model:      modelID,
			Variant:    v,
			Result:     model.ParseResult(w.Result),
			Evidence:   w.Evidence,
			Summary:    w.Summary,
		})
	}
	add(model.VariantSpecialist, pair.Specialist)
	add(model.VariantMCPC, pair.MCPC)
	return cells
}

// orderedKeys returns m's keys that appear in axis, in axis order, followed
// by the remaining keys sorted.
func orderedKeys[V any](m map[string]V, axis []string) []string {
	keys := make([]string, 0, len(m))
	seen := make(map[string]bool, len(m))
	for _, k := range axis {
		if _, ok := m[k]; ok && !seen[k] {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range m {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
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
