package heatmap

import (
	"slices"
	"strings"

	"github.com/ashita-ai/skillcheck/internal/model"
)

// Group is one taxonomy category and its checks in display order.
type Group struct {
	Key    string        `json:"key"`
	Name   string        `json:"name"`
	Checks []model.Check `json:"checks"`
}

// GroupChecks partitions checks by their Group key. Groups appear in the
// order their first check appears, and checks keep their relative order.
// Nothing is sorted.
func GroupChecks(checks []model.Check) []Group {
	var groups []Group
	index := make(map[string]int)
	for _, c := range checks {
		i, ok := index[c.Group]
		if !ok {
			i = len(groups)
			index[c.Group] = i
			groups = append(groups, Group{Key: c.Group, Name: c.Group})
		}
		groups[i].Checks = append(groups[i].Checks, c)
	}
	return groups
}

// NameGroups fills group display names from a taxonomy, matching keys
// case-insensitively. Groups the taxonomy does not know keep their key as
// the name.
func NameGroups(groups []Group, tax model.Taxonomy) []Group {
	names := make(map[string]string, len(tax.Groups))
	for _, g := range tax.Groups {
		names[strings.ToUpper(g.Key)] = g.Name
	}
	out := make([]Group, len(groups))
	for i, g := range groups {
		out[i] = g
		if n, ok := names[strings.ToUpper(g.Key)]; ok && n != "" {
			out[i].Name = n
		}
	}
	return out
}

// OrderByTaxonomy returns checks reordered to follow the taxonomy's group and
// check order. Checks unknown to the taxonomy follow in their original order.
func OrderByTaxonomy(checks []model.Check, tax model.Taxonomy) []model.Check {
	rank := make(map[string]int)
	for i, c := range tax.Checks() {
		if _, ok := rank[c.ID]; !ok {
			rank[c.ID] = i
		}
	}
	var known, unknown []model.Check
	for _, c := range checks {
		if _, ok := rank[c.ID]; ok {
			known = append(known, c)
		} else {
			unknown = append(unknown, c)
		}
	}
	slices.SortStableFunc(known, func(a, b model.Check) int { return rank[a.ID] - rank[b.ID] })
	return append(known, unknown...)
}
