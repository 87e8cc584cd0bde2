package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/ashita-ai/skillcheck/internal/model"
)

// FetchTaxonomy returns the check taxonomy with groups and checks in the
// order the service lists them.
func (c *Client) FetchTaxonomy(ctx context.Context) (model.Taxonomy, error) {
	var resp taxonomyResponse
	if err := c.get(ctx, "fetch taxonomy", "/api/categories", &resp); err != nil {
		return model.Taxonomy{}, err
	}
	return resp.Taxonomy, nil
}

// FetchScenarios returns the scenario catalog.
func (c *Client) FetchScenarios(ctx context.Context) ([]model.Scenario, error) {
	var resp []model.Scenario
	if err := c.get(ctx, "fetch scenarios", "/api/scenarios", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// FetchModels returns the models that appear in scored results.
func (c *Client) FetchModels(ctx context.Context) ([]string, error) {
	var resp []string
	if err := c.get(ctx, "fetch models", "/api/heatmap/models", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// taxonomyResponse decodes GET /api/categories:
//
//	{"groups": {"wf": {"name", "default_models", "categories": {"WF-1": {...}}}}, "total": N}
//
// Both object levels carry meaningful order, so they are walked token by
// token instead of decoded into maps.
type taxonomyResponse struct {
	model.Taxonomy
}

type groupWire struct {
	Name          string          `json:"name"`
	DefaultModels []string        `json:"default_models"`
	Categories    json.RawMessage `json:"categories"`
}

type categoryWire struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

func (t *taxonomyResponse) UnmarshalJSON(data []byte) error {
	var top struct {
		Groups json.RawMessage `json:"groups"`
	}
	if err := json.Unmarshal(data, &top); err != nil {
		return err
	}
	if len(top.Groups) == 0 || string(top.Groups) == "null" {
		t.Groups = nil
		return nil
	}

	var groups []model.CheckGroup
	err := walkObject(top.Groups, func(key string, raw json.RawMessage) error {
		var gw groupWire
		if err := json.Unmarshal(raw, &gw); err != nil {
			return fmt.Errorf("group %q: %w", key, err)
		}
		g := model.CheckGroup{Key: key, Name: gw.Name, DefaultModels: gw.DefaultModels}
		if len(gw.Categories) > 0 && string(gw.Categories) != "null" {
			err := walkObject(gw.Categories, func(id string, raw json.RawMessage) error {
				var cw categoryWire
				if err := json.Unmarshal(raw, &cw); err != nil {
					return fmt.Errorf("category %q: %w", id, err)
				}
				if cw.ID == "" {
					cw.ID = id
				}
				groupKey := cw.Type
				if groupKey == "" {
					groupKey = key
				}
				g.Checks = append(g.Checks, model.Check{
					ID:          cw.ID,
					Name:        cw.Name,
					Severity:    cw.Severity,
					Group:       groupKey,
					Description: cw.Description,
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		groups = append(groups, g)
		return nil
	})
	if err != nil {
		return err
	}
	t.Groups = groups
	return nil
}

// walkObject calls fn for every member of the JSON object in data, in
// document order.
func walkObject(data json.RawMessage, fn func(key string, raw json.RawMessage) error) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("value for %q: %w", key, err)
		}
		if err := fn(key, raw); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}
