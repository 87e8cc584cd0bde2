package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/skillcheck/internal/model"
)

// mockServer creates an httptest server that mimics the evaluation service.
func mockServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: serverURL, Token: "svc-token", Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{})
	assert.EqualError(t, err, "backend: BaseURL is required")
}

func TestSubmitScenarioRunWireFormat(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /api/runs": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Nil(t, body["scenario_ids"], "all scenarios is sent as null")
			assert.Equal(t, []any{"sonnet", "haiku"}, body["models"])
			assert.Equal(t, float64(3), body["concurrency"])
			writeJSON(w, http.StatusOK, map[string]any{
				"run_id": "abc123", "total": 10, "scenarios": 5, "models": []string{"sonnet", "haiku"},
			})
		},
	})

	handle, err := newTestClient(t, srv.URL).SubmitRun(context.Background(),
		model.RunSpec{Kind: model.RunKindScenario, Models: []string{"sonnet", "haiku"}, Concurrency: 3})
	require.NoError(t, err)
	assert.Equal(t, model.RunHandle{RunID: "abc123", Total: 10}, handle)
}

func TestSubmitScoredRunWireFormat(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /api/heatmap/run": func(w http.ResponseWriter, r *http.Request) {
			var body scoredRunBody
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, scoredRunBody{Domains: []string{"web"}, Model: "opus", Models: []string{"opus", "haiku"}, Concurrency: 2}, body)
			writeJSON(w, http.StatusOK, map[string]any{"run_id": "s-1", "total": 8})
		},
	})

	handle, err := newTestClient(t, srv.URL).SubmitRun(context.Background(), model.RunSpec{
		Kind: model.RunKindScored, Domains: []string{"web"}, Models: []string{"opus", "haiku"}, Concurrency: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "s-1", handle.RunID)
}

func TestSubmitRunErrors(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /api/runs": func(w http.ResponseWriter, r *http.Request) {
			writeRaw(w, http.StatusNotFound, `{"detail":"Unknown scenarios: s9"}`)
		},
		"POST /api/heatmap/run": func(w http.ResponseWriter, r *http.Request) {
			writeRaw(w, http.StatusUnprocessableEntity, `{"detail":[{"loc":["body","concurrency"],"msg":"bad"}]}`)
		},
	})
	c := newTestClient(t, srv.URL)

	_, err := c.SubmitRun(context.Background(), model.RunSpec{Models: []string{"opus"}, ScenarioIDs: []string{"s9"}})
	var berr *model.BackendError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, http.StatusNotFound, berr.StatusCode)
	assert.Equal(t, "Unknown scenarios: s9", berr.Message)
	assert.True(t, IsNotFound(err))

	_, err = c.SubmitRun(context.Background(), model.RunSpec{Kind: model.RunKindScored, Models: []string{"opus"}})
	require.ErrorAs(t, err, &berr)
	assert.True(t, IsBadRequest(err))
	assert.Contains(t, berr.Message, "concurrency")
}

func TestTransportErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient(t, url).FetchScenarios(context.Background())
	var berr *model.BackendError
	require.ErrorAs(t, err, &berr)
	assert.Zero(t, berr.StatusCode)
	assert.NotNil(t, berr.Unwrap())
	assert.True(t, IsUnavailable(err))
}

func TestRawErrorBodyBecomesMessage(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/heatmap/models": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream down", http.StatusBadGateway)
		},
	})
	_, err := newTestClient(t, srv.URL).FetchModels(context.Background())
	var berr *model.BackendError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "upstream down", berr.Message)
	assert.True(t, IsUnavailable(err))
}

func TestFetchTaxonomyKeepsServiceOrder(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/categories": func(w http.ResponseWriter, r *http.Request) {
			writeRaw(w, http.StatusOK, `{
				"groups": {
					"wf": {"name": "Workflow", "default_models": ["sonnet"], "categories": {
						"WF-3": {"id": "WF-3", "name": "Ordering", "severity": "HIGH", "description": "d", "type": "WF"},
						"WF-1": {"id": "WF-1", "name": "Tool use", "severity": "LOW", "description": "d", "type": "WF"}
					}},
					"apf": {"name": "API fit", "default_models": [], "categories": {
						"APF-2": {"name": "Pagination", "severity": "MEDIUM"}
					}},
					"dk": {"name": "Domain", "default_models": [], "categories": {}}
				},
				"total": 3
			}`)
		},
	})

	tax, err := newTestClient(t, srv.URL).FetchTaxonomy(context.Background())
	require.NoError(t, err)
	require.Len(t, tax.Groups, 3)
	assert.Equal(t, []string{"wf", "apf", "dk"}, []string{tax.Groups[0].Key, tax.Groups[1].Key, tax.Groups[2].Key})
	assert.Equal(t, []string{"sonnet"}, tax.Groups[0].DefaultModels)

	checks := tax.Checks()
	require.Len(t, checks, 3)
	assert.Equal(t, "WF-3", checks[0].ID)
	assert.Equal(t, "WF", checks[0].Group)
	assert.Equal(t, "WF-1", checks[1].ID)
	assert.Equal(t, model.Check{ID: "APF-2", Name: "Pagination", Severity: "MEDIUM", Group: "apf"}, checks[2])
}

func TestFetchResultCellsFlattensModelLevel(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/heatmap/domain/{domain}": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "web", r.PathValue("domain"))
			writeRaw(w, http.StatusOK, `{
				"domain": "web", "specialist": "apify-web", "is_dev": false,
				"scenarios": [{"id": "s1", "name": "Search"}, {"id": "s2", "name": "Scrape"}],
				"checks": [{"id": "WF-1", "name": "Tool use", "severity": "LOW", "group": "WF"}],
				"models": ["sonnet", "haiku"],
				"matrix": {
					"s2": {"WF-1": {"haiku": {"specialist": {"result": "fail", "evidence": "e", "summary": "s"}, "mcpc": null}}},
					"s1": {"WF-1": {
						"sonnet": {"specialist": {"result": "pass", "evidence": "", "summary": ""}, "mcpc": {"result": "weird", "evidence": "", "summary": ""}},
						"haiku": {"specialist": null, "mcpc": null}
					}}
				}
			}`)
		},
	})

	res, err := newTestClient(t, srv.URL).FetchResultCells(context.Background(), "web")
	require.NoError(t, err)
	assert.Equal(t, "apify-web", res.Specialist)
	assert.Equal(t, []string{"sonnet", "haiku"}, res.Models)
	assert.Equal(t, []model.ResultCell{
		{ScenarioID: "s1", CheckID: "WF-1", Model: "sonnet", Variant: model.VariantSpecialist, Result: model.ResultPass},
		{ScenarioID: "s1", CheckID: "WF-1", Model: "sonnet", Variant: model.VariantMCPC, Result: model.ResultNA},
		{ScenarioID: "s2", CheckID: "WF-1", Model: "haiku", Variant: model.VariantSpecialist, Result: model.ResultFail, Evidence: "e", Summary: "s"},
	}, res.Cells)
}

func TestFetchResultCellsReadsLegacyMatrix(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/heatmap/domain/{domain}": func(w http.ResponseWriter, r *http.Request) {
			writeRaw(w, http.StatusOK, `{
				"domain": "dev", "specialist": "apify-dev", "is_dev": true,
				"scenarios": [{"id": "s1", "name": "Build"}],
				"checks": [{"id": "SEC-1", "name": "Secrets", "severity": "CRITICAL", "group": "SEC"}],
				"matrix": {"s1": {"SEC-1": {"specialist": {"result": "unclear", "evidence": "", "summary": ""}, "mcpc": null}}}
			}`)
		},
	})

	res, err := newTestClient(t, srv.URL).FetchResultCells(context.Background(), "dev")
	require.NoError(t, err)
	assert.True(t, res.IsDev)
	assert.Equal(t, []string{LegacyModel}, res.Models)
	assert.Equal(t, []model.ResultCell{
		{ScenarioID: "s1", CheckID: "SEC-1", Model: LegacyModel, Variant: model.VariantSpecialist, Result: model.ResultUnclear},
	}, res.Cells)
}

func TestFetchResultCellsUnknownDomain(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/heatmap/domain/{domain}": func(w http.ResponseWriter, r *http.Request) {
			writeRaw(w, http.StatusNotFound, `{"detail":"Domain 'nope' not found"}`)
		},
	})
	_, err := newTestClient(t, srv.URL).FetchResultCells(context.Background(), "nope")
	assert.True(t, IsNotFound(err))
	assert.EqualError(t, err, "backend: fetch result cells (404): Domain 'nope' not found")
}

func TestFetchBPMatrixKeepsErrorCells(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/heatmap/bp": func(w http.ResponseWriter, r *http.Request) {
			writeRaw(w, http.StatusOK, `{
				"skills": ["apify-ecommerce", "apify-web"],
				"checks": [{"id": "BP-1", "name": "Frontmatter", "severity": "HIGH"}, {"id": "BP-2", "name": "Length", "severity": "LOW"}],
				"matrix": {
					"BP-2": {"apify-web": {"result": "error", "detail": "skill path missing"}},
					"BP-1": {
						"apify-web": {"result": "error", "detail": "skill path missing"},
						"apify-ecommerce": {"result": "fail", "detail": "no description"}
					}
				}
			}`)
		},
	})

	res, err := newTestClient(t, srv.URL).FetchBPMatrix(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"apify-ecommerce", "apify-web"}, res.Skills)
	require.Len(t, res.Checks, 2)
	assert.Equal(t, "HIGH", res.Checks[0].Severity)
	assert.Equal(t, []model.BPCell{
		{Skill: "apify-ecommerce", CheckID: "BP-1", Result: model.ResultFail, Detail: "no description"},
		{Skill: "apify-web", CheckID: "BP-1", Result: model.ResultError, Detail: "skill path missing"},
		{Skill: "apify-web", CheckID: "BP-2", Result: model.ResultError, Detail: "skill path missing"},
	}, res.Cells)
}

func TestMetadataFetches(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/scenarios": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, []model.Scenario{{ID: "s1", Name: "Search", TargetSkill: "apify-web"}})
		},
		"GET /api/heatmap/models": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, []string{"sonnet", "opus"})
		},
		"GET /api/heatmap/domains": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, []model.Domain{{ID: "web", Specialist: "apify-web", ScenarioCount: 4}})
		},
		"GET /api/heatmap/skills": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, []model.SkillHealth{{Skill: "apify-web", PassPct: 75.5, TopGaps: []model.CheckGap{{CheckID: "WF-1"}}}})
		},
		"GET /api/heatmap/detail/{scenario}/{check}": func(w http.ResponseWriter, r *http.Request) {
			writeRaw(w, http.StatusOK, `{"scenario_id":"`+r.PathValue("scenario")+`","check_id":"`+r.PathValue("check")+`",
				"models":{"opus":{"specialist":{"skill":"apify-web","result":"pass"},"mcpc":null}}}`)
		},
		"GET /api/reports/{name}": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, model.Report{Filename: r.PathValue("name"), Content: "# Report"})
		},
		"GET /api/runs/{id}/result": func(w http.ResponseWriter, r *http.Request) {
			writeRaw(w, http.StatusOK, `{"run_id":"r1","status":"completed","models":["opus"],"scenario_ids":["s1"],
				"progress":{"s1":{"opus":"ok"}},"error":null,"result_count":1,
				"results":[{"scenario_id":"s1","model":"opus","response":"hi","duration_s":1.2,"error":null}]}`)
		},
		"GET /api/health": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		},
	})
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	scenarios, err := c.FetchScenarios(ctx)
	require.NoError(t, err)
	assert.Equal(t, "apify-web", scenarios[0].TargetSkill)

	models, err := c.FetchModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sonnet", "opus"}, models)

	domains, err := c.FetchDomains(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, domains[0].ScenarioCount)

	health, err := c.FetchSkillHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 75.5, health[0].PassPct)

	detail, err := c.FetchCellDetail(ctx, "s1", "WF-1")
	require.NoError(t, err)
	assert.Equal(t, "WF-1", detail.CheckID)
	require.NotNil(t, detail.Models["opus"].Specialist)
	assert.Nil(t, detail.Models["opus"].MCPC)

	report, err := c.FetchReport(ctx, "report_1.md")
	require.NoError(t, err)
	assert.Equal(t, "report_1.md", report.Filename)

	result, err := c.FetchRunResult(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskOK, result.Progress["s1"]["opus"])
	assert.Nil(t, result.Error)

	status, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", status.Status)
}

func TestStreamPath(t *testing.T) {
	assert.Equal(t, "/api/runs/r1/stream", StreamPath(model.RunKindScenario, "r1"))
	assert.Equal(t, "/api/heatmap/run/r1/stream", StreamPath(model.RunKindScored, "r1"))
	assert.Equal(t, "/api/runs/a%2Fb/stream", StreamPath(model.RunKindScenario, "a/b"))
}
