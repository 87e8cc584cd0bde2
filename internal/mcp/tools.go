package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/skillcheck/internal/backend"
	"github.com/ashita-ai/skillcheck/internal/coordinator"
	"github.com/ashita-ai/skillcheck/internal/model"
)

func (s *Server) registerTools() {
	// skillcheck_start_run: launch a scenario or scored run.
	s.mcpServer.AddTool(
		mcplib.NewTool("skillcheck_start_run",
			mcplib.WithDescription(`Start an evaluation run on the backend and follow it.

KINDS:
- "scenario": run the selected scenarios (or all) against the selected models.
- "scored": run every scenario of the selected domains (or all) and score each
  response per check. Scored runs refresh the heatmap when they finish.

Starting a run stops following any previous run. Poll skillcheck_run_status
until phase is "completed" or "failed".

EXAMPLE: kind="scored", domains="web", models="sonnet,haiku"`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("kind",
				mcplib.Description(`"scenario" or "scored"`),
				mcplib.Enum(string(model.RunKindScenario), string(model.RunKindScored)),
				mcplib.DefaultString(string(model.RunKindScenario)),
			),
			mcplib.WithString("models",
				mcplib.Description("Comma-separated model ids. Defaults to the server's configured models."),
			),
			mcplib.WithString("scenario_ids",
				mcplib.Description(`Comma-separated scenario ids for kind="scenario". Empty runs all.`),
			),
			mcplib.WithString("domains",
				mcplib.Description(`Comma-separated domain ids for kind="scored". Empty runs all.`),
			),
			mcplib.WithNumber("concurrency",
				mcplib.Description("Task units the backend runs at once"),
				mcplib.Min(model.MinConcurrency),
				mcplib.Max(model.MaxConcurrency),
			),
		),
		s.handleStartRun,
	)

	// skillcheck_run_status: snapshot of the followed run.
	s.mcpServer.AddTool(
		mcplib.NewTool("skillcheck_run_status",
			mcplib.WithDescription(`Report the run being followed: phase, counts, errors and the report location.

Set include_grid=true for the per scenario and model task status.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithBoolean("include_grid",
				mcplib.Description("Include the task status grid"),
				mcplib.DefaultBool(false),
			),
		),
		s.handleRunStatus,
	)

	// skillcheck_domain_heatmap: latest scored results for one domain.
	s.mcpServer.AddTool(
		mcplib.NewTool("skillcheck_domain_heatmap",
			mcplib.WithDescription(`Read the latest scored results for a domain.

Returns the pass rate, outcome counts, the worst checks, and every failing or
unclear cell (check, scenario, model, variant). Passing cells are omitted.
Call without a domain to list the known domains.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("domain",
				mcplib.Description("Domain id, e.g. web"),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum failing cells to return"),
				mcplib.Min(1),
				mcplib.Max(500),
				mcplib.DefaultNumber(defaultCellLimit),
			),
		),
		s.handleDomainHeatmap,
	)

	// skillcheck_skill_health: per-skill roll-up.
	s.mcpServer.AddTool(
		mcplib.NewTool("skillcheck_skill_health",
			mcplib.WithDescription(`Per-skill health from the latest scored report: pass rate, outcome counts
and top gaps. Pass skill to read a single skill.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("skill",
				mcplib.Description("Skill name; omit for all skills"),
			),
		),
		s.handleSkillHealth,
	)
}

func (s *Server) handleStartRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	spec := model.RunSpec{
		Kind:        model.RunKind(request.GetString("kind", string(model.RunKindScenario))),
		Models:      splitList(request.GetString("models", "")),
		ScenarioIDs: splitList(request.GetString("scenario_ids", "")),
		Domains:     splitList(request.GetString("domains", "")),
		Concurrency: request.GetInt("concurrency", s.defaults.Concurrency),
	}
	if len(spec.Models) == 0 {
		spec.Models = s.defaults.Models
	}

	handle, err := s.runs.Submit(ctx, spec)
	if err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			return errorResult(verr.Error()), nil
		}
		var berr *model.BackendError
		if errors.As(err, &berr) {
			return errorResult(fmt.Sprintf("backend rejected the run: %v", berr)), nil
		}
		return nil, fmt.Errorf("mcp: start run: %w", err)
	}

	s.logger.Info("mcp: run started", "run_id", handle.RunID, "kind", spec.Kind, "total", handle.Total)
	return jsonResult(map[string]any{
		"run_id": handle.RunID,
		"kind":   spec.Kind,
		"total":  handle.Total,
		"next":   "poll skillcheck_run_status",
	})
}

func (s *Server) handleRunStatus(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	snap := s.runs.Snapshot()
	if snap.Phase == coordinator.PhaseIdle && snap.RunID == "" {
		return errorResult(model.ErrNoActiveRun.Error()), nil
	}
	return jsonResult(compactSnapshot(snap, request.GetBool("include_grid", false)))
}

func (s *Server) handleDomainHeatmap(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	domain := strings.TrimSpace(request.GetString("domain", ""))
	if domain == "" {
		domains, err := s.dash.Domains(ctx)
		if err != nil {
			return nil, fmt.Errorf("mcp: list domains: %w", err)
		}
		return jsonResult(map[string]any{"domains": domains})
	}

	hm, err := s.dash.DomainHeatmap(ctx, domain)
	if err != nil {
		if backend.IsNotFound(err) {
			return errorResult(fmt.Sprintf("unknown domain %q", domain)), nil
		}
		return nil, fmt.Errorf("mcp: domain heatmap: %w", err)
	}
	return jsonResult(compactHeatmap(hm, request.GetInt("limit", defaultCellLimit)))
}

func (s *Server) handleSkillHealth(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if skill := strings.TrimSpace(request.GetString("skill", "")); skill != "" {
		h, err := s.dash.Skill(ctx, skill)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return errorResult(fmt.Sprintf("unknown skill %q", skill)), nil
			}
			return nil, fmt.Errorf("mcp: skill health: %w", err)
		}
		return jsonResult(h)
	}

	all, err := s.dash.SkillHealth(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: skill health: %w", err)
	}
	return jsonResult(map[string]any{"skills": all, "total": len(all)})
}

// splitList parses a comma-separated argument, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
