package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// triage-domain: walk the agent through a domain's failing checks.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("triage-domain",
			mcplib.WithPromptDescription("Summarize a domain's weakest checks from its latest scored results"),
			mcplib.WithArgument("domain",
				mcplib.ArgumentDescription("The domain to triage, e.g. web"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleTriageDomainPrompt,
	)

	// evaluate-skill: run a fresh scored evaluation and report the outcome.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("evaluate-skill",
			mcplib.WithPromptDescription("Start a scored run for a domain, follow it, and report what changed"),
			mcplib.WithArgument("domain",
				mcplib.ArgumentDescription("The domain to evaluate"),
				mcplib.RequiredArgument(),
			),
			mcplib.WithArgument("models",
				mcplib.ArgumentDescription("Comma-separated models; server defaults when omitted"),
			),
		),
		s.handleEvaluateSkillPrompt,
	)
}

func (s *Server) handleTriageDomainPrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	domain := request.Params.Arguments["domain"]
	if domain == "" {
		return nil, fmt.Errorf("domain argument is required")
	}

	return userPrompt(
		fmt.Sprintf("Triage the %s domain's latest scored results", domain),
		fmt.Sprintf(`Triage the skill evaluation results for the %s domain:

1. CALL skillcheck_domain_heatmap with domain="%s".

2. READ pass_pct, summary and top_gaps first. Then go through failing_cells:
   - Group them by check. A check that fails across many scenarios points at
     the skill itself; one that fails in a single scenario usually points at
     that scenario.
   - Note when only one variant (specialist or mcpc) fails.
   - Treat "unclear" as needing a human look, not as a failure.

3. REPORT the three most important gaps, highest severity first, each with
   the check id, the scenarios it fails in, and a one-line hypothesis.`, domain, domain),
	), nil
}

func (s *Server) handleEvaluateSkillPrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	domain := request.Params.Arguments["domain"]
	if domain == "" {
		return nil, fmt.Errorf("domain argument is required")
	}
	modelsArg := ""
	if models := request.Params.Arguments["models"]; models != "" {
		modelsArg = fmt.Sprintf(`, models="%s"`, models)
	}

	return userPrompt(
		fmt.Sprintf("Run a scored evaluation of the %s domain", domain),
		fmt.Sprintf(`Evaluate the %s domain:

1. CALL skillcheck_domain_heatmap with domain="%s" and keep pass_pct as the baseline.

2. CALL skillcheck_start_run with kind="scored", domains="%s"%s.

3. POLL skillcheck_run_status until phase is "completed" or "failed". If
   connection_lost is true, the run may still finish on the backend; say so.

4. CALL skillcheck_domain_heatmap again and compare pass_pct and top_gaps
   with the baseline. Report what improved and what regressed.`, domain, domain, domain, modelsArg),
	), nil
}

func userPrompt(description, text string) *mcplib.GetPromptResult {
	return &mcplib.GetPromptResult{
		Description: description,
		Messages: []mcplib.PromptMessage{
			{
				Role:    mcplib.RoleUser,
				Content: mcplib.TextContent{Type: "text", Text: text},
			},
		},
	}
}
