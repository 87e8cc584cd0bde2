// Package mcp implements the Model Context Protocol server for skillcheck.
//
// It exposes run submission, live run status and the scored heatmap as MCP
// tools and resources, so MCP-compatible agents can start evaluations and
// read their outcome without the dashboard.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/skillcheck/internal/coordinator"
	"github.com/ashita-ai/skillcheck/internal/model"
	"github.com/ashita-ai/skillcheck/internal/service/dashboard"
)

// RunController starts runs and reports the active one.
type RunController interface {
	Submit(ctx context.Context, spec model.RunSpec) (model.RunHandle, error)
	Snapshot() coordinator.Snapshot
}

// Dashboard is the read side the tools render from.
type Dashboard interface {
	Domains(ctx context.Context) ([]model.Domain, error)
	SkillHealth(ctx context.Context) ([]model.SkillHealth, error)
	Skill(ctx context.Context, skill string) (model.SkillHealth, error)
	DomainHeatmap(ctx context.Context, domain string) (dashboard.DomainHeatmap, error)
}

// Defaults fill in run parameters an agent leaves out.
type Defaults struct {
	Models      []string
	Concurrency int
}

// Server wraps the MCP server with skillcheck's run and read services.
type Server struct {
	mcpServer *mcpserver.MCPServer
	runs      RunController
	dash      Dashboard
	defaults  Defaults
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools, resources and
// prompts.
func New(runs RunController, dash Dashboard, defaults Defaults, logger *slog.Logger, version string) *Server {
	s := &Server{
		runs:     runs,
		dash:     dash,
		defaults: defaults,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"skillcheck",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithInstructions(`skillcheck evaluates agent skills against scenario suites.

Use skillcheck_domain_heatmap and skillcheck_skill_health to read the latest
scored results. Use skillcheck_start_run to launch a new evaluation and
skillcheck_run_status to follow it until phase is "completed" or "failed".
Only one run is followed at a time; starting a run stops following the
previous one.`),
	)

	s.registerTools()
	s.registerResources()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// jsonResult marshals v as the tool's text content.
func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		IsError: true,
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
	}
}
