package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const (
	uriRunCurrent    = "skillcheck://run/current"
	uriDomains       = "skillcheck://heatmap/domains"
	uriDomainPrefix  = "skillcheck://heatmap/domain/"
	uriDomainPattern = uriDomainPrefix + "{domain}"
)

func (s *Server) registerResources() {
	// skillcheck://run/current: snapshot of the followed run.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriRunCurrent,
			"Current Run",
			mcplib.WithResourceDescription("Phase, counts and task grid of the run being followed"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRunCurrent,
	)

	// skillcheck://heatmap/domains: domains with scored results.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriDomains,
			"Heatmap Domains",
			mcplib.WithResourceDescription("Domains with scored results"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleDomains,
	)

	// skillcheck://heatmap/domain/{domain}: full matrix view for one domain.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			uriDomainPattern,
			"Domain Heatmap",
			mcplib.WithTemplateDescription("Check-by-scenario matrix for one domain, grouped by taxonomy"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleDomainResource,
	)
}

func (s *Server) handleRunCurrent(_ context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	return jsonResource(uriRunCurrent, s.runs.Snapshot())
}

func (s *Server) handleDomains(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	domains, err := s.dash.Domains(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: domains: %w", err)
	}
	return jsonResource(uriDomains, domains)
}

func (s *Server) handleDomainResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	domain, err := parseDomainURI(uri)
	if err != nil {
		return nil, err
	}
	hm, err := s.dash.DomainHeatmap(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("mcp: domain heatmap: %w", err)
	}
	return jsonResource(uri, hm)
}

// parseDomainURI extracts the domain from skillcheck://heatmap/domain/{domain}.
func parseDomainURI(uri string) (string, error) {
	domain, ok := strings.CutPrefix(uri, uriDomainPrefix)
	if !ok {
		return "", fmt.Errorf("mcp: invalid domain heatmap URI: %s", uri)
	}
	if domain == "" || strings.Contains(domain, "/") {
		return "", fmt.Errorf("mcp: invalid domain in URI: %s", uri)
	}
	return domain, nil
}

func jsonResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
