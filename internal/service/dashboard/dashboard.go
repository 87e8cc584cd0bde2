// Package dashboard serves the read side of skillcheck: catalog metadata,
// domain heatmaps, skill health, cell details and reports. It is shared by
// the HTTP handlers and the MCP tools so both see the same cached results.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/skillcheck/internal/heatmap"
	"github.com/ashita-ai/skillcheck/internal/model"
	"github.com/ashita-ai/skillcheck/internal/querycache"
)

// Source is the subset of the backend client the dashboard reads from.
type Source interface {
	FetchTaxonomy(ctx context.Context) (model.Taxonomy, error)
	FetchScenarios(ctx context.Context) ([]model.Scenario, error)
	FetchModels(ctx context.Context) ([]string, error)
	FetchDomains(ctx context.Context) ([]model.Domain, error)
	FetchSkillHealth(ctx context.Context) ([]model.SkillHealth, error)
	FetchCellDetail(ctx context.Context, scenarioID, checkID string) (*model.CellDetail, error)
	FetchResultCells(ctx context.Context, domain string) (model.DomainResult, error)
	FetchBPMatrix(ctx context.Context) (model.BPResult, error)
	FetchRunResult(ctx context.Context, runID string) (*model.RunResult, error)
	FetchReports(ctx context.Context) ([]model.ReportSummary, error)
	FetchReport(ctx context.Context, name string) (*model.Report, error)
}

// DomainHeatmap is one domain's built matrix ready for rendering.
type DomainHeatmap struct {
	Domain     string `json:"domain"`
	Specialist string `json:"specialist"`
	IsDev      bool   `json:"is_dev"`
	heatmap.View
}

// Service is safe for concurrent use.
type Service struct {
	src    Source
	cache  *querycache.Cache
	logger *slog.Logger
}

// New creates a Service. A nil cache disables caching.
func New(src Source, cache *querycache.Cache, logger *slog.Logger) *Service {
	return &Service{src: src, cache: cache, logger: logger}
}

// Catalog returns the taxonomy, scenario list and model list, fetched in
// parallel on a miss.
func (s *Service) Catalog(ctx context.Context) (model.Catalog, error) {
	return load(ctx, s, querycache.KeyCatalog, func(ctx context.Context) (model.Catalog, error) {
		var cat model.Catalog
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			tax, err := s.src.FetchTaxonomy(gctx)
			cat.Taxonomy = tax
			return err
		})
		g.Go(func() error {
			scenarios, err := s.src.FetchScenarios(gctx)
			cat.Scenarios = scenarios
			return err
		})
		g.Go(func() error {
			models, err := s.src.FetchModels(gctx)
			cat.Models = models
			return err
		})
		if err := g.Wait(); err != nil {
			return model.Catalog{}, err
		}
		return cat, nil
	})
}

// Domains lists the heatmap domains.
func (s *Service) Domains(ctx context.Context) ([]model.Domain, error) {
	return load(ctx, s, querycache.KeyDomains, s.src.FetchDomains)
}

// SkillHealth returns the per-skill roll-up.
func (s *Service) SkillHealth(ctx context.Context) ([]model.SkillHealth, error) {
	return load(ctx, s, querycache.KeySkills, s.src.FetchSkillHealth)
}

// Skill returns the health entry for one skill.
func (s *Service) Skill(ctx context.Context, skill string) (model.SkillHealth, error) {
	all, err := s.SkillHealth(ctx)
	if err != nil {
		return model.SkillHealth{}, err
	}
	for _, h := range all {
		if h.Skill == skill {
			return h, nil
		}
	}
	return model.SkillHealth{}, fmt.Errorf("dashboard: skill %q: %w", skill, model.ErrNotFound)
}

// DomainHeatmap fetches a domain's result cells and builds the matrix view,
// with checks ordered and grouped by the taxonomy.
func (s *Service) DomainHeatmap(ctx context.Context, domain string) (DomainHeatmap, error) {
	if domain == "" {
		return DomainHeatmap{}, &model.ValidationError{Field: "domain", Message: "is required"}
	}
	return load(ctx, s, querycache.DomainKey(domain), func(ctx context.Context) (DomainHeatmap, error) {
		cat, err := s.Catalog(ctx)
		if err != nil {
			return DomainHeatmap{}, err
		}
		res, err := s.src.FetchResultCells(ctx, domain)
		if err != nil {
			return DomainHeatmap{}, err
		}
		checks := heatmap.OrderByTaxonomy(res.Checks, cat.Taxonomy)
		m := heatmap.Build(res.Cells, res.Scenarios, checks, res.Models, heatmap.Options{SingleVariant: res.IsDev})
		if m.Dropped > 0 {
			s.logger.Warn("dashboard: cells outside domain axes", "domain", domain, "dropped", m.Dropped)
		}
		return DomainHeatmap{
			Domain:     res.Domain,
			Specialist: res.Specialist,
			IsDev:      res.IsDev,
			View:       m.View(cat.Taxonomy),
		}, nil
	})
}

// BPMatrix returns the static best-practice linter matrix across skills.
func (s *Service) BPMatrix(ctx context.Context) (heatmap.BPView, error) {
	return load(ctx, s, querycache.KeyBP, func(ctx context.Context) (heatmap.BPView, error) {
		res, err := s.src.FetchBPMatrix(ctx)
		if err != nil {
			return heatmap.BPView{}, err
		}
		v := heatmap.BPMatrix(res)
		if v.Dropped > 0 {
			s.logger.Warn("dashboard: linter cells outside manifest", "dropped", v.Dropped)
		}
		if v.Errors > 0 {
			s.logger.Debug("dashboard: linter could not read skills", "errors", v.Errors)
		}
		return v, nil
	})
}

// CellDetail returns both variants' answers for one heatmap cell.
func (s *Service) CellDetail(ctx context.Context, scenarioID, checkID string) (*model.CellDetail, error) {
	if scenarioID == "" || checkID == "" {
		return nil, &model.ValidationError{Field: "scenario_id/check_id", Message: "are required"}
	}
	return load(ctx, s, querycache.DetailKey(scenarioID, checkID), func(ctx context.Context) (*model.CellDetail, error) {
		return s.src.FetchCellDetail(ctx, scenarioID, checkID)
	})
}

// Reports lists the backend's report files.
func (s *Service) Reports(ctx context.Context) ([]model.ReportSummary, error) {
	return load(ctx, s, querycache.KeyReports, s.src.FetchReports)
}

// Report fetches one report by name. Report bodies are not cached.
func (s *Service) Report(ctx context.Context, name string) (*model.Report, error) {
	return s.src.FetchReport(ctx, name)
}

// RunResult fetches the backend's post-hoc view of a run, used to recover
// after a lost stream.
func (s *Service) RunResult(ctx context.Context, runID string) (*model.RunResult, error) {
	return s.src.FetchRunResult(ctx, runID)
}

func load[T any](ctx context.Context, s *Service, key string, fn func(context.Context) (T, error)) (T, error) {
	if s.cache == nil {
		return fn(ctx)
	}
	return querycache.Load(ctx, s.cache, key, fn)
}
