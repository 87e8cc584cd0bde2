package server

import (
	"net/http"

	"github.com/ashita-ai/skillcheck/internal/model"
)

// CatalogResponse is the catalog plus the run defaults this server suggests.
type CatalogResponse struct {
	model.Catalog
	DefaultModels      []string `json:"default_models"`
	DefaultConcurrency int      `json:"default_concurrency"`
}

// HandleCatalog handles GET /api/catalog.
func (h *Handlers) HandleCatalog(w http.ResponseWriter, r *http.Request) {
	cat, err := h.dash.Catalog(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, CatalogResponse{
		Catalog:            cat,
		DefaultModels:      h.defaultModels,
		DefaultConcurrency: h.defaultConcurrency,
	})
}

// HandleDomains handles GET /api/heatmap/domains.
func (h *Handlers) HandleDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := h.dash.Domains(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, domains)
}

// HandleSkills handles GET /api/heatmap/skills.
func (h *Handlers) HandleSkills(w http.ResponseWriter, r *http.Request) {
	skills, err := h.dash.SkillHealth(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, skills)
}

// HandleDomainHeatmap handles GET /api/heatmap/domain/{domain}.
func (h *Handlers) HandleDomainHeatmap(w http.ResponseWriter, r *http.Request) {
	hm, err := h.dash.DomainHeatmap(r.Context(), r.PathValue("domain"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, hm)
}

// HandleBPMatrix handles GET /api/heatmap/bp.
func (h *Handlers) HandleBPMatrix(w http.ResponseWriter, r *http.Request) {
	bp, err := h.dash.BPMatrix(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, bp)
}

// HandleCellDetail handles GET /api/heatmap/detail/{scenario}/{check}.
func (h *Handlers) HandleCellDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := h.dash.CellDetail(r.Context(), r.PathValue("scenario"), r.PathValue("check"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, detail)
}

// HandleReports handles GET /api/reports.
func (h *Handlers) HandleReports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.dash.Reports(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, reports)
}

// HandleReport handles GET /api/reports/{name}.
func (h *Handlers) HandleReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.dash.Report(r.Context(), r.PathValue("name"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}
