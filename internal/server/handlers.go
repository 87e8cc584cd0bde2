package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ashita-ai/skillcheck/internal/auth"
	"github.com/ashita-ai/skillcheck/internal/backend"
	"github.com/ashita-ai/skillcheck/internal/coordinator"
	"github.com/ashita-ai/skillcheck/internal/journal"
	"github.com/ashita-ai/skillcheck/internal/model"
	"github.com/ashita-ai/skillcheck/internal/service/dashboard"
)

// HealthChecker probes the evaluation backend.
type HealthChecker interface {
	Health(ctx context.Context) (*backend.HealthStatus, error)
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	coord               *coordinator.Coordinator
	dash                *dashboard.Service
	journal             *journal.Journal
	health              HealthChecker
	jwtMgr              *auth.JWTManager
	apiKeyHash          string
	broker              *Broker
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	defaultModels       []string
	defaultConcurrency  int
	openapiSpec         []byte
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Journal, Health, JWTMgr, Broker, OpenAPISpec.
type HandlersDeps struct {
	Coordinator         *coordinator.Coordinator
	Dashboard           *dashboard.Service
	Journal             *journal.Journal
	Health              HealthChecker
	JWTMgr              *auth.JWTManager
	APIKeyHash          string
	Broker              *Broker
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	DefaultModels       []string
	DefaultConcurrency  int
	OpenAPISpec         []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	maxBody := d.MaxRequestBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handlers{
		coord:               d.Coordinator,
		dash:                d.Dashboard,
		journal:             d.Journal,
		health:              d.Health,
		jwtMgr:              d.JWTMgr,
		apiKeyHash:          d.APIKeyHash,
		broker:              d.Broker,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: maxBody,
		defaultModels:       d.DefaultModels,
		defaultConcurrency:  d.DefaultConcurrency,
		openapiSpec:         d.OpenAPISpec,
	}
}

// HandleAuthToken handles POST /auth/token. It exchanges the operator API
// key for a signed token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	if h.jwtMgr == nil || h.apiKeyHash == "" {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "authentication is disabled")
		return
	}

	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	req.Operator = strings.TrimSpace(req.Operator)
	if req.Operator == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "operator and api_key are required")
		return
	}

	ok, err := auth.VerifyAPIKey(req.APIKey, h.apiKeyHash)
	if err != nil {
		h.writeInternalError(w, r, "failed to verify api key", err)
		return
	}
	if !ok {
		h.logger.Warn("auth: rejected api key", "operator", req.Operator, "ip", r.RemoteAddr)
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(req.Operator)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}
	h.logger.Info("auth: token issued", "operator", req.Operator, "expires_at", expiresAt)

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleHealth handles GET /health. A lost journal makes the process
// unhealthy; an unreachable backend only degrades it.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	httpStatus := http.StatusOK

	journalStatus := "disabled"
	if h.journal != nil {
		journalStatus = "connected"
		if err := h.journal.Ping(ctx); err != nil {
			journalStatus = "disconnected"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	backendStatus := "unknown"
	if h.health != nil {
		backendStatus = "connected"
		if _, err := h.health.Health(ctx); err != nil {
			backendStatus = "unreachable"
			if status == "healthy" {
				status = "degraded"
			}
		}
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:  status,
		Version: h.version,
		Backend: backendStatus,
		Journal: journalStatus,
		Uptime:  int64(time.Since(h.startedAt).Seconds()),
	})
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// --- Shared helpers ---

// writeServiceError maps domain and backend errors onto HTTP statuses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *model.ValidationError
	var berr *model.BackendError
	switch {
	case errors.As(err, &verr):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, verr.Error())
	case errors.Is(err, journal.ErrNotFound), errors.Is(err, model.ErrNotFound), backend.IsNotFound(err):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, err.Error())
	case backend.IsBadRequest(err):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
	case backend.IsUnavailable(err):
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, err.Error())
	case errors.As(err, &berr):
		writeError(w, r, http.StatusBadGateway, model.ErrCodeBackend, err.Error())
	default:
		h.writeInternalError(w, r, "internal error", err)
	}
}

func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}

// maxQueryLimit is the maximum allowed value for limit query parameters.
const maxQueryLimit = 1000

// queryLimit returns a bounded limit value from query params.
// Values are clamped to [1, maxQueryLimit].
func queryLimit(r *http.Request, defaultVal int) int {
	limit := defaultVal
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if limit < 1 {
		return 1
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}
