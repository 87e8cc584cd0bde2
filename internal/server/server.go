package server

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/skillcheck/internal/auth"
	"github.com/ashita-ai/skillcheck/internal/coordinator"
	"github.com/ashita-ai/skillcheck/internal/journal"
	"github.com/ashita-ai/skillcheck/internal/ratelimit"
	"github.com/ashita-ai/skillcheck/internal/service/dashboard"
)

// Server is the skillcheck HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Journal, Health, JWTMgr, Limiter, Broker,
// MCPServer, UIFS, OpenAPISpec.
type ServerConfig struct {
	// Required dependencies.
	Coordinator *coordinator.Coordinator
	Dashboard   *dashboard.Service
	Logger      *slog.Logger

	// Optional dependencies (nil = disabled).
	Journal   *journal.Journal
	Health    HealthChecker
	JWTMgr    *auth.JWTManager // nil disables authentication
	Limiter   ratelimit.Limiter
	Broker    *Broker
	MCPServer *mcpserver.MCPServer

	// APIKeyHash is the argon2id hash operators exchange for a token.
	APIKeyHash string

	// Run defaults reported by the catalog endpoint.
	DefaultModels      []string
	DefaultConcurrency int

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64

	// Optional embedded assets.
	UIFS        fs.FS  // Embedded UI filesystem (SPA).
	OpenAPISpec []byte // Embedded OpenAPI YAML.
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}

	h := NewHandlers(HandlersDeps{
		Coordinator:         cfg.Coordinator,
		Dashboard:           cfg.Dashboard,
		Journal:             cfg.Journal,
		Health:              cfg.Health,
		JWTMgr:              cfg.JWTMgr,
		APIKeyHash:          cfg.APIKeyHash,
		Broker:              cfg.Broker,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		DefaultModels:       cfg.DefaultModels,
		DefaultConcurrency:  cfg.DefaultConcurrency,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	limited := func(fn http.HandlerFunc) http.Handler {
		return rateLimitMiddleware(limiter, cfg.Logger, fn)
	}

	mux := http.NewServeMux()

	// Token issuance (no auth, rate limited by IP).
	mux.Handle("POST /auth/token", limited(h.HandleAuthToken))

	// Run submission (rate limited by IP).
	mux.Handle("POST /api/runs", limited(h.HandleSubmitRun))
	mux.Handle("POST /api/heatmap/run", limited(h.HandleSubmitScoredRun))

	// Active run.
	mux.HandleFunc("GET /api/runs/current", h.HandleCurrentRun)
	mux.HandleFunc("GET "+eventsPath, h.HandleRunEvents)
	mux.HandleFunc("DELETE /api/runs/current", h.HandleDisconnect)

	// Past runs.
	mux.HandleFunc("GET /api/runs/history", h.HandleRunHistory)
	mux.HandleFunc("GET /api/runs/{run_id}/result", h.HandleRunResult)
	mux.HandleFunc("GET /api/runs/{run_id}/replay", h.HandleReplay)

	// Read side, served through the query cache.
	mux.HandleFunc("GET /api/catalog", h.HandleCatalog)
	mux.HandleFunc("GET /api/reports", h.HandleReports)
	mux.HandleFunc("GET /api/reports/{name}", h.HandleReport)
	mux.HandleFunc("GET /api/heatmap/domains", h.HandleDomains)
	mux.HandleFunc("GET /api/heatmap/skills", h.HandleSkills)
	mux.HandleFunc("GET /api/heatmap/domain/{domain}", h.HandleDomainHeatmap)
	mux.HandleFunc("GET /api/heatmap/bp", h.HandleBPMatrix)
	mux.HandleFunc("GET /api/heatmap/detail/{scenario}/{check}", h.HandleCellDetail)

	// MCP StreamableHTTP transport (auth required when enabled).
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	// OpenAPI spec (no auth, no rate limit).
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// SPA: serve the embedded UI at the root path.
	// Registered last so all API routes take priority via the mux's longest-match rule.
	if cfg.UIFS != nil {
		mux.Handle("/", newSPAHandler(cfg.UIFS))
		cfg.Logger.Info("ui enabled, serving SPA at /")
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery →
	// handler. Submission and token routes add a per-IP rate limit.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
