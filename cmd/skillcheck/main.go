package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/skillcheck/api"
	"github.com/ashita-ai/skillcheck/internal/auth"
	"github.com/ashita-ai/skillcheck/internal/backend"
	"github.com/ashita-ai/skillcheck/internal/config"
	"github.com/ashita-ai/skillcheck/internal/coordinator"
	"github.com/ashita-ai/skillcheck/internal/journal"
	"github.com/ashita-ai/skillcheck/internal/mcp"
	"github.com/ashita-ai/skillcheck/internal/querycache"
	"github.com/ashita-ai/skillcheck/internal/ratelimit"
	"github.com/ashita-ai/skillcheck/internal/server"
	"github.com/ashita-ai/skillcheck/internal/service/dashboard"
	"github.com/ashita-ai/skillcheck/internal/stream"
	"github.com/ashita-ai/skillcheck/internal/telemetry"
	"github.com/ashita-ai/skillcheck/ui"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("SKILLCHECK_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("skillcheck starting", "version", version, "port", cfg.Port, "backend", cfg.BackendURL)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
		ServiceName: cfg.ServiceName,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Evaluation backend client (request/response calls only; streams use
	// their own client without a timeout).
	client, err := backend.NewClient(backend.Config{
		BaseURL: cfg.BackendURL,
		Token:   cfg.BackendToken,
		Timeout: cfg.BackendTimeout,
	})
	if err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	if _, err := client.Health(ctx); err != nil {
		// Not fatal: the backend may come up after us. /health reports it.
		logger.Warn("evaluation backend unreachable at startup", "error", err)
	}

	// Run journal (optional).
	var jrnl *journal.Journal
	store, err := journal.Open(ctx, journal.StoreConfig{
		Driver: cfg.JournalDriver,
		Path:   cfg.JournalPath,
		DSN:    cfg.DatabaseURL,
	}, logger)
	switch {
	case errors.Is(err, journal.ErrDisabled):
		logger.Info("journal: disabled")
	case err != nil:
		return fmt.Errorf("journal: %w", err)
	default:
		jrnl = journal.New(store, logger, journal.Options{
			BatchSize:     cfg.JournalBatchSize,
			FlushInterval: cfg.JournalFlushInterval,
		})
		// The flush loop outlives the signal context; Drain stops it after
		// the coordinator has recorded its last event.
		jrnl.Start(context.WithoutCancel(ctx))
		defer func() { _ = jrnl.Close() }()
		logger.Info("journal: enabled", "driver", cfg.JournalDriver)
	}

	// Run coordinator. The journal is passed only when enabled so the
	// Recorder interface stays nil otherwise.
	coordCfg := coordinator.Config{
		Backend: client,
		Stream: stream.Config{
			BaseURL: cfg.BackendURL,
			Token:   cfg.BackendToken,
			Logger:  logger,
		},
		Logger: logger,
	}
	if jrnl != nil {
		coordCfg.Recorder = jrnl
	}
	coord, err := coordinator.New(coordCfg)
	if err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	defer coord.Close()

	// Query cache, invalidated when a run finishes.
	var cache *querycache.Cache
	if cfg.CacheTTL > 0 {
		cache = querycache.New(cfg.CacheTTL)
		defer cache.Close()
		coord.OnInvalidate(func(inv coordinator.Invalidation) {
			n := cache.InvalidatePrefix(inv.Keys...)
			logger.Debug("query cache invalidated", "run_id", inv.RunID, "phase", inv.Phase, "entries", n)
		})
	} else {
		logger.Info("query cache: disabled")
	}

	// Read side (shared by HTTP and MCP handlers).
	dash := dashboard.New(client, cache, logger)

	// Create MCP server.
	mcpSrv := mcp.New(coord, dash, mcp.Defaults{
		Models:      cfg.DefaultModels,
		Concurrency: cfg.DefaultConcurrency,
	}, logger, version)

	// Create SSE broker fed by coordinator snapshots.
	broker := server.NewBroker(coord, logger)
	go broker.Start(ctx)

	// Create JWT manager (authentication is off without an API key hash).
	var jwtMgr *auth.JWTManager
	if cfg.AuthEnabled() {
		jwtMgr, err = auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration, logger)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		logger.Info("auth: enabled")
	} else {
		logger.Warn("auth: disabled (SKILLCHECK_API_KEY_HASH is empty)")
	}

	// Load embedded UI filesystem (non-nil only when built with -tags ui).
	uiFS, err := ui.DistFS()
	if err != nil {
		return fmt.Errorf("ui: %w", err)
	}
	if uiFS != nil {
		logger.Info("ui: embedded SPA loaded")
	}

	// Create rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer func() { _ = limiter.Close() }()
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	// Create and start HTTP server (MCP mounted at /mcp).
	srv := server.New(server.ServerConfig{
		Coordinator:         coord,
		Dashboard:           dash,
		Logger:              logger,
		Journal:             jrnl,
		Health:              client,
		JWTMgr:              jwtMgr,
		Limiter:             limiter,
		Broker:              broker,
		MCPServer:           mcpSrv.MCPServer(),
		APIKeyHash:          cfg.APIKeyHash,
		DefaultModels:       cfg.DefaultModels,
		DefaultConcurrency:  cfg.DefaultConcurrency,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		UIFS:                uiFS,
		OpenAPISpec:         api.OpenAPISpec,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown. Each phase gets its own timeout so early completion
	// doesn't steal budget from later phases.
	// Order: (1) stop accepting HTTP requests and drain in-flight ones,
	// (2) detach from the active run so no more events are recorded,
	// (3) flush the journal buffer.
	slog.Info("skillcheck shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	coord.Close()

	if jrnl != nil {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
		jrnl.Drain(drainCtx)
		drainCancel()
	}

	slog.Info("skillcheck stopped")
	return nil
}
