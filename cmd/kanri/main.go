package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/kanri/api"
	"github.com/ashita-ai/kanri/internal/auth"
	"github.com/ashita-ai/kanri/internal/backup"
	"github.com/ashita-ai/kanri/internal/cache"
	"github.com/ashita-ai/kanri/internal/config"
	"github.com/ashita-ai/kanri/internal/content"
	"github.com/ashita-ai/kanri/internal/history"
	"github.com/ashita-ai/kanri/internal/lifecycle"
	"github.com/ashita-ai/kanri/internal/mcp"
	"github.com/ashita-ai/kanri/internal/ratelimit"
	"github.com/ashita-ai/kanri/internal/registry"
	"github.com/ashita-ai/kanri/internal/server"
	"github.com/ashita-ai/kanri/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("KANRI_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
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
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("kanri starting", "version", version, "port", cfg.Port, "data_dir", cfg.DataDir)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Tiered content store and backup store on the local filesystem.
	contents, err := content.NewFSStore(cfg.AgentsDir)
	if err != nil {
		return fmt.Errorf("content store: %w", err)
	}
	backups, err := backup.NewFSStore(cfg.BackupsDir)
	if err != nil {
		return fmt.Errorf("backup store: %w", err)
	}

	// Durable history log (SQLite).
	tracker, err := history.Open(cfg.HistoryDBPath, logger)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	defer func() { _ = tracker.Close() }()

	// Profile cache (optional — disabled by KANRI_ENABLE_CACHE_INVALIDATION=false).
	var invalidator lifecycle.CacheInvalidator
	if cfg.EnableCacheInvalidation {
		profileCache := cache.New(cfg.CacheTTL)
		defer profileCache.Close()
		invalidator = profileCache
	} else {
		logger.Info("cache invalidation: disabled")
	}

	// Discovery registry backed by the content store.
	var registrySync lifecycle.RegistrySynchronizer
	if cfg.EnableRegistrySync {
		registrySync = registry.New(contents)
	} else {
		logger.Info("registry sync: disabled")
	}

	// Create JWT manager.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// Hash the admin API key once at startup. An empty key disables
	// authentication — development mode.
	var adminKeyHash string
	if cfg.AdminAPIKey != "" {
		adminKeyHash, err = auth.HashAPIKey(cfg.AdminAPIKey)
		if err != nil {
			return fmt.Errorf("auth: hash admin key: %w", err)
		}
	} else {
		logger.Warn("authentication disabled: KANRI_ADMIN_API_KEY is empty")
	}

	// Create the lifecycle manager (shared by HTTP and MCP handlers).
	mgr := lifecycle.New(lifecycle.Config{
		EnableAutoBackup:           cfg.EnableAutoBackup,
		EnableAutoValidation:       cfg.EnableAutoValidation,
		EnableCacheInvalidation:    cfg.EnableCacheInvalidation,
		EnableRegistrySync:         cfg.EnableRegistrySync,
		DefaultPersistenceStrategy: cfg.DefaultPersistenceStrategy,
		CollaboratorTimeout:        cfg.CollaboratorTimeout,
	}, contents, backups, tracker, invalidator, registrySync, logger)

	// Create MCP server.
	mcpSrv := mcp.New(mgr, version, logger)

	// Create rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		memLimiter := ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer func() { _ = memLimiter.Close() }()
		limiter = memLimiter
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		logger.Info("rate limiting: disabled")
	}

	// Create HTTP server (MCP mounted at /mcp).
	srv := server.New(server.Config{
		Manager:             mgr,
		JWTMgr:              jwtMgr,
		Logger:              logger,
		MCPServer:           mcpSrv.MCPServer(),
		AdminKeyHash:        adminKeyHash,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		RateLimiter:         limiter,
		OpenAPISpec:         api.OpenAPISpec,
	})

	// Start the manager: warms the discovery registry and opens the gate
	// for mutating operations.
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("lifecycle manager: %w", err)
	}

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown: stop accepting new HTTP requests and drain
	// in-flight, then stop the manager so no mutation outlives the log.
	slog.Info("kanri shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := mgr.Stop(stopCtx); err != nil {
		slog.Error("lifecycle manager stop error", "error", err)
	}
	stopCancel()

	slog.Info("kanri stopped")
	return nil
}
