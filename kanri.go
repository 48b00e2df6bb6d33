// Package kanri is the public API for embedding the Kanri agent lifecycle server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := kanri.New(
//	    kanri.WithVersion(version),
//	    kanri.WithLogger(logger),
//	    kanri.WithBackupStore(myObjectStoreBackups),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: kanri (root) imports
// internal/*, but internal/* never imports kanri (root). Public types
// (AgentRecord, Tier, State) are standalone with no internal imports;
// the conversion helper (toPublicRecord) lives here because this is the
// only file that sees both sides of the boundary.
package kanri

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
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
	"github.com/ashita-ai/kanri/internal/model"
	"github.com/ashita-ai/kanri/internal/ratelimit"
	"github.com/ashita-ai/kanri/internal/registry"
	"github.com/ashita-ai/kanri/internal/server"
	"github.com/ashita-ai/kanri/internal/telemetry"
)

// App is the Kanri server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	mgr          *lifecycle.Manager
	srv          *server.Server
	tracker      *history.Log
	profileCache *cache.ProfileCache // nil when overridden or disabled
	limiter      ratelimit.Limiter   // nil when disabled
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Kanri server. It opens the history database, wires all
// subsystems, and returns a ready-to-run App. It does NOT start any
// goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	// Apply options.
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
		cfg.AgentsDir = filepath.Join(o.dataDir, "agents")
		cfg.BackupsDir = filepath.Join(o.dataDir, "backups")
		cfg.HistoryDBPath = filepath.Join(o.dataDir, "kanri.db")
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("kanri starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Content store — external override takes priority over the filesystem store.
	var contents lifecycle.ContentStore
	var fsContents *content.FSStore
	if o.contents != nil {
		contents = o.contents
	} else {
		fsContents, err = content.NewFSStore(cfg.AgentsDir)
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("content store: %w", err)
		}
		contents = fsContents
	}

	// Backup store.
	var backups lifecycle.BackupStore
	if o.backups != nil {
		backups = o.backups
	} else {
		backups, err = backup.NewFSStore(cfg.BackupsDir)
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("backup store: %w", err)
		}
	}

	// History log (SQLite).
	tracker, err := history.Open(cfg.HistoryDBPath, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("history: %w", err)
	}

	// Profile cache.
	var invalidator lifecycle.CacheInvalidator
	var profileCache *cache.ProfileCache
	switch {
	case o.invalidator != nil:
		invalidator = o.invalidator
	case cfg.EnableCacheInvalidation:
		profileCache = cache.New(cfg.CacheTTL)
		invalidator = profileCache
	default:
		logger.Info("cache invalidation: disabled")
	}

	// Discovery registry. The built-in registry scans the filesystem
	// content store, so a custom ContentStore disables it unless a custom
	// synchronizer was provided too.
	var registrySync lifecycle.RegistrySynchronizer
	switch {
	case o.registrySync != nil:
		registrySync = o.registrySync
	case cfg.EnableRegistrySync && fsContents != nil:
		registrySync = registry.New(fsContents)
	default:
		logger.Info("registry sync: disabled")
	}

	// Create JWT manager.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		tracker.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}

	// Hash the admin API key once at startup. Empty key = auth disabled.
	var adminKeyHash string
	if cfg.AdminAPIKey != "" {
		adminKeyHash, err = auth.HashAPIKey(cfg.AdminAPIKey)
		if err != nil {
			tracker.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("auth: hash admin key: %w", err)
		}
	} else {
		logger.Warn("authentication disabled: KANRI_ADMIN_API_KEY is empty")
	}

	// Lifecycle manager.
	mgr := lifecycle.New(lifecycle.Config{
		EnableAutoBackup:           cfg.EnableAutoBackup,
		EnableAutoValidation:       cfg.EnableAutoValidation,
		EnableCacheInvalidation:    cfg.EnableCacheInvalidation,
		EnableRegistrySync:         cfg.EnableRegistrySync,
		DefaultPersistenceStrategy: cfg.DefaultPersistenceStrategy,
		CollaboratorTimeout:        cfg.CollaboratorTimeout,
	}, contents, backups, tracker, invalidator, registrySync, logger)

	// MCP server.
	mcpSrv := mcp.New(mgr, version, logger)

	// Rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	// Adapt middlewares from kanri.Middleware to func(http.Handler) http.Handler.
	var middlewares []func(http.Handler) http.Handler
	for _, mw := range o.middlewares {
		middlewares = append(middlewares, func(h http.Handler) http.Handler { return mw(h) })
	}

	// Create HTTP server.
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
		Middlewares:         middlewares,
	})

	return &App{
		cfg:          cfg,
		mgr:          mgr,
		srv:          srv,
		tracker:      tracker,
		profileCache: profileCache,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the lifecycle manager and the HTTP server, then blocks until
// ctx is cancelled or a fatal server error occurs. On return, Shutdown is
// called automatically — callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	if err := a.mgr.Start(ctx); err != nil {
		return fmt.Errorf("lifecycle manager: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown performs a graceful shutdown: stop accepting HTTP requests and
// drain in-flight, stop the lifecycle manager, then close the cache, the
// history database, and the OTEL provider.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("kanri shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}

	if err := a.mgr.Stop(ctx); err != nil {
		a.logger.Error("lifecycle manager stop error", "error", err)
	}

	if a.profileCache != nil {
		a.profileCache.Close()
	}
	if a.limiter != nil {
		_ = a.limiter.Close()
	}
	if err := a.tracker.Close(); err != nil {
		a.logger.Error("history close error", "error", err)
	}
	if err := a.otelShutdown(ctx); err != nil {
		a.logger.Error("otel shutdown error", "error", err)
	}
	return nil
}

// Handler returns the root HTTP handler, for mounting Kanri inside another
// server instead of calling Run.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Agent returns the lifecycle record for one agent, or nil when unknown.
func (a *App) Agent(name string) *AgentRecord {
	rec := a.mgr.GetAgentStatus(name)
	if rec == nil {
		return nil
	}
	pub := toPublicRecord(rec)
	return &pub
}

// AgentContent returns an agent's current definition content. Repeat reads
// are served through the profile cache when cache invalidation is enabled.
func (a *App) AgentContent(ctx context.Context, name string) (string, bool, error) {
	return a.mgr.AgentContent(ctx, name)
}

// Agents returns all known lifecycle records, most recently modified first.
func (a *App) Agents() []AgentRecord {
	records := a.mgr.ListAgents(nil)
	out := make([]AgentRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, toPublicRecord(rec))
	}
	return out
}

func toPublicRecord(rec *model.AgentLifecycleRecord) AgentRecord {
	return AgentRecord{
		Name:                  rec.AgentName,
		State:                 State(rec.CurrentState),
		Tier:                  Tier(rec.Tier),
		FilePath:              rec.FilePath,
		CreatedAt:             rec.CreatedAt,
		LastModified:          rec.LastModified,
		Version:               rec.Version,
		Modifications:         rec.Modifications,
		PersistenceOperations: rec.PersistenceOperations,
		BackupPaths:           rec.BackupPaths,
		ValidationStatus:      string(rec.ValidationStatus),
		ValidationErrors:      rec.ValidationErrors,
		Metadata:              rec.Metadata,
	}
}
