package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kanri/internal/auth"
	"github.com/ashita-ai/kanri/internal/lifecycle"
	"github.com/ashita-ai/kanri/internal/ratelimit"
)

// Server is the Kanri HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Config holds all dependencies and configuration for creating a Server.
// MCPServer is optional (nil = MCP transport disabled). An empty
// AdminKeyHash disables authentication entirely — development mode.
type Config struct {
	Manager *lifecycle.Manager
	JWTMgr  *auth.JWTManager
	Logger  *slog.Logger

	MCPServer *mcpserver.MCPServer

	AdminKeyHash        string
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64

	// RateLimiter limits requests per client IP. Nil disables limiting.
	RateLimiter ratelimit.Limiter

	// OpenAPISpec, when non-empty, is served at GET /openapi.yaml.
	OpenAPISpec []byte

	// Middlewares wrap the root handler, outermost first in registration
	// order, so they see every request including /health.
	Middlewares []func(http.Handler) http.Handler
}

// New creates a new HTTP server with all routes configured.
func New(cfg Config) *Server {
	h := NewHandlers(HandlersDeps{
		Manager:             cfg.Manager,
		JWTMgr:              cfg.JWTMgr,
		AdminKeyHash:        cfg.AdminKeyHash,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()

	// Auth endpoint (no auth required).
	mux.HandleFunc("POST /auth/token", h.HandleAuthToken)

	// Lifecycle mutations (operator+).
	operatorOnly := requireRole(auth.RoleOperator)
	mux.Handle("POST /v1/agents", operatorOnly(http.HandlerFunc(h.HandleCreateAgent)))
	mux.Handle("PUT /v1/agents/{name}", operatorOnly(http.HandlerFunc(h.HandleUpdateAgent)))
	mux.Handle("DELETE /v1/agents/{name}", operatorOnly(http.HandlerFunc(h.HandleDeleteAgent)))
	mux.Handle("POST /v1/agents/{name}/restore", operatorOnly(http.HandlerFunc(h.HandleRestoreAgent)))
	mux.Handle("POST /v1/agents/{name}/migrate", operatorOnly(http.HandlerFunc(h.HandleMigrateAgent)))
	mux.Handle("POST /v1/agents/{name}/replicate", operatorOnly(http.HandlerFunc(h.HandleReplicateAgent)))
	mux.Handle("POST /v1/agents/{name}/validate", operatorOnly(http.HandlerFunc(h.HandleValidateAgent)))

	// Queries (reader+).
	readerOnly := requireRole(auth.RoleReader)
	mux.Handle("GET /v1/agents", readerOnly(http.HandlerFunc(h.HandleListAgents)))
	mux.Handle("GET /v1/agents/{name}", readerOnly(http.HandlerFunc(h.HandleGetAgent)))
	mux.Handle("GET /v1/agents/{name}/content", readerOnly(http.HandlerFunc(h.HandleAgentContent)))
	mux.Handle("GET /v1/agents/{name}/backups", readerOnly(http.HandlerFunc(h.HandleListBackups)))
	mux.Handle("GET /v1/agents/{name}/modifications", readerOnly(http.HandlerFunc(h.HandleListModifications)))
	mux.Handle("GET /v1/operations", readerOnly(http.HandlerFunc(h.HandleListOperations)))
	mux.Handle("GET /v1/stats", readerOnly(http.HandlerFunc(h.HandleStats)))

	// MCP StreamableHTTP transport (auth required, reader+).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", readerOnly(mcpHTTP))
	}

	// Health and API spec (no auth).
	mux.HandleFunc("GET /health", h.HandleHealth)
	if len(cfg.OpenAPISpec) > 0 {
		mux.HandleFunc("GET /openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/yaml")
			_, _ = w.Write(cfg.OpenAPISpec)
		})
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → rate limit → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, cfg.AdminKeyHash == "", handler)
	if cfg.RateLimiter != nil {
		handler = ratelimit.Middleware(cfg.RateLimiter, ratelimit.IPKeyFunc, func(r *http.Request) string {
			return RequestIDFromContext(r.Context())
		})(handler)
	}
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
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
