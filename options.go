package kanri

import (
	"log/slog"
	"net/http"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port         int
	dataDir      string
	logger       *slog.Logger
	version      string
	contents     ContentStore
	backups      BackupStore
	invalidator  CacheInvalidator
	registrySync RegistrySynchronizer
	middlewares  []Middleware
}

// Middleware wraps the root HTTP handler.
// Applied outermost (before routing), so it sees all requests including /health.
// Multiple middlewares are applied in registration order (first-registered = outermost).
type Middleware func(http.Handler) http.Handler

// WithPort overrides the TCP port from config (KANRI_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDataDir overrides the data directory from config (KANRI_DATA_DIR env var).
// The agents directory, backups directory, and history database path are
// re-derived from it unless their own env vars are set.
func WithDataDir(dir string) Option {
	return func(o *resolvedOptions) { o.dataDir = dir }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithContentStore replaces the built-in tiered filesystem content store.
// The built-in registry synchronizer scans the filesystem store, so providing
// a custom ContentStore disables registry sync unless a custom
// RegistrySynchronizer is also provided.
func WithContentStore(s ContentStore) Option {
	return func(o *resolvedOptions) { o.contents = s }
}

// WithBackupStore replaces the built-in timestamped filesystem backup store.
func WithBackupStore(s BackupStore) Option {
	return func(o *resolvedOptions) { o.backups = s }
}

// WithCacheInvalidator replaces the built-in in-memory profile cache.
// Implementations that also provide Get(name) (string, bool) and
// Set(name, content string) serve content reads through the cache; a
// bare invalidator disables read-through. Only the last call wins.
func WithCacheInvalidator(ci CacheInvalidator) Option {
	return func(o *resolvedOptions) { o.invalidator = ci }
}

// WithRegistrySynchronizer replaces the built-in discovery registry.
// Only the last call wins.
func WithRegistrySynchronizer(rs RegistrySynchronizer) Option {
	return func(o *resolvedOptions) { o.registrySync = rs }
}

// WithMiddleware registers an outermost HTTP middleware.
// Multiple middlewares may be registered. Applied in registration order:
// the first-registered middleware is outermost (called first by every request).
func WithMiddleware(mw Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}
