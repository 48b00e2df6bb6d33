// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Data layout. AgentsDir holds the tier directories, BackupsDir the
	// per-agent backup directories, HistoryDBPath the SQLite history log.
	DataDir       string
	AgentsDir     string
	BackupsDir    string
	HistoryDBPath string

	// Lifecycle behavior switches.
	EnableAutoBackup           bool
	EnableAutoValidation       bool
	EnableCacheInvalidation    bool
	EnableRegistrySync         bool
	DefaultPersistenceStrategy string
	CollaboratorTimeout        time.Duration
	CacheTTL                   time.Duration

	// JWT settings.
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration

	// Admin bootstrap. When empty, authentication is disabled and every
	// request runs with admin privileges (development mode).
	AdminAPIKey string

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64
	RateLimitEnabled    bool
	RateLimitRPS        float64
	RateLimitBurst      int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	dataDir := envStr("KANRI_DATA_DIR", "./data")

	cfg := Config{
		Port:         envInt("KANRI_PORT", 8080),
		ReadTimeout:  envDuration("KANRI_READ_TIMEOUT", 30*time.Second),
		WriteTimeout: envDuration("KANRI_WRITE_TIMEOUT", 30*time.Second),

		DataDir:       dataDir,
		AgentsDir:     envStr("KANRI_AGENTS_DIR", dataDir+"/agents"),
		BackupsDir:    envStr("KANRI_BACKUPS_DIR", dataDir+"/backups"),
		HistoryDBPath: envStr("KANRI_HISTORY_DB", dataDir+"/kanri.db"),

		EnableAutoBackup:           envBool("KANRI_ENABLE_AUTO_BACKUP", true),
		EnableAutoValidation:       envBool("KANRI_ENABLE_AUTO_VALIDATION", true),
		EnableCacheInvalidation:    envBool("KANRI_ENABLE_CACHE_INVALIDATION", true),
		EnableRegistrySync:         envBool("KANRI_ENABLE_REGISTRY_SYNC", true),
		DefaultPersistenceStrategy: envStr("KANRI_PERSISTENCE_STRATEGY", "filesystem"),
		CollaboratorTimeout:        envDuration("KANRI_COLLABORATOR_TIMEOUT", 10*time.Second),
		CacheTTL:                   envDuration("KANRI_CACHE_TTL", 5*time.Minute),

		JWTPrivateKeyPath: envStr("KANRI_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:  envStr("KANRI_JWT_PUBLIC_KEY", ""),
		JWTExpiration:     envDuration("KANRI_JWT_EXPIRATION", 24*time.Hour),
		AdminAPIKey:       envStr("KANRI_ADMIN_API_KEY", ""),

		OTELEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:  envStr("OTEL_SERVICE_NAME", "kanri"),

		LogLevel:            envStr("KANRI_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(envInt("KANRI_MAX_REQUEST_BODY_BYTES", 2*1024*1024)), // 2 MB default
		RateLimitEnabled:    envBool("KANRI_RATE_LIMIT_ENABLED", false),
		RateLimitRPS:        envFloat("KANRI_RATE_LIMIT_RPS", 50),
		RateLimitBurst:      envInt("KANRI_RATE_LIMIT_BURST", 100),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: KANRI_DATA_DIR is required")
	}
	if c.DefaultPersistenceStrategy == "" {
		return fmt.Errorf("config: KANRI_PERSISTENCE_STRATEGY is required")
	}
	if c.CollaboratorTimeout <= 0 {
		return fmt.Errorf("config: KANRI_COLLABORATOR_TIMEOUT must be positive")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("config: KANRI_CACHE_TTL must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: KANRI_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		return fmt.Errorf("config: KANRI_RATE_LIMIT_RPS and KANRI_RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
