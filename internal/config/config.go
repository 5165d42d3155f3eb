// Package config provides centralized configuration management for the import
// service. It loads configuration from environment variables with sensible
// defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// Database drivers, inferred from the DATABASE_URL scheme.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Cache    CacheConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is the maximum duration for writing response (default: 60s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds store connection settings.
type DatabaseConfig struct {
	// URL selects the store. postgres:// URLs use PostgreSQL, sqlite: and
	// file: URLs (or a bare *.db path) use embedded SQLite, and memory: keeps
	// everything in process.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// Driver returns the store driver named by URL, or "" if the scheme is not
// recognised.
func (c *DatabaseConfig) Driver() string {
	u := strings.ToLower(strings.TrimSpace(c.URL))
	switch {
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return DriverPostgres
	case strings.HasPrefix(u, "sqlite:"), strings.HasPrefix(u, "file:"),
		strings.HasSuffix(u, ".db"), strings.HasSuffix(u, ".sqlite"):
		return DriverSQLite
	case u == "memory:" || u == "memory":
		return DriverMemory
	}
	return ""
}

// SQLitePath returns the DSN to hand the SQLite driver.
func (c *DatabaseConfig) SQLitePath() string {
	u := strings.TrimSpace(c.URL)
	for _, prefix := range []string{"sqlite://", "sqlite:"} {
		if len(u) >= len(prefix) && strings.EqualFold(u[:len(prefix)], prefix) {
			return u[len(prefix):]
		}
	}
	return u
}

// ImportConfig holds import session and matching settings.
type ImportConfig struct {
	// MaxFileSize is the maximum allowed upload size in bytes (default: 50MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"52428800"`

	// MappingThreshold is the minimum confidence for a suggested column mapping (default: 0.5)
	MappingThreshold float64 `env:"IMPORT_MAPPING_THRESHOLD" default:"0.5"`

	// SimilarityThreshold is the minimum similarity for grouping and entity matches (default: 0.6)
	SimilarityThreshold float64 `env:"IMPORT_SIMILARITY_THRESHOLD" default:"0.6"`

	// MaxMatches caps existing-entity suggestions per variant (default: 3)
	MaxMatches int `env:"IMPORT_MAX_MATCHES" default:"3"`

	// Concurrency bounds per-value lookups and decision fan-out (default: 8)
	Concurrency int `env:"IMPORT_CONCURRENCY" default:"8"`

	// SampleValues is how many sample values per column feed the mapper (default: 5)
	SampleValues int `env:"IMPORT_SAMPLE_VALUES" default:"5"`

	// SessionTTL drops sessions idle for longer than this (default: 2h)
	SessionTTL time.Duration `env:"IMPORT_SESSION_TTL" default:"2h"`

	// SweepInterval is how often expired sessions are dropped (default: 5m)
	SweepInterval time.Duration `env:"IMPORT_SWEEP_INTERVAL" default:"5m"`

	// MaxConcurrentCommits is the maximum number of parallel commits (default: 4)
	MaxConcurrentCommits int `env:"IMPORT_MAX_CONCURRENT_COMMITS" default:"4"`

	// CommitWait is how long to wait for a commit slot (default: 30s)
	CommitWait time.Duration `env:"IMPORT_COMMIT_WAIT" default:"30s"`
}

// CacheConfig holds rule cache settings.
type CacheConfig struct {
	// Enabled wraps the store with the rule cache (default: true)
	Enabled bool `env:"RULE_CACHE_ENABLED" default:"true"`

	// Size is the number of cached rule lists (default: 1024)
	Size int `env:"RULE_CACHE_SIZE" default:"1024"`

	// TTL is how long a cached rule list lives (default: 5m)
	TTL time.Duration `env:"RULE_CACHE_TTL" default:"5m"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per client (default: 120)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"120"`

	// UploadLimit is requests per minute for upload and commit endpoints (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// RequireAPIKey rejects requests without a valid X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys, optionally as name:key
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
