package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Services  ServicesConfig
	Cache     CacheConfig
	Assembly  AssemblyConfig
	Fallback  FallbackConfig
	Reconcile ReconcileConfig
	RateLimit RateLimitConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
	CORSOrigins []string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// ServicesConfig holds the base URLs of the inventory and assembly backends
type ServicesConfig struct {
	InventoryBaseURL   string
	PersistenceBaseURL string
	Timeout            time.Duration
}

// CacheConfig holds lookup cache settings
type CacheConfig struct {
	Enabled    bool
	DefaultTTL time.Duration
}

// AssemblyConfig holds scan station behaviour
type AssemblyConfig struct {
	CompletionTimeout  time.Duration
	NextUnitDelay      time.Duration
	AuditLogSize       int
	RequireDegradedAck bool
	ReworkRule         string
	LookupConcurrency  int
}

// FallbackConfig selects where locally completed assemblies are kept
type FallbackConfig struct {
	Backend    string // "sqlite" or "postgres"
	SQLitePath string
}

// ReconcileConfig holds the fallback reconciliation schedule
type ReconcileConfig struct {
	Enabled   bool
	Schedule  string
	BatchSize int
}

// RateLimitConfig caps scan requests per station. Zero disables it.
type RateLimitConfig struct {
	StationScans  int
	WindowSeconds int
}

// TelemetryConfig holds the debug endpoints. A zero port keeps pprof off.
type TelemetryConfig struct {
	PprofPort int
}

// Load loads configuration from environment variables. A .env file in the
// working directory is applied first when present.
func Load(serviceName string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
			CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "assembly"),
			User:        getEnv("POSTGRES_USER", "assembly"),
			Password:    getEnv("POSTGRES_PASSWORD", "assembly"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 10),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 1),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("EVENTS_ENABLED", true),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Services: ServicesConfig{
			InventoryBaseURL:   getEnv("INVENTORY_BASE_URL", "http://localhost:8000"),
			PersistenceBaseURL: getEnv("PERSISTENCE_BASE_URL", "http://localhost:8000"),
			Timeout:            getEnvDuration("CLIENT_TIMEOUT", 10*time.Second),
		},
		Cache: CacheConfig{
			Enabled:    getEnvBool("CACHE_ENABLED", true),
			DefaultTTL: getEnvDuration("CACHE_DEFAULT_TTL", 15*time.Minute),
		},
		Assembly: AssemblyConfig{
			CompletionTimeout:  getEnvDuration("COMPLETION_TIMEOUT", 8*time.Second),
			NextUnitDelay:      getEnvDuration("NEXT_UNIT_DELAY", 3*time.Second),
			AuditLogSize:       getEnvInt("AUDIT_LOG_SIZE", 200),
			RequireDegradedAck: getEnvBool("REQUIRE_DEGRADED_ACK", true),
			ReworkRule:         getEnv("REWORK_RULE", `assembly_id.startsWith("RW-")`),
			LookupConcurrency:  getEnvInt("LOOKUP_CONCURRENCY", 4),
		},
		Fallback: FallbackConfig{
			Backend:    getEnv("FALLBACK_BACKEND", "sqlite"),
			SQLitePath: getEnv("FALLBACK_SQLITE_PATH", "fallback.db"),
		},
		Reconcile: ReconcileConfig{
			Enabled:   getEnvBool("RECONCILE_ENABLED", true),
			Schedule:  getEnv("RECONCILE_SCHEDULE", "@every 1m"),
			BatchSize: getEnvInt("RECONCILE_BATCH_SIZE", 50),
		},
		RateLimit: RateLimitConfig{
			StationScans:  getEnvInt("RATE_LIMIT_STATION_SCANS", 120),
			WindowSeconds: getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		},
		Telemetry: TelemetryConfig{
			PprofPort: getEnvInt("PPROF_PORT", 0),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	for name, raw := range map[string]string{
		"inventory base url":   c.Services.InventoryBaseURL,
		"persistence base url": c.Services.PersistenceBaseURL,
	} {
		if _, err := url.ParseRequestURI(raw); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}
	}

	if c.Assembly.CompletionTimeout <= 0 {
		return fmt.Errorf("completion timeout must be positive")
	}

	if c.Assembly.NextUnitDelay < 0 {
		return fmt.Errorf("next unit delay must not be negative")
	}

	if c.Assembly.AuditLogSize < 1 {
		return fmt.Errorf("audit log size must be at least 1")
	}

	if c.Assembly.LookupConcurrency < 1 {
		return fmt.Errorf("lookup concurrency must be at least 1")
	}

	switch c.Fallback.Backend {
	case "sqlite":
		if c.Fallback.SQLitePath == "" {
			return fmt.Errorf("sqlite fallback backend requires FALLBACK_SQLITE_PATH")
		}
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
	default:
		return fmt.Errorf("unknown fallback backend: %s", c.Fallback.Backend)
	}

	if c.Reconcile.BatchSize < 1 {
		return fmt.Errorf("reconcile batch size must be at least 1")
	}

	if c.RateLimit.StationScans < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}

	if c.RateLimit.StationScans > 0 && c.RateLimit.WindowSeconds < 1 {
		return fmt.Errorf("rate limit window must be at least 1 second")
	}

	if c.Telemetry.PprofPort < 0 || c.Telemetry.PprofPort > 65535 {
		return fmt.Errorf("invalid pprof port: %d", c.Telemetry.PprofPort)
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// RedisAddr returns host:port for the Redis client
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvSlice splits a comma-separated value, dropping empty items
func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
