package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/lyzr/assembly/common/cache"
	"github.com/lyzr/assembly/common/config"
	"github.com/lyzr/assembly/common/db"
	"github.com/lyzr/assembly/common/logger"
	"github.com/lyzr/assembly/common/redis"
)

// Setup initializes all service components.
// This is the main entry point for all binaries.
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	cfg := components.Config

	// 2. Logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", cfg.Service.Environment,
		"fallback_backend", cfg.Fallback.Backend,
	)

	// 3. Database, only needed for the postgres fallback backend
	if !options.skipDB && cfg.Fallback.Backend == "postgres" {
		components.Logger.Info("connecting to database")
		components.DB, err = db.New(ctx, cfg, components.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		components.AddCleanup(func() error {
			components.DB.Close()
			return nil
		})

		if options.dbInitHook != nil {
			components.Logger.Info("running database init hook")
			if err := options.dbInitHook(components.DB); err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("database init hook failed: %w", err)
			}
		}
	}

	// 4. Redis event bus. Events are advisory, so an unreachable Redis
	// degrades to running without them.
	if !options.skipRedis && cfg.Redis.Enabled {
		components.Redis, err = redis.Connect(ctx, cfg.RedisAddr(), cfg.Redis.Password, cfg.Redis.DB, components.Logger)
		if err != nil {
			components.Logger.Warn("redis unavailable, events disabled", "addr", cfg.RedisAddr(), "error", err)
			components.Redis = nil
		} else {
			components.AddCleanup(func() error {
				components.Logger.Info("closing redis connection")
				return components.Redis.Close()
			})
		}
	}

	// 5. Lookup cache
	if !options.skipCache && cfg.Cache.Enabled {
		components.Cache = cache.NewMemoryCache(components.Logger, time.Minute)
		components.AddCleanup(func() error {
			return components.Cache.Close()
		})
	}

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"db", components.DB != nil,
		"redis", components.Redis != nil,
		"cache", components.Cache != nil,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}
