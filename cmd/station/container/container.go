package container

import (
	"fmt"

	"github.com/lyzr/assembly/cmd/station/events"
	"github.com/lyzr/assembly/cmd/station/navigation"
	"github.com/lyzr/assembly/cmd/station/reconciler"
	"github.com/lyzr/assembly/cmd/station/registry"
	"github.com/lyzr/assembly/cmd/station/repository"
	"github.com/lyzr/assembly/cmd/station/service"
	"github.com/lyzr/assembly/common/bootstrap"
	"github.com/lyzr/assembly/common/clients"
	"github.com/lyzr/assembly/common/middleware"
	"github.com/lyzr/assembly/common/ratelimit"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	// Components
	Components *bootstrap.Components

	// Clients
	Inventory *clients.InventoryClient
	Assembly  *clients.AssemblyClient

	// Repositories
	FallbackRepo repository.FallbackRepository

	// ScanLimiter is nil when Redis is unavailable or the limit is off
	ScanLimiter middleware.StationLimiter

	// Services
	Events         events.Publisher
	Registry       *registry.Registry
	Reconciler     *reconciler.Reconciler
	StationService *service.StationService
}

// NewContainer initializes all services and repositories once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	// Backend clients
	inventory := clients.NewInventoryClient(cfg.Services.InventoryBaseURL, cfg.Services.Timeout, log)
	if components.Cache != nil {
		inventory = inventory.WithCache(components.Cache, cfg.Cache.DefaultTTL)
	}
	assembly := clients.NewAssemblyClient(cfg.Services.PersistenceBaseURL, cfg.Services.Timeout, log)

	fallbackRepo, err := newFallbackRepository(components)
	if err != nil {
		return nil, err
	}

	// Events go to Redis when it is reachable
	var publisher events.Publisher = events.NopPublisher{}
	if components.Redis != nil {
		publisher = events.NewRedisPublisher(components.Redis, events.DefaultStreamMaxLen, log)
	}

	var scanLimiter middleware.StationLimiter
	if components.Redis != nil && cfg.RateLimit.StationScans > 0 {
		scanLimiter = ratelimit.NewRateLimiter(components.Redis.GetUnderlying(), log)
	}

	rule, err := navigation.NewReworkRule(cfg.Assembly.ReworkRule)
	if err != nil {
		return nil, fmt.Errorf("failed to compile rework rule: %w", err)
	}

	variants := registry.Default(log)

	rec := reconciler.New(reconciler.Opts{
		Persistence: assembly,
		Store:       fallbackRepo,
		Events:      publisher,
		Logger:      log,
		BatchSize:   cfg.Reconcile.BatchSize,
		Timeout:     cfg.Services.Timeout,
	})

	stationService := service.NewStationService(service.Deps{
		Registry:   variants,
		Lookup:     inventory,
		Backend:    assembly,
		Store:      fallbackRepo,
		Reconciler: rec,
		Events:     publisher,
		Rule:       rule,
		Logger:     log,
		Settings: service.Settings{
			CompletionTimeout:  cfg.Assembly.CompletionTimeout,
			NextUnitDelay:      cfg.Assembly.NextUnitDelay,
			AuditLogSize:       cfg.Assembly.AuditLogSize,
			RequireDegradedAck: cfg.Assembly.RequireDegradedAck,
			LookupConcurrency:  cfg.Assembly.LookupConcurrency,
		},
	})
	components.AddCleanup(func() error {
		stationService.Shutdown()
		return nil
	})

	return &Container{
		Components:     components,
		Inventory:      inventory,
		Assembly:       assembly,
		FallbackRepo:   fallbackRepo,
		ScanLimiter:    scanLimiter,
		Events:         publisher,
		Registry:       variants,
		Reconciler:     rec,
		StationService: stationService,
	}, nil
}

// newFallbackRepository opens the configured fallback backend
func newFallbackRepository(components *bootstrap.Components) (repository.FallbackRepository, error) {
	cfg := components.Config

	switch cfg.Fallback.Backend {
	case "postgres":
		if components.DB == nil {
			return nil, fmt.Errorf("fallback backend postgres needs a database connection")
		}
		return repository.NewPostgresFallbackRepository(components.DB), nil

	case "sqlite":
		db, err := repository.OpenSQLite(cfg.Fallback.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open fallback database: %w", err)
		}
		components.AddCleanup(func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})

		repo, err := repository.NewSQLiteFallbackRepository(db)
		if err != nil {
			return nil, err
		}
		components.Logger.Info("fallback store ready", "backend", "sqlite", "path", cfg.Fallback.SQLitePath)
		return repo, nil

	default:
		return nil, fmt.Errorf("unknown fallback backend %q", cfg.Fallback.Backend)
	}
}
