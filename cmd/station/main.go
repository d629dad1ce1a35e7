package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/lyzr/assembly/cmd/station/container"
	"github.com/lyzr/assembly/cmd/station/repository"
	"github.com/lyzr/assembly/cmd/station/routes"
	"github.com/lyzr/assembly/common/bootstrap"
	"github.com/lyzr/assembly/common/db"
	"github.com/lyzr/assembly/common/server"
	"github.com/lyzr/assembly/common/telemetry"
)

const serviceName = "assembly-station"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Bootstrap common components (config, logger, DB, redis, cache)
	components, err := bootstrap.Setup(ctx, serviceName,
		bootstrap.WithDBInitHook(func(database *db.DB) error {
			return database.EnsureSchema(ctx, repository.Schema...)
		}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap %s: %v\n", serviceName, err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	// Initialize service container (singleton pattern - all services created once)
	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		components.Logger.Error("failed to initialize service container", "error", err)
		os.Exit(1)
	}

	// Reconcile fallback records in the background
	startReconciler(ctx, serviceContainer)

	// Profiling endpoints, off unless PPROF_PORT is set
	telemetry.New(components.Config.Telemetry.PprofPort, components.Logger).Start(ctx)

	// Initialize Echo server
	e := setupEcho()

	// Setup middleware
	setupMiddleware(e, components)

	// Setup health check
	setupHealthCheck(e, components)

	// Register all routes
	registerRoutes(e, serviceContainer)

	// Start server
	startServer(ctx, e, components)
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo, components *bootstrap.Components) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: components.Config.Service.CORSOrigins,
	}))
	e.Use(middleware.RequestID())
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status":  "degraded",
				"service": serviceName,
				"error":   err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": serviceName,
		})
	})
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterVariantRoutes(e, serviceContainer)
	routes.RegisterStationRoutes(e, serviceContainer)
	routes.RegisterFallbackRoutes(e, serviceContainer)
}

// startReconciler schedules fallback reconciliation when enabled
func startReconciler(ctx context.Context, serviceContainer *container.Container) {
	components := serviceContainer.Components
	cfg := components.Config.Reconcile
	if !cfg.Enabled {
		components.Logger.Info("fallback reconciliation disabled")
		return
	}

	if err := serviceContainer.Reconciler.Start(ctx, cfg.Schedule); err != nil {
		components.Logger.Error("failed to start reconciler", "error", err)
		return
	}
	components.AddCleanup(func() error {
		serviceContainer.Reconciler.Stop()
		return nil
	})
}

// startServer serves the Echo router until ctx is cancelled
func startServer(ctx context.Context, e *echo.Echo, components *bootstrap.Components) {
	srv := server.New(serviceName, components.Config.Service.Port, e, components.Logger)

	if err := srv.Run(ctx); err != nil {
		components.Logger.Error("server error", "error", err)
		components.Shutdown(context.Background())
		os.Exit(1)
	}
}
