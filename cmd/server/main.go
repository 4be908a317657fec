// cmd/server/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"serial-bridge/internal/bridge"
	"serial-bridge/internal/config"
	"serial-bridge/internal/discovery"
	"serial-bridge/internal/handler"
	"serial-bridge/internal/routes"
	"serial-bridge/internal/utils"
)

// Application represents the main application
type Application struct {
	config *config.Config
	logger *zap.Logger
	server *http.Server

	bridges  *bridge.Server
	scanner  *discovery.Scanner
	eventBus *handler.EventBus

	cancelBridges context.CancelFunc
	bridgesDone   chan struct{}
}

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	// Initialize application
	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	// Start the application
	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize logger
	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Create service logger
	serviceLogger := utils.NewServiceLogger(logger, "serial-bridge")
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	// Initialize components
	if err := app.initializeBridges(); err != nil {
		return nil, fmt.Errorf("failed to initialize bridges: %w", err)
	}

	if err := app.initializeServer(); err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return app, nil
}

// initializeBridges sets up the bridge server, event bus and port scanner
func (app *Application) initializeBridges() error {
	app.eventBus = handler.NewEventBus(app.logger)
	go app.eventBus.Start()

	bridges, err := bridge.NewServerFromConfig(app.config.Bridges, app.logger)
	if err != nil {
		// Invalid entries are reported through the status API; keep the
		// valid siblings running.
		app.logger.Warn("Some bridge entries are unusable", zap.Error(err))
	}
	bridges.SetEventSink(handler.BridgeEventSink(app.eventBus))
	app.bridges = bridges

	app.scanner = discovery.NewScanner(app.logger)

	app.logger.Info("Bridge server initialized",
		zap.Int("entries", len(app.config.Bridges)),
	)
	return nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() error {
	if !app.config.API.Enabled {
		app.logger.Info("Status API disabled")
		return nil
	}

	// Create router
	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		app.bridges,
		app.scanner,
		app.eventBus,
	)

	// Setup router with all routes
	router := routerManager.SetupRouter()

	// Create HTTP server
	app.server = &http.Server{
		Addr:         app.config.GetAPIAddr(),
		Handler:      router,
		ReadTimeout:  app.config.API.ReadTimeout,
		WriteTimeout: app.config.API.WriteTimeout,
		IdleTimeout:  app.config.API.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetAPIAddr()),
	)

	return nil
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, "serial-bridge")
	serviceLogger.LogServiceStop("shutdown signal received")

	// Stop accepting TCP clients and close the active links
	app.cancelBridges()
	select {
	case <-app.bridgesDone:
	case <-time.After(30 * time.Second):
		app.logger.Error("Bridge server shutdown timed out")
	}

	// Shutdown HTTP server
	if app.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := app.server.Shutdown(ctx); err != nil {
			app.logger.Error("HTTP server shutdown error", zap.Error(err))
		} else {
			app.logger.Info("HTTP server stopped")
		}
	}

	// Flush logger
	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}

func (app *Application) Start() error {
	// Start bridge listeners
	ctx, cancel := context.WithCancel(context.Background())
	app.cancelBridges = cancel
	app.bridgesDone = make(chan struct{})
	go func() {
		defer close(app.bridgesDone)
		if err := app.bridges.Run(ctx); err != nil {
			app.logger.Error("Bridge server stopped", zap.Error(err))
		}
	}()

	// Start HTTP server in goroutine
	if app.server != nil {
		go func() {
			app.logger.Info("Starting HTTP server",
				zap.String("address", app.server.Addr),
			)

			if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
			}
		}()
	}

	// Wait for interrupt signal
	app.waitForShutdown()

	return nil
}
