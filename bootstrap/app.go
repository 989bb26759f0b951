// Package bootstrap wires configuration, storage, services, the
// broadcast hub, and the HTTP server into a runnable application.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"saferoam/api"
	"saferoam/config"
	"saferoam/ingest"
	"saferoam/notify"
	"saferoam/service"
	"saferoam/storage"
)

// App represents the SafeRoam application with all its components.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	SQLite *storage.SQLite

	Devices   *service.DeviceService
	Incidents *service.IncidentService
	Zones     *service.ZoneService
	Tourists  *service.TouristService
	Auth      *service.AuthService
	Pipeline  *ingest.Pipeline

	Hub       *api.Hub
	Relay     *notify.Relay
	APIServer *api.API

	shutdownCh chan struct{}
}

// NewApp creates a new application instance and initializes all components.
func NewApp(ctx context.Context) (*App, error) {
	app := &App{shutdownCh: make(chan struct{})}

	logger, sugar, err := InitLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("SafeRoam starting...")

	cfg, err := InitConfig(sugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	sqlite, err := InitSQLite(cfg, sugar)
	if err != nil {
		return nil, err
	}
	app.SQLite = sqlite

	deviceStore := storage.NewSQLiteDeviceStorage(sqlite, sugar)
	eventStore := storage.NewSQLiteEventStorage(sqlite, sugar)
	zoneStore := storage.NewSQLiteZoneStorage(sqlite, sugar)
	incidentStore := storage.NewSQLiteIncidentStorage(sqlite, sugar)
	userStore := storage.NewSQLiteUserStorage(sqlite, sugar)

	app.Hub = api.NewHub(sugar, ctx)

	// The relay mirrors broadcasts across instances when Redis is
	// configured; otherwise services publish straight to the hub.
	var broadcaster service.Broadcaster = app.Hub
	if cfg.Redis.Enabled {
		app.Relay = notify.NewRelay(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel, app.Hub, sugar)
		broadcaster = app.Relay
	}

	app.Devices = service.NewDeviceService(deviceStore, sugar)
	app.Incidents = service.NewIncidentService(incidentStore, broadcaster, sugar)
	app.Zones = service.NewZoneService(zoneStore, eventStore, broadcaster, sugar)
	app.Tourists = service.NewTouristService(userStore, eventStore, broadcaster, sugar)
	app.Auth = service.NewAuthService(userStore, broadcaster, cfg.Auth.JWTSecret, sugar)
	app.Pipeline = ingest.NewPipeline(app.Devices, eventStore, app.Incidents, broadcaster, sugar)

	app.APIServer = api.NewAPI(app.Pipeline, app.Devices, app.Incidents, app.Zones, app.Tourists, app.Auth, app.Hub, cfg, sugar)
	return app, nil
}

// Start starts all services.
func (a *App) Start(ctx context.Context) error {
	go a.Hub.Start()

	if a.Relay != nil {
		if err := a.Relay.Start(ctx); err != nil {
			return fmt.Errorf("failed to start broadcast relay: %w", err)
		}
	}

	go func() {
		a.Sugar.Infow("API server listening", "port", a.Config.API.Port)
		if err := a.APIServer.Start(); err != nil && err != http.ErrServerClosed {
			a.Sugar.Errorw("API server failed", "error", err)
			close(a.shutdownCh)
		}
	}()
	return nil
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	select {
	case <-c:
	case <-a.shutdownCh:
	}
}

// Shutdown gracefully shuts down all components in dependency order:
// HTTP first so no new work arrives, then the fanout, then storage.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.APIServer.Stop(ctx); err != nil {
		a.Sugar.Warnw("API server shutdown error", "error", err)
	}

	if a.Relay != nil {
		if err := a.Relay.Stop(); err != nil {
			a.Sugar.Warnw("Relay shutdown error", "error", err)
		}
	}
	a.Hub.Stop()

	if err := a.SQLite.Close(); err != nil {
		a.Sugar.Warnw("SQLite close error", "error", err)
	}

	a.Sugar.Info("Shutdown complete")
	a.Logger.Sync()
}
