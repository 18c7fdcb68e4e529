package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/Kards-Stats/kards-tools/internal/config"
	"github.com/Kards-Stats/kards-tools/internal/server"
	"github.com/Kards-Stats/kards-tools/pkg/accounts"
	"github.com/Kards-Stats/kards-tools/pkg/kards"
	"github.com/Kards-Stats/kards-tools/pkg/steam"
)

// App holds all application dependencies and manages the application lifecycle.
type App struct {
	cfg               *config.Config
	metricsServer     *server.MetricsServer
	redisClient       *redis.Client
	shutdownTelemetry func(context.Context) error

	connector   *accounts.RedisConnector
	steamClient *steam.Client
	broker      *kards.Session
}

// New creates and initializes a new application instance. Components come up
// in dependency order: Redis, the account store, the Steam bridge client, the
// session broker, then the metrics server and telemetry.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logrus.Info("initializing application...")

	app := &App{cfg: cfg}

	redisClient, err := accounts.InitRedisClient(ctx,
		cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword,
		cfg.RedisMaxRetries, time.Duration(cfg.RedisRetryDelayMs)*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}
	app.redisClient = redisClient
	app.connector = accounts.NewRedisConnector(redisClient, accounts.RedisConnectorConfig{})

	if err := app.provisionAccounts(ctx); err != nil {
		return nil, err
	}

	bridge := steam.NewBridgeTransport(steam.BridgeConfig{BaseURL: cfg.SteamBridgeURL}, app.connector)
	app.steamClient, err = steam.NewClient(bridge, steam.ClientConfig{
		AppID:        cfg.AppID,
		LoginTimeout: time.Duration(cfg.SteamLoginTimeoutSec) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init steam client: %w", err)
	}

	app.broker, err = kards.NewSession(cfg.PoolType, app.connector, app.steamClient, kards.SessionConfig{
		Hostname:    cfg.Hostname,
		DriftAPIKey: cfg.DriftAPIKey,
		AppID:       cfg.AppID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init session broker: %w", err)
	}

	app.metricsServer = server.NewMetricsServer(cfg.MetricsPort, "/metrics", accounts.NewHealthChecker(redisClient))
	if err := app.metricsServer.Setup(); err != nil {
		return nil, fmt.Errorf("failed to setup metrics server: %w", err)
	}

	if cfg.OtelEnabled {
		shutdownTelemetry, err := server.SetupTelemetry(ctx, cfg.ServiceName, cfg.Environment, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to setup telemetry: %w", err)
		}
		app.shutdownTelemetry = shutdownTelemetry
	}

	logrus.Info("application initialized successfully")

	return app, nil
}

// Broker returns the session broker, for callers embedding the app.
func (a *App) Broker() *kards.Session {
	return a.broker
}

// Connector returns the account store.
func (a *App) Connector() *accounts.RedisConnector {
	return a.connector
}

// provisionAccounts upserts the accounts file into the store on startup. A
// missing file is fine, the pool may be provisioned out of band.
func (a *App) provisionAccounts(ctx context.Context) error {
	if _, err := os.Stat(a.cfg.AccountsFile); os.IsNotExist(err) {
		logrus.Infof("no accounts file at %s, skipping provisioning", a.cfg.AccountsFile)
		return nil
	}

	provisionConfig, err := accounts.LoadAccountsFile(a.cfg.AccountsFile)
	if err != nil {
		return fmt.Errorf("failed to load accounts file: %w", err)
	}

	saved, err := accounts.Provision(ctx, a.connector, provisionConfig)
	if err != nil {
		return fmt.Errorf("failed to provision accounts: %w", err)
	}
	logrus.Infof("provisioned %d accounts (%s)", saved, provisionConfig.String())
	return nil
}
