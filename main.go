package main

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Kards-Stats/kards-tools/internal/app"
	"github.com/Kards-Stats/kards-tools/internal/config"
	"github.com/Kards-Stats/kards-tools/pkg/accounts"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("invalid configuration: %v", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.Warnf("invalid LOG_LEVEL %q, using info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	ctx := context.Background()

	command := "run"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "run":
		runBroker(ctx, cfg)
	case "provision":
		provisionAccounts(ctx, cfg)
	case "status":
		showStatus(ctx, cfg)
	default:
		logrus.Fatalf("unknown command %q (expected run, provision or status)", command)
	}
}

// runBroker starts the session broker daemon.
func runBroker(ctx context.Context, cfg *config.Config) {
	logrus.Info("starting kards session broker...")

	application, err := app.New(ctx, cfg)
	if err != nil {
		logrus.Fatalf("failed to initialize application: %v", err)
	}

	if err := application.Run(ctx); err != nil {
		logrus.Fatalf("application error: %v", err)
	}
}

// provisionAccounts upserts the accounts file into the store and exits.
func provisionAccounts(ctx context.Context, cfg *config.Config) {
	connector := connectStore(ctx, cfg)

	provisionConfig, err := accounts.LoadAccountsFile(cfg.AccountsFile)
	if err != nil {
		logrus.Fatalf("failed to load accounts file: %v", err)
	}

	saved, err := accounts.Provision(ctx, connector, provisionConfig)
	if err != nil {
		logrus.Fatalf("failed to provision accounts: %v", err)
	}
	logrus.Infof("provisioned %d accounts (%s)", saved, provisionConfig.String())
}

// showStatus prints the usable pool size and exits.
func showStatus(ctx context.Context, cfg *config.Config) {
	connector := connectStore(ctx, cfg)

	unbanned, err := connector.GetUnbanned(ctx, cfg.PoolType)
	if err != nil {
		logrus.Fatalf("failed to read account pool: %v", err)
	}

	types := make(map[string]int)
	for _, account := range unbanned {
		types[account.Type]++
	}
	logrus.Infof("%d usable accounts in pool %q", len(unbanned), cfg.PoolType)
	for poolType, count := range types {
		logrus.Infof("  %s: %d", poolType, count)
	}
}

func connectStore(ctx context.Context, cfg *config.Config) *accounts.RedisConnector {
	client, err := accounts.InitRedisClient(ctx,
		cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword,
		cfg.RedisMaxRetries, time.Duration(cfg.RedisRetryDelayMs)*time.Millisecond)
	if err != nil {
		logrus.Fatalf("failed to connect to Redis: %v", err)
	}
	return accounts.NewRedisConnector(client, accounts.RedisConnectorConfig{})
}
