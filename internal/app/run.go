package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Run starts the application and blocks until a shutdown signal is received.
// The broker is warmed with an initial session so the first consumer call
// does not pay for the whole login handshake.
func (a *App) Run(ctx context.Context) error {
	if err := a.metricsServer.Start(ctx); err != nil {
		return err
	}

	a.warmSession(ctx)

	logrus.Info("application started successfully")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logrus.Info("shutdown signal received")
	return a.Shutdown(context.Background())
}

// warmSession tries to establish the first session with exponential backoff.
// Failure is not fatal: the broker retries lazily on the next GetSession.
func (a *App) warmSession(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	err := backoff.Retry(
		func() error {
			session, err := a.broker.GetSession(ctx)
			if err != nil {
				logrus.Warnf("initial session failed: %v, retrying...", err)
				return err
			}
			logrus.Infof("warm session established for player %d", session.PlayerID)
			return nil
		},
		backoff.WithContext(backoff.WithMaxRetries(b, 3), ctx),
	)
	if err != nil {
		logrus.Errorf("could not establish a warm session: %v", err)
	}
}

// Shutdown gracefully shuts down all application components in reverse
// dependency order. Errors are logged but do not stop the sequence.
func (a *App) Shutdown(ctx context.Context) error {
	logrus.Info("shutting down application...")

	if err := a.metricsServer.Shutdown(ctx); err != nil {
		logrus.Errorf("metrics server shutdown error: %v", err)
	}

	a.broker.StopSession(ctx)

	if err := a.steamClient.Logout(ctx); err != nil {
		logrus.Errorf("steam logout error: %v", err)
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			logrus.Errorf("Redis close error: %v", err)
		}
	}

	if a.shutdownTelemetry != nil {
		if err := a.shutdownTelemetry(ctx); err != nil {
			logrus.Errorf("telemetry shutdown error: %v", err)
		}
	}

	logrus.Info("application shutdown complete")
	return nil
}
