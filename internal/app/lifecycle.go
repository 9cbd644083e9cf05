package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"drover.io/drover/internal/pkg/logger"
)

// Start starts the background services (River workers).
func (a *Application) Start(ctx context.Context) error {
	if a.DB != nil && a.DB.RiverClient != nil {
		if err := a.DB.RiverClient.Start(ctx); err != nil {
			return fmt.Errorf("start river client: %w", err)
		}
		logger.Info("river client started, replay jobs will now be consumed")
	}
	return nil
}

// Shutdown gracefully shuts down all application components. In-flight
// replays finish under their worker pool deadlines before the store closes.
func (a *Application) Shutdown() {
	shutdownCtx := context.Background()

	if a.DB != nil && a.DB.RiverClient != nil {
		if err := a.DB.RiverClient.Stop(shutdownCtx); err != nil {
			logger.Error("failed to stop river client", zap.Error(err))
		} else {
			logger.Info("river client stopped")
		}
	}

	if a.Pools != nil {
		a.Pools.Shutdown()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
