package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/clipper-dl/clipper/config"
	"github.com/clipper-dl/clipper/internal/adapters/downloader"
)

const shutdownTimeout = 10 * time.Second

// ServiceOrchestrationConfig groups everything RunServicesWithShutdown needs.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient *redis.Client
	Logger      *slog.Logger
}

// RunServicesWithShutdown starts all enabled services and manages their
// lifecycle. Blocks until a shutdown signal arrives or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Config.IsHTTPServerEnabled() {
		server := StartHTTPServer(&HTTPServerConfig{
			Config:   cfg.Config,
			Services: cfg.Services,
			Logger:   logger,
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return ShutdownHTTPServer(shutdownCtx, server, logger)
		})
	}

	if cfg.Config.IsDownloaderEnabled() {
		runner, err := downloader.NewRunner(downloader.RunnerOptions{
			Downloads: cfg.Services.Downloads,
			Pipeline:  cfg.Services.Pipeline,
			Config:    cfg.Config.Downloader,
			Logger:    logger,
		})
		if err != nil {
			return fmt.Errorf("downloader runner: %w", err)
		}
		g.Go(func() error { return runner.Run(gctx) })
	}

	if cfg.Config.IsSweeperEnabled() {
		g.Go(func() error { return cfg.Services.Sweeper.Run(gctx) })
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("all services stopped")
	return nil
}
