package bootstrap

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/clipper-dl/clipper/config"
	"github.com/clipper-dl/clipper/internal/core"
	"github.com/clipper-dl/clipper/internal/data"
	"github.com/clipper-dl/clipper/internal/media"
	"github.com/clipper-dl/clipper/internal/observability/statsd"
	"github.com/clipper-dl/clipper/internal/service"
)

// ServiceDeps contains the shared infrastructure the service layer builds on.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient *redis.Client // nil when Redis is disabled
	Logger      *slog.Logger
}

// ServiceContainer holds the constructed services.
type ServiceContainer struct {
	Downloads *service.DownloadService
	Pipeline  *service.PipelineService
	Sweeper   *service.SweeperService
	Metrics   statsd.Sink
}

// NewServices constructs the service layer from shared infrastructure.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	cfg := deps.Config

	metrics, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.Observability.Metrics.IsEnabled(),
		Address: cfg.Observability.Metrics.StatsdAddress,
		Prefix:  cfg.Observability.Metrics.Prefix,
		Logger:  deps.Logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("statsd client: %w", err)
	}

	repo := data.NewDownloadRepo(deps.DB, data.RepoConfig{Logger: deps.Logger})

	var queue core.CleanupQueue
	if deps.RedisClient != nil {
		q, qErr := data.NewCleanupQueue(deps.RedisClient, cfg.Sweeper.QueueKey)
		if qErr != nil {
			return ServiceContainer{}, fmt.Errorf("cleanup queue: %w", qErr)
		}
		queue = q
	}

	sweeper, err := service.NewSweeperService(service.SweeperServiceOptions{
		Repo:    repo,
		Queue:   queue,
		Config:  cfg.Sweeper,
		Logger:  deps.Logger,
		Metrics: metrics,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("sweeper service: %w", err)
	}

	extractor := media.NewExtractor(media.ExtractorOptions{
		Config: cfg.Extractor,
		Logger: deps.Logger,
	})
	images := media.NewImageFetcher(media.ImageFetcherOptions{
		MediaRoot: cfg.Extractor.MediaRoot,
		Logger:    deps.Logger,
	})
	bypass := media.NewInstagramBypass(media.InstagramBypassOptions{
		MediaRoot: cfg.Extractor.MediaRoot,
		Logger:    deps.Logger,
	})

	pipeline, err := service.NewPipelineService(service.PipelineServiceOptions{
		Repo:         repo,
		Extractor:    extractor,
		Images:       images,
		Bypass:       bypass,
		Cleanup:      sweeper,
		ExtractorCfg: cfg.Extractor,
		Retention:    cfg.Sweeper.RetentionWindow,
		Logger:       deps.Logger,
		Metrics:      metrics,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("pipeline service: %w", err)
	}

	downloads, err := service.NewDownloadService(service.DownloadServiceOptions{
		Repo:         repo,
		Prober:       extractor,
		ExtractorCfg: cfg.Extractor,
		MaxBacklog:   cfg.Downloader.MaxPendingBacklog,
		Logger:       deps.Logger,
		Metrics:      metrics,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("download service: %w", err)
	}

	return ServiceContainer{
		Downloads: downloads,
		Pipeline:  pipeline,
		Sweeper:   sweeper,
		Metrics:   metrics,
	}, nil
}
