package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/clipper-dl/clipper/config"
	"github.com/clipper-dl/clipper/internal/core"
	"github.com/clipper-dl/clipper/internal/domain/model"
	"github.com/clipper-dl/clipper/internal/media"
	"github.com/clipper-dl/clipper/internal/observability/metrics"
	"github.com/clipper-dl/clipper/internal/observability/statsd"
	"github.com/clipper-dl/clipper/internal/platform"
)

// Extractor combines the probing and downloading halves of the yt-dlp
// adapter.
type Extractor interface {
	media.Prober
	media.Downloader
}

// CleanupScheduler schedules a job's artifact for deletion after the
// retention window.
type CleanupScheduler interface {
	ScheduleCleanup(ctx context.Context, jobID string, delay time.Duration) error
}

// ImageFetcher is the image-fallback port of the pipeline.
type ImageFetcher interface {
	Fetch(ctx context.Context, imageURL, title, jobID string, platform model.Platform) (*media.Artifact, error)
}

// BypassExtractor is the blocked-Instagram recovery port of the pipeline. A
// (nil, nil) return means no usable media was found.
type BypassExtractor interface {
	Run(ctx context.Context, url, jobID string) (*media.Artifact, error)
}

// PipelineServiceOptions groups dependencies for PipelineService.
type PipelineServiceOptions struct {
	Repo         core.DownloadRepository // Required: download repository
	Extractor    Extractor               // Required: yt-dlp adapter
	Images       ImageFetcher            // Required: image fallback
	Bypass       BypassExtractor         // Optional: Instagram bypass scraper
	Cleanup      CleanupScheduler        // Optional: per-job retention scheduling
	ExtractorCfg config.ExtractorConfig  // Extraction settings
	Retention    time.Duration           // Artifact lifetime; defaults to 10m
	Logger       *slog.Logger            // Optional: structured logger
	Metrics      statsd.Sink             // Optional: metrics sink
}

// PipelineService runs the extraction pipeline for one reserved download:
// validate, probe, image fallback, format-selector download loop, Instagram
// bypass and alternative passes, and final failure classification.
type PipelineService struct {
	repo      core.DownloadRepository
	extractor Extractor
	images    ImageFetcher
	bypass    BypassExtractor
	cleanup   CleanupScheduler
	cfg       config.ExtractorConfig
	retention time.Duration
	logger    *slog.Logger
	metrics   statsd.Sink
}

// NewPipelineService constructs a new PipelineService.
func NewPipelineService(opts PipelineServiceOptions) (*PipelineService, error) {
	if opts.Repo == nil {
		return nil, errors.New("DownloadRepository is required")
	}
	if opts.Extractor == nil {
		return nil, errors.New("extractor is required")
	}
	if opts.Images == nil {
		return nil, errors.New("image fetcher is required")
	}

	retention := opts.Retention
	if retention <= 0 {
		retention = 10 * time.Minute
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "pipeline")
	}

	return &PipelineService{
		repo:      opts.Repo,
		extractor: opts.Extractor,
		images:    opts.Images,
		bypass:    opts.Bypass,
		cleanup:   opts.Cleanup,
		cfg:       opts.ExtractorCfg,
		retention: retention,
		logger:    logger,
		metrics:   opts.Metrics,
	}, nil
}

// Run processes one reserved download to a terminal state. The record must
// already be in the downloading status (reserved). Run never returns an
// error for extraction failures; those end as a failed record with a
// localized message; only persistence errors propagate.
func (p *PipelineService) Run(ctx context.Context, d *model.Download) error {
	start := time.Now()

	// Re-detect when classification is missing or landed on other; a URL
	// recorded before a pattern update may classify now.
	pf := d.Platform
	if pf == "" || pf == model.PlatformOther {
		pf = platform.Detect(d.URL)
	}

	if ok, msg := platform.Validate(d.URL, pf); !ok {
		return p.fail(ctx, d, msg, media.ReasonUnsupportedPlatform, start)
	}

	opts := media.BuildOptions(pf, p.cfg)
	opts.JobID = d.ID

	title := "Unknown"
	probe, probeErr := p.extractor.Probe(ctx, d.URL, opts)
	if probeErr == nil {
		title = probe.Title

		// Image-only content never falls through to the video loop.
		if len(probe.VideoFormats()) == 0 {
			if artifact := p.tryImageFallback(ctx, d, pf, probe); artifact != nil {
				return p.complete(ctx, d, artifact, start)
			}
			return p.fail(ctx, d,
				media.LocalizedMessage(media.ReasonNoMediaFound, pf, "no media found"),
				media.ReasonNoMediaFound, start)
		}
	} else if p.logger != nil {
		// A failed probe is not terminal: the download attempts may still
		// succeed with their own extraction run.
		p.logger.WarnContext(ctx, "probe failed, continuing to download attempts",
			"id", d.ID, "err", probeErr)
	}

	var lastErr error
	for _, selector := range media.FormatSelectors {
		artifact, err := p.extractor.Download(ctx, d.URL, selector, opts)
		if err != nil {
			lastErr = err
			continue
		}
		if artifact.Title == "" {
			artifact.Title = title
		}
		return p.complete(ctx, d, artifact, start)
	}
	if lastErr == nil {
		lastErr = probeErr
	}

	reason := media.ClassifyFailure(lastErr)
	if pf == model.PlatformInstagram && reason.Blocked() {
		if artifact := p.tryInstagramRecovery(ctx, d, title); artifact != nil {
			return p.complete(ctx, d, artifact, start)
		}
	}

	lastMsg := ""
	if lastErr != nil {
		lastMsg = lastErr.Error()
	}
	return p.fail(ctx, d, media.LocalizedMessage(reason, pf, lastMsg), reason, start)
}

// tryImageFallback attempts the §4.4 image path: best thumbnail first, then
// the CDN scan over the raw probe JSON for Pinterest and Instagram.
func (p *PipelineService) tryImageFallback(
	ctx context.Context,
	d *model.Download,
	pf model.Platform,
	probe *media.Probe,
) *media.Artifact {
	if thumb := probe.BestThumbnail(); thumb != nil {
		artifact, err := p.images.Fetch(ctx, thumb.URL, probe.Title, d.ID, pf)
		if err == nil {
			return artifact
		}
		p.logWarn(ctx, "thumbnail fetch failed", "id", d.ID, "err", err)
	}

	if pf == model.PlatformPinterest || pf == model.PlatformInstagram {
		for _, imageURL := range media.ScanForImageURLs(probe.RawJSON) {
			artifact, err := p.images.Fetch(ctx, imageURL, probe.Title, d.ID, pf)
			if err == nil {
				return artifact
			}
			p.logWarn(ctx, "cdn image fetch failed", "id", d.ID, "url", imageURL, "err", err)
		}
	}

	if probe.Thumbnail != "" {
		artifact, err := p.images.Fetch(ctx, probe.Thumbnail, probe.Title, d.ID, pf)
		if err == nil {
			return artifact
		}
		p.logWarn(ctx, "fallback thumbnail fetch failed", "id", d.ID, "err", err)
	}

	return nil
}

// tryInstagramRecovery runs the bypass scraper once, then the alternative
// extractor profiles once each. Both paths execute at most one full pass per
// job.
func (p *PipelineService) tryInstagramRecovery(
	ctx context.Context,
	d *model.Download,
	title string,
) *media.Artifact {
	if p.bypass != nil {
		artifact, err := p.bypass.Run(ctx, d.URL, d.ID)
		if err != nil {
			p.logWarn(ctx, "bypass attempt failed", "id", d.ID, "err", err)
		}
		if artifact != nil {
			return artifact
		}
	}

	for _, altOpts := range media.AlternativeInstagramOptions(p.cfg) {
		altOpts.JobID = d.ID
		artifact, err := p.extractor.Download(ctx, d.URL, media.AlternativeFormatSelector, altOpts)
		if err != nil {
			p.logWarn(ctx, "alternative extraction failed", "id", d.ID, "err", err)
			continue
		}
		if artifact.Title == "" {
			artifact.Title = title
		}
		return artifact
	}

	return nil
}

func (p *PipelineService) complete(
	ctx context.Context,
	d *model.Download,
	artifact *media.Artifact,
	start time.Time,
) error {
	title := artifact.Title
	if title == "" {
		title = "Unknown"
	}
	updated, err := p.repo.Complete(ctx, d.ID, model.CompletionResult{
		MediaType: artifact.MediaType,
		Title:     title,
		Filename:  artifact.Filename,
		FilePath:  artifact.FilePath,
	})
	if err != nil {
		return err
	}

	if p.cleanup != nil {
		if schedErr := p.cleanup.ScheduleCleanup(ctx, d.ID, p.retention); schedErr != nil {
			// The periodic batch sweep still collects the artifact.
			p.logWarn(ctx, "cleanup scheduling failed", "id", d.ID, "err", schedErr)
		}
	}

	if p.logger != nil {
		p.logger.InfoContext(ctx, "download completed",
			"id", updated.ID,
			"platform", updated.Platform,
			"media_type", updated.MediaType,
			"filename", updated.Filename,
		)
	}
	metrics.EmitDownloadLifecycle(p.metrics, metrics.DownloadMetric{
		Platform:   string(updated.Platform),
		Transition: "completed",
		Result:     metrics.ResultSuccess,
		Duration:   time.Since(start),
	})
	return nil
}

func (p *PipelineService) fail(
	ctx context.Context,
	d *model.Download,
	message string,
	reason media.FailureReason,
	start time.Time,
) error {
	updated, err := p.repo.Fail(ctx, d.ID, message)
	if err != nil {
		return err
	}

	if p.logger != nil {
		p.logger.InfoContext(ctx, "download failed",
			"id", updated.ID,
			"platform", updated.Platform,
			"reason", reason,
			"message", message,
		)
	}
	metrics.EmitDownloadLifecycle(p.metrics, metrics.DownloadMetric{
		Platform:   string(updated.Platform),
		Transition: "failed",
		Result:     metrics.ResultError,
		Duration:   time.Since(start),
		Err:        errors.New(string(reason)),
	})
	return nil
}

func (p *PipelineService) logWarn(ctx context.Context, msg string, args ...any) {
	if p.logger != nil {
		p.logger.WarnContext(ctx, msg, args...)
	}
}
