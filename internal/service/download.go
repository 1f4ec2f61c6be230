// Package service holds the business logic for download submission, the
// extraction pipeline, and artifact retention.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/clipper-dl/clipper/config"
	"github.com/clipper-dl/clipper/internal/core"
	"github.com/clipper-dl/clipper/internal/domain/model"
	apperrors "github.com/clipper-dl/clipper/internal/errors"
	"github.com/clipper-dl/clipper/internal/media"
	"github.com/clipper-dl/clipper/internal/observability/statsd"
	"github.com/clipper-dl/clipper/internal/platform"
)

// ErrBacklogFull is returned when the pending queue is at its configured
// limit and new submissions are rejected for backpressure.
var ErrBacklogFull = errors.New("download backlog is full, try again later")

// DownloadServiceOptions groups dependencies for DownloadService.
type DownloadServiceOptions struct {
	Repo         core.DownloadRepository // Required: download repository
	Prober       media.Prober            // Optional: enables the preview endpoint
	ExtractorCfg config.ExtractorConfig  // Extraction settings for previews
	MaxBacklog   int                     // Pending-row limit; zero disables backpressure
	Logger       *slog.Logger            // Optional: structured logger
	Metrics      statsd.Sink             // Optional: metrics sink (StatsD-compatible)
}

// DownloadService handles submission, status polling, and listing of
// download jobs.
type DownloadService struct {
	repo         core.DownloadRepository
	prober       media.Prober
	extractorCfg config.ExtractorConfig
	maxBacklog   int
	logger       *slog.Logger
	metrics      statsd.Sink
	notifier     *notifier
}

// NewDownloadService constructs a new DownloadService.
func NewDownloadService(opts DownloadServiceOptions) (*DownloadService, error) {
	if opts.Repo == nil {
		return nil, errors.New("DownloadRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "download_service")
	}

	return &DownloadService{
		repo:         opts.Repo,
		prober:       opts.Prober,
		extractorCfg: opts.ExtractorCfg,
		maxBacklog:   opts.MaxBacklog,
		logger:       logger,
		metrics:      opts.Metrics,
		notifier:     newNotifier(),
	}, nil
}

// Create validates a submission, classifies its platform, and persists a
// pending download. Unsupported platforms still produce a record so the
// pipeline can fail them with the localized message; the submitter gets the
// job ID either way and learns the outcome by polling.
func (s *DownloadService) Create(
	ctx context.Context,
	req *model.CreateDownloadRequest,
) (*model.Download, error) {
	if req == nil {
		return nil, apperrors.Validation("create download request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	if s.maxBacklog > 0 {
		pending, err := s.repo.CountPending(ctx)
		if err != nil {
			return nil, fmt.Errorf("check backlog: %w", err)
		}
		if pending >= s.maxBacklog {
			if s.metrics != nil {
				s.metrics.Count("download.backlog_rejected", 1, nil)
			}
			return nil, ErrBacklogFull
		}
	}

	detected := platform.Detect(req.URL)
	d, err := s.repo.Create(ctx, req, detected)
	if err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "download created",
			"id", d.ID,
			"platform", d.Platform,
			"user_id", d.UserID,
		)
	}
	s.notifier.Notify()
	return d, nil
}

// Subscribe registers for new-submission wakeups. Workers use this to react
// immediately instead of waiting out their poll interval.
func (s *DownloadService) Subscribe() (func(), <-chan struct{}) {
	return s.notifier.Subscribe()
}

// ReserveNext claims the oldest pending download for processing.
func (s *DownloadService) ReserveNext(ctx context.Context) (*model.Download, error) {
	return s.repo.ReserveNext(ctx)
}

// GetForUser retrieves a download scoped to its owner.
func (s *DownloadService) GetForUser(ctx context.Context, id, userID string) (*model.Download, error) {
	return s.repo.GetByIDForUser(ctx, id, userID)
}

// GetStatus returns the polling payload for a download scoped to its owner.
// A completed download whose artifact the sweeper already removed reports
// FileExpired while keeping its completed status.
func (s *DownloadService) GetStatus(
	ctx context.Context,
	id, userID string,
) (*model.DownloadStatusResponse, error) {
	d, err := s.repo.GetByIDForUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	return &model.DownloadStatusResponse{
		Status:       d.Status,
		Title:        d.Title,
		Filename:     d.Filename,
		MediaType:    d.MediaType,
		ErrorMessage: d.ErrorMessage,
		CompletedAt:  d.CompletedAt,
		FileExpired:  d.Status == model.StatusCompleted && !d.HasArtifact(),
	}, nil
}

// ListRecent returns a user's most recent downloads, newest first.
func (s *DownloadService) ListRecent(
	ctx context.Context,
	userID string,
	limit int,
) ([]*model.Download, error) {
	return s.repo.ListRecentByUser(ctx, userID, limit)
}

// Stats returns counts of downloads per status.
func (s *DownloadService) Stats(ctx context.Context) (*model.DownloadStats, error) {
	return s.repo.Stats(ctx)
}

// Preview probes a URL without downloading and returns its metadata.
func (s *DownloadService) Preview(ctx context.Context, url string) (*model.PreviewInfo, error) {
	if s.prober == nil {
		return nil, apperrors.Internal("preview is not configured")
	}

	detected := platform.Detect(url)
	if ok, msg := platform.Validate(url, detected); !ok {
		return nil, apperrors.Validation(msg)
	}

	probe, err := s.prober.Probe(ctx, url, media.BuildOptions(detected, s.extractorCfg))
	if err != nil {
		reason := media.ClassifyFailure(err)
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation,
			media.LocalizedMessage(reason, detected, err.Error()))
	}

	return &model.PreviewInfo{
		Title:       probe.Title,
		Duration:    int64(probe.Duration),
		Uploader:    probe.Uploader,
		Thumbnail:   probe.Thumbnail,
		FormatCount: len(probe.Formats),
	}, nil
}
