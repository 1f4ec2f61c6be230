package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/clipper-dl/clipper/config"
	"github.com/clipper-dl/clipper/internal/core"
	"github.com/clipper-dl/clipper/internal/domain/model"
	apperrors "github.com/clipper-dl/clipper/internal/errors"
	"github.com/clipper-dl/clipper/internal/observability/statsd"
)

// SweeperServiceOptions groups dependencies for SweeperService.
type SweeperServiceOptions struct {
	Repo    core.DownloadRepository // Required: download repository
	Queue   core.CleanupQueue       // Optional: durable delayed-cleanup queue
	Config  config.SweeperConfig    // Required: sweeper configuration
	Logger  *slog.Logger            // Optional: structured logger
	Metrics statsd.Sink             // Optional: metrics sink (StatsD-compatible)

	// TimeNow is injectable for tests; defaults to time.Now.
	TimeNow func() time.Time
}

// SweeperService removes download artifacts after the retention window.
//
// Two mechanisms cooperate:
//   - per-job scheduled cleanups via the delayed queue (or an in-process
//     timer when no queue is configured), and
//   - a periodic batch sweep that catches anything the first mechanism
//     missed, for example after a crash.
//
// Both paths are idempotent, so racing on the same job is harmless.
type SweeperService struct {
	repo    core.DownloadRepository
	queue   core.CleanupQueue
	config  config.SweeperConfig
	logger  *slog.Logger
	metrics statsd.Sink
	now     func() time.Time
}

// SweepResult reports the outcome of one batch sweep pass.
type SweepResult struct {
	Count      int   `json:"count"`
	BytesFreed int64 `json:"bytes_freed"`
}

// NewSweeperService constructs a new SweeperService.
func NewSweeperService(opts SweeperServiceOptions) (*SweeperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("DownloadRepository is required")
	}

	now := opts.TimeNow
	if now == nil {
		now = time.Now
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "sweeper_service")
		logger.Debug("SweeperService initialized",
			"interval", opts.Config.Interval,
			"retention_window", opts.Config.RetentionWindow,
			"batch_size", opts.Config.BatchSize,
		)
	}

	return &SweeperService{
		repo:    opts.Repo,
		queue:   opts.Queue,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
		now:     now,
	}, nil
}

// ScheduleCleanup enqueues deletion of a job's artifact after delay. With a
// durable queue the entry survives restarts; without one a detached timer
// covers the common case and the batch sweep covers the rest.
func (s *SweeperService) ScheduleCleanup(ctx context.Context, jobID string, delay time.Duration) error {
	if delay <= 0 {
		delay = s.config.RetentionWindow
	}

	if s.queue != nil {
		due := s.now().Add(delay)
		if err := s.queue.Schedule(ctx, jobID, due); err != nil {
			return fmt.Errorf("schedule cleanup for %s: %w", jobID, err)
		}
		return nil
	}

	time.AfterFunc(delay, func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.cleanupOne(cleanupCtx, jobID)
	})
	return nil
}

// cleanupOne removes a single job's artifact if it still exists. Safe to
// call multiple times for the same job.
func (s *SweeperService) cleanupOne(ctx context.Context, jobID string) {
	d, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		if !apperrors.IsNotFound(err) && s.logger != nil {
			s.logger.ErrorContext(ctx, "cleanup lookup failed", "id", jobID, "err", err)
		}
		return
	}
	if !d.HasArtifact() {
		return
	}

	if _, err := s.removeArtifact(ctx, d); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "cleanup failed", "id", jobID, "err", err)
	}
}

// removeArtifact deletes the file and clears the record's artifact columns.
// Returns the bytes freed. A file already gone is a no-op, not an error.
func (s *SweeperService) removeArtifact(ctx context.Context, d *model.Download) (int64, error) {
	var freed int64
	if info, err := os.Stat(d.FilePath); err == nil {
		freed = info.Size()
		if rmErr := os.Remove(d.FilePath); rmErr != nil && !os.IsNotExist(rmErr) {
			return 0, fmt.Errorf("remove %s: %w", d.FilePath, rmErr)
		}
	}

	if err := s.repo.ClearArtifact(ctx, d.ID); err != nil {
		return freed, err
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "artifact removed",
			"id", d.ID,
			"path", d.FilePath,
			"bytes", freed,
		)
	}
	return freed, nil
}

// Sweep runs one batch pass over completed downloads whose artifacts are
// older than maxAge. dryRun reports what would be removed without mutating
// anything.
func (s *SweeperService) Sweep(ctx context.Context, maxAge time.Duration, dryRun bool) (*SweepResult, error) {
	if maxAge <= 0 {
		maxAge = s.config.RetentionWindow
	}
	cutoff := s.now().Add(-maxAge)

	result := &SweepResult{}
	for {
		expired, err := s.repo.SelectExpiredArtifacts(ctx, cutoff, s.config.BatchSize)
		if err != nil {
			return result, err
		}
		if len(expired) == 0 {
			return result, nil
		}

		for _, d := range expired {
			if dryRun {
				result.Count++
				if info, statErr := os.Stat(d.FilePath); statErr == nil {
					result.BytesFreed += info.Size()
				}
				continue
			}

			freed, rmErr := s.removeArtifact(ctx, d)
			if rmErr != nil {
				if s.logger != nil {
					s.logger.ErrorContext(ctx, "sweep item failed", "id", d.ID, "err", rmErr)
				}
				continue
			}
			result.Count++
			result.BytesFreed += freed
		}

		if dryRun || len(expired) < s.config.BatchSize {
			return result, nil
		}
	}
}

// drainDueQueue processes all queued cleanups that have come due.
func (s *SweeperService) drainDueQueue(ctx context.Context) {
	if s.queue == nil {
		return
	}

	for {
		due, err := s.queue.PopDue(ctx, s.now(), s.config.BatchSize)
		if err != nil {
			if s.logger != nil {
				s.logger.ErrorContext(ctx, "cleanup queue read failed", "err", err)
			}
			return
		}
		if len(due) == 0 {
			return
		}
		for _, jobID := range due {
			s.cleanupOne(ctx, jobID)
		}
		if len(due) < s.config.BatchSize {
			return
		}
	}
}

// Run starts the sweeper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *SweeperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting sweeper service", "interval", s.config.Interval)
	}

	// Jitter prevents a thundering herd when multiple instances start
	// together.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.runPass(ctx)

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "sweeper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			s.runPass(ctx)
		}
	}
}

func (s *SweeperService) runPass(ctx context.Context) {
	start := time.Now()
	s.drainDueQueue(ctx)

	result, err := s.Sweep(ctx, s.config.RetentionWindow, false)
	if err != nil {
		if s.logger != nil && !errors.Is(err, context.Canceled) {
			s.logger.ErrorContext(ctx, "sweep pass failed", "err", err)
		}
		return
	}

	if s.metrics != nil {
		s.metrics.Count("sweeper.artifacts_removed", int64(result.Count), nil)
		s.metrics.Gauge("sweeper.bytes_freed", float64(result.BytesFreed), nil)
		s.metrics.Timing("sweeper.pass_duration", time.Since(start), nil)
	}
	if s.logger != nil && result.Count > 0 {
		s.logger.InfoContext(ctx, "sweep pass finished",
			"removed", result.Count,
			"bytes_freed", result.BytesFreed,
			"elapsed", time.Since(start),
		)
	}
}

func (s *SweeperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos))

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}
