// Package downloader runs the extraction worker pool that drains pending
// downloads and drives each one through the media pipeline.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clipper-dl/clipper/config"
	"github.com/clipper-dl/clipper/internal/domain/model"
	"github.com/clipper-dl/clipper/internal/service"
)

// RunnerOptions configures the downloader worker pool.
type RunnerOptions struct {
	Downloads *service.DownloadService // Required: reservation + wakeup source
	Pipeline  *service.PipelineService // Required: per-download processor
	Config    config.DownloaderConfig  // Concurrency and poll settings
	Logger    *slog.Logger             // Optional: structured logger
}

// Runner owns a fixed pool of workers. Each worker reserves one pending
// download at a time, so total in-flight extractions never exceed
// Concurrency regardless of submission rate.
type Runner struct {
	downloads *service.DownloadService
	pipeline  *service.PipelineService
	logger    *slog.Logger
	workers   int
	poll      time.Duration
}

// NewRunner constructs a downloader runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Downloads == nil {
		return nil, errors.New("DownloadService is required")
	}
	if opts.Pipeline == nil {
		return nil, errors.New("PipelineService is required")
	}

	workers := opts.Config.Concurrency
	if workers <= 0 {
		workers = 1
	}
	poll := opts.Config.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "downloader")
	}

	return &Runner{
		downloads: opts.Downloads,
		pipeline:  opts.Pipeline,
		logger:    logger,
		workers:   workers,
		poll:      poll,
	}, nil
}

// Run starts worker goroutines and processes downloads until the context is
// cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if r.logger != nil {
		r.logger.InfoContext(ctx, "starting downloader", "workers", r.workers, "poll_interval", r.poll)
	}

	// Derive a cancellable context so the first fatal error stops all
	// workers.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	unsub, notify := r.downloads.Subscribe()
	defer unsub()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	for range r.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.workerLoop(ctx, notify); err != nil {
				// first error wins, cancels all workers
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return ctx.Err()
	}
}

func (r *Runner) workerLoop(ctx context.Context, notify <-chan struct{}) error {
	for ctx.Err() == nil {
		d, err := r.downloads.ReserveNext(ctx)
		switch {
		case err == nil:
			r.process(ctx, d)
		case errors.Is(err, model.ErrNoDownloadsAvailable):
			if !r.waitForWork(ctx, notify) {
				return nil
			}
		case errors.Is(err, context.Canceled):
			return nil
		default:
			return fmt.Errorf("reserve next: %w", err)
		}
	}
	return nil
}

// waitForWork blocks until a submission wakeup arrives or the poll interval
// elapses. Polling covers downloads created by other instances, which this
// process never receives wakeups for.
func (r *Runner) waitForWork(ctx context.Context, notify <-chan struct{}) bool {
	timer := time.NewTimer(r.poll)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-notify:
		return true
	case <-timer.C:
		return true
	}
}

func (r *Runner) process(ctx context.Context, d *model.Download) {
	if r.logger != nil {
		r.logger.InfoContext(ctx, "processing download", "id", d.ID, "platform", d.Platform, "url", d.URL)
	}
	if err := r.pipeline.Run(ctx, d); err != nil && r.logger != nil && !errors.Is(err, context.Canceled) {
		r.logger.ErrorContext(ctx, "pipeline error", "id", d.ID, "error", err)
	}
}
