package downloader

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipper-dl/clipper/config"
	"github.com/clipper-dl/clipper/internal/domain/model"
	apperrors "github.com/clipper-dl/clipper/internal/errors"
	"github.com/clipper-dl/clipper/internal/media"
	"github.com/clipper-dl/clipper/internal/service"
)

// queueRepo is a minimal in-memory repository: a FIFO of pending downloads
// plus terminal-state recording.
type queueRepo struct {
	mu       sync.Mutex
	pending  []*model.Download
	seq      int
	done     map[string]model.DownloadStatus
	reserved int
}

func newQueueRepo() *queueRepo {
	return &queueRepo{done: make(map[string]model.DownloadStatus)}
}

func (r *queueRepo) Create(
	_ context.Context,
	req *model.CreateDownloadRequest,
	platform model.Platform,
) (*model.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	d := &model.Download{
		ID:       fmt.Sprintf("dl-%04d", r.seq),
		UserID:   req.UserID,
		URL:      req.URL,
		Platform: platform,
		Status:   model.StatusPending,
	}
	r.pending = append(r.pending, d)
	return d, nil
}

func (r *queueRepo) ReserveNext(_ context.Context) (*model.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) == 0 {
		return nil, model.ErrNoDownloadsAvailable
	}
	d := r.pending[0]
	r.pending = r.pending[1:]
	d.Status = model.StatusDownloading
	r.reserved++
	cp := *d
	return &cp, nil
}

func (r *queueRepo) Complete(
	_ context.Context,
	id string,
	result model.CompletionResult,
) (*model.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done[id] = model.StatusCompleted
	return &model.Download{ID: id, Status: model.StatusCompleted, Title: result.Title}, nil
}

func (r *queueRepo) Fail(_ context.Context, id, errorMessage string) (*model.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done[id] = model.StatusFailed
	return &model.Download{ID: id, Status: model.StatusFailed, ErrorMessage: errorMessage}, nil
}

func (r *queueRepo) GetByID(_ context.Context, id string) (*model.Download, error) {
	return nil, apperrors.NotFoundf("download %s not found", id)
}

func (r *queueRepo) GetByIDForUser(_ context.Context, id, _ string) (*model.Download, error) {
	return nil, apperrors.NotFoundf("download %s not found", id)
}

func (r *queueRepo) CountPending(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending), nil
}

func (r *queueRepo) ListRecentByUser(_ context.Context, _ string, _ int) ([]*model.Download, error) {
	return nil, nil
}

func (r *queueRepo) SelectExpiredArtifacts(
	_ context.Context,
	_ time.Time,
	_ int,
) ([]*model.Download, error) {
	return nil, nil
}

func (r *queueRepo) ClearArtifact(_ context.Context, _ string) error { return nil }

func (r *queueRepo) Stats(_ context.Context) (*model.DownloadStats, error) {
	return &model.DownloadStats{}, nil
}

func (r *queueRepo) doneCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.done)
}

// okExtractor completes every download on the first selector.
type okExtractor struct{}

func (okExtractor) Probe(_ context.Context, _ string, _ media.Options) (*media.Probe, error) {
	return &media.Probe{
		Title:   "clip",
		Formats: []media.Format{{FormatID: "hd", Ext: "mp4", VCodec: "h264", Height: 720}},
	}, nil
}

func (okExtractor) Download(
	_ context.Context,
	_, _ string,
	opts media.Options,
) (*media.Artifact, error) {
	return &media.Artifact{
		Filename:  opts.JobID + "_clip.mp4",
		FilePath:  "/media/tiktok/" + opts.JobID + "_clip.mp4",
		MediaType: model.MediaTypeVideo,
	}, nil
}

type noImages struct{}

func (noImages) Fetch(
	_ context.Context,
	_, _, _ string,
	_ model.Platform,
) (*media.Artifact, error) {
	return nil, fmt.Errorf("no images in this test")
}

func newTestRunner(t *testing.T, repo *queueRepo, workers int) (*Runner, *service.DownloadService) {
	t.Helper()

	downloads, err := service.NewDownloadService(service.DownloadServiceOptions{Repo: repo})
	require.NoError(t, err)

	pipeline, err := service.NewPipelineService(service.PipelineServiceOptions{
		Repo:      repo,
		Extractor: okExtractor{},
		Images:    noImages{},
	})
	require.NoError(t, err)

	runner, err := NewRunner(RunnerOptions{
		Downloads: downloads,
		Pipeline:  pipeline,
		Config: config.DownloaderConfig{
			Concurrency:  workers,
			PollInterval: 20 * time.Millisecond,
		},
	})
	require.NoError(t, err)
	return runner, downloads
}

func TestRunnerDrainsPendingDownloads(t *testing.T) {
	repo := newQueueRepo()
	runner, downloads := newTestRunner(t, repo, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 5; i++ {
		_, err := downloads.Create(ctx, &model.CreateDownloadRequest{
			URL:    "https://www.tiktok.com/@user/video/123",
			UserID: "user-1",
		})
		require.NoError(t, err)
	}

	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	require.Eventually(t, func() bool { return repo.doneCount() == 5 },
		2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}

func TestRunnerPicksUpLateSubmissions(t *testing.T) {
	repo := newQueueRepo()
	runner, downloads := newTestRunner(t, repo, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	// Let the worker reach its idle wait before submitting.
	time.Sleep(30 * time.Millisecond)
	_, err := downloads.Create(ctx, &model.CreateDownloadRequest{
		URL:    "https://www.tiktok.com/@user/video/999",
		UserID: "user-1",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return repo.doneCount() == 1 },
		2*time.Second, 10*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
