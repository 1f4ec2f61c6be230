package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipper-dl/clipper/config"
	"github.com/clipper-dl/clipper/internal/domain/model"
	apperrors "github.com/clipper-dl/clipper/internal/errors"
	"github.com/clipper-dl/clipper/internal/media"
)

func newDownloadService(t *testing.T, opts DownloadServiceOptions) (*DownloadService, *memRepo) {
	t.Helper()
	repo := newMemRepo()
	if opts.Repo == nil {
		opts.Repo = repo
	}
	svc, err := NewDownloadService(opts)
	require.NoError(t, err)
	return svc, repo
}

func TestDownloadServiceCreate(t *testing.T) {
	svc, _ := newDownloadService(t, DownloadServiceOptions{})
	ctx := context.Background()

	d, err := svc.Create(ctx, &model.CreateDownloadRequest{
		URL:    "https://www.instagram.com/reel/Cxyz123/",
		UserID: "user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, d.Status)
	assert.Equal(t, model.PlatformInstagram, d.Platform)
	assert.Equal(t, "user-1", d.UserID)
	assert.NotEmpty(t, d.ID)
}

func TestDownloadServiceCreateUnsupportedURLStillCreates(t *testing.T) {
	// Unknown hosts get a record too: the pipeline fails them with the
	// user-facing message, so the submitter learns the outcome by polling.
	svc, repo := newDownloadService(t, DownloadServiceOptions{})

	d, err := svc.Create(context.Background(), &model.CreateDownloadRequest{
		URL:    "https://example.com/video/123",
		UserID: "user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, model.PlatformOther, d.Platform)
	assert.Equal(t, model.StatusPending, repo.get(d.ID).Status)
}

func TestDownloadServiceCreateValidation(t *testing.T) {
	svc, _ := newDownloadService(t, DownloadServiceOptions{})
	ctx := context.Background()

	cases := []struct {
		name string
		req  *model.CreateDownloadRequest
	}{
		{name: "nil request", req: nil},
		{name: "missing url", req: &model.CreateDownloadRequest{UserID: "u"}},
		{name: "missing user", req: &model.CreateDownloadRequest{URL: "https://tiktok.com/@a/video/1"}},
		{name: "blank url", req: &model.CreateDownloadRequest{URL: "   ", UserID: "u"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.req)
			assert.True(t, apperrors.IsValidation(err), "expected validation error, got %v", err)
		})
	}
}

func TestDownloadServiceBackpressure(t *testing.T) {
	svc, _ := newDownloadService(t, DownloadServiceOptions{MaxBacklog: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.Create(ctx, &model.CreateDownloadRequest{
			URL:    "https://www.tiktok.com/@user/video/123",
			UserID: "user-1",
		})
		require.NoError(t, err)
	}

	_, err := svc.Create(ctx, &model.CreateDownloadRequest{
		URL:    "https://www.tiktok.com/@user/video/456",
		UserID: "user-1",
	})
	require.ErrorIs(t, err, ErrBacklogFull)

	// Draining the backlog opens the door again.
	_, err = svc.ReserveNext(ctx)
	require.NoError(t, err)
	_, err = svc.Create(ctx, &model.CreateDownloadRequest{
		URL:    "https://www.tiktok.com/@user/video/456",
		UserID: "user-1",
	})
	assert.NoError(t, err)
}

func TestDownloadServiceCreateNotifiesSubscribers(t *testing.T) {
	svc, _ := newDownloadService(t, DownloadServiceOptions{})

	unsub, ch := svc.Subscribe()
	defer unsub()

	_, err := svc.Create(context.Background(), &model.CreateDownloadRequest{
		URL:    "https://pin.it/abc123",
		UserID: "user-1",
	})
	require.NoError(t, err)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a wakeup after Create")
	}
}

func TestDownloadServiceGetStatusFileExpired(t *testing.T) {
	svc, repo := newDownloadService(t, DownloadServiceOptions{})
	ctx := context.Background()

	d, err := svc.Create(ctx, &model.CreateDownloadRequest{
		URL:    "https://www.instagram.com/p/Cabc/",
		UserID: "user-1",
	})
	require.NoError(t, err)
	_, err = repo.ReserveNext(ctx)
	require.NoError(t, err)
	_, err = repo.Complete(ctx, d.ID, model.CompletionResult{
		MediaType: model.MediaTypeVideo,
		Title:     "clip",
		Filename:  d.ID + "_clip.mp4",
		FilePath:  "/media/instagram/" + d.ID + "_clip.mp4",
	})
	require.NoError(t, err)

	status, err := svc.GetStatus(ctx, d.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, status.Status)
	assert.False(t, status.FileExpired)

	// After the sweeper clears the artifact the record stays completed but
	// reports the file as expired.
	require.NoError(t, repo.ClearArtifact(ctx, d.ID))
	status, err = svc.GetStatus(ctx, d.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, status.Status)
	assert.True(t, status.FileExpired)

	// Other users cannot see the record at all.
	_, err = svc.GetStatus(ctx, d.ID, "user-2")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestDownloadServicePreview(t *testing.T) {
	extractor := &stubExtractor{
		probe: &media.Probe{
			Title:    "Sunset timelapse",
			Duration: 42.7,
			Uploader: "someone",
			Formats: []media.Format{
				{FormatID: "sd", Ext: "mp4", VCodec: "h264", Height: 480},
				{FormatID: "hd", Ext: "mp4", VCodec: "h264", Height: 720},
			},
		},
	}
	svc, _ := newDownloadService(t, DownloadServiceOptions{
		Prober:       extractor,
		ExtractorCfg: config.ExtractorConfig{SocketTimeout: 30 * time.Second, Retries: 3},
	})

	info, err := svc.Preview(context.Background(), "https://www.tiktok.com/@user/video/123")
	require.NoError(t, err)
	assert.Equal(t, "Sunset timelapse", info.Title)
	assert.Equal(t, int64(42), info.Duration)
	assert.Equal(t, 2, info.FormatCount)
}

func TestDownloadServicePreviewRejectsUnsupportedURL(t *testing.T) {
	svc, _ := newDownloadService(t, DownloadServiceOptions{Prober: &stubExtractor{}})

	_, err := svc.Preview(context.Background(), "https://example.com/watch?v=1")
	require.True(t, apperrors.IsValidation(err))
	assert.Contains(t, err.Error(), "Unsupported platform")
}

func TestDownloadServicePreviewLocalizesProbeFailure(t *testing.T) {
	svc, _ := newDownloadService(t, DownloadServiceOptions{
		Prober: &stubExtractor{probeErr: errors.New("ERROR: login required to view this post")},
	})

	_, err := svc.Preview(context.Background(), "https://www.instagram.com/p/Cabc/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Instagram post maxfiy")
}
