package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipper-dl/clipper/internal/domain/model"
	apperrors "github.com/clipper-dl/clipper/internal/errors"
	"github.com/clipper-dl/clipper/internal/service"
)

// fakeRepo is a minimal in-memory repository for handler tests.
type fakeRepo struct {
	mu        sync.Mutex
	downloads map[string]*model.Download
	seq       int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{downloads: make(map[string]*model.Download)}
}

func (r *fakeRepo) Create(
	_ context.Context,
	req *model.CreateDownloadRequest,
	platform model.Platform,
) (*model.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	d := &model.Download{
		ID:        fmt.Sprintf("dl-%04d", r.seq),
		UserID:    req.UserID,
		URL:       req.URL,
		Platform:  platform,
		MediaType: model.MediaTypeUnknown,
		Status:    model.StatusPending,
		CreatedAt: time.Now(),
	}
	r.downloads[d.ID] = d
	cp := *d
	return &cp, nil
}

func (r *fakeRepo) GetByID(_ context.Context, id string) (*model.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.downloads[id]
	if !ok {
		return nil, apperrors.NotFoundf("download %s not found", id)
	}
	cp := *d
	return &cp, nil
}

func (r *fakeRepo) GetByIDForUser(ctx context.Context, id, userID string) (*model.Download, error) {
	d, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.UserID != userID {
		return nil, apperrors.NotFoundf("download %s not found", id)
	}
	return d, nil
}

func (r *fakeRepo) ReserveNext(_ context.Context) (*model.Download, error) {
	return nil, model.ErrNoDownloadsAvailable
}

func (r *fakeRepo) Complete(
	_ context.Context,
	id string,
	result model.CompletionResult,
) (*model.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.downloads[id]
	now := time.Now()
	d.Status = model.StatusCompleted
	d.MediaType = result.MediaType
	d.Title = result.Title
	d.Filename = result.Filename
	d.FilePath = result.FilePath
	d.CompletedAt = &now
	cp := *d
	return &cp, nil
}

func (r *fakeRepo) Fail(_ context.Context, id, errorMessage string) (*model.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.downloads[id]
	d.Status = model.StatusFailed
	d.ErrorMessage = errorMessage
	cp := *d
	return &cp, nil
}

func (r *fakeRepo) CountPending(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, d := range r.downloads {
		if d.Status == model.StatusPending {
			count++
		}
	}
	return count, nil
}

func (r *fakeRepo) ListRecentByUser(
	_ context.Context,
	userID string,
	limit int,
) ([]*model.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.Download
	for _, d := range r.downloads {
		if d.UserID == userID {
			cp := *d
			out = append(out, &cp)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeRepo) SelectExpiredArtifacts(
	_ context.Context,
	_ time.Time,
	_ int,
) ([]*model.Download, error) {
	return nil, nil
}

func (r *fakeRepo) ClearArtifact(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.downloads[id]; ok {
		d.Filename = ""
		d.FilePath = ""
	}
	return nil
}

func (r *fakeRepo) Stats(_ context.Context) (*model.DownloadStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &model.DownloadStats{}
	for _, d := range r.downloads {
		switch d.Status {
		case model.StatusPending:
			stats.Pending++
		case model.StatusDownloading:
			stats.Downloading++
		case model.StatusCompleted:
			stats.Completed++
		case model.StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func newTestServer(t *testing.T, repo *fakeRepo, opts ...func(*service.DownloadServiceOptions)) http.Handler {
	t.Helper()

	svcOpts := service.DownloadServiceOptions{Repo: repo}
	for _, o := range opts {
		o(&svcOpts)
	}
	svc, err := service.NewDownloadService(svcOpts)
	require.NoError(t, err)
	return NewRouter(RouterServices{Downloads: svc})
}

func doJSON(
	t *testing.T,
	handler http.Handler,
	method, path, userID, body string,
) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set(UserIDHeader, userID)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateDownloadEndpoint(t *testing.T) {
	handler := newTestServer(t, newFakeRepo())

	rec := doJSON(t, handler, http.MethodPost, "/api/downloads", "user-1",
		`{"url":"https://www.instagram.com/reel/Cxyz/"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var d model.Download
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, model.StatusPending, d.Status)
	assert.Equal(t, model.PlatformInstagram, d.Platform)
	assert.NotEmpty(t, d.ID)

	// FilePath is internal and never leaves the API.
	assert.NotContains(t, rec.Body.String(), "file_path")
}

func TestCreateDownloadRequiresUser(t *testing.T) {
	handler := newTestServer(t, newFakeRepo())

	rec := doJSON(t, handler, http.MethodPost, "/api/downloads", "",
		`{"url":"https://www.instagram.com/reel/Cxyz/"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing_user")
}

func TestCreateDownloadRejectsBadBody(t *testing.T) {
	handler := newTestServer(t, newFakeRepo())

	rec := doJSON(t, handler, http.MethodPost, "/api/downloads", "user-1", `{"url":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_json")

	rec = doJSON(t, handler, http.MethodPost, "/api/downloads", "user-1", `{"url":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation_failed")
}

func TestCreateDownloadBackpressure(t *testing.T) {
	repo := newFakeRepo()
	handler := newTestServer(t, repo, func(o *service.DownloadServiceOptions) { o.MaxBacklog = 1 })

	rec := doJSON(t, handler, http.MethodPost, "/api/downloads", "user-1",
		`{"url":"https://www.tiktok.com/@a/video/1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/api/downloads", "user-1",
		`{"url":"https://www.tiktok.com/@a/video/2"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "backlog_full")
}

func TestGetStatusEndpoint(t *testing.T) {
	repo := newFakeRepo()
	handler := newTestServer(t, repo)
	ctx := context.Background()

	d, err := repo.Create(ctx, &model.CreateDownloadRequest{
		URL:    "https://www.instagram.com/p/Cabc/",
		UserID: "user-1",
	}, model.PlatformInstagram)
	require.NoError(t, err)

	rec := doJSON(t, handler, http.MethodGet, "/api/downloads/"+d.ID, "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status model.DownloadStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, model.StatusPending, status.Status)

	// Unknown ID and foreign user both read as not found.
	rec = doJSON(t, handler, http.MethodGet, "/api/downloads/nope", "user-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(t, handler, http.MethodGet, "/api/downloads/"+d.ID, "user-2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetFileEndpoint(t *testing.T) {
	repo := newFakeRepo()
	handler := newTestServer(t, repo)
	ctx := context.Background()
	dir := t.TempDir()

	d, err := repo.Create(ctx, &model.CreateDownloadRequest{
		URL:    "https://www.tiktok.com/@a/video/1",
		UserID: "user-1",
	}, model.PlatformTikTok)
	require.NoError(t, err)

	// Still pending.
	rec := doJSON(t, handler, http.MethodGet, "/api/downloads/"+d.ID+"/file", "user-1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_ready")

	path := filepath.Join(dir, d.ID+"_clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("video-bytes"), 0o644))
	_, err = repo.Complete(ctx, d.ID, model.CompletionResult{
		MediaType: model.MediaTypeVideo,
		Title:     "clip",
		Filename:  d.ID + "_clip.mp4",
		FilePath:  path,
	})
	require.NoError(t, err)

	rec = doJSON(t, handler, http.MethodGet, "/api/downloads/"+d.ID+"/file", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video-bytes", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), d.ID+"_clip.mp4")

	// After the sweeper clears the artifact the endpoint reports expiry.
	require.NoError(t, repo.ClearArtifact(ctx, d.ID))
	rec = doJSON(t, handler, http.MethodGet, "/api/downloads/"+d.ID+"/file", "user-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "file_expired")
}

func TestGetFileFailedDownload(t *testing.T) {
	repo := newFakeRepo()
	handler := newTestServer(t, repo)
	ctx := context.Background()

	d, err := repo.Create(ctx, &model.CreateDownloadRequest{
		URL:    "https://www.tiktok.com/@a/video/1",
		UserID: "user-1",
	}, model.PlatformTikTok)
	require.NoError(t, err)
	_, err = repo.Fail(ctx, d.ID, "Tarmoq xatoligi yuz berdi.")
	require.NoError(t, err)

	rec := doJSON(t, handler, http.MethodGet, "/api/downloads/"+d.ID+"/file", "user-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "download_failed")
}

func TestListEndpoint(t *testing.T) {
	repo := newFakeRepo()
	handler := newTestServer(t, repo)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := repo.Create(ctx, &model.CreateDownloadRequest{
			URL:    "https://www.tiktok.com/@a/video/1",
			UserID: "user-1",
		}, model.PlatformTikTok)
		require.NoError(t, err)
	}
	_, err := repo.Create(ctx, &model.CreateDownloadRequest{
		URL:    "https://www.tiktok.com/@b/video/9",
		UserID: "user-2",
	}, model.PlatformTikTok)
	require.NoError(t, err)

	rec := doJSON(t, handler, http.MethodGet, "/api/downloads?limit=2", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Downloads []*model.Download `json:"downloads"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Downloads, 2)
	for _, d := range resp.Downloads {
		assert.Equal(t, "user-1", d.UserID)
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestServer(t, newFakeRepo())

	rec := doJSON(t, handler, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatsEndpoint(t *testing.T) {
	repo := newFakeRepo()
	handler := newTestServer(t, repo)

	_, err := repo.Create(context.Background(), &model.CreateDownloadRequest{
		URL:    "https://www.tiktok.com/@a/video/1",
		UserID: "user-1",
	}, model.PlatformTikTok)
	require.NoError(t, err)

	rec := doJSON(t, handler, http.MethodGet, "/api/downloads/stats", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats model.DownloadStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Pending)
}
