package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/clipper-dl/clipper/internal/domain/model"
	apperrors "github.com/clipper-dl/clipper/internal/errors"
	"github.com/clipper-dl/clipper/internal/media"
)

// memRepo is an in-memory DownloadRepository that enforces the same status
// transitions as the Postgres implementation.
type memRepo struct {
	mu        sync.Mutex
	downloads map[string]*model.Download
	seq       int

	countPendingErr error
}

func newMemRepo() *memRepo {
	return &memRepo{downloads: make(map[string]*model.Download)}
}

func (r *memRepo) Create(
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
		CreatedAt: time.Now().Add(time.Duration(r.seq) * time.Millisecond),
	}
	r.downloads[d.ID] = d
	return copyDownload(d), nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (*model.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.downloads[id]
	if !ok {
		return nil, apperrors.NotFoundf("download %s not found", id)
	}
	return copyDownload(d), nil
}

func (r *memRepo) GetByIDForUser(ctx context.Context, id, userID string) (*model.Download, error) {
	d, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.UserID != userID {
		return nil, apperrors.NotFoundf("download %s not found", id)
	}
	return d, nil
}

func (r *memRepo) ReserveNext(_ context.Context) (*model.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var oldest *model.Download
	for _, d := range r.downloads {
		if d.Status != model.StatusPending {
			continue
		}
		if oldest == nil || d.CreatedAt.Before(oldest.CreatedAt) {
			oldest = d
		}
	}
	if oldest == nil {
		return nil, model.ErrNoDownloadsAvailable
	}
	oldest.Status = model.StatusDownloading
	return copyDownload(oldest), nil
}

func (r *memRepo) Complete(
	_ context.Context,
	id string,
	result model.CompletionResult,
) (*model.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.downloads[id]
	if !ok {
		return nil, apperrors.NotFoundf("download %s not found", id)
	}
	if d.Status != model.StatusDownloading {
		return nil, apperrors.Conflict(fmt.Sprintf("download %s is %s and cannot transition to completed", id, d.Status))
	}
	now := time.Now()
	d.Status = model.StatusCompleted
	d.MediaType = result.MediaType
	d.Title = result.Title
	d.Filename = result.Filename
	d.FilePath = result.FilePath
	d.CompletedAt = &now
	return copyDownload(d), nil
}

func (r *memRepo) Fail(_ context.Context, id, errorMessage string) (*model.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.downloads[id]
	if !ok {
		return nil, apperrors.NotFoundf("download %s not found", id)
	}
	if d.Status != model.StatusPending && d.Status != model.StatusDownloading {
		return nil, apperrors.Conflict(fmt.Sprintf("download %s is %s and cannot transition to failed", id, d.Status))
	}
	now := time.Now()
	d.Status = model.StatusFailed
	d.ErrorMessage = errorMessage
	d.CompletedAt = &now
	return copyDownload(d), nil
}

func (r *memRepo) CountPending(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.countPendingErr != nil {
		return 0, r.countPendingErr
	}
	count := 0
	for _, d := range r.downloads {
		if d.Status == model.StatusPending {
			count++
		}
	}
	return count, nil
}

func (r *memRepo) ListRecentByUser(
	_ context.Context,
	userID string,
	limit int,
) ([]*model.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.Download
	for _, d := range r.downloads {
		if d.UserID == userID {
			out = append(out, copyDownload(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) SelectExpiredArtifacts(
	_ context.Context,
	cutoff time.Time,
	limit int,
) ([]*model.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.Download
	for _, d := range r.downloads {
		if !d.HasArtifact() || d.CompletedAt == nil || !d.CompletedAt.Before(cutoff) {
			continue
		}
		out = append(out, copyDownload(d))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *memRepo) ClearArtifact(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.downloads[id]; ok {
		d.Filename = ""
		d.FilePath = ""
	}
	return nil
}

func (r *memRepo) Stats(_ context.Context) (*model.DownloadStats, error) {
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

func (r *memRepo) get(id string) *model.Download {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyDownload(r.downloads[id])
}

func copyDownload(d *model.Download) *model.Download {
	if d == nil {
		return nil
	}
	cp := *d
	return &cp
}

// extractCall records one Download invocation on the stub extractor.
type extractCall struct {
	selector string
	opts     media.Options
}

// stubExtractor scripts probe and per-selector download outcomes.
type stubExtractor struct {
	mu sync.Mutex

	probe    *media.Probe
	probeErr error

	// artifacts maps format selector to a successful result; selectors
	// absent from the map fail with downloadErr.
	artifacts   map[string]*media.Artifact
	downloadErr error

	calls []extractCall
}

func (s *stubExtractor) Probe(_ context.Context, _ string, _ media.Options) (*media.Probe, error) {
	if s.probeErr != nil {
		return nil, s.probeErr
	}
	return s.probe, nil
}

func (s *stubExtractor) Download(
	_ context.Context,
	_ string,
	formatSelector string,
	opts media.Options,
) (*media.Artifact, error) {
	s.mu.Lock()
	s.calls = append(s.calls, extractCall{selector: formatSelector, opts: opts})
	s.mu.Unlock()

	if a, ok := s.artifacts[formatSelector]; ok {
		cp := *a
		return &cp, nil
	}
	if s.downloadErr != nil {
		return nil, s.downloadErr
	}
	return nil, fmt.Errorf("no artifact scripted for selector %q", formatSelector)
}

func (s *stubExtractor) callCount(selector string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.selector == selector {
			n++
		}
	}
	return n
}

// stubImages serves scripted artifacts by image URL.
type stubImages struct {
	mu        sync.Mutex
	artifacts map[string]*media.Artifact
	fetched   []string
}

func (s *stubImages) Fetch(
	_ context.Context,
	imageURL, title, jobID string,
	_ model.Platform,
) (*media.Artifact, error) {
	s.mu.Lock()
	s.fetched = append(s.fetched, imageURL)
	s.mu.Unlock()

	if a, ok := s.artifacts[imageURL]; ok {
		cp := *a
		if cp.Title == "" {
			cp.Title = title
		}
		if cp.Filename == "" {
			cp.Filename = jobID + "_image.jpg"
		}
		return &cp, nil
	}
	return nil, fmt.Errorf("image fetch failed for %s", imageURL)
}

// stubBypass counts invocations and returns a scripted result.
type stubBypass struct {
	mu       sync.Mutex
	artifact *media.Artifact
	err      error
	calls    int
}

func (s *stubBypass) Run(_ context.Context, _, _ string) (*media.Artifact, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.artifact, s.err
}

func (s *stubBypass) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordingScheduler captures ScheduleCleanup calls.
type recordingScheduler struct {
	mu    sync.Mutex
	calls []cleanupCall
	err   error
}

type cleanupCall struct {
	jobID string
	delay time.Duration
}

func (s *recordingScheduler) ScheduleCleanup(_ context.Context, jobID string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, cleanupCall{jobID: jobID, delay: delay})
	return s.err
}

// memQueue is an in-memory CleanupQueue for sweeper tests.
type memQueue struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func newMemQueue() *memQueue {
	return &memQueue{entries: make(map[string]time.Time)}
}

func (q *memQueue) Schedule(_ context.Context, jobID string, due time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries[jobID] = due
	return nil
}

func (q *memQueue) PopDue(_ context.Context, now time.Time, limit int) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []string
	for id, at := range q.entries {
		if !at.After(now) {
			due = append(due, id)
			if limit > 0 && len(due) >= limit {
				break
			}
		}
	}
	for _, id := range due {
		delete(q.entries, id)
	}
	sort.Strings(due)
	return due, nil
}

func (q *memQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
