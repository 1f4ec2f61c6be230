// Package core defines the repository and queue interfaces the service layer
// depends on. The data layer provides the implementations.
package core

import (
	"context"
	"time"

	"github.com/clipper-dl/clipper/internal/domain/model"
)

// DownloadRepository is the persistence port for download records.
type DownloadRepository interface {
	Create(ctx context.Context, req *model.CreateDownloadRequest, platform model.Platform) (*model.Download, error)
	GetByID(ctx context.Context, id string) (*model.Download, error)
	GetByIDForUser(ctx context.Context, id, userID string) (*model.Download, error)
	ReserveNext(ctx context.Context) (*model.Download, error)
	Complete(ctx context.Context, id string, result model.CompletionResult) (*model.Download, error)
	Fail(ctx context.Context, id, errorMessage string) (*model.Download, error)
	CountPending(ctx context.Context) (int, error)
	ListRecentByUser(ctx context.Context, userID string, limit int) ([]*model.Download, error)
	SelectExpiredArtifacts(ctx context.Context, cutoff time.Time, limit int) ([]*model.Download, error)
	ClearArtifact(ctx context.Context, id string) error
	Stats(ctx context.Context) (*model.DownloadStats, error)
}

// CleanupQueue schedules per-job artifact deletions for a future instant and
// hands back the ones that have come due. Implementations must tolerate
// duplicate scheduling of the same job.
type CleanupQueue interface {
	Schedule(ctx context.Context, jobID string, due time.Time) error
	PopDue(ctx context.Context, now time.Time, limit int) ([]string, error)
}
