// Package data provides PostgreSQL persistence for download records.
package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clipper-dl/clipper/internal/data/pgxutil"
	"github.com/clipper-dl/clipper/internal/domain/model"
	apperrors "github.com/clipper-dl/clipper/internal/errors"
)

// RepoConfig holds configuration options for the download repository.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// DownloadRepo provides database operations for download records.
type DownloadRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewDownloadRepo creates a new DownloadRepo with the given database connection.
func NewDownloadRepo(db *sql.DB, cfg RepoConfig) *DownloadRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &DownloadRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const downloadColumns = `
  id,
  user_id,
  url,
  platform,
  media_type,
  status,
  title,
  filename,
  file_path,
  error_message,
  created_at,
  completed_at,
  updated_at
`

func scanDownload(row interface{ Scan(dest ...any) error }) (*model.Download, error) {
	var d model.Download
	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.URL,
		&d.Platform,
		&d.MediaType,
		&d.Status,
		&d.Title,
		&d.Filename,
		&d.FilePath,
		&d.ErrorMessage,
		&d.CreatedAt,
		&d.CompletedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Create inserts a new pending download and returns the stored record.
func (r *DownloadRepo) Create(
	ctx context.Context,
	req *model.CreateDownloadRequest,
	platform model.Platform,
) (*model.Download, error) {
	if req == nil {
		return nil, apperrors.Validation("create download request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	if !platform.Valid() {
		return nil, apperrors.Validationf("invalid platform: %q", platform)
	}

	now := r.timeProvider.Now().UTC()
	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO downloads (id, user_id, url, platform, media_type, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING `+downloadColumns,
		uuid.NewString(),
		strings.TrimSpace(req.UserID),
		strings.TrimSpace(req.URL),
		platform,
		model.MediaTypeUnknown,
		model.StatusPending,
		now,
	)

	d, err := scanDownload(row)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("create download: %w", err))
	}
	return d, nil
}

// GetByID retrieves a download by its ID.
func (r *DownloadRepo) GetByID(ctx context.Context, id string) (*model.Download, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+downloadColumns+` FROM downloads WHERE id = $1`, id)

	d, err := scanDownload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFoundf("download %s not found", id)
		}
		return nil, apperrors.MapDBError(fmt.Errorf("get download: %w", err))
	}
	return d, nil
}

// GetByIDForUser retrieves a download by ID, scoped to its owning user.
// A record owned by a different user is reported as not found rather than
// forbidden so IDs cannot be probed.
func (r *DownloadRepo) GetByIDForUser(ctx context.Context, id, userID string) (*model.Download, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+downloadColumns+` FROM downloads WHERE id = $1 AND user_id = $2`, id, userID)

	d, err := scanDownload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFoundf("download %s not found", id)
		}
		return nil, apperrors.MapDBError(fmt.Errorf("get download for user: %w", err))
	}
	return d, nil
}

// ReserveNext atomically claims the oldest pending download for processing,
// moving it to the downloading state. FOR UPDATE SKIP LOCKED lets concurrent
// workers reserve distinct rows without blocking each other. Returns
// model.ErrNoDownloadsAvailable when nothing is pending.
func (r *DownloadRepo) ReserveNext(ctx context.Context) (*model.Download, error) {
	now := r.timeProvider.Now().UTC()
	var d *model.Download
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{Fn: func(tx *sql.Tx) error {
		var id string
		if scanErr := tx.QueryRowContext(ctx, `
			SELECT id FROM downloads
			WHERE status = 'pending'
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED`).Scan(&id); scanErr != nil {
			return scanErr
		}

		row := tx.QueryRowContext(ctx, `
			UPDATE downloads
			SET status = 'downloading', updated_at = $2
			WHERE id = $1
			RETURNING `+downloadColumns,
			id, now)

		var scanErr error
		d, scanErr = scanDownload(row)
		return scanErr
	}})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNoDownloadsAvailable
		}
		return nil, apperrors.MapDBError(fmt.Errorf("reserve download: %w", err))
	}
	return d, nil
}

// Complete records a successful extraction. The update only applies while the
// record is in the downloading state; a completed or failed record stays put.
func (r *DownloadRepo) Complete(
	ctx context.Context,
	id string,
	result model.CompletionResult,
) (*model.Download, error) {
	now := r.timeProvider.Now().UTC()
	row := r.DB.QueryRowContext(ctx, `
		UPDATE downloads
		SET status = 'completed',
		    media_type = $2,
		    title = $3,
		    filename = $4,
		    file_path = $5,
		    error_message = '',
		    completed_at = $6,
		    updated_at = $6
		WHERE id = $1 AND status = 'downloading'
		RETURNING `+downloadColumns,
		id,
		result.MediaType,
		result.Title,
		result.Filename,
		result.FilePath,
		now,
	)

	d, err := scanDownload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.explainMissedTransition(ctx, id, model.StatusCompleted)
		}
		return nil, apperrors.MapDBError(fmt.Errorf("complete download: %w", err))
	}
	return d, nil
}

// Fail records a failed extraction with a user-facing error message. Pending
// records may fail directly (pre-flight rejection by the worker); terminal
// records are never modified.
func (r *DownloadRepo) Fail(ctx context.Context, id, errorMessage string) (*model.Download, error) {
	now := r.timeProvider.Now().UTC()
	row := r.DB.QueryRowContext(ctx, `
		UPDATE downloads
		SET status = 'failed',
		    error_message = $2,
		    completed_at = $3,
		    updated_at = $3
		WHERE id = $1 AND status IN ('pending', 'downloading')
		RETURNING `+downloadColumns,
		id,
		errorMessage,
		now,
	)

	d, err := scanDownload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.explainMissedTransition(ctx, id, model.StatusFailed)
		}
		return nil, apperrors.MapDBError(fmt.Errorf("fail download: %w", err))
	}
	return d, nil
}

// explainMissedTransition distinguishes a missing row from an invalid status
// transition after a guarded UPDATE matched nothing.
func (r *DownloadRepo) explainMissedTransition(
	ctx context.Context,
	id string,
	target model.DownloadStatus,
) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return apperrors.Conflict(fmt.Sprintf(
		"download %s is %s and cannot transition to %s", id, current.Status, target))
}

// CountPending returns the number of downloads waiting for a worker.
func (r *DownloadRepo) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM downloads WHERE status = 'pending'`).Scan(&n)
	if err != nil {
		return 0, apperrors.MapDBError(fmt.Errorf("count pending: %w", err))
	}
	return n, nil
}

// ListRecentByUser returns a user's most recent downloads, newest first.
func (r *DownloadRepo) ListRecentByUser(
	ctx context.Context,
	userID string,
	limit int,
) ([]*model.Download, error) {
	if limit < 1 {
		limit = 10
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+downloadColumns+`
		 FROM downloads
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("list downloads: %w", err))
	}
	defer rows.Close()

	var out []*model.Download
	for rows.Next() {
		d, scanErr := scanDownload(rows)
		if scanErr != nil {
			return nil, apperrors.MapDBError(fmt.Errorf("scan download: %w", scanErr))
		}
		out = append(out, d)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("iterate downloads: %w", rowsErr))
	}
	return out, nil
}

// SelectExpiredArtifacts returns completed downloads whose artifacts have
// outlived the retention cutoff and are still on disk, oldest first, capped
// at limit rows per call so sweeps stay batched.
func (r *DownloadRepo) SelectExpiredArtifacts(
	ctx context.Context,
	cutoff time.Time,
	limit int,
) ([]*model.Download, error) {
	if limit < 1 {
		limit = 1
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+downloadColumns+`
		 FROM downloads
		 WHERE status = 'completed'
		   AND file_path <> ''
		   AND completed_at IS NOT NULL
		   AND completed_at <= $1
		 ORDER BY completed_at ASC
		 LIMIT $2`,
		cutoff.UTC(), limit)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("select expired artifacts: %w", err))
	}
	defer rows.Close()

	var out []*model.Download
	for rows.Next() {
		d, scanErr := scanDownload(rows)
		if scanErr != nil {
			return nil, apperrors.MapDBError(fmt.Errorf("scan expired artifact: %w", scanErr))
		}
		out = append(out, d)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("iterate expired artifacts: %w", rowsErr))
	}
	return out, nil
}

// ClearArtifact erases the artifact columns on a swept record. The record
// itself and its status are preserved as download history.
func (r *DownloadRepo) ClearArtifact(ctx context.Context, id string) error {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE downloads
		SET filename = '', file_path = '', updated_at = $2
		WHERE id = $1 AND file_path <> ''`,
		id, now)
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("clear artifact: %w", err))
	}
	if n, raErr := res.RowsAffected(); raErr == nil && n == 0 && r.logger != nil {
		r.logger.DebugContext(ctx, "artifact already cleared", "download_id", id)
	}
	return nil
}

// Stats returns counts of downloads per status.
func (r *DownloadRepo) Stats(ctx context.Context) (*model.DownloadStats, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM downloads GROUP BY status`)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("download stats: %w", err))
	}
	defer rows.Close()

	var stats model.DownloadStats
	for rows.Next() {
		var status model.DownloadStatus
		var count int
		if scanErr := rows.Scan(&status, &count); scanErr != nil {
			return nil, apperrors.MapDBError(fmt.Errorf("scan stats: %w", scanErr))
		}
		switch status {
		case model.StatusPending:
			stats.Pending = count
		case model.StatusDownloading:
			stats.Downloading = count
		case model.StatusCompleted:
			stats.Completed = count
		case model.StatusFailed:
			stats.Failed = count
		}
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("iterate stats: %w", rowsErr))
	}
	return &stats, nil
}
