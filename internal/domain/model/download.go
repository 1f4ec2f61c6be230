// Package model defines the core data types shared across the clipper download pipeline.
package model

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Platform identifies the content source a URL belongs to.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type Platform string

// MediaType distinguishes the kind of artifact a download produced.
type MediaType string

// DownloadStatus represents the current status of a download job.
type DownloadStatus string

const (
	// PlatformInstagram covers instagram.com post, reel, tv and story URLs.
	PlatformInstagram Platform = "instagram"
	// PlatformFacebook covers facebook.com video and fb.watch URLs.
	PlatformFacebook Platform = "facebook"
	// PlatformTikTok covers tiktok.com and vm.tiktok.com URLs.
	PlatformTikTok Platform = "tiktok"
	// PlatformPinterest covers pinterest.* pin and pin.it URLs.
	PlatformPinterest Platform = "pinterest"
	// PlatformOther marks an unrecognized, unsupported source.
	PlatformOther Platform = "other"

	// MediaTypeVideo marks a downloaded video stream.
	MediaTypeVideo MediaType = "video"
	// MediaTypeImage marks a downloaded still image.
	MediaTypeImage MediaType = "image"
	// MediaTypeUnknown is the initial value before extraction decides.
	MediaTypeUnknown MediaType = "unknown"

	// StatusPending indicates a download is waiting for a worker.
	StatusPending DownloadStatus = "pending"
	// StatusDownloading indicates the pipeline is running the download.
	StatusDownloading DownloadStatus = "downloading"
	// StatusCompleted indicates the artifact was written successfully.
	StatusCompleted DownloadStatus = "completed"
	// StatusFailed indicates the pipeline exhausted every extraction stage.
	StatusFailed DownloadStatus = "failed"
)

// SupportedPlatforms lists the platforms the pipeline can extract from,
// in classifier evaluation order.
func SupportedPlatforms() []Platform {
	return []Platform{PlatformInstagram, PlatformFacebook, PlatformTikTok, PlatformPinterest}
}

// UnmarshalText implements encoding.TextUnmarshaler for Platform to allow env parsing.
func (p *Platform) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	pl := Platform(v)
	if pl.Valid() {
		*p = pl
		return nil
	}
	return fmt.Errorf("invalid Platform: %q", v)
}

// Valid returns true if the Platform is a known value.
func (p Platform) Valid() bool {
	switch p {
	case PlatformInstagram, PlatformFacebook, PlatformTikTok, PlatformPinterest, PlatformOther:
		return true
	}
	return false
}

// Supported returns true for the four platforms the pipeline can extract from.
func (p Platform) Supported() bool {
	return p.Valid() && p != PlatformOther
}

// Title returns the display form of the platform name (e.g. "Instagram").
func (p Platform) Title() string {
	if p == "" {
		return ""
	}
	s := string(p)
	if p == PlatformTikTok {
		return "TikTok"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Valid returns true if the MediaType is a known value.
func (m MediaType) Valid() bool {
	return m == MediaTypeVideo || m == MediaTypeImage || m == MediaTypeUnknown
}

// Valid returns true if the DownloadStatus is a known value.
func (s DownloadStatus) Valid() bool {
	return s == StatusPending || s == StatusDownloading || s == StatusCompleted || s == StatusFailed
}

// Terminal returns true once a download can no longer change status.
func (s DownloadStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo enforces the forward-only status machine
// pending -> downloading -> {completed, failed}.
func (s DownloadStatus) CanTransitionTo(next DownloadStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusDownloading || next == StatusFailed
	case StatusDownloading:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// ErrNoDownloadsAvailable is returned when no pending downloads are available for reservation.
var ErrNoDownloadsAvailable = errors.New("no downloads available")

// Download represents one user-submitted URL's extraction attempt and its persisted outcome.
// Rows are never deleted by the pipeline; the retention sweeper only removes
// the file artifact and clears Filename/FilePath.
type Download struct {
	ID           string         `json:"id"                     db:"id"`
	UserID       string         `json:"user_id"                db:"user_id"`
	URL          string         `json:"url"                    db:"url"`
	Platform     Platform       `json:"platform"               db:"platform"`
	MediaType    MediaType      `json:"media_type"             db:"media_type"`
	Status       DownloadStatus `json:"status"                 db:"status"`
	Title        string         `json:"title"                  db:"title"`
	Filename     string         `json:"filename"               db:"filename"`
	FilePath     string         `json:"-"                      db:"file_path"`
	ErrorMessage string         `json:"error_message"          db:"error_message"`
	CreatedAt    time.Time      `json:"created_at"             db:"created_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt    time.Time      `json:"updated_at"             db:"updated_at"`
}

// HasArtifact reports whether the downloaded file is still retained on disk
// as far as the record is concerned. A completed download with no artifact is
// one the retention sweeper has already cleaned up.
func (d *Download) HasArtifact() bool {
	return d.Status == StatusCompleted && d.FilePath != ""
}

// CreateDownloadRequest represents a request to create a new download job.
type CreateDownloadRequest struct {
	URL    string `json:"url"`
	UserID string `json:"user_id"`
}

// Validate checks the request fields. Platform support is decided later by
// the classifier; here we only require a syntactically plausible URL.
func (r *CreateDownloadRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return errors.New("user id is required")
	}
	raw := strings.TrimSpace(r.URL)
	if raw == "" {
		return errors.New("url is required")
	}
	if len(raw) > 500 {
		return errors.New("url must be at most 500 characters")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" && !strings.Contains(raw, ".") {
		return errors.New("url is not well-formed")
	}
	return nil
}

// CompletionResult carries the artifact details recorded when an extraction
// finishes successfully.
type CompletionResult struct {
	MediaType MediaType
	Title     string
	Filename  string
	FilePath  string
}

// DownloadStats represents counts of downloads in each state.
type DownloadStats struct {
	Pending     int `json:"pending"`
	Downloading int `json:"downloading"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
}

// DownloadStatusResponse is the polling payload for a single download.
type DownloadStatusResponse struct {
	Status       DownloadStatus `json:"status"`
	Title        string         `json:"title"`
	Filename     string         `json:"filename"`
	MediaType    MediaType      `json:"media_type"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	FileExpired  bool           `json:"file_expired,omitempty"`
}

// PreviewInfo is the probe-only metadata returned by the preview endpoint.
type PreviewInfo struct {
	Title       string `json:"title"`
	Duration    int64  `json:"duration"`
	Uploader    string `json:"uploader"`
	Thumbnail   string `json:"thumbnail"`
	FormatCount int    `json:"formats"`
}
