// Package httpx provides the HTTP API for submitting and polling media
// downloads.
package httpx

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/clipper-dl/clipper/internal/domain/model"
	"github.com/clipper-dl/clipper/internal/service"
)

const (
	defaultListLimit = 10
	maxListLimit     = 50
)

// DownloadHandlers provides HTTP handlers for download operations.
type DownloadHandlers struct {
	Svc *service.DownloadService
}

// Create handles a URL submission. The job is accepted immediately and
// processed asynchronously; clients poll for the outcome.
func (h *DownloadHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}

	d, err := h.Svc.Create(r.Context(), &model.CreateDownloadRequest{
		URL:    body.URL,
		UserID: UserIDFromContext(r.Context()),
	})
	if err != nil {
		if errors.Is(err, service.ErrBacklogFull) {
			WriteError(w, ErrorParams{Code: http.StatusServiceUnavailable, ErrCode: "backlog_full", Err: err})
			return
		}
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, d)
}

// GetStatus returns the polling payload for one download.
func (h *DownloadHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Svc.GetStatus(r.Context(), r.PathValue("id"), UserIDFromContext(r.Context()))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// GetFile streams a completed download's artifact. Artifacts live only for
// the retention window; afterwards this endpoint reports file_expired while
// the record itself stays pollable.
func (h *DownloadHandlers) GetFile(w http.ResponseWriter, r *http.Request) {
	d, err := h.Svc.GetForUser(r.Context(), r.PathValue("id"), UserIDFromContext(r.Context()))
	if err != nil {
		WriteAppError(w, err)
		return
	}

	switch d.Status {
	case model.StatusPending, model.StatusDownloading:
		WriteError(w, ErrorParams{
			Code:    http.StatusConflict,
			ErrCode: "not_ready",
			Err:     errors.New("download has not finished yet"),
		})
		return
	case model.StatusFailed:
		WriteError(w, ErrorParams{
			Code:    http.StatusNotFound,
			ErrCode: "download_failed",
			Err:     errors.New("download failed, no file to serve"),
		})
		return
	}

	if !d.HasArtifact() {
		writeFileExpired(w)
		return
	}
	if _, statErr := os.Stat(d.FilePath); statErr != nil {
		// The sweeper may have removed the file before clearing the record.
		writeFileExpired(w)
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="`+d.Filename+`"`)
	http.ServeFile(w, r, d.FilePath)
}

func writeFileExpired(w http.ResponseWriter) {
	WriteError(w, ErrorParams{
		Code:    http.StatusNotFound,
		ErrCode: "file_expired",
		Err:     errors.New("the file was removed after the retention window, submit the URL again"),
	})
}

// List returns the caller's most recent downloads, newest first.
func (h *DownloadHandlers) List(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}

	downloads, err := h.Svc.ListRecent(r.Context(), UserIDFromContext(r.Context()), limit)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"downloads": downloads})
}

// Preview probes a URL's metadata without downloading anything.
func (h *DownloadHandlers) Preview(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}

	info, err := h.Svc.Preview(r.Context(), body.URL)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, info)
}

// Stats returns download counts per status.
func (h *DownloadHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.Stats(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

func parseIntQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
