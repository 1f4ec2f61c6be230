package httpx

import (
	"log/slog"
	"net/http"

	"github.com/clipper-dl/clipper/internal/service"
)

// RouterServices groups the dependencies the router needs.
type RouterServices struct {
	Downloads *service.DownloadService
	Logger    *slog.Logger
}

// NewRouter builds the HTTP handler tree with logging and panic recovery
// around every route.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	h := &DownloadHandlers{Svc: services.Downloads}
	registerDownloadRoutes(mux, h)

	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var handler http.Handler = mux
	handler = Logging(logger)(handler)
	handler = Recover(logger)(handler)
	return handler
}

func registerDownloadRoutes(mux *http.ServeMux, h *DownloadHandlers) {
	user := RequireUser()

	mux.Handle("POST /api/downloads", user(http.HandlerFunc(h.Create)))
	mux.Handle("GET /api/downloads", user(http.HandlerFunc(h.List)))
	mux.Handle("GET /api/downloads/{id}", user(http.HandlerFunc(h.GetStatus)))
	mux.Handle("GET /api/downloads/{id}/file", user(http.HandlerFunc(h.GetFile)))
	mux.Handle("POST /api/preview", user(http.HandlerFunc(h.Preview)))
	mux.HandleFunc("GET /api/downloads/stats", h.Stats)
}
