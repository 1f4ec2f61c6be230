package media

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipper-dl/clipper/internal/domain/model"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestImageFetcher_Fetch(t *testing.T) {
	payload := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(payload)
	}))
	defer srv.Close()

	f := NewImageFetcher(ImageFetcherOptions{
		MediaRoot: t.TempDir(),
		Client:    srv.Client(),
	})

	artifact, err := f.Fetch(context.Background(), srv.URL+"/photo", "Nice pin!", "job-9", model.PlatformPinterest)
	require.NoError(t, err)
	assert.Equal(t, model.MediaTypeImage, artifact.MediaType)
	assert.Equal(t, "job-9_Nice pin.png", artifact.Filename)
	assert.Contains(t, artifact.FilePath, "pinterest")
	assert.FileExists(t, artifact.FilePath)
}

func TestImageFetcher_Fetch_Errors(t *testing.T) {
	t.Run("non-200 status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		f := NewImageFetcher(ImageFetcherOptions{MediaRoot: t.TempDir(), Client: srv.Client()})
		_, err := f.Fetch(context.Background(), srv.URL, "x", "job-1", model.PlatformInstagram)
		assert.Error(t, err)
	})

	t.Run("empty body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer srv.Close()

		f := NewImageFetcher(ImageFetcherOptions{MediaRoot: t.TempDir(), Client: srv.Client()})
		_, err := f.Fetch(context.Background(), srv.URL, "x", "job-1", model.PlatformInstagram)
		assert.Error(t, err)
	})
}

func TestScanForImageURLs(t *testing.T) {
	t.Run("pinimg with size token", func(t *testing.T) {
		raw := []byte(`{"thumbnail":"https://i.pinimg.com/736x/ab/cd/photo.jpg","other":"https://i.pinimg.com/tiny/x.gif"}`)
		urls := ScanForImageURLs(raw)
		require.NotEmpty(t, urls)
		assert.Equal(t, "https://i.pinimg.com/736x/ab/cd/photo.jpg", urls[0])
	})

	t.Run("originals token", func(t *testing.T) {
		raw := []byte(`{"u":"https://i.pinimg.com/originals/ab/cd/photo.png"}`)
		urls := ScanForImageURLs(raw)
		require.NotEmpty(t, urls)
		assert.Contains(t, urls[0], "originals")
	})

	t.Run("no pinterest urls", func(t *testing.T) {
		raw := []byte(`{"thumbnail":"https://cdn.example.com/photo.jpg"}`)
		assert.Empty(t, ScanForImageURLs(raw))
	})

	t.Run("deduplicates", func(t *testing.T) {
		raw := []byte(`{"a":"https://i.pinimg.com/474x/photo.jpg","b":"https://i.pinimg.com/474x/photo.jpg"}`)
		urls := ScanForImageURLs(raw)
		assert.Len(t, urls, 1)
	})
}

func TestProbeHelpers(t *testing.T) {
	p := &Probe{
		Formats: []Format{
			{FormatID: "audio", VCodec: "none"},
			{FormatID: "v720", VCodec: "avc1", Height: 720},
		},
		Thumbnails: []Thumbnail{
			{URL: "https://x/small.jpg", Width: 100, Height: 100},
			{URL: "https://x/big.jpg", Width: 1080, Height: 1920},
			{URL: "", Width: 9999, Height: 9999},
		},
	}

	videos := p.VideoFormats()
	require.Len(t, videos, 1)
	assert.Equal(t, "v720", videos[0].FormatID)

	best := p.BestThumbnail()
	require.NotNil(t, best)
	assert.Equal(t, "https://x/big.jpg", best.URL)

	empty := &Probe{}
	assert.Empty(t, empty.VideoFormats())
	assert.Nil(t, empty.BestThumbnail())
}
