// Package media extracts video and image content from social platforms.
//
// The primary path shells out to yt-dlp. When a post has no video formats the
// pipeline falls back to image extraction, and blocked Instagram posts get a
// scraper-based bypass attempt before the job is failed.
package media

import (
	"context"

	"github.com/clipper-dl/clipper/internal/domain/model"
)

// Probe is the metadata returned by a no-download extraction run.
type Probe struct {
	Title      string      `json:"title"`
	Duration   float64     `json:"duration"`
	ViewCount  int64       `json:"view_count"`
	Uploader   string      `json:"uploader"`
	Thumbnail  string      `json:"thumbnail"`
	WebpageURL string      `json:"webpage_url"`
	DirectURL  string      `json:"url"`
	Formats    []Format    `json:"formats"`
	Thumbnails []Thumbnail `json:"thumbnails"`

	// RawJSON is the full --dump-single-json output, kept for the CDN image
	// scan fallback.
	RawJSON []byte `json:"-"`
}

// Format is one downloadable rendition reported by the extractor.
type Format struct {
	FormatID   string  `json:"format_id"`
	Ext        string  `json:"ext"`
	Resolution string  `json:"resolution"`
	VCodec     string  `json:"vcodec"`
	Filesize   int64   `json:"filesize"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	TBR        float64 `json:"tbr"`
}

// HasVideo reports whether the format carries a video stream.
func (f Format) HasVideo() bool {
	return f.VCodec != "" && f.VCodec != "none"
}

// Thumbnail is one still image reported by the extractor.
type Thumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// VideoFormats filters the probe down to formats with a video stream. An
// empty result means the post is image-only.
func (p *Probe) VideoFormats() []Format {
	var out []Format
	for _, f := range p.Formats {
		if f.HasVideo() {
			out = append(out, f)
		}
	}
	return out
}

// BestThumbnail returns the thumbnail with the largest pixel area, or nil
// when the probe carries none with a URL.
func (p *Probe) BestThumbnail() *Thumbnail {
	var best *Thumbnail
	for i := range p.Thumbnails {
		t := &p.Thumbnails[i]
		if t.URL == "" {
			continue
		}
		if best == nil || t.Width*t.Height > best.Width*best.Height {
			best = t
		}
	}
	return best
}

// Artifact describes a file written to the media root by an extractor.
type Artifact struct {
	Title     string
	Filename  string
	FilePath  string
	MediaType model.MediaType
}

// Prober extracts metadata without downloading.
type Prober interface {
	Probe(ctx context.Context, url string, opts Options) (*Probe, error)
}

// Downloader fetches content for a single format selector.
type Downloader interface {
	Download(ctx context.Context, url, selector string, opts Options) (*Artifact, error)
}
