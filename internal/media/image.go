package media

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/clipper-dl/clipper/internal/domain/model"
)

// ImageFetcher downloads still images from direct CDN URLs. It is the
// fallback path for posts that have no video formats.
type ImageFetcher struct {
	client    *http.Client
	mediaRoot string
	logger    *slog.Logger
}

// ImageFetcherOptions groups constructor parameters for ImageFetcher.
type ImageFetcherOptions struct {
	MediaRoot string
	Client    *http.Client
	Logger    *slog.Logger
}

// NewImageFetcher creates an ImageFetcher writing under mediaRoot.
func NewImageFetcher(opts ImageFetcherOptions) *ImageFetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger != nil {
		logger = logger.With("component", "image_fetcher")
	}
	return &ImageFetcher{
		client:    client,
		mediaRoot: opts.MediaRoot,
		logger:    logger,
	}
}

// Fetch downloads an image into <media_root>/<platform>/ and returns the
// written artifact. The filename is <jobID>_<sanitized title>.<ext>.
func (f *ImageFetcher) Fetch(
	ctx context.Context,
	imageURL, title, jobID string,
	platform model.Platform,
) (*Artifact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build image request: %w", err)
	}
	req.Header.Set("User-Agent", desktopUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image: unexpected status %d", resp.StatusCode)
	}

	dir := filepath.Join(f.mediaRoot, string(platform))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}

	ext := ImageExtension(resp.Header.Get("Content-Type"), imageURL)
	filename := fmt.Sprintf("%s_%s.%s", jobID, SanitizeTitle(title), ext)
	path := filepath.Join(dir, filename)

	out, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create image file: %w", err)
	}
	written, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write image: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("close image file: %w", closeErr)
	}
	if written == 0 {
		_ = os.Remove(path)
		return nil, fmt.Errorf("fetch image: empty body")
	}

	// Decode verification is advisory: some CDNs serve valid images with
	// creative framing that the stdlib decoders reject.
	if verifyErr := verifyImage(path); verifyErr != nil && f.logger != nil {
		f.logger.WarnContext(ctx, "image verification failed",
			"path", path,
			"err", verifyErr,
		)
	}

	return &Artifact{
		Title:     title,
		Filename:  filename,
		FilePath:  path,
		MediaType: model.MediaTypeImage,
	}, nil
}

func verifyImage(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	_, _, err = image.DecodeConfig(file)
	return err
}

// pinimgRe matches Pinterest CDN asset URLs embedded anywhere in probe JSON.
var pinimgRe = regexp.MustCompile(`https://[^"\s]+\.pinimg\.com/[^"\s]+`)

// genericImageRes are the looser scans tried after the CDN-specific one.
var genericImageRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)https://[^"\s]+\.(?:jpg|jpeg|png|webp)`),
	regexp.MustCompile(`"(https://[^"]+pinimg\.com[^"]+)"`),
	regexp.MustCompile(`(?i)"url":\s*"(https://[^"]+\.(?:jpg|jpeg|png|webp)[^"]*)"`),
}

// pinimgSizeTokens are the CDN path size variants worth downloading.
var pinimgSizeTokens = []string{"236x", "474x", "736x", "1200x", "originals"}

// ScanForImageURLs digs direct image URLs out of raw probe JSON. Pinterest
// CDN URLs with a known size token come first, then generic image-extension
// matches restricted to the platforms' hosts.
func ScanForImageURLs(rawJSON []byte) []string {
	text := string(rawJSON)
	seen := map[string]bool{}
	var out []string

	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}

	for _, u := range pinimgRe.FindAllString(text, -1) {
		hasSize := false
		for _, token := range pinimgSizeTokens {
			if strings.Contains(u, token) {
				hasSize = true
				break
			}
		}
		if hasSize && (strings.Contains(u, "jpg") || strings.Contains(u, "png") || strings.Contains(u, "webp")) {
			add(u)
		}
	}

	for _, re := range genericImageRes {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			u := m[0]
			if len(m) > 1 && m[1] != "" {
				u = m[1]
			}
			if strings.Contains(u, "pinimg.com") || strings.Contains(u, "pinterest") {
				add(u)
			}
		}
	}

	return out
}
