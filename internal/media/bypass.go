package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"
	"golang.org/x/net/html"

	"github.com/clipper-dl/clipper/internal/domain/model"
)

// shortcodeRes extract the Instagram post shortcode from URL variants, most
// specific first. The trailing-segment heuristic catches shortened and
// copied links the canonical patterns miss.
var shortcodeRes = []*regexp.Regexp{
	regexp.MustCompile(`instagram\.com/(?:p|reel|tv)/([A-Za-z0-9_-]+)`),
	regexp.MustCompile(`/([A-Za-z0-9_-]+)/?(?:\?.*)?$`),
}

// ExtractShortcode pulls the post shortcode out of an Instagram URL. Returns
// an empty string when no candidate segment is found.
func ExtractShortcode(url string) string {
	for _, re := range shortcodeRes {
		if m := re.FindStringSubmatch(url); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}

// bypassMedia is the media payload recovered by a bypass attempt.
type bypassMedia struct {
	Title     string
	IsVideo   bool
	VideoURL  string
	ImageURL  string
	Thumbnail string
}

func (m *bypassMedia) usable() bool {
	return m != nil && (m.VideoURL != "" || m.ImageURL != "")
}

// InstagramBypass scrapes post media directly from Instagram's embed page
// and mobile JSON endpoint when yt-dlp extraction is blocked. It exists for
// shared hosts whose egress IPs Instagram throttles.
type InstagramBypass struct {
	client    *http.Client
	mediaRoot string
	baseURL   string
	logger    *slog.Logger

	// sleep is injectable so tests skip the courtesy jitter.
	sleep func(d time.Duration)
}

// InstagramBypassOptions groups constructor parameters for InstagramBypass.
type InstagramBypassOptions struct {
	MediaRoot string
	BaseURL   string
	Client    *http.Client
	Logger    *slog.Logger
}

// NewInstagramBypass creates a bypass scraper writing under MediaRoot.
func NewInstagramBypass(opts InstagramBypassOptions) *InstagramBypass {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://www.instagram.com"
	}
	logger := opts.Logger
	if logger != nil {
		logger = logger.With("component", "instagram_bypass")
	}
	return &InstagramBypass{
		client:    client,
		mediaRoot: opts.MediaRoot,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
		sleep:     time.Sleep,
	}
}

// mobileHeaders returns randomized mobile browser headers. Instagram serves
// embed pages to mobile agents without a login wall far more often.
func mobileHeaders() http.Header {
	userAgents := []string{
		"Mozilla/5.0 (iPhone; CPU iPhone OS 16_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 12; SM-G991B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Mobile Safari/537.36",
		"Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Mobile Safari/537.36",
	}

	h := http.Header{}
	h.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("DNT", "1")
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")
	return h
}

func jitter(minSec, maxSec float64) time.Duration {
	return time.Duration((minSec + rand.Float64()*(maxSec-minSec)) * float64(time.Second))
}

// Extract recovers post media for a URL, trying the embed page first and the
// mobile JSON endpoint second. A nil result with nil error means neither
// attempt found usable media.
func (b *InstagramBypass) Extract(ctx context.Context, url string) (*bypassMedia, error) {
	shortcode := ExtractShortcode(url)
	if shortcode == "" {
		return nil, fmt.Errorf("no shortcode in url %q", url)
	}

	if media := b.tryEmbedPage(ctx, shortcode); media.usable() {
		return media, nil
	}
	if media := b.tryMobileEndpoint(ctx, shortcode); media.usable() {
		return media, nil
	}
	return nil, nil
}

// tryEmbedPage scrapes /p/<code>/embed for the window._sharedData bootstrap
// JSON. Parse failures return nil; the caller falls through to the mobile
// endpoint.
func (b *InstagramBypass) tryEmbedPage(ctx context.Context, shortcode string) *bypassMedia {
	b.sleep(jitter(1, 3))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/p/%s/embed", b.baseURL, shortcode), nil)
	if err != nil {
		return nil
	}
	req.Header = mobileHeaders()

	resp, err := b.client.Do(req)
	if err != nil {
		b.logDebug(ctx, "embed page fetch failed", "err", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil
	}

	raw := sharedDataJSON(body)
	if raw == "" {
		return nil
	}

	var data any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil
	}

	node, err := jmespath.Search("entry_data.PostPage[0].graphql.shortcode_media", data)
	if err != nil || node == nil {
		return nil
	}
	media, ok := node.(map[string]any)
	if !ok {
		return nil
	}

	info := &bypassMedia{}
	if title, err := jmespath.Search("edge_media_to_caption.edges[0].node.text", media); err == nil {
		info.Title, _ = title.(string)
	}
	info.IsVideo, _ = media["is_video"].(bool)
	if info.IsVideo {
		info.VideoURL, _ = media["video_url"].(string)
	} else {
		info.ImageURL, _ = media["display_url"].(string)
	}
	info.Thumbnail, _ = media["display_url"].(string)
	if !info.usable() {
		return nil
	}
	return info
}

// sharedDataJSON walks the embed page's script elements for the
// window._sharedData assignment and returns its JSON object literal.
func sharedDataJSON(page []byte) string {
	doc, err := html.Parse(strings.NewReader(string(page)))
	if err != nil {
		return ""
	}

	re := regexp.MustCompile(`window\._sharedData\s*=\s*(\{.+?\});`)
	var found string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "script" && n.FirstChild != nil {
			if m := re.FindStringSubmatch(n.FirstChild.Data); len(m) > 1 {
				found = m[1]
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return found
}

// tryMobileEndpoint hits the ?__a=1&__d=dis JSON endpoint with AJAX headers.
// Video posts yield the LOWEST resolution variant (kinder to shared-host
// bandwidth caps); image posts yield the HIGHEST resolution candidate.
func (b *InstagramBypass) tryMobileEndpoint(ctx context.Context, shortcode string) *bypassMedia {
	b.sleep(jitter(2, 4))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/p/%s/?__a=1&__d=dis", b.baseURL, shortcode), nil)
	if err != nil {
		return nil
	}
	req.Header = mobileHeaders()
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("X-Instagram-AJAX", "1")
	req.Header.Set("X-CSRFToken", "missing")

	resp, err := b.client.Do(req)
	if err != nil {
		b.logDebug(ctx, "mobile endpoint fetch failed", "err", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var data any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&data); err != nil {
		return nil
	}

	node, err := jmespath.Search("items[0]", data)
	if err != nil || node == nil {
		return nil
	}
	item, ok := node.(map[string]any)
	if !ok {
		return nil
	}

	info := &bypassMedia{}
	if title, err := jmespath.Search("caption.text", item); err == nil {
		info.Title, _ = title.(string)
	}

	// media_type 2 is video in the mobile API
	mediaType, _ := item["media_type"].(float64)
	if mediaType == 2 {
		info.IsVideo = true
		info.VideoURL = selectVariantURL(item, "video_versions", false)
	} else {
		info.ImageURL = selectVariantURL(item, "image_versions2.candidates", true)
	}
	if thumb, err := jmespath.Search("image_versions2.candidates[0].url", item); err == nil {
		info.Thumbnail, _ = thumb.(string)
	}

	if !info.usable() {
		return nil
	}
	return info
}

// selectVariantURL picks a rendition from a list of {url, width, height}
// variants by pixel area. highest false selects the smallest variant.
func selectVariantURL(item map[string]any, expr string, highest bool) string {
	node, err := jmespath.Search(expr, item)
	if err != nil {
		return ""
	}
	variants, ok := node.([]any)
	if !ok || len(variants) == 0 {
		return ""
	}

	bestURL := ""
	bestArea := 0.0
	for i, v := range variants {
		variant, ok := v.(map[string]any)
		if !ok {
			continue
		}
		u, _ := variant["url"].(string)
		if u == "" {
			continue
		}
		w, _ := variant["width"].(float64)
		h, _ := variant["height"].(float64)
		area := w * h
		better := area > bestArea
		if !highest {
			better = area < bestArea
		}
		if i == 0 || bestURL == "" || better {
			bestURL = u
			bestArea = area
		}
	}
	return bestURL
}

// Download streams a recovered media URL to disk. The Range and Referer
// headers match what Instagram's CDN expects from an embedded player.
func (b *InstagramBypass) Download(
	ctx context.Context,
	media *bypassMedia,
	jobID string,
) (*Artifact, error) {
	if !media.usable() {
		return nil, fmt.Errorf("no downloadable media")
	}

	b.sleep(jitter(2, 5))

	mediaURL := media.VideoURL
	ext := "mp4"
	mediaType := model.MediaTypeVideo
	if !media.IsVideo {
		mediaURL = media.ImageURL
		ext = "jpg"
		mediaType = model.MediaTypeImage
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build media request: %w", err)
	}
	req.Header = mobileHeaders()
	req.Header.Set("Range", "bytes=0-")
	req.Header.Set("Referer", "https://www.instagram.com/")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, fmt.Errorf("fetch media: unexpected status %d", resp.StatusCode)
	}

	dir := filepath.Join(b.mediaRoot, string(model.PlatformInstagram))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}

	title := media.Title
	if title == "" {
		title = "Instagram Content"
	}
	safe := SanitizeTitle(title)
	if safe == "" {
		safe = fmt.Sprintf("instagram_content_%d", time.Now().Unix())
	}
	filename := fmt.Sprintf("%s_%s.%s", jobID, safe, ext)
	path := filepath.Join(dir, filename)

	out, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create media file: %w", err)
	}
	written, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write media: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("close media file: %w", closeErr)
	}
	if written == 0 {
		_ = os.Remove(path)
		return nil, fmt.Errorf("fetch media: empty body")
	}

	return &Artifact{
		Title:     title,
		Filename:  filename,
		FilePath:  path,
		MediaType: mediaType,
	}, nil
}

// Run performs the whole bypass: extract media info, then download it.
// Returns (nil, nil) when the post yields nothing usable so the caller can
// fall through to the final failure classification.
func (b *InstagramBypass) Run(ctx context.Context, url, jobID string) (*Artifact, error) {
	media, err := b.Extract(ctx, url)
	if err != nil {
		return nil, err
	}
	if !media.usable() {
		return nil, nil
	}
	artifact, err := b.Download(ctx, media, jobID)
	if err != nil {
		if b.logger != nil {
			b.logger.WarnContext(ctx, "bypass download failed", "err", err)
		}
		return nil, err
	}
	return artifact, nil
}

func (b *InstagramBypass) logDebug(ctx context.Context, msg string, args ...any) {
	if b.logger != nil {
		b.logger.DebugContext(ctx, msg, args...)
	}
}
