package media

import (
	"math/rand"
	"time"

	"github.com/clipper-dl/clipper/config"
	"github.com/clipper-dl/clipper/internal/domain/model"
)

// Options carries the per-invocation extractor settings derived from platform
// and configuration.
type Options struct {
	Platform      model.Platform
	UserAgent     string
	ExtractorArgs []string

	SocketTimeout    time.Duration
	Retries          int
	SleepInterval    time.Duration
	MaxSleepInterval time.Duration

	// JobID prefixes output filenames so concurrent jobs with identical
	// titles never collide.
	JobID string

	// OutputDir overrides the default <media_root>/<platform> target.
	OutputDir string
}

// instagramUserAgents are mobile-first agents; Instagram serves the mobile
// site more reliably to them than to desktop agents on shared hosts.
var instagramUserAgents = []string{
	"Mozilla/5.0 (iPhone; CPU iPhone OS 14_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.1 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 15_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.0 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 10; SM-G973F) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/86.0.4240.198 Mobile Safari/537.36",
	"Mozilla/5.0 (Linux; Android 11; Pixel 5) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/90.0.4430.91 Mobile Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.1 Safari/605.1.15",
}

const (
	desktopUserAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	androidMobileUserAgent = "Mozilla/5.0 (Linux; Android 10; SM-G973F) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/86.0.4240.198 Mobile Safari/537.36"
)

// BuildOptions produces the extractor option set for one invocation.
// Deterministic apart from the Instagram User-Agent draw.
func BuildOptions(platform model.Platform, cfg config.ExtractorConfig) Options {
	opts := Options{
		Platform:         platform,
		SocketTimeout:    cfg.SocketTimeout,
		Retries:          cfg.Retries,
		SleepInterval:    cfg.SleepInterval,
		MaxSleepInterval: cfg.MaxSleepInterval,
	}

	switch platform {
	case model.PlatformInstagram:
		opts.UserAgent = instagramUserAgents[rand.Intn(len(instagramUserAgents))]
		opts.ExtractorArgs = []string{"instagram:api_version=v1;include_stories=false"}
	case model.PlatformTikTok:
		opts.UserAgent = androidMobileUserAgent
	default:
		opts.UserAgent = desktopUserAgent
	}

	return opts
}

// AlternativeInstagramOptions returns the retry profiles used when the
// primary Instagram extraction is blocked: a native app identity first, then
// an older Android browser with longer courtesy delays. Lower quality is
// requested separately via the alternative format selector.
func AlternativeInstagramOptions(cfg config.ExtractorConfig) []Options {
	base := Options{
		Platform:      model.PlatformInstagram,
		SocketTimeout: 45 * time.Second,
		Retries:       5,
	}

	app := base
	app.UserAgent = "Instagram 219.0.0.12.117 Android"
	app.ExtractorArgs = []string{"instagram:variant=mobile"}

	browser := base
	browser.UserAgent = "Mozilla/5.0 (Linux; Android 9; SM-G960F) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/76.0.3809.89 Mobile Safari/537.36"
	browser.SleepInterval = 2 * time.Second
	browser.MaxSleepInterval = 5 * time.Second

	return []Options{app, browser}
}

// FormatSelectors is the ordered list of yt-dlp format selectors tried by the
// pipeline. 720p is preferred to keep files small for re-serving; each later
// entry trades quality for availability.
var FormatSelectors = []string{
	"best[height<=720]/best",
	"best[height<=1080]/best",
	"best",
	"worst",
}

// AlternativeFormatSelector requests low quality during Instagram retry
// passes, which passes rate limits more often.
const AlternativeFormatSelector = "best[height<=480]/worst"
