package config

import (
	"strings"
	"time"
)

// ExtractorConfig contains media extraction configuration consumed by the
// yt-dlp adapter and the fallback extractors.
type ExtractorConfig struct {
	// BinaryPath is the yt-dlp executable to invoke.
	BinaryPath string `env:"EXTRACTOR_BINARY" envDefault:"yt-dlp"`

	// MediaRoot is the directory artifacts are written under, partitioned by
	// platform name (<MediaRoot>/<platform>/<file>).
	MediaRoot string `env:"EXTRACTOR_MEDIA_ROOT" envDefault:"downloads"`

	// SocketTimeout is passed to the extractor per HTTP call. Raised for
	// production where shared hosts route slowly.
	SocketTimeout time.Duration `env:"EXTRACTOR_SOCKET_TIMEOUT"`

	// Retries is the extractor's per-request retry count.
	Retries int `env:"EXTRACTOR_RETRIES"`

	// SleepInterval / MaxSleepInterval bound the courtesy delay between
	// platform requests to reduce rate limiting.
	SleepInterval    time.Duration `env:"EXTRACTOR_SLEEP_INTERVAL"`
	MaxSleepInterval time.Duration `env:"EXTRACTOR_MAX_SLEEP_INTERVAL"`

	// ProbeTimeout bounds a metadata-only extraction run.
	ProbeTimeout time.Duration `env:"EXTRACTOR_PROBE_TIMEOUT" envDefault:"90s"`

	// DownloadTimeout bounds a single format-selector download attempt.
	DownloadTimeout time.Duration `env:"EXTRACTOR_DOWNLOAD_TIMEOUT" envDefault:"10m"`
}

// Production timeouts are deliberately looser than development: shared hosts
// with strict CPU caps need the extra headroom more than a fast failure.
const (
	prodSocketTimeout = 60 * time.Second
	devSocketTimeout  = 30 * time.Second
	prodRetries       = 5
	devRetries        = 3
)

// Sanitize applies environment-dependent defaults and guardrails. isDev
// selects the development timeout/retry profile when the values were not set
// explicitly.
func (e *ExtractorConfig) Sanitize(isDev bool) {
	if strings.TrimSpace(e.BinaryPath) == "" {
		e.BinaryPath = "yt-dlp"
	}
	if strings.TrimSpace(e.MediaRoot) == "" {
		e.MediaRoot = "downloads"
	}

	if e.SocketTimeout <= 0 {
		if isDev {
			e.SocketTimeout = devSocketTimeout
		} else {
			e.SocketTimeout = prodSocketTimeout
		}
	}
	if e.Retries <= 0 {
		if isDev {
			e.Retries = devRetries
		} else {
			e.Retries = prodRetries
		}
	}
	if e.SleepInterval <= 0 {
		if isDev {
			e.SleepInterval = time.Second
		} else {
			e.SleepInterval = 2 * time.Second
		}
	}
	if e.MaxSleepInterval < e.SleepInterval {
		if isDev {
			e.MaxSleepInterval = 3 * time.Second
		} else {
			e.MaxSleepInterval = 8 * time.Second
		}
	}
	if e.ProbeTimeout <= 0 {
		e.ProbeTimeout = 90 * time.Second
	}
	if e.DownloadTimeout <= 0 {
		e.DownloadTimeout = 10 * time.Minute
	}
}
