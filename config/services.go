package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeDownloader runs the download worker pool.
	ServiceModeDownloader ServiceMode = "downloader"
	// ServiceModeSweeper runs the artifact retention sweeper.
	ServiceModeSweeper ServiceMode = "sweeper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeHTTP, ServiceModeDownloader, ServiceModeSweeper}
}

// ParseServices parses a comma-delimited string of service names and returns
// the enabled services. It validates that all service names are valid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeDownloader, ServiceModeSweeper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, downloader, sweeper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// DownloaderConfig contains download worker pool configuration.
type DownloaderConfig struct {
	// Concurrency is the number of worker goroutines. Extraction blocks on
	// network for tens of seconds per job, so this bounds parallel downloads
	// rather than throughput.
	Concurrency int `env:"DOWNLOADER_CONCURRENCY" envDefault:"4"`

	// PollInterval is the fallback poll interval used when no wakeup
	// notification arrives.
	PollInterval time.Duration `env:"DOWNLOADER_POLL_INTERVAL" envDefault:"2s"`

	// MaxPendingBacklog rejects new submissions when this many downloads are
	// already waiting. Zero disables backpressure.
	MaxPendingBacklog int `env:"DOWNLOADER_MAX_PENDING_BACKLOG" envDefault:"100"`
}

// Sanitize applies guardrails to downloader configuration values.
func (d *DownloaderConfig) Sanitize() {
	if d.Concurrency < 1 {
		d.Concurrency = 1
	}
	if d.PollInterval < 250*time.Millisecond {
		d.PollInterval = 250 * time.Millisecond
	}
	if d.MaxPendingBacklog < 0 {
		d.MaxPendingBacklog = 0
	}
}

// SweeperConfig contains artifact retention sweeper configuration.
type SweeperConfig struct {
	// Interval is the sweeper tick interval for the batch pass.
	Interval time.Duration `env:"SWEEPER_INTERVAL" envDefault:"1m"`

	// RetentionWindow is how long a completed download keeps its artifact
	// before deletion.
	RetentionWindow time.Duration `env:"SWEEPER_RETENTION_WINDOW" envDefault:"10m"`

	// BatchSize is the maximum number of rows to process per sweep pass.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"SWEEPER_BATCH_SIZE" envDefault:"500"`

	// QueueKey is the Redis sorted-set key holding scheduled per-job cleanups.
	QueueKey string `env:"SWEEPER_QUEUE_KEY" envDefault:"clipper:cleanup:due"`
}

// Sanitize applies guardrails to sweeper configuration values.
func (s *SweeperConfig) Sanitize() {
	if s.Interval < 10*time.Second {
		s.Interval = 10 * time.Second
	}
	if s.RetentionWindow < time.Minute {
		s.RetentionWindow = time.Minute
	}
	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
	if s.BatchSize > 10000 {
		s.BatchSize = 10000
	}
	if strings.TrimSpace(s.QueueKey) == "" {
		s.QueueKey = "clipper:cleanup:due"
	}
}
