// Package config holds the environment-driven application configuration.
package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Database and Redis configuration
//   - http.go: HTTP server configuration
//   - services.go: Service mode, downloader, and sweeper configuration
//   - extractor.go: Media extraction configuration
//   - observability.go: Metrics configuration
type AppConfig struct {
	// IsDev controls development mode behavior (shorter extraction timeouts,
	// more verbose errors). Set DEV=true for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Service mode configuration.
	// Valid values: http, downloader, sweeper (comma-delimited).
	Services string `env:"SERVICES" envDefault:"http,downloader,sweeper"`

	// Downloader worker pool configuration
	Downloader DownloaderConfig

	// Retention sweeper configuration
	Sweeper SweeperConfig

	// Media extraction configuration
	Extractor ExtractorConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	// Dev mode must be resolved before the extractor picks its profile.
	c.detectDevMode()

	c.HTTP.Sanitize()
	c.Downloader.Sanitize()
	c.Sweeper.Sanitize()
	c.Extractor.Sanitize(c.IsDev)
	c.Observability.Sanitize()
}

// detectDevMode checks the GO_ENV environment variable as a fallback for DEV.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		goEnv := strings.ToLower(os.Getenv("GO_ENV"))
		c.IsDev = goEnv == "development" || goEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsHTTPServerEnabled returns true if the HTTP server service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeHTTP]
}

// IsDownloaderEnabled returns true if the downloader worker pool is enabled.
func (c *AppConfig) IsDownloaderEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeDownloader]
}

// IsSweeperEnabled returns true if the retention sweeper is enabled.
func (c *AppConfig) IsSweeperEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeSweeper]
}
