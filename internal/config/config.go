package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig is the process-wide immutable configuration, loaded once at
// startup and injected into the provider clients at construction.
type AppConfig struct {
	AppEnv   string
	LogLevel string

	// Provider credentials.
	OpenAQAPIKey      string
	AirNowAPIKey      string
	EarthdataUsername string
	EarthdataPassword string

	// Upstream base URLs.
	WorldviewBase  string
	OpenAQBase     string
	AirNowBase     string
	GESDISCBase    string
	GPMOpenDAPBase string

	// ProviderTimeout bounds each upstream call; AggregateTimeout bounds the
	// whole fan-out for one inbound request.
	ProviderTimeout  time.Duration
	AggregateTimeout time.Duration

	// Probe ledger retention.
	ProbeSweepInterval time.Duration
	ProbeMaxAge        time.Duration

	Port        string
	MetricsPort string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	cfg := &AppConfig{
		AppEnv:   getenvDefault("APP_ENV", "dev"),
		LogLevel: getenvDefault("LOG_LEVEL", "info"),

		OpenAQAPIKey:      os.Getenv("OPENAQ_API_KEY"),
		AirNowAPIKey:      os.Getenv("AIRNOW_API_KEY"),
		EarthdataUsername: os.Getenv("EARTHDATA_USERNAME"),
		EarthdataPassword: os.Getenv("EARTHDATA_PASSWORD"),

		WorldviewBase:  getenvDefault("WORLDVIEW_BASE", "https://wvs.earthdata.nasa.gov/api/v1/snapshot"),
		OpenAQBase:     getenvDefault("OPENAQ_BASE", "https://api.openaq.org"),
		AirNowBase:     getenvDefault("AIRNOW_BASE", "https://www.airnowapi.org"),
		GESDISCBase:    getenvDefault("GESDISC_BASE", "https://goldsmr4.gesdisc.eosdis.nasa.gov"),
		GPMOpenDAPBase: getenvDefault("GPM_OPENDAP_BASE", "https://gpm1.gesdisc.eosdis.nasa.gov"),

		Port:        getenvDefault("PORT", "8080"),
		MetricsPort: getenvDefault("METRICS_PORT", "9090"),
	}

	var err error
	if cfg.ProviderTimeout, err = getenvDuration("PROVIDER_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if cfg.AggregateTimeout, err = getenvDuration("AGGREGATE_TIMEOUT", "20s"); err != nil {
		return nil, err
	}
	if cfg.ProbeSweepInterval, err = getenvDuration("PROBE_SWEEP_INTERVAL", "5m"); err != nil {
		return nil, err
	}
	if cfg.ProbeMaxAge, err = getenvDuration("PROBE_MAX_AGE", "30m"); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
