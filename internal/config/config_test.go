package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.AppEnv != "dev" {
		t.Fatalf("expected dev, got %q", cfg.AppEnv)
	}
	if cfg.Port != "8080" || cfg.MetricsPort != "9090" {
		t.Fatalf("unexpected ports %q/%q", cfg.Port, cfg.MetricsPort)
	}
	if cfg.ProviderTimeout != 10*time.Second {
		t.Fatalf("expected 10s provider timeout, got %v", cfg.ProviderTimeout)
	}
	if cfg.AggregateTimeout != 20*time.Second {
		t.Fatalf("expected 20s aggregate timeout, got %v", cfg.AggregateTimeout)
	}
	if cfg.OpenAQBase == "" || cfg.WorldviewBase == "" {
		t.Fatal("upstream base URLs must have defaults")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("PROVIDER_TIMEOUT", "3s")
	t.Setenv("OPENAQ_API_KEY", "key123")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.AppEnv != "prod" {
		t.Fatalf("expected prod, got %q", cfg.AppEnv)
	}
	if cfg.ProviderTimeout != 3*time.Second {
		t.Fatalf("expected 3s, got %v", cfg.ProviderTimeout)
	}
	if cfg.OpenAQAPIKey != "key123" {
		t.Fatalf("expected key123, got %q", cfg.OpenAQAPIKey)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("AGGREGATE_TIMEOUT", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for an unparseable duration")
	}
}
