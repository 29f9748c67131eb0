package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadRequiresBaseURL(t *testing.T) {
	t.Setenv("MEMBERKIT_API_BASE_URL", "")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected error when base URL is missing")
	}
	if !strings.Contains(err.Error(), "MEMBERKIT_API_BASE_URL") {
		t.Fatalf("expected error to name the missing variable, got %v", err)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("MEMBERKIT_API_BASE_URL", "https://api.example.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.APIBaseURL != "https://api.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.APIBaseURL)
	}
	if cfg.HTTPTimeout != 10*time.Second {
		t.Fatalf("expected default http timeout, got %v", cfg.HTTPTimeout)
	}
	if cfg.InactivityTimeout != 30*time.Minute {
		t.Fatalf("expected default inactivity timeout, got %v", cfg.InactivityTimeout)
	}
	if cfg.StorePath == "" {
		t.Fatalf("expected a default store path")
	}
}

func TestParseLookupReadsInjectedEnvironment(t *testing.T) {
	env := map[string]string{
		"MEMBERKIT_API_BASE_URL": "https://env.example.com/",
		"MEMBERKIT_HTTP_TIMEOUT": "3s",
	}
	lookup := func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}

	cfg, err := ParseLookup(lookup)
	if err != nil {
		t.Fatalf("parse lookup: %v", err)
	}
	if cfg.APIBaseURL != "https://env.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.APIBaseURL)
	}
	if cfg.HTTPTimeout != 3*time.Second {
		t.Fatalf("expected http timeout override, got %v", cfg.HTTPTimeout)
	}
	if cfg.WatchInterval != 2*time.Second {
		t.Fatalf("expected default watch interval, got %v", cfg.WatchInterval)
	}
}

func TestParseLookupNilYieldsDefaults(t *testing.T) {
	cfg, err := ParseLookup(nil)
	if err != nil {
		t.Fatalf("parse lookup: %v", err)
	}
	if cfg.APIBaseURL != "" {
		t.Fatalf("expected empty base URL, got %q", cfg.APIBaseURL)
	}
	if cfg.HTTPTimeout != 10*time.Second {
		t.Fatalf("expected default http timeout, got %v", cfg.HTTPTimeout)
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("MEMBERKIT_API_BASE_URL", "https://api.example.com")
	t.Setenv("MEMBERKIT_STORE_PATH", "/tmp/member-session.db")
	t.Setenv("MEMBERKIT_EXPIRY_POLL_INTERVAL", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.StorePath != "/tmp/member-session.db" {
		t.Fatalf("expected store path override, got %q", cfg.StorePath)
	}
	if cfg.ExpiryPollInterval != 5*time.Second {
		t.Fatalf("expected poll interval override, got %v", cfg.ExpiryPollInterval)
	}
}
