// Package config loads SDK configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds client-wide settings shared by the SDK packages.
type Config struct {
	// APIBaseURL is the root of the member API, e.g. https://api.example.com.
	APIBaseURL string `env:"MEMBERKIT_API_BASE_URL"`

	// StorePath is the durable session store location. Empty selects a
	// per-user default under the OS config directory.
	StorePath string `env:"MEMBERKIT_STORE_PATH"`

	// HTTPTimeout bounds individual API requests.
	HTTPTimeout time.Duration `env:"MEMBERKIT_HTTP_TIMEOUT" envDefault:"10s"`

	// InactivityTimeout forces a logout after this much idle time while a
	// guard is supervising a session.
	InactivityTimeout time.Duration `env:"MEMBERKIT_INACTIVITY_TIMEOUT" envDefault:"30m"`

	// ExpiryPollInterval is how often an authenticated session re-checks
	// token expiry.
	ExpiryPollInterval time.Duration `env:"MEMBERKIT_EXPIRY_POLL_INTERVAL" envDefault:"60s"`

	// WatchInterval is how often the durable tier is polled for writes made
	// by other processes.
	WatchInterval time.Duration `env:"MEMBERKIT_WATCH_INTERVAL" envDefault:"2s"`
}

// envVars are the variables Config consumes, mirrored from its env tags.
var envVars = []string{
	"MEMBERKIT_API_BASE_URL",
	"MEMBERKIT_STORE_PATH",
	"MEMBERKIT_HTTP_TIMEOUT",
	"MEMBERKIT_INACTIVITY_TIMEOUT",
	"MEMBERKIT_EXPIRY_POLL_INTERVAL",
	"MEMBERKIT_WATCH_INTERVAL",
}

// ParseLookup reads configuration through the given lookup function,
// applying the struct's tag defaults for absent keys. The API base URL may
// be empty here; entry points that accept it from another source (flags)
// enforce their own requirement. A nil lookup yields pure defaults.
func ParseLookup(lookup func(string) (string, bool)) (Config, error) {
	environment := make(map[string]string, len(envVars))
	if lookup != nil {
		for _, key := range envVars {
			if value, ok := lookup(key); ok {
				environment[key] = value
			}
		}
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environment}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	cfg.StorePath = strings.TrimSpace(cfg.StorePath)
	return cfg, nil
}

// Load reads configuration from the process environment and applies
// defaults. It fails without an API base URL; use ParseLookup when the URL
// can come from elsewhere.
func Load() (Config, error) {
	cfg, err := ParseLookup(os.LookupEnv)
	if err != nil {
		return Config{}, err
	}
	if cfg.APIBaseURL == "" {
		return Config{}, fmt.Errorf("MEMBERKIT_API_BASE_URL is required")
	}
	if strings.TrimSpace(cfg.StorePath) == "" {
		path, err := DefaultStorePath()
		if err != nil {
			return Config{}, err
		}
		cfg.StorePath = path
	}
	return cfg, nil
}

// DefaultStorePath resolves the per-user durable store location.
func DefaultStorePath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, "memberkit", "session.db"), nil
}

// Exitf writes a formatted error message to stderr and exits with code 1.
// It provides a consistent fatal-exit pattern for CLI entry points.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
