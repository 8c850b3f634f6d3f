// Package config handles TOML-based configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const appName = "cinefetch"

// Telemetry modes.
const (
	TelemetryOff    = "off"
	TelemetrySQLite = "sqlite"
	TelemetryHTTP   = "http"
)

// Config holds all application configuration.
type Config struct {
	APIBase      string        `toml:"api_base"`
	Catalogs     []string      `toml:"catalogs"`
	FetchTimeout time.Duration `toml:"fetch_timeout"`
	CacheTTL     time.Duration `toml:"cache_ttl"`
	CacheSize    int           `toml:"cache_size"`
	Telemetry    string        `toml:"telemetry"`
	TelemetryURL string        `toml:"telemetry_url"`
	Quality      string        `toml:"quality"`
	SubsLanguage string        `toml:"subs_language"`
	Player       string        `toml:"player"`
	Listen       string        `toml:"listen"`
	LogLevel     string        `toml:"log_level"`
	LogJSON      bool          `toml:"log_json"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		APIBase:      "api.cinefetch.app",
		FetchTimeout: 15 * time.Second,
		CacheTTL:     2 * time.Hour,
		CacheSize:    512,
		Telemetry:    TelemetrySQLite,
		Quality:      "1080",
		SubsLanguage: "english",
		Player:       "mpv",
		Listen:       "127.0.0.1:8420",
		LogLevel:     "warn",
	}
}

// configDir returns the XDG-compliant config directory.
func configDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".config", appName), nil
}

// dataDir returns the XDG-compliant data directory.
func dataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", appName), nil
}

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// PrefsPath returns the path to the source preferences file.
func PrefsPath() (string, error) {
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sources.toml"), nil
}

// TelemetryPath returns the path to the telemetry database.
func TelemetryPath() (string, error) {
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "telemetry.db"), nil
}

// Load reads the config file and merges with defaults.
// If the config file doesn't exist, defaults are returned.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads a specific config file over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks config values are within acceptable bounds.
func (c *Config) Validate() error {
	if c.APIBase == "" {
		return fmt.Errorf("api_base cannot be empty")
	}

	if c.FetchTimeout < time.Second || c.FetchTimeout > 2*time.Minute {
		return fmt.Errorf("fetch_timeout %s out of range (1s to 2m)", c.FetchTimeout)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be positive")
	}
	if c.CacheSize < 1 || c.CacheSize > 100000 {
		return fmt.Errorf("cache_size %d out of range (1 to 100000)", c.CacheSize)
	}

	switch c.Telemetry {
	case TelemetryOff, TelemetrySQLite:
	case TelemetryHTTP:
		if c.TelemetryURL == "" {
			return fmt.Errorf("telemetry = %q requires telemetry_url", c.Telemetry)
		}
	default:
		return fmt.Errorf("unsupported telemetry %q (valid: off, sqlite, http)", c.Telemetry)
	}

	validQualities := map[string]bool{
		"360": true, "480": true, "720": true, "1080": true, "4k": true,
	}
	if !validQualities[strings.ToLower(c.Quality)] {
		return fmt.Errorf("unsupported quality %q (valid: 360, 480, 720, 1080, 4k)", c.Quality)
	}

	validPlayers := map[string]bool{
		"mpv": true, "vlc": true, "iina": true, "celluloid": true,
	}
	if !validPlayers[strings.ToLower(c.Player)] {
		return fmt.Errorf("unsupported player %q (valid: mpv, vlc, iina, celluloid)", c.Player)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "warning": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("unsupported log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if c.Listen == "" {
		return fmt.Errorf("listen address cannot be empty")
	}

	return nil
}
