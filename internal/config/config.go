package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"eventcal/internal/color"
)

// Environment variables that override the YAML file.
const (
	EnvBaseURL  = "EVENTCAL_BASE_URL"
	EnvListen   = "EVENTCAL_LISTEN"
	EnvLogLevel = "EVENTCAL_LOG_LEVEL"
)

const (
	defaultListen  = "127.0.0.1:8080"
	defaultBaseURL = "http://localhost:4040"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the widget API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the calendar widget API.
	Listen string `yaml:"listen" json:"listen"`

	// BaseURL is the remote event store address.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// RequestTimeout bounds each remote store request. Zero disables the
	// client-side timeout.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// Timezone is the IANA zone used to read form times that carry no
	// offset (e.g. "2024-01-01T09:00"). Empty means the host zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// TextColor is sent as the foreground color of every event.
	TextColor string `yaml:"text_color" json:"text_color"`

	// Reload is a cron spec (e.g. "*/15 * * * *") for re-listing the
	// remote store. Empty means the cache is loaded once at startup.
	Reload string `yaml:"reload" json:"reload"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// CalendarName is written into the ICS export.
	CalendarName string `yaml:"calendar_name" json:"calendar_name"`

	// AllowedOrigins lists browser origins allowed to call the widget API.
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:         defaultListen,
		BaseURL:        defaultBaseURL,
		TextColor:      color.TextColor,
		LogLevel:       "info",
		CalendarName:   "Events",
		AllowedOrigins: []string{"*"},
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.RequestTimeout < 0 {
		c.RequestTimeout = 0
	}
	if c.TextColor == "" {
		c.TextColor = color.TextColor
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.CalendarName == "" {
		c.CalendarName = "Events"
	}
	if c.AllowedOrigins == nil {
		c.AllowedOrigins = []string{"*"}
	}
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local, err
	}
	return loc, nil
}

// ApplyEnv loads a .env file from the working directory when present and
// applies EVENTCAL_* overrides.
func (c *Config) ApplyEnv() {
	// A missing .env is the common case.
	_ = godotenv.Load()

	if v := os.Getenv(EnvBaseURL); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv(EnvListen); v != "" {
		c.Listen = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	c.Normalize()
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".eventcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
