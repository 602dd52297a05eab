package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// MessageConfig controls how long the message area stays visible.
type MessageConfig struct {
	// SignupHide applies to every signup outcome.
	SignupHide time.Duration `yaml:"signup_hide" json:"signup_hide" env:"SIGNUP_HIDE"`
	// UnregisterSuccessHide applies to a successful removal.
	UnregisterSuccessHide time.Duration `yaml:"unregister_success_hide" json:"unregister_success_hide" env:"UNREGISTER_SUCCESS_HIDE"`
	// UnregisterErrorHide applies to a failed removal.
	UnregisterErrorHide time.Duration `yaml:"unregister_error_hide" json:"unregister_error_hide" env:"UNREGISTER_ERROR_HIDE"`
}

// RateLimitConfig bounds mutating requests per client address.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" json:"rps" env:"RPS"`
	Burst int     `yaml:"burst" json:"burst" env:"BURST"`
}

// CaptureConfig describes the headless-browser preview of the board.
type CaptureConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled" env:"ENABLED"`
	OutputPath string `yaml:"output_path" json:"output_path" env:"OUTPUT_PATH"`
	Width      int    `yaml:"width" json:"width" env:"WIDTH"`
	Height     int    `yaml:"height" json:"height" env:"HEIGHT"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the board itself.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the board.
	Listen string `yaml:"listen" json:"listen" env:"LISTEN"`

	// ServiceURL is the base URL of the Activity Service, e.g.
	// "http://127.0.0.1:8000". Paths such as /activities are appended.
	ServiceURL string `yaml:"service_url" json:"service_url" env:"SERVICE_URL"`

	// Timezone is the IANA zone used to compute upcoming sessions.
	Timezone string `yaml:"timezone" json:"timezone" env:"TIMEZONE"`

	// RefreshCron re-fetches the activity list on a cron schedule.
	// Empty disables periodic refresh.
	RefreshCron string `yaml:"refresh" json:"refresh" env:"REFRESH"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level" env:"LOG_LEVEL"`

	// RequestTimeout bounds calls to the Activity Service. Zero means none.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout" env:"REQUEST_TIMEOUT"`

	Messages  MessageConfig   `yaml:"messages" json:"messages" envPrefix:"MESSAGES_"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Capture   CaptureConfig   `yaml:"capture" json:"capture" envPrefix:"CAPTURE_"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// EnvPrefix namespaces every environment override.
const EnvPrefix = "SIGNUPBOARD_"

const (
	defaultListen        = "127.0.0.1:8080"
	defaultServiceURL    = "http://127.0.0.1:8000"
	defaultTimezone      = "UTC"
	defaultLogLevel      = "info"
	defaultSignupHide    = 5 * time.Second
	defaultUnregisterOK  = 3 * time.Second
	defaultUnregisterErr = 5 * time.Second
	defaultRPS           = 5
	defaultBurst         = 10
	defaultCapturePath   = "./cache/preview.png"
	defaultCaptureWidth  = 1280
	defaultCaptureHeight = 1600
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      defaultListen,
		ServiceURL:  defaultServiceURL,
		Timezone:    defaultTimezone,
		RefreshCron: "*/5 * * * *",
		LogLevel:    defaultLogLevel,
		Messages: MessageConfig{
			SignupHide:            defaultSignupHide,
			UnregisterSuccessHide: defaultUnregisterOK,
			UnregisterErrorHide:   defaultUnregisterErr,
		},
		RateLimit: RateLimitConfig{
			RPS:   defaultRPS,
			Burst: defaultBurst,
		},
		Capture: CaptureConfig{
			Enabled:    false,
			OutputPath: defaultCapturePath,
			Width:      defaultCaptureWidth,
			Height:     defaultCaptureHeight,
		},
	}
}

// Normalize fills in missing/zero values so partially-filled files still
// behave correctly. RefreshCron is left alone: empty means disabled.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.ServiceURL == "" {
		c.ServiceURL = defaultServiceURL
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.RequestTimeout < 0 {
		c.RequestTimeout = 0
	}
	if c.Messages.SignupHide <= 0 {
		c.Messages.SignupHide = defaultSignupHide
	}
	if c.Messages.UnregisterSuccessHide <= 0 {
		c.Messages.UnregisterSuccessHide = defaultUnregisterOK
	}
	if c.Messages.UnregisterErrorHide <= 0 {
		c.Messages.UnregisterErrorHide = defaultUnregisterErr
	}
	// Zero disables rate limiting.
	if c.RateLimit.RPS < 0 {
		c.RateLimit.RPS = 0
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = defaultBurst
	}
	if c.Capture.OutputPath == "" {
		c.Capture.OutputPath = defaultCapturePath
	}
	if c.Capture.Width <= 0 {
		c.Capture.Width = defaultCaptureWidth
	}
	if c.Capture.Height <= 0 {
		c.Capture.Height = defaultCaptureHeight
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "" || c.BasicAuth.Password == "") {
		c.BasicAuth = nil
	}
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist, a default config is written there with 0600
// permissions and returned. Otherwise the YAML is decoded and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Caller decides whether an unwritable default is fatal.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	return cfg, nil
}

// ApplyEnv overrides fields from SIGNUPBOARD_* environment variables.
// Unset variables leave the loaded values untouched.
func (c *Config) ApplyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	c.Normalize()
	return nil
}

// Save writes cfg to path atomically via a temp file + rename, ensuring the
// parent directory exists (0700) and the final file is 0600.
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

	tmp, err := os.CreateTemp(dir, ".signupboard-config-*.tmp")
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
