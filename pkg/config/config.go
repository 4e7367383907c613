// Package config loads the agent's static configuration.
//
// Static configuration comes from a YAML file plus ELDAGENT_* environment
// overrides and describes the deployment: upstream API, dashboard UI,
// credentials, and local paths. Operator-tunable runtime settings (polling
// interval, concurrency, approval mode) live in the database instead so the
// dashboard can change them while the agent runs.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when the config file omits a setting.
const (
	defaultPollingInterval = 5 * time.Minute
	defaultRequestTimeout  = 30 * time.Second
	defaultMaxConcurrent   = 1
	defaultStorePath       = "agent.db"
	defaultNATSURL         = "nats://127.0.0.1:4222"
)

// Config is the agent's static configuration.
type Config struct {
	// Upstream describes the compliance platform API the agent polls.
	Upstream UpstreamConfig `yaml:"upstream"`

	// UI describes the dashboard web interface the agent drives.
	UI UIConfig `yaml:"ui"`

	// Browser controls the automation browser.
	Browser BrowserConfig `yaml:"browser"`

	// Agent holds defaults seeded into the database config row on first run.
	Agent AgentConfig `yaml:"agent"`

	// StorePath is the SQLite database file path.
	StorePath string `yaml:"store_path"`

	// NATSURL is the event bus address. Empty disables the NATS sink.
	NATSURL string `yaml:"nats_url"`

	// LogDir overrides the log directory. Empty uses ~/.eldagent/logs.
	LogDir string `yaml:"log_dir"`

	// ScreenshotDir is where fix attempt screenshots are written.
	ScreenshotDir string `yaml:"screenshot_dir"`
}

// UpstreamConfig describes the compliance platform API.
type UpstreamConfig struct {
	// BaseURL is the API root, e.g. https://api.example.com.
	BaseURL string `yaml:"base_url"`

	// Token authenticates API requests.
	Token string `yaml:"token"`

	// SystemName identifies this deployment to the API.
	SystemName string `yaml:"system_name"`

	// RequestTimeout bounds a single API request.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// UIConfig describes the dashboard web interface.
type UIConfig struct {
	// BaseURL is the dashboard root the browser navigates to.
	BaseURL string `yaml:"base_url"`

	// Username and Password are the dashboard login credentials.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// BrowserConfig controls the automation browser.
type BrowserConfig struct {
	// Headless runs the browser without a visible window.
	Headless bool `yaml:"headless"`

	// StateDir is where login state (cookies, storage) persists across runs.
	// Empty uses ~/.eldagent/browser.
	StateDir string `yaml:"state_dir"`
}

// AgentConfig holds runtime defaults seeded on first run.
type AgentConfig struct {
	// PollingInterval is how often the agent polls for violations.
	PollingInterval time.Duration `yaml:"polling_interval"`

	// MaxConcurrentFixes caps fix attempts running at once.
	MaxConcurrentFixes int `yaml:"max_concurrent_fixes"`

	// RequireApproval gates fixes behind operator approval.
	RequireApproval bool `yaml:"require_approval"`

	// DryRun simulates fixes without touching the dashboard.
	DryRun bool `yaml:"dry_run"`
}

// Default returns a config populated with defaults.
func Default() *Config {
	return &Config{
		Upstream: UpstreamConfig{
			RequestTimeout: defaultRequestTimeout,
		},
		Browser: BrowserConfig{
			Headless: true,
		},
		Agent: AgentConfig{
			PollingInterval:    defaultPollingInterval,
			MaxConcurrentFixes: defaultMaxConcurrent,
			RequireApproval:    true,
			DryRun:             true,
		},
		StorePath: defaultStorePath,
		NATSURL:   defaultNATSURL,
	}
}

// Load reads the config file at path, applies environment overrides, and
// validates the result. A missing file is not an error: defaults plus
// environment variables must be enough to run.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values from ELDAGENT_* environment variables.
// Environment always wins over the file so deployments can inject secrets
// without writing them to disk.
func (c *Config) applyEnv() {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			if parsed, err := strconv.ParseBool(v); err == nil {
				*dst = parsed
			}
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			if parsed, err := time.ParseDuration(v); err == nil {
				*dst = parsed
			}
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if parsed, err := strconv.Atoi(v); err == nil {
				*dst = parsed
			}
		}
	}

	setString("ELDAGENT_UPSTREAM_URL", &c.Upstream.BaseURL)
	setString("ELDAGENT_UPSTREAM_TOKEN", &c.Upstream.Token)
	setString("ELDAGENT_SYSTEM_NAME", &c.Upstream.SystemName)
	setDuration("ELDAGENT_REQUEST_TIMEOUT", &c.Upstream.RequestTimeout)

	setString("ELDAGENT_UI_URL", &c.UI.BaseURL)
	setString("ELDAGENT_UI_USERNAME", &c.UI.Username)
	setString("ELDAGENT_UI_PASSWORD", &c.UI.Password)

	setBool("ELDAGENT_HEADLESS", &c.Browser.Headless)
	setString("ELDAGENT_BROWSER_STATE_DIR", &c.Browser.StateDir)

	setDuration("ELDAGENT_POLLING_INTERVAL", &c.Agent.PollingInterval)
	setInt("ELDAGENT_MAX_CONCURRENT_FIXES", &c.Agent.MaxConcurrentFixes)
	setBool("ELDAGENT_REQUIRE_APPROVAL", &c.Agent.RequireApproval)
	setBool("ELDAGENT_DRY_RUN", &c.Agent.DryRun)

	setString("ELDAGENT_STORE_PATH", &c.StorePath)
	setString("ELDAGENT_NATS_URL", &c.NATSURL)
	setString("ELDAGENT_LOG_DIR", &c.LogDir)
	setString("ELDAGENT_SCREENSHOT_DIR", &c.ScreenshotDir)
}

// Validate checks the configuration for values the agent cannot run with.
func (c *Config) Validate() error {
	if c.Upstream.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.Upstream.BaseURL); err != nil {
			return fmt.Errorf("invalid upstream base_url %q: %w", c.Upstream.BaseURL, err)
		}
	}
	if c.UI.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.UI.BaseURL); err != nil {
			return fmt.Errorf("invalid ui base_url %q: %w", c.UI.BaseURL, err)
		}
	}
	if c.Agent.PollingInterval < 10*time.Second {
		return fmt.Errorf("polling_interval must be at least 10s, got %v", c.Agent.PollingInterval)
	}
	if c.Agent.MaxConcurrentFixes < 1 || c.Agent.MaxConcurrentFixes > 10 {
		return fmt.Errorf("max_concurrent_fixes must be between 1 and 10, got %d", c.Agent.MaxConcurrentFixes)
	}
	if c.StorePath == "" {
		return fmt.Errorf("store_path must not be empty")
	}
	return nil
}

// BrowserStateDir returns the directory for persisted browser state,
// creating it when needed.
func (c *Config) BrowserStateDir() (string, error) {
	dir := c.Browser.StateDir
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".eldagent", "browser")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create browser state directory: %w", err)
	}
	return dir, nil
}
