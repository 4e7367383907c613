package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Agent.PollingInterval)
	assert.Equal(t, 1, cfg.Agent.MaxConcurrentFixes)
	assert.True(t, cfg.Agent.RequireApproval)
	assert.True(t, cfg.Agent.DryRun)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, "agent.db", cfg.StorePath)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATSURL)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
upstream:
  base_url: https://api.example.com
  token: secret-token
  system_name: fleet-west
  request_timeout: 45s
ui:
  base_url: https://dashboard.example.com
  username: agent@example.com
  password: hunter2
browser:
  headless: false
agent:
  polling_interval: 1m
  max_concurrent_fixes: 3
  require_approval: false
  dry_run: false
store_path: /var/lib/eldagent/agent.db
nats_url: nats://bus:4222
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.Upstream.BaseURL)
	assert.Equal(t, "secret-token", cfg.Upstream.Token)
	assert.Equal(t, "fleet-west", cfg.Upstream.SystemName)
	assert.Equal(t, 45*time.Second, cfg.Upstream.RequestTimeout)
	assert.Equal(t, "https://dashboard.example.com", cfg.UI.BaseURL)
	assert.Equal(t, "agent@example.com", cfg.UI.Username)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, time.Minute, cfg.Agent.PollingInterval)
	assert.Equal(t, 3, cfg.Agent.MaxConcurrentFixes)
	assert.False(t, cfg.Agent.RequireApproval)
	assert.False(t, cfg.Agent.DryRun)
	assert.Equal(t, "/var/lib/eldagent/agent.db", cfg.StorePath)
	assert.Equal(t, "nats://bus:4222", cfg.NATSURL)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
upstream:
  base_url: https://api.example.com
  token: file-token
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	t.Setenv("ELDAGENT_UPSTREAM_TOKEN", "env-token")
	t.Setenv("ELDAGENT_UI_PASSWORD", "env-password")
	t.Setenv("ELDAGENT_POLLING_INTERVAL", "30s")
	t.Setenv("ELDAGENT_MAX_CONCURRENT_FIXES", "2")
	t.Setenv("ELDAGENT_HEADLESS", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.Upstream.BaseURL)
	assert.Equal(t, "env-token", cfg.Upstream.Token)
	assert.Equal(t, "env-password", cfg.UI.Password)
	assert.Equal(t, 30*time.Second, cfg.Agent.PollingInterval)
	assert.Equal(t, 2, cfg.Agent.MaxConcurrentFixes)
	assert.False(t, cfg.Browser.Headless)
}

func TestEnvironmentIgnoresUnparseableValues(t *testing.T) {
	t.Setenv("ELDAGENT_POLLING_INTERVAL", "not-a-duration")
	t.Setenv("ELDAGENT_MAX_CONCURRENT_FIXES", "lots")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Agent.PollingInterval)
	assert.Equal(t, 1, cfg.Agent.MaxConcurrentFixes)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "polling interval too short",
			mutate:  func(c *Config) { c.Agent.PollingInterval = time.Second },
			wantErr: "polling_interval",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Agent.MaxConcurrentFixes = 0 },
			wantErr: "max_concurrent_fixes",
		},
		{
			name:    "excessive concurrency",
			mutate:  func(c *Config) { c.Agent.MaxConcurrentFixes = 50 },
			wantErr: "max_concurrent_fixes",
		},
		{
			name:    "empty store path",
			mutate:  func(c *Config) { c.StorePath = "" },
			wantErr: "store_path",
		},
		{
			name:    "malformed upstream url",
			mutate:  func(c *Config) { c.Upstream.BaseURL = "not a url" },
			wantErr: "base_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestInvalidYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("upstream: [not a mapping"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestBrowserStateDirCreates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	cfg := Default()
	cfg.Browser.StateDir = dir

	got, err := cfg.BrowserStateDir()
	require.NoError(t, err)
	assert.Equal(t, dir, got)
	assert.DirExists(t, got)
}
