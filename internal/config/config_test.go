package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/pagelock/lock"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "absent.toml"), WithEnvFile(""))
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Listen, cfg.Listen)
	assert.Same(t, cfg, l.Config())
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "pagelock.toml", `
listen = "0.0.0.0:9000"
storage = "memory"
monitor_interval = "30s"
broadcast_topic = "pagelock.staging"
request_queue = 8
trusted_proxies = ["10.0.0.0/8", "192.168.1.7"]

[webauthn]
rp_id = "localhost"
origins = ["https://localhost:9000"]

[log]
level = "debug"
format = "text"

[audit]
journal_size = 20
webhook_url = "https://hooks.example.com/pagelock"
webhook_auth_header = "Authorization: Bearer hook"

[settings]
inactivity_timeout_minutes = 5
`)
	cfg, err := NewLoader(path, WithEnvFile("")).Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, 30*time.Second, cfg.MonitorInterval.Duration)
	assert.Equal(t, "pagelock.staging", cfg.BroadcastTopic)
	assert.Equal(t, 8, cfg.RequestQueue)
	assert.Equal(t, 60*time.Second, cfg.HeartbeatInterval.Duration, "unset keys keep defaults")
	assert.Equal(t, "localhost", cfg.WebAuthn.RPID)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 20, cfg.Audit.JournalSize)
	assert.Equal(t, "https://hooks.example.com/pagelock", cfg.Audit.WebhookURL)
	require.NotNil(t, cfg.Settings.InactivityTimeoutMinutes)
	assert.Equal(t, 5, *cfg.Settings.InactivityTimeoutMinutes)
	assert.Nil(t, cfg.Settings.Enabled)

	prefixes, err := cfg.ProxyPrefixes()
	require.NoError(t, err)
	require.Len(t, prefixes, 2)
	assert.Equal(t, "10.0.0.0/8", prefixes[0].String())
	assert.Equal(t, "192.168.1.7/32", prefixes[1].String())
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "pagelock.yaml", `
storage: memory
heartbeat_interval: 15s
settings:
  enabled: false
`)
	cfg, err := NewLoader(path, WithEnvFile("")).Load()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.HeartbeatInterval.Duration)
	require.NotNil(t, cfg.Settings.Enabled)
	assert.False(t, *cfg.Settings.Enabled)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeFile(t, t.TempDir(), "pagelock.toml", `monitor_interval = "soon"`)
	_, err := NewLoader(path, WithEnvFile("")).Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen", func(c *Config) { c.Listen = "" }},
		{"unknown storage", func(c *Config) { c.Storage = "etcd" }},
		{"unknown broadcast", func(c *Config) { c.Broadcast = "nats" }},
		{"empty broadcast topic", func(c *Config) { c.BroadcastTopic = "" }},
		{"zero request queue", func(c *Config) { c.RequestQueue = 0 }},
		{"redis without url", func(c *Config) { c.Storage = StorageRedis }},
		{"redis broadcast without url", func(c *Config) { c.Broadcast = BroadcastRedis }},
		{"bbolt without data dir", func(c *Config) { c.DataDir = "" }},
		{"zero monitor interval", func(c *Config) { c.MonitorInterval.Duration = 0 }},
		{"negative heartbeat interval", func(c *Config) { c.HeartbeatInterval.Duration = -time.Second }},
		{"bad proxy", func(c *Config) { c.TrustedProxies = []string{"not-an-ip"} }},
		{"rp id without origins", func(c *Config) { c.WebAuthn.RPID = "localhost" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"negative journal size", func(c *Config) { c.Audit.JournalSize = -1 }},
		{"malformed webhook header", func(c *Config) { c.Audit.WebhookAuthHeader = "Bearer x" }},
		{"non-positive timeout", func(c *Config) {
			zero := 0
			c.Settings.InactivityTimeoutMinutes = &zero
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PAGELOCK_LISTEN", ":7000")
	t.Setenv("PAGELOCK_STORAGE", "redis")
	t.Setenv("PAGELOCK_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("PAGELOCK_TOKEN", "s3cret")
	t.Setenv("PAGELOCK_BROADCAST_TOPIC", "pagelock.prod")
	t.Setenv("PAGELOCK_TRUSTED_PROXIES", "127.0.0.1,10.0.0.0/8")
	t.Setenv("PAGELOCK_INACTIVITY_TIMEOUT_MINUTES", "3")

	cfg, err := NewLoader("", WithEnvFile("")).Load()
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Listen)
	assert.Equal(t, StorageRedis, cfg.Storage)
	assert.Equal(t, "s3cret", cfg.Token)
	assert.Equal(t, "pagelock.prod", cfg.BroadcastTopic)
	assert.Len(t, cfg.TrustedProxies, 2)
	require.NotNil(t, cfg.Settings.InactivityTimeoutMinutes)
	assert.Equal(t, 3, *cfg.Settings.InactivityTimeoutMinutes)
}

func TestEnvFileDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	env := writeFile(t, dir, ".env", "PAGELOCK_LOG_LEVEL=debug\nPAGELOCK_LOG_FORMAT=text\n")
	t.Setenv("PAGELOCK_LOG_LEVEL", "warn")
	// Registered so t.Setenv restores the variable after godotenv sets it.
	t.Setenv("PAGELOCK_LOG_FORMAT", "")

	cfg, err := NewLoader("", WithEnvFile(env)).Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format, "empty variables count as set")
}

func TestSettingsConfigApply(t *testing.T) {
	settings := lock.DefaultSettings()
	settings.CredentialReference = "cred-1"

	var sc SettingsConfig
	assert.True(t, sc.Empty())
	sc.Apply(&settings)
	assert.Equal(t, lock.DefaultSettings().Enabled, settings.Enabled)

	disabled := false
	minutes := 7
	sc = SettingsConfig{Enabled: &disabled, InactivityTimeoutMinutes: &minutes}
	assert.False(t, sc.Empty())
	sc.Apply(&settings)
	assert.False(t, settings.Enabled)
	assert.Equal(t, 7, settings.InactivityTimeoutMinutes)
	assert.Equal(t, "cred-1", settings.CredentialReference, "untouched fields survive")
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "pagelock.toml", "storage = \"memory\"\n")

	l := NewLoader(path, WithEnvFile(""))
	_, err := l.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 4)
	l.OnChange(func(c *Config) { changed <- c })
	require.NoError(t, l.Watch())
	defer l.Close()

	writeFile(t, dir, "pagelock.toml", "storage = \"memory\"\n[settings]\ninactivity_timeout_minutes = 2\n")

	select {
	case cfg := <-changed:
		require.NotNil(t, cfg.Settings.InactivityTimeoutMinutes)
		assert.Equal(t, 2, *cfg.Settings.InactivityTimeoutMinutes)
		assert.Same(t, cfg, l.Config())
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestWatchKeepsConfigOnInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "pagelock.toml", "storage = \"memory\"\n")

	l := NewLoader(path, WithEnvFile(""))
	original, err := l.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 4)
	l.OnChange(func(c *Config) { changed <- c })
	require.NoError(t, l.Watch())
	defer l.Close()

	writeFile(t, dir, "pagelock.toml", "storage = \"floppy\"\n")

	select {
	case <-changed:
		t.Fatal("invalid configuration was applied")
	case <-time.After(500 * time.Millisecond):
	}
	assert.Same(t, original, l.Config())
}

func TestWatchWithoutPath(t *testing.T) {
	assert.Error(t, NewLoader("").Watch())
}

func TestParseLevel(t *testing.T) {
	for _, name := range []string{"", "debug", "INFO", "warning", "error"} {
		_, err := ParseLevel(name)
		assert.NoError(t, err, name)
	}
	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}
