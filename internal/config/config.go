// Package config handles configuration loading and validation for the
// pagelock server.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jmcleod/pagelock/broadcast"
	"github.com/jmcleod/pagelock/lock"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PAGELOCK_"

// Storage backends.
const (
	StorageMemory = "memory"
	StorageBBolt  = "bbolt"
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

// Broadcast transports.
const (
	BroadcastMemory = "memory"
	BroadcastRedis  = "redis"
)

// Duration is a time.Duration that decodes from strings such as "90s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds the complete server configuration.
type Config struct {
	// Listen is the address the HTTP server binds to.
	Listen string `toml:"listen" yaml:"listen"`

	// DataDir holds the database file for the bbolt and sqlite backends.
	DataDir string `toml:"data_dir" yaml:"data_dir"`

	// Storage selects the persistence backend: memory, bbolt, sqlite or redis.
	Storage string `toml:"storage" yaml:"storage"`

	// RedisURL is required when Storage or Broadcast is "redis".
	RedisURL string `toml:"redis_url" yaml:"redis_url"`

	// Broadcast selects the lock-event transport: memory or redis.
	Broadcast string `toml:"broadcast" yaml:"broadcast"`

	// BroadcastTopic names the topic (the stream, for redis) lock events
	// travel on. Deployments sharing one Redis need distinct topics.
	BroadcastTopic string `toml:"broadcast_topic" yaml:"broadcast_topic"`

	// RequestQueue bounds the requests waiting on the session authority.
	RequestQueue int `toml:"request_queue" yaml:"request_queue"`

	MonitorInterval   Duration `toml:"monitor_interval" yaml:"monitor_interval"`
	HeartbeatInterval Duration `toml:"heartbeat_interval" yaml:"heartbeat_interval"`

	// Token, when set, is required as a Bearer token on every API request.
	Token string `toml:"token" yaml:"token"`

	// TrustedProxies lists CIDRs whose X-Forwarded-For header is honoured.
	TrustedProxies []string `toml:"trusted_proxies" yaml:"trusted_proxies"`

	WebAuthn WebAuthnConfig `toml:"webauthn" yaml:"webauthn"`
	Log      LogConfig      `toml:"log" yaml:"log"`
	Audit    AuditConfig    `toml:"audit" yaml:"audit"`

	// Settings are applied to the store at startup and on every reload.
	Settings SettingsConfig `toml:"settings" yaml:"settings"`
}

// WebAuthnConfig configures the platform-authenticator ceremonies. An empty
// RPID disables biometric verification.
type WebAuthnConfig struct {
	RPID    string   `toml:"rp_id" yaml:"rp_id"`
	RPName  string   `toml:"rp_name" yaml:"rp_name"`
	Origins []string `toml:"origins" yaml:"origins"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// AuditConfig configures where audit entries go besides the log.
type AuditConfig struct {
	// JournalSize bounds the entries kept for GET /audit. Zero disables
	// the journal.
	JournalSize int `toml:"journal_size" yaml:"journal_size"`

	// WebhookURL, when set, receives every entry as a JSON POST.
	WebhookURL string `toml:"webhook_url" yaml:"webhook_url"`

	// WebhookAuthHeader is a "Name: value" header sent with each POST.
	WebhookAuthHeader string `toml:"webhook_auth_header" yaml:"webhook_auth_header"`
}

// SettingsConfig overrides persisted lock settings. Unset keys leave the
// stored value alone.
type SettingsConfig struct {
	Enabled                  *bool `toml:"enabled" yaml:"enabled"`
	InactivityTimeoutMinutes *int  `toml:"inactivity_timeout_minutes" yaml:"inactivity_timeout_minutes"`
}

// Empty reports whether no setting is overridden.
func (s SettingsConfig) Empty() bool {
	return s.Enabled == nil && s.InactivityTimeoutMinutes == nil
}

// Apply writes the overridden values onto settings.
func (s SettingsConfig) Apply(settings *lock.Settings) {
	if s.Enabled != nil {
		settings.Enabled = *s.Enabled
	}
	if s.InactivityTimeoutMinutes != nil {
		settings.InactivityTimeoutMinutes = *s.InactivityTimeoutMinutes
	}
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Listen:            "127.0.0.1:8750",
		DataDir:           "./data",
		Storage:           StorageBBolt,
		Broadcast:         BroadcastMemory,
		BroadcastTopic:    broadcast.DefaultTopic,
		RequestQueue:      64,
		MonitorInterval:   Duration{lock.DefaultMonitorInterval},
		HeartbeatInterval: Duration{60 * time.Second},
		WebAuthn: WebAuthnConfig{
			RPName: "pagelock",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Audit: AuditConfig{
			JournalSize: 500,
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	switch c.Storage {
	case StorageMemory, StorageRedis:
	case StorageBBolt, StorageSQLite:
		if c.DataDir == "" {
			errs = append(errs, fmt.Errorf("data_dir is required for %s storage", c.Storage))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage %q", c.Storage))
	}
	switch c.Broadcast {
	case BroadcastMemory, BroadcastRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown broadcast %q", c.Broadcast))
	}
	if c.BroadcastTopic == "" {
		errs = append(errs, errors.New("broadcast_topic is required"))
	}
	if c.RequestQueue <= 0 {
		errs = append(errs, errors.New("request_queue must be positive"))
	}
	if (c.Storage == StorageRedis || c.Broadcast == BroadcastRedis) && c.RedisURL == "" {
		errs = append(errs, errors.New("redis_url is required when redis is selected"))
	}
	if c.MonitorInterval.Duration <= 0 {
		errs = append(errs, errors.New("monitor_interval must be positive"))
	}
	if c.HeartbeatInterval.Duration <= 0 {
		errs = append(errs, errors.New("heartbeat_interval must be positive"))
	}
	if _, err := c.ProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	if c.WebAuthn.RPID != "" && len(c.WebAuthn.Origins) == 0 {
		errs = append(errs, errors.New("webauthn.origins is required when webauthn.rp_id is set"))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Audit.JournalSize < 0 {
		errs = append(errs, errors.New("audit.journal_size must not be negative"))
	}
	if c.Audit.WebhookAuthHeader != "" && !strings.Contains(c.Audit.WebhookAuthHeader, ":") {
		errs = append(errs, errors.New(`audit.webhook_auth_header must look like "Name: value"`))
	}
	if m := c.Settings.InactivityTimeoutMinutes; m != nil && *m <= 0 {
		errs = append(errs, fmt.Errorf("settings.inactivity_timeout_minutes must be positive, got %d", *m))
	}

	return errors.Join(errs...)
}

// ProxyPrefixes parses TrustedProxies. Bare addresses become single-host
// prefixes.
func (c *Config) ProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if p, err := netip.ParsePrefix(raw); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q", raw)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// ApplyEnvOverrides applies PAGELOCK_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv(EnvPrefix + "LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv(EnvPrefix + "DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(EnvPrefix + "STORAGE"); v != "" {
		c.Storage = v
	}
	if v := os.Getenv(EnvPrefix + "REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv(EnvPrefix + "BROADCAST"); v != "" {
		c.Broadcast = v
	}
	if v := os.Getenv(EnvPrefix + "BROADCAST_TOPIC"); v != "" {
		c.BroadcastTopic = v
	}
	if v := os.Getenv(EnvPrefix + "MONITOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.MonitorInterval.Duration = d
		}
	}

	// Secrets belong in the environment rather than the file.
	if v := os.Getenv(EnvPrefix + "TOKEN"); v != "" {
		c.Token = v
	}

	if v := os.Getenv(EnvPrefix + "TRUSTED_PROXIES"); v != "" {
		c.TrustedProxies = strings.Split(v, ",")
	}
	if v := os.Getenv(EnvPrefix + "WEBAUTHN_RP_ID"); v != "" {
		c.WebAuthn.RPID = v
	}
	if v := os.Getenv(EnvPrefix + "WEBAUTHN_ORIGINS"); v != "" {
		c.WebAuthn.Origins = strings.Split(v, ",")
	}
	if v := os.Getenv(EnvPrefix + "AUDIT_WEBHOOK_URL"); v != "" {
		c.Audit.WebhookURL = v
	}
	if v := os.Getenv(EnvPrefix + "AUDIT_WEBHOOK_AUTH_HEADER"); v != "" {
		c.Audit.WebhookAuthHeader = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv(EnvPrefix + "INACTIVITY_TIMEOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Settings.InactivityTimeoutMinutes = &n
		}
	}
}
