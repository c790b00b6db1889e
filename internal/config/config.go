// Package config defines the top-level configuration for the coparent
// backend and provides validation helpers.
package config

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/coparent/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by COPARENT_* environment variables.
type Config struct {
	Supabase   SupabaseConfig   `toml:"supabase"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Dispatcher DispatcherConfig `toml:"dispatcher"`
	Delivery   DeliveryConfig   `toml:"delivery"`
	Email      EmailConfig      `toml:"email"`
	SMS        SMSConfig        `toml:"sms"`
	Tone       ToneConfig       `toml:"tone"`
	Billing    BillingConfig    `toml:"billing"`
	Archive    ArchiveConfig    `toml:"archive"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr                 string `toml:"addr"`
	Password             string `toml:"password"`
	DB                   int    `toml:"db"`
	PoolSize             int    `toml:"pool_size"`
	MaxRetries           int    `toml:"max_retries"`
	TLSEnabled           bool   `toml:"tls_enabled"`
	PreferenceTTLMinutes int    `toml:"preference_ttl_minutes"`
	// KeyPrefix namespaces every key and pub/sub channel so several
	// environments can share one Redis.
	KeyPrefix string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`

	ServerSideEncryption bool `toml:"server_side_encryption"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// ServiceKey protects internal endpoints (schedule, send). Empty disables
	// the check.
	ServiceKey      string   `toml:"service_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
	// TrustedProxies lists the addresses or CIDRs of reverse proxies whose
	// X-Forwarded-For and X-Real-IP headers are believed. Requests from any
	// other peer are keyed by their socket address.
	TrustedProxies []string `toml:"trusted_proxies"`
}

// ProxyPrefixes parses TrustedProxies. A bare address becomes a single-host
// prefix.
func (s ServerConfig) ProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for _, raw := range s.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// SchedulerConfig controls the periodic reminder scheduler.
type SchedulerConfig struct {
	Enabled bool     `toml:"enabled"`
	Cron    string   `toml:"cron"`
	Window  duration `toml:"window"`
}

// DispatcherConfig controls the due-notification dispatcher loop.
type DispatcherConfig struct {
	Enabled     bool     `toml:"enabled"`
	Interval    duration `toml:"interval"`
	BatchSize   int      `toml:"batch_size"`
	Concurrency int      `toml:"concurrency"`
}

// DeliveryConfig controls provider send retries.
type DeliveryConfig struct {
	MaxAttempts int      `toml:"max_attempts"`
	BaseBackoff duration `toml:"base_backoff"`
}

// EmailConfig configures the email channel. Without a SendGrid key the
// console sender is used.
type EmailConfig struct {
	SendgridAPIKey string `toml:"sendgrid_api_key"`
	FromAddress    string `toml:"from_address"`
	FromName       string `toml:"from_name"`
	SubjectPrefix  string `toml:"subject_prefix"`
}

// SMSConfig configures the mock SMS channel.
type SMSConfig struct {
	SenderID    string  `toml:"sender_id"`
	FailureRate float64 `toml:"failure_rate"`
}

// ToneConfig configures the tone analyzer. Without an API key only the
// keyword analyzer runs.
type ToneConfig struct {
	APIKey  string   `toml:"api_key"`
	BaseURL string   `toml:"base_url"`
	Model   string   `toml:"model"`
	Timeout duration `toml:"timeout"`
}

// BillingConfig holds payment-provider webhook settings.
type BillingConfig struct {
	WebhookSecret   string   `toml:"webhook_secret"`
	SignatureMaxAge duration `toml:"signature_max_age"`
}

// ArchiveConfig controls cold-storage archival of old records.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
}

// NotifyConfig holds operator alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:                 "localhost:6379",
			PoolSize:             20,
			MaxRetries:           3,
			PreferenceTTLMinutes: 15,
			KeyPrefix:            "coparent:",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "coparent-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:            8080,
			CORSOrigins:     []string{"http://localhost:5173"},
			RateLimit:       30,
			RateLimitWindow: duration{time.Minute},
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
			Cron:    "*/5 * * * *",
			Window:  duration{10 * time.Minute},
		},
		Dispatcher: DispatcherConfig{
			Enabled:     true,
			Interval:    duration{30 * time.Second},
			BatchSize:   50,
			Concurrency: 4,
		},
		Delivery: DeliveryConfig{
			MaxAttempts: 3,
			BaseBackoff: duration{500 * time.Millisecond},
		},
		Email: EmailConfig{
			FromAddress:   "notifications@coparent.local",
			FromName:      "CoParent",
			SubjectPrefix: "[CoParent] ",
		},
		SMS: SMSConfig{
			SenderID: "COPARENT",
		},
		Tone: ToneConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: duration{15 * time.Second},
		},
		Billing: BillingConfig{
			SignatureMaxAge: duration{5 * time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Cron:          "0 3 * * *",
			RetentionDays: 90,
		},
		Notify: NotifyConfig{
			Events: []string{"payment_failed", "delivery_failed", "webhook_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var (
	modes     = []string{"api", "worker", "full"}
	logLevels = []string{"debug", "info", "warn", "error"}
)

// ServesHTTP reports whether the mode runs the HTTP API.
func (c *Config) ServesHTTP() bool {
	m := strings.ToLower(c.Mode)
	return m == "api" || m == "full"
}

// RunsWorkers reports whether the mode runs the dispatcher and cron jobs.
func (c *Config) RunsWorkers() bool {
	m := strings.ToLower(c.Mode)
	return m == "worker" || m == "full"
}

// problems accumulates validation failures so Validate can report all of
// them at once.
type problems []string

func (p *problems) check(ok bool, format string, args ...any) {
	if !ok {
		*p = append(*p, fmt.Sprintf(format, args...))
	}
}

func (p *problems) cron(section, spec string) {
	_, err := cron.ParseStandard(spec)
	p.check(err == nil, "%s: invalid cron %q: %v", section, spec, err)
}

func validPort(n int) bool { return n > 0 && n <= 65535 }

// Validate returns one error listing every invalid or missing setting.
func (c *Config) Validate() error {
	var p problems

	p.check(slices.Contains(modes, strings.ToLower(c.Mode)),
		"unknown mode %q (valid: %s)", c.Mode, strings.Join(modes, ", "))
	p.check(slices.Contains(logLevels, strings.ToLower(c.LogLevel)),
		"unknown log_level %q (valid: %s)", c.LogLevel, strings.Join(logLevels, ", "))

	db := c.Supabase
	if strings.TrimSpace(db.DSN) == "" {
		p.check(db.Host != "", "supabase: host is required unless dsn is set")
		p.check(validPort(db.Port), "supabase: port %d out of range", db.Port)
		p.check(db.Database != "", "supabase: database is required unless dsn is set")
	}
	p.check(db.PoolMaxConns >= 1, "supabase: pool_max_conns must be at least 1")
	p.check(db.PoolMinConns >= 0 && db.PoolMinConns <= db.PoolMaxConns,
		"supabase: pool_min_conns must be between 0 and pool_max_conns")

	p.check(c.Redis.Addr != "", "redis: addr is required")
	p.check(c.Redis.PoolSize >= 1, "redis: pool_size must be at least 1")

	if c.ServesHTTP() {
		p.check(validPort(c.Server.Port), "server: port %d out of range", c.Server.Port)
		p.check(c.Server.RateLimit >= 1, "server: rate_limit must be at least 1")
		p.check(c.Server.RateLimitWindow.Duration > 0, "server: rate_limit_window must be positive")
		p.check(c.Billing.WebhookSecret != "", "billing: webhook_secret is required when serving HTTP")
		_, err := c.Server.ProxyPrefixes()
		p.check(err == nil, "server: %v", err)
	}

	if c.Scheduler.Enabled {
		p.cron("scheduler", c.Scheduler.Cron)
	}
	// The window also defaults empty POST /api/notifications/schedule bodies,
	// so it is checked even with the cron job off.
	p.check(c.Scheduler.Window.Duration > 0 && c.Scheduler.Window.Duration <= domain.MaxScheduleWindow,
		"scheduler: window %s must be positive and at most %s", c.Scheduler.Window.Duration, domain.MaxScheduleWindow)

	if d := c.Dispatcher; d.Enabled {
		p.check(d.Interval.Duration > 0, "dispatcher: interval must be positive")
		p.check(d.BatchSize >= 1, "dispatcher: batch_size must be at least 1")
		p.check(d.Concurrency >= 1, "dispatcher: concurrency must be at least 1")
	}

	p.check(c.Delivery.MaxAttempts >= 1, "delivery: max_attempts must be at least 1")
	p.check(c.Delivery.BaseBackoff.Duration >= 0, "delivery: base_backoff must not be negative")
	p.check(c.Email.FromAddress != "", "email: from_address is required")
	p.check(c.SMS.FailureRate >= 0 && c.SMS.FailureRate <= 1,
		"sms: failure_rate %g outside [0,1]", c.SMS.FailureRate)
	p.check(c.Tone.APIKey == "" || c.Tone.BaseURL != "", "tone: base_url is required with api_key")

	if c.Archive.Enabled {
		p.cron("archive", c.Archive.Cron)
		p.check(c.Archive.RetentionDays >= 1, "archive: retention_days must be at least 1")
		p.check(c.S3.Bucket != "", "s3: bucket is required when archiving")
		p.check(c.S3.Region != "", "s3: region is required when archiving")
	}

	if len(p) == 0 {
		return nil
	}
	return fmt.Errorf("config: %d invalid settings:\n  - %s", len(p), strings.Join(p, "\n  - "))
}
