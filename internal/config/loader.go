package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies COPARENT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known COPARENT_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "COPARENT_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "COPARENT_DATABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "COPARENT_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "COPARENT_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "COPARENT_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "COPARENT_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "COPARENT_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "COPARENT_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "COPARENT_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "COPARENT_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "COPARENT_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "COPARENT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COPARENT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COPARENT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "COPARENT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "COPARENT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "COPARENT_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.PreferenceTTLMinutes, "COPARENT_REDIS_PREFERENCE_TTL_MINUTES")
	setStr(&cfg.Redis.KeyPrefix, "COPARENT_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "COPARENT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "COPARENT_S3_REGION")
	setStr(&cfg.S3.Bucket, "COPARENT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "COPARENT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "COPARENT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "COPARENT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "COPARENT_S3_FORCE_PATH_STYLE")
	setBool(&cfg.S3.ServerSideEncryption, "COPARENT_S3_SERVER_SIDE_ENCRYPTION")

	// ── Server ──
	setInt(&cfg.Server.Port, "COPARENT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "COPARENT_SERVER_CORS_ORIGINS")
	setStringSlice(&cfg.Server.TrustedProxies, "COPARENT_SERVER_TRUSTED_PROXIES")
	setStr(&cfg.Server.ServiceKey, "COPARENT_SERVER_SERVICE_KEY")
	setInt(&cfg.Server.RateLimit, "COPARENT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "COPARENT_SERVER_RATE_LIMIT_WINDOW")

	// ── Scheduler / dispatcher ──
	setBool(&cfg.Scheduler.Enabled, "COPARENT_SCHEDULER_ENABLED")
	setStr(&cfg.Scheduler.Cron, "COPARENT_SCHEDULER_CRON")
	setDuration(&cfg.Scheduler.Window, "COPARENT_SCHEDULER_WINDOW")
	setBool(&cfg.Dispatcher.Enabled, "COPARENT_DISPATCHER_ENABLED")
	setDuration(&cfg.Dispatcher.Interval, "COPARENT_DISPATCHER_INTERVAL")
	setInt(&cfg.Dispatcher.BatchSize, "COPARENT_DISPATCHER_BATCH_SIZE")
	setInt(&cfg.Dispatcher.Concurrency, "COPARENT_DISPATCHER_CONCURRENCY")

	// ── Delivery ──
	setInt(&cfg.Delivery.MaxAttempts, "COPARENT_DELIVERY_MAX_ATTEMPTS")
	setDuration(&cfg.Delivery.BaseBackoff, "COPARENT_DELIVERY_BASE_BACKOFF")

	// ── Email / SMS ──
	setStr(&cfg.Email.SendgridAPIKey, "COPARENT_EMAIL_SENDGRID_API_KEY")
	setStr(&cfg.Email.SendgridAPIKey, "SENDGRID_API_KEY") // compatibility alias
	setStr(&cfg.Email.FromAddress, "COPARENT_EMAIL_FROM_ADDRESS")
	setStr(&cfg.Email.FromName, "COPARENT_EMAIL_FROM_NAME")
	setStr(&cfg.SMS.SenderID, "COPARENT_SMS_SENDER_ID")
	setFloat64(&cfg.SMS.FailureRate, "COPARENT_SMS_FAILURE_RATE")

	// ── Tone ──
	setStr(&cfg.Tone.APIKey, "COPARENT_TONE_API_KEY")
	setStr(&cfg.Tone.APIKey, "OPENAI_API_KEY") // compatibility alias
	setStr(&cfg.Tone.BaseURL, "COPARENT_TONE_BASE_URL")
	setStr(&cfg.Tone.Model, "COPARENT_TONE_MODEL")
	setDuration(&cfg.Tone.Timeout, "COPARENT_TONE_TIMEOUT")

	// ── Billing ──
	setStr(&cfg.Billing.WebhookSecret, "COPARENT_BILLING_WEBHOOK_SECRET")
	setDuration(&cfg.Billing.SignatureMaxAge, "COPARENT_BILLING_SIGNATURE_MAX_AGE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "COPARENT_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "COPARENT_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "COPARENT_ARCHIVE_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "COPARENT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "COPARENT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "COPARENT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "COPARENT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "COPARENT_MODE")
	setStr(&cfg.LogLevel, "COPARENT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
