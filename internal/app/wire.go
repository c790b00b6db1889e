package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/coparent/internal/blob/s3"
	"github.com/alanyoungcy/coparent/internal/cache/redis"
	"github.com/alanyoungcy/coparent/internal/config"
	"github.com/alanyoungcy/coparent/internal/crypto"
	"github.com/alanyoungcy/coparent/internal/domain"
	"github.com/alanyoungcy/coparent/internal/notify"
	"github.com/alanyoungcy/coparent/internal/server/handler"
	"github.com/alanyoungcy/coparent/internal/store/postgres"
	"github.com/alanyoungcy/coparent/internal/tone"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	Notifications domain.NotificationStore
	Deliveries    domain.DeliveryStore
	Preferences   domain.PreferenceStore
	Subscriptions domain.SubscriptionStore
	WebhookEvents domain.WebhookEventStore
	Messages      domain.MessageStore
	Audit         domain.AuditStore

	// Caches
	PreferenceCache domain.PreferenceCache
	RateLimiter     domain.RateLimiter
	LockManager     domain.LockManager
	SignalBus       domain.SignalBus

	// Blob storage. Archiver is nil unless archiving is enabled.
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	// Providers
	Senders  notify.Registry
	Retrier  *notify.Retrier
	Analyzer tone.Analyzer
	Signer   *crypto.WebhookSigner

	// Operator alerts
	Notifier *notify.Notifier

	// Health probes keyed by dependency name.
	Probes map[string]handler.Probe
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Probes: make(map[string]handler.Probe)}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Supabase.DSN,
		Host:     cfg.Supabase.Host,
		Port:     cfg.Supabase.Port,
		Database: cfg.Supabase.Database,
		User:     cfg.Supabase.User,
		Password: cfg.Supabase.Password,
		SSLMode:  cfg.Supabase.SSLMode,
		MaxConns: cfg.Supabase.PoolMaxConns,
		MinConns: cfg.Supabase.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Probes["postgres"] = pgClient.Health

	if cfg.Supabase.RunMigrations {
		applied, err := pgClient.RunMigrations(ctx)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.InfoContext(ctx, "migrations applied",
				slog.String("files", strings.Join(applied, ",")),
			)
		}
	}

	pool := pgClient.Pool()
	deliveryStore := postgres.NewDeliveryStore(pool)
	webhookStore := postgres.NewWebhookEventStore(pool)
	deps.Notifications = postgres.NewNotificationStore(pool)
	deps.Deliveries = deliveryStore
	deps.Preferences = postgres.NewPreferenceStore(pool)
	deps.Subscriptions = postgres.NewSubscriptionStore(pool)
	deps.WebhookEvents = webhookStore
	deps.Messages = postgres.NewMessageStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		KeyPrefix:  cfg.Redis.KeyPrefix,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Probes["redis"] = redisClient.Ping

	prefTTL := time.Duration(cfg.Redis.PreferenceTTLMinutes) * time.Minute
	deps.PreferenceCache = redis.NewPreferenceCache(redisClient, prefTTL)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 archive (only when enabled) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,

			ServerSideEncryption: cfg.S3.ServerSideEncryption,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		deps.Probes["s3"] = s3Client.Health

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deliveryStore, webhookStore, deps.Audit)
	}

	// --- Delivery providers ---
	var email notify.ChannelSender
	if cfg.Email.SendgridAPIKey != "" {
		email = notify.NewSendgridSender(notify.EmailConfig{
			APIKey:        cfg.Email.SendgridAPIKey,
			FromAddress:   cfg.Email.FromAddress,
			FromName:      cfg.Email.FromName,
			SubjectPrefix: cfg.Email.SubjectPrefix,
		})
	} else {
		logger.WarnContext(ctx, "no sendgrid api key configured, email is logged to the console")
		email = notify.NewConsoleEmailSender(cfg.Email.SubjectPrefix, logger)
	}
	sms := notify.NewMockSMSSender(cfg.SMS.SenderID, cfg.SMS.FailureRate, logger)
	deps.Senders = notify.NewRegistry(email, sms)
	deps.Retrier = notify.NewRetrier(cfg.Delivery.MaxAttempts, cfg.Delivery.BaseBackoff.Duration, logger)

	// --- Tone analysis ---
	keyword := tone.NewKeywordAnalyzer()
	if cfg.Tone.APIKey != "" {
		model := tone.NewModelAnalyzer(tone.ModelConfig{
			APIKey:  cfg.Tone.APIKey,
			BaseURL: cfg.Tone.BaseURL,
			Model:   cfg.Tone.Model,
			Timeout: cfg.Tone.Timeout.Duration,
		})
		deps.Analyzer = tone.NewFallbackAnalyzer(model, keyword, logger)
	} else {
		deps.Analyzer = keyword
	}

	// --- Billing webhook signature ---
	deps.Signer = crypto.NewWebhookSigner(cfg.Billing.WebhookSecret, cfg.Billing.SignatureMaxAge.Duration)

	// --- Operator alerts ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
