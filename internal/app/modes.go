package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/coparent/internal/pipeline"
	"github.com/alanyoungcy/coparent/internal/server"
	"github.com/alanyoungcy/coparent/internal/server/handler"
	"github.com/alanyoungcy/coparent/internal/server/ws"
	"github.com/alanyoungcy/coparent/internal/service"
)

const (
	// schedulerLockTTL bounds how long one instance may hold the scheduler
	// lock if it dies mid-run.
	schedulerLockTTL = 5 * time.Minute
	shutdownTimeout  = 10 * time.Second
)

// services groups the business services shared by the HTTP API and the
// background workers.
type services struct {
	prefs      *service.PreferenceService
	scheduler  *service.SchedulerService
	delivery   *service.DeliveryService
	billing    *service.BillingService
	moderation *service.ModerationService
}

func (a *App) buildServices(deps *Dependencies) *services {
	prefs := service.NewPreferenceService(deps.Preferences, deps.PreferenceCache, a.logger)
	return &services{
		prefs:     prefs,
		scheduler: service.NewSchedulerService(deps.Notifications, a.cfg.Scheduler.Window.Duration, a.logger),
		delivery: service.NewDeliveryService(
			prefs, deps.Deliveries, deps.Notifications,
			deps.Senders, deps.Retrier, deps.SignalBus, deps.Notifier, a.logger,
		),
		billing: service.NewBillingService(
			deps.Signer, deps.WebhookEvents, deps.Subscriptions, deps.Notifications,
			deps.Audit, deps.SignalBus, deps.Notifier, a.logger,
		),
		moderation: service.NewModerationService(deps.Analyzer, deps.Messages, deps.SignalBus, a.logger),
	}
}

// APIMode serves the HTTP API and the realtime WebSocket hub.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, a.buildServices(deps))
	return g.Wait()
}

// WorkerMode runs the due-notification dispatcher and the cron jobs without
// serving HTTP.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startWorkers(ctx, g, deps, a.buildServices(deps))
	return g.Wait()
}

// FullMode runs the HTTP API and the workers in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)
	a.startHTTPServer(ctx, g, deps, svcs)
	a.startWorkers(ctx, g, deps, svcs)
	return g.Wait()
}

// startHTTPServer registers the hub and the server on g. The server shuts
// down gracefully once ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	validate := handler.NewValidator()

	hub := ws.NewHub(deps.SignalBus, a.cfg.Server.CORSOrigins, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(deps.Probes, a.logger),
		Status:        handler.NewStatusHandler(a.cfg.Mode, Version, a.startedAt),
		Notifications: handler.NewNotificationHandler(svcs.scheduler, svcs.delivery, validate, a.logger),
		Webhooks:      handler.NewWebhookHandler(svcs.billing, a.logger),
		Subscriptions: handler.NewSubscriptionHandler(svcs.billing, a.logger),
		Tone:          handler.NewToneHandler(svcs.moderation, a.logger),
		Preferences:   handler.NewPreferenceHandler(svcs.prefs, validate, a.logger),
	}

	// Validate already rejected malformed entries.
	proxies, _ := a.cfg.Server.ProxyPrefixes()

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		ServiceKey:      a.cfg.Server.ServiceKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
		TrustedProxies:  proxies,
	}, handlers, deps.RateLimiter, hub, a.logger)

	if a.cfg.Server.ServiceKey == "" {
		a.logger.WarnContext(ctx, "no service key configured, internal endpoints are unauthenticated")
	}

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startWorkers registers the orchestrator on g. Disabled components are
// left out of the orchestrator entirely.
func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	opts := pipeline.Options{
		DispatchInterval: a.cfg.Dispatcher.Interval.Duration,
		SchedulerCron:    a.cfg.Scheduler.Cron,
		ArchiveCron:      a.cfg.Archive.Cron,
	}

	if a.cfg.Dispatcher.Enabled {
		opts.Dispatcher = pipeline.NewDispatcher(
			deps.Notifications, svcs.delivery,
			a.cfg.Dispatcher.BatchSize, a.cfg.Dispatcher.Concurrency, a.logger,
		)
	}
	if a.cfg.Scheduler.Enabled {
		opts.Scheduler = pipeline.NewSchedulerJob(svcs.scheduler, deps.LockManager, schedulerLockTTL, a.logger)
	}
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		opts.Archiver = pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	}

	a.logger.InfoContext(ctx, "workers configured",
		slog.Bool("dispatcher", opts.Dispatcher != nil),
		slog.Bool("scheduler", opts.Scheduler != nil),
		slog.Bool("archiver", opts.Archiver != nil),
	)

	orch := pipeline.NewOrchestrator(opts, a.logger)
	g.Go(func() error {
		return orch.Run(ctx)
	})
}
