package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// Job is a unit of periodic work.
type Job interface {
	Run(ctx context.Context) error
}

// Orchestrator manages the background workers: the due-notification
// dispatcher loop plus the cron-driven scheduler and archiver.
type Orchestrator struct {
	dispatcher       *Dispatcher
	dispatchInterval time.Duration
	scheduler        Job
	schedulerCron    string
	archiver         Job
	archiveCron      string
	logger           *slog.Logger
}

// Options configures which workers an Orchestrator runs. Nil components are
// not started.
type Options struct {
	Dispatcher       *Dispatcher
	DispatchInterval time.Duration
	Scheduler        Job
	SchedulerCron    string
	Archiver         Job
	ArchiveCron      string
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(opts Options, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		dispatcher:       opts.Dispatcher,
		dispatchInterval: opts.DispatchInterval,
		scheduler:        opts.Scheduler,
		schedulerCron:    opts.SchedulerCron,
		archiver:         opts.Archiver,
		archiveCron:      opts.ArchiveCron,
		logger:           logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts every configured worker and blocks until ctx is cancelled or
// one of them fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Bool("dispatcher", o.dispatcher != nil),
		slog.String("scheduler_cron", o.schedulerCron),
		slog.String("archive_cron", o.archiveCron),
	)

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger{o.logger}), cron.SkipIfStillRunning(cronLogger{o.logger})),
	)
	if o.scheduler != nil {
		if _, err := c.AddJob(o.schedulerCron, o.cronJob(ctx, "scheduler", o.scheduler)); err != nil {
			return fmt.Errorf("pipeline: scheduler cron %q: %w", o.schedulerCron, err)
		}
	}
	if o.archiver != nil {
		if _, err := c.AddJob(o.archiveCron, o.cronJob(ctx, "archiver", o.archiver)); err != nil {
			return fmt.Errorf("pipeline: archive cron %q: %w", o.archiveCron, err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if o.dispatcher != nil {
		g.Go(func() error {
			err := o.dispatcher.RunLoop(ctx, o.dispatchInterval)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("dispatcher: %w", err)
		})
	}

	g.Go(func() error {
		c.Start()
		<-ctx.Done()
		// Wait for running jobs to finish.
		<-c.Stop().Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}

func (o *Orchestrator) cronJob(ctx context.Context, name string, j Job) cron.Job {
	return cron.FuncJob(func() {
		start := time.Now()
		if err := j.Run(ctx); err != nil {
			o.logger.Error("cron job failed",
				slog.String("job", name),
				slog.String("error", err.Error()),
			)
			return
		}
		o.logger.Debug("cron job finished",
			slog.String("job", name),
			slog.Duration("took", time.Since(start)),
		)
	})
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
