package main

import (
	"context"
	"flag"

	"github.com/angelmondragon/wasessions-backend/internal/bootstrap"
	"github.com/angelmondragon/wasessions-backend/internal/cron"
	"github.com/angelmondragon/wasessions-backend/pkg/instance"
	"github.com/angelmondragon/wasessions-backend/pkg/metrics"
	"github.com/angelmondragon/wasessions-backend/pkg/outbox"
)

func main() {
	once := flag.Bool("once", false, "run a single maintenance cycle and exit")
	flag.Parse()

	ctx := context.Background()
	proc := bootstrap.Start(ctx, "cron-worker")
	defer proc.Close(ctx)
	cfg, logg := proc.Config, proc.Logger

	dbClient := proc.OpenDB(ctx)
	redisClient := proc.OpenRedis(ctx)
	jobMetrics := metrics.NewMaintenanceMetrics(proc.Metrics)

	outboxJob, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Name:      cron.OutboxRetentionJob,
		Logger:    logg,
		DB:        dbClient,
		Purge:     outbox.NewRepository(dbClient.DB()).DeletePublishedBefore,
		Metrics:   jobMetrics,
		Retention: cfg.Maintenance.OutboxRetention,
	})
	proc.Must(ctx, "outbox retention job", err)

	deadLetterJob, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Name:      cron.DeadLetterRetentionJob,
		Logger:    logg,
		DB:        dbClient,
		Purge:     outbox.NewDLQRepository(dbClient.DB()).DeleteBefore,
		Metrics:   jobMetrics,
		Retention: cfg.Maintenance.DeadLetterRetention,
	})
	proc.Must(ctx, "dead letter retention job", err)

	trimJob, err := cron.NewStreamTrimJob(cron.StreamTrimJobParams{
		Logger:  logg,
		Trimmer: redisClient,
		Metrics: jobMetrics,
		Streams: []string{
			cfg.Events.Stream,
			cfg.Commands.Stream,
			cfg.Events.DLQStream,
			cfg.Commands.DLQStream,
		},
		Retention: cfg.Maintenance.StreamRetention,
	})
	proc.Must(ctx, "stream trim job", err)

	lock, err := cron.NewRedisLock(redisClient, cron.LockKey(cfg.App.Env), cfg.Maintenance.LockTTL, instance.GetID())
	proc.Must(ctx, "maintenance lock", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(outboxJob, deadLetterJob, trimJob),
		Lock:     lock,
		Metrics:  jobMetrics,
		Interval: cfg.Maintenance.Interval,
	})
	proc.Must(ctx, "maintenance scheduler", err)

	ctx = logg.WithFields(ctx, map[string]any{
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.Maintenance.Interval.String(),
	})

	if *once {
		ran, err := service.RunOnce(ctx)
		if err != nil {
			proc.Fail(ctx, "maintenance cycle failed", err)
		}
		logg.Info(logg.WithField(ctx, "ran", ran), "maintenance cycle finished")
		return
	}

	logg.Info(ctx, "cron worker ready")
	if err := proc.Run(ctx, service.Run, proc.ServeMetrics); err != nil {
		proc.Fail(ctx, "cron worker failed", err)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}
