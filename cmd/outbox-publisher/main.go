package main

import (
	"context"

	"github.com/angelmondragon/wasessions-backend/internal/bootstrap"
	"github.com/angelmondragon/wasessions-backend/pkg/metrics"
	"github.com/angelmondragon/wasessions-backend/pkg/outbox"
	"github.com/angelmondragon/wasessions-backend/pkg/tracing"
)

func main() {
	ctx := context.Background()
	proc := bootstrap.Start(ctx, "outbox-publisher")
	defer proc.Close(ctx)
	cfg, logg := proc.Config, proc.Logger

	dbClient := proc.OpenDB(ctx)
	proc.MigrateDev(ctx, dbClient)
	redisClient := proc.OpenRedis(ctx)

	publisher, err := outbox.NewStreamPublisher(redisClient, cfg.Events.Stream)
	proc.Must(ctx, "stream publisher", err)

	service, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Redis:      redisClient,
		Repository: outbox.NewRepository(dbClient.DB()),
		Publisher:  publisher,
		Metrics:    metrics.NewOutboxMetrics(proc.Metrics),
		Tracer:     tracing.Tracer("outbox-publisher"),
	})
	proc.Must(ctx, "outbox publisher", err)

	ctx = logg.WithFields(ctx, map[string]any{
		"serviceKind": cfg.Service.Kind,
		"stream":      cfg.Events.Stream,
	})
	logg.Info(ctx, "starting outbox publisher")

	if err := proc.Run(ctx, service.Run, proc.ServeMetrics); err != nil {
		proc.Fail(ctx, "outbox publisher stopped unexpectedly", err)
	}
	logg.Info(ctx, "outbox publisher shutting down gracefully")
}
