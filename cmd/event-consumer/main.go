package main

import (
	"context"

	"github.com/angelmondragon/wasessions-backend/internal/bootstrap"
	"github.com/angelmondragon/wasessions-backend/internal/commands"
	"github.com/angelmondragon/wasessions-backend/internal/deadletter"
	"github.com/angelmondragon/wasessions-backend/internal/eventconsumer"
	"github.com/angelmondragon/wasessions-backend/internal/subscribers"
	"github.com/angelmondragon/wasessions-backend/pkg/idempotency"
	"github.com/angelmondragon/wasessions-backend/pkg/metrics"
	"github.com/angelmondragon/wasessions-backend/pkg/outbox"
	"github.com/angelmondragon/wasessions-backend/pkg/streams"
	"github.com/angelmondragon/wasessions-backend/pkg/tracing"
)

func main() {
	ctx := context.Background()
	proc := bootstrap.Start(ctx, "event-consumer")
	defer proc.Close(ctx)
	cfg, logg := proc.Config, proc.Logger

	dbClient := proc.OpenDB(ctx)
	redisClient := proc.OpenRedis(ctx)

	group, err := streams.NewGroup(redisClient, streams.GroupConfig{
		Stream:    cfg.Events.Stream,
		Group:     cfg.Events.Group,
		Consumer:  cfg.Events.Consumer,
		BatchSize: cfg.Events.BatchSize,
		Block:     cfg.Events.Block(),
		ClaimIdle: cfg.Events.ClaimIdle(),
	})
	proc.Must(ctx, "event consumer group", err)

	markers, err := idempotency.NewManager(redisClient, cfg.Events.Group, cfg.Events.ProcessedTTL())
	proc.Must(ctx, "idempotency markers", err)

	var enqueuer subscribers.Enqueuer
	if cfg.FeatureFlags.AutoStart {
		publisher, err := commands.NewPublisher(redisClient, cfg.Commands.Stream)
		proc.Must(ctx, "command publisher", err)
		enqueuer = publisher
	}
	registry, err := subscribers.NewRegistry(subscribers.Defaults(dbClient.DB(), enqueuer)...)
	proc.Must(ctx, "subscriber registry", err)

	sink, err := deadletter.NewSink(redisClient, outbox.NewDLQRepository(dbClient.DB()), deadletter.Config{
		EventsStream:   cfg.Events.DLQStream,
		CommandsStream: cfg.Commands.DLQStream,
	}, logg)
	proc.Must(ctx, "dead-letter sink", err)

	consumer, err := eventconsumer.NewConsumer(eventconsumer.ConsumerParams{
		Group:       group,
		Registry:    registry,
		Markers:     markers,
		DeadLetters: sink,
		Logger:      logg,
		Metrics:     metrics.NewConsumerMetrics(proc.Metrics, "event-consumer"),
		Tracer:      tracing.Tracer("event-consumer"),
		Policy: eventconsumer.Policy{
			MaxAttempts: int64(cfg.Events.MaxAttempts),
			Backoff:     cfg.Events.Backoff(),
			BackoffMax:  cfg.Events.BackoffMax(),
		},
		ClaimInterval: cfg.Events.ClaimInterval(),
	})
	proc.Must(ctx, "event consumer", err)

	ctx = logg.WithFields(ctx, map[string]any{
		"serviceKind": cfg.Service.Kind,
		"consumer":    cfg.Events.Consumer,
		"events":      registry.EventNames(),
	})
	logg.Info(ctx, "event consumer ready")

	if err := proc.Run(ctx, consumer.Run, proc.ServeMetrics); err != nil {
		proc.Fail(ctx, "event consumer failed", err)
	}
	logg.Info(ctx, "event consumer shutting down gracefully")
}
