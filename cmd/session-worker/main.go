package main

import (
	"context"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/angelmondragon/wasessions-backend/internal/bootstrap"
	"github.com/angelmondragon/wasessions-backend/internal/commands"
	"github.com/angelmondragon/wasessions-backend/internal/deadletter"
	"github.com/angelmondragon/wasessions-backend/internal/sessions"
	"github.com/angelmondragon/wasessions-backend/pkg/metrics"
	"github.com/angelmondragon/wasessions-backend/pkg/outbox"
	"github.com/angelmondragon/wasessions-backend/pkg/streams"
	"github.com/angelmondragon/wasessions-backend/pkg/tracing"
	"github.com/angelmondragon/wasessions-backend/pkg/waprovider"
)

func main() {
	ctx := context.Background()
	proc := bootstrap.Start(ctx, "session-worker")
	defer proc.Close(ctx)
	cfg, logg := proc.Config, proc.Logger

	dbClient := proc.OpenDB(ctx)
	redisClient := proc.OpenRedis(ctx)

	provider, err := waprovider.NewClient(cfg.Provider.BaseURL,
		waprovider.WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}),
		waprovider.WithToken(cfg.Provider.Token),
		waprovider.WithTimeout(cfg.Provider.Timeout),
	)
	proc.Must(ctx, "provider client", err)

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	sessionService, err := sessions.NewService(dbClient, sessions.NewRepository(dbClient.DB()), outboxService, logg)
	proc.Must(ctx, "sessions service", err)
	executor, err := sessions.NewExecutor(sessionService, provider)
	proc.Must(ctx, "session executor", err)

	group, err := streams.NewGroup(redisClient, streams.GroupConfig{
		Stream:    cfg.Commands.Stream,
		Group:     cfg.Commands.Group,
		Consumer:  cfg.Commands.Consumer,
		BatchSize: cfg.Commands.BatchSize,
		Block:     cfg.Commands.Block(),
	})
	proc.Must(ctx, "command consumer group", err)

	sink, err := deadletter.NewSink(redisClient, outbox.NewDLQRepository(dbClient.DB()), deadletter.Config{
		EventsStream:   cfg.Events.DLQStream,
		CommandsStream: cfg.Commands.DLQStream,
	}, logg)
	proc.Must(ctx, "dead-letter sink", err)

	consumer, err := commands.NewConsumer(commands.ConsumerParams{
		Group:       group,
		Port:        executor,
		DeadLetters: sink,
		Logger:      logg,
		Metrics:     metrics.NewConsumerMetrics(proc.Metrics, "session-worker"),
		Tracer:      tracing.Tracer("session-worker"),
	})
	proc.Must(ctx, "command consumer", err)

	ctx = logg.WithFields(ctx, map[string]any{
		"serviceKind": cfg.Service.Kind,
		"consumer":    cfg.Commands.Consumer,
	})
	logg.Info(ctx, "session worker ready")

	if err := proc.Run(ctx, consumer.Run, proc.ServeMetrics); err != nil {
		proc.Fail(ctx, "session worker failed", err)
	}
	logg.Info(ctx, "session worker shutting down gracefully")
}
