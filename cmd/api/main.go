package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/angelmondragon/wasessions-backend/api/routes"
	"github.com/angelmondragon/wasessions-backend/internal/bootstrap"
	"github.com/angelmondragon/wasessions-backend/internal/commands"
	"github.com/angelmondragon/wasessions-backend/internal/sessions"
	"github.com/angelmondragon/wasessions-backend/pkg/outbox"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx := context.Background()
	proc := bootstrap.Start(ctx, "api")
	defer proc.Close(ctx)
	cfg, logg := proc.Config, proc.Logger

	if cfg.JWT.Secret == "" {
		proc.Fail(ctx, "jwt secret is required to serve the api", errors.New("WASESSIONS_JWT_SECRET is empty"))
	}

	dbClient := proc.OpenDB(ctx)
	proc.MigrateDev(ctx, dbClient)
	redisClient := proc.OpenRedis(ctx)

	outboxRepo := outbox.NewRepository(dbClient.DB())
	sessionService, err := sessions.NewService(dbClient, sessions.NewRepository(dbClient.DB()), outbox.NewService(outboxRepo, logg), logg)
	proc.Must(ctx, "sessions service", err)

	commandPublisher, err := commands.NewPublisher(redisClient, cfg.Commands.Stream)
	proc.Must(ctx, "command publisher", err)

	router := routes.NewRouter(routes.RouterParams{
		Config:      cfg,
		Logger:      logg,
		DB:          dbClient,
		Redis:       redisClient,
		Store:       redisClient,
		Sessions:    sessionService,
		Commands:    commandPublisher,
		DeadLetters: outbox.NewDLQRepository(dbClient.DB()),
		Outbox:      outboxRepo,
		Gatherer:    proc.Metrics,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(router, "api"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx = logg.WithField(ctx, "addr", server.Addr)
	logg.Info(ctx, "starting api server")

	if err := proc.Run(ctx, bootstrap.HTTPServer(server, shutdownTimeout)); err != nil {
		proc.Fail(ctx, "api server stopped unexpectedly", err)
	}
	logg.Info(ctx, "api server shut down gracefully")
}
