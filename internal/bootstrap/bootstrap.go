// Package bootstrap holds the start-up and shutdown sequence shared by every
// binary: environment, config, logger, tracing, metrics registry and the
// database and redis clients, closed in reverse order on the way out.
package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/wasessions-backend/pkg/config"
	"github.com/angelmondragon/wasessions-backend/pkg/db"
	"github.com/angelmondragon/wasessions-backend/pkg/logger"
	"github.com/angelmondragon/wasessions-backend/pkg/metrics"
	"github.com/angelmondragon/wasessions-backend/pkg/migrate"
	"github.com/angelmondragon/wasessions-backend/pkg/redis"
	"github.com/angelmondragon/wasessions-backend/pkg/tracing"
)

// Runner is one long-lived loop of a process.
type Runner func(ctx context.Context) error

type closer struct {
	name string
	fn   func(context.Context) error
}

type Process struct {
	Name    string
	Config  *config.Config
	Logger  *logger.Logger
	Metrics *prometheus.Registry

	closers []closer
	exit    func(int)
}

// Start loads .env and config and builds the logger and tracer for name.
// Failures are fatal.
func Start(ctx context.Context, name string) *Process {
	p := &Process{
		Name:   name,
		Logger: logger.New(logger.Options{ServiceName: name}),
		exit:   os.Exit,
	}
	if err := godotenv.Load(); err != nil {
		p.Logger.Warn(ctx, ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	p.Must(ctx, "config", err)
	cfg.Service.Kind = name
	p.Config = cfg

	p.Logger = logger.New(logger.Options{
		ServiceName: name,
		Env:         cfg.App.Env,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	p.Metrics = prometheus.NewRegistry()
	p.Metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	shutdown, err := tracing.Init(ctx, cfg.Tracing, name, cfg.App.Env)
	p.Must(ctx, "tracing", err)
	p.OnClose("tracing", shutdown)
	return p
}

// OnClose registers fn to run during Close, after everything registered later.
func (p *Process) OnClose(name string, fn func(context.Context) error) {
	p.closers = append(p.closers, closer{name: name, fn: fn})
}

// Close runs the registered closers once, newest first.
func (p *Process) Close(ctx context.Context) {
	for i := len(p.closers) - 1; i >= 0; i-- {
		c := p.closers[i]
		if err := c.fn(ctx); err != nil {
			p.Logger.Error(p.Logger.WithField(ctx, "resource", c.name), "close failed", err)
		}
	}
	p.closers = nil
}

// Must stops the process when err is set.
func (p *Process) Must(ctx context.Context, resource string, err error) {
	if err == nil {
		return
	}
	p.Fail(p.Logger.WithField(ctx, "resource", resource), "resource not working", err)
}

// Fail logs err, releases what was opened and exits with status 1.
func (p *Process) Fail(ctx context.Context, msg string, err error) {
	p.Logger.Error(ctx, msg, err)
	p.Close(context.Background())
	p.exit(1)
}

func (p *Process) OpenDB(ctx context.Context) *db.Client {
	client, err := db.New(ctx, p.Config.DB, p.Logger)
	p.Must(ctx, "database", err)
	p.OnClose("database", func(context.Context) error { return client.Close() })
	return client
}

// MigrateDev applies pending migrations when the dev auto-migrate flag is on.
func (p *Process) MigrateDev(ctx context.Context, client *db.Client) {
	p.Must(ctx, "dev migrations", migrate.MaybeRunDev(ctx, p.Config, p.Logger, client))
}

func (p *Process) OpenRedis(ctx context.Context) *redis.Client {
	client, err := redis.New(ctx, p.Config.Redis, p.Logger)
	p.Must(ctx, "redis", err)
	p.OnClose("redis", func(context.Context) error { return client.Close() })
	return client
}

// ServeMetrics is a Runner for the worker /metrics listener.
func (p *Process) ServeMetrics(ctx context.Context) error {
	return metrics.Serve(ctx, p.Config.Metrics.Addr, p.Metrics)
}

// Run blocks until SIGINT/SIGTERM or until a runner fails; the other runners
// are canceled either way. Cancellation is not an error.
func (p *Process) Run(ctx context.Context, runners ...Runner) error {
	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	for _, run := range runners {
		g.Go(func() error { return run(gctx) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// HTTPServer adapts srv to a Runner that drains connections for up to grace
// once ctx is done.
func HTTPServer(srv *http.Server, grace time.Duration) Runner {
	return func(ctx context.Context) error {
		served := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				served <- err
				return
			}
			served <- nil
		}()

		select {
		case err := <-served:
			return err
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-served
	}
}
