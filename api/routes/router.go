package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/wasessions-backend/api/controllers"
	"github.com/angelmondragon/wasessions-backend/api/middleware"
	"github.com/angelmondragon/wasessions-backend/internal/commands"
	"github.com/angelmondragon/wasessions-backend/internal/sessions"
	"github.com/angelmondragon/wasessions-backend/pkg/auth"
	"github.com/angelmondragon/wasessions-backend/pkg/config"
	"github.com/angelmondragon/wasessions-backend/pkg/db/models"
	"github.com/angelmondragon/wasessions-backend/pkg/enums"
	"github.com/angelmondragon/wasessions-backend/pkg/logger"
	"github.com/angelmondragon/wasessions-backend/pkg/metrics"
	"github.com/angelmondragon/wasessions-backend/pkg/outbox"
	"github.com/angelmondragon/wasessions-backend/pkg/pagination"
	"github.com/angelmondragon/wasessions-backend/pkg/redis"
)

type pinger interface {
	Ping(context.Context) error
}

// SessionService is the slice of the sessions write side the API calls.
type SessionService interface {
	Create(ctx context.Context, tenantID, name string) (*models.Session, error)
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	HandleProviderEvent(ctx context.Context, in sessions.ProviderEvent) error
}

type CommandQueue interface {
	Enqueue(ctx context.Context, cmd commands.Command) (commands.Enqueued, error)
}

type DeadLetters interface {
	List(ctx context.Context, q outbox.DeadLetterQuery) ([]models.DeadLetter, *pagination.Cursor, error)
	FindByEventID(ctx context.Context, eventID string) (*models.DeadLetter, error)
}

type OutboxStats interface {
	CountByStatus(ctx context.Context) (map[enums.OutboxStatus]int64, error)
}

// RateStore backs both request idempotency and rate limiting.
type RateStore interface {
	redis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type RouterParams struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          pinger
	Redis       pinger
	Store       RateStore
	Sessions    SessionService
	Commands    CommandQueue
	DeadLetters DeadLetters
	Outbox      OutboxStats
	Gatherer    prometheus.Gatherer
}

func NewRouter(p RouterParams) http.Handler {
	cfg, logg := p.Config, p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Recoverer(logg),
		middleware.CORS(cfg.CORS.AllowedOrigins),
	)

	commandPolicy := middleware.NewRateLimitPolicy(
		"commands",
		cfg.RateLimit.Window,
		cfg.RateLimit.IPLimit,
		cfg.RateLimit.TenantLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.DB, p.Redis, p.Outbox))
	})
	if p.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(p.Gatherer))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/provider", controllers.ProviderWebhook(p.Sessions, cfg.Provider.Token, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(p.Store, logg))

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", controllers.SessionCreate(p.Sessions, logg))
			r.Get("/{sessionId}", controllers.SessionGet(p.Sessions, logg))
			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimit(commandPolicy, p.Store, logg))
				r.Post("/{sessionId}/commands", controllers.SessionCommand(p.Sessions, p.Commands, logg))
				r.Delete("/{sessionId}", controllers.SessionDelete(p.Sessions, p.Commands, logg))
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(auth.RoleAdmin, logg))
			r.Get("/dead-letters", controllers.AdminDeadLetters(p.DeadLetters, logg))
			r.Get("/dead-letters/{eventId}", controllers.AdminDeadLetter(p.DeadLetters, logg))
		})
	})

	return r
}
