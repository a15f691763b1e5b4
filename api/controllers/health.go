package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/wasessions-backend/api/responses"
	"github.com/angelmondragon/wasessions-backend/pkg/config"
	"github.com/angelmondragon/wasessions-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/wasessions-backend/pkg/errors"
	"github.com/angelmondragon/wasessions-backend/pkg/logger"
)

const readinessTimeout = 2 * time.Second

type pinger interface {
	Ping(context.Context) error
}

type outboxCounter interface {
	CountByStatus(ctx context.Context) (map[enums.OutboxStatus]int64, error)
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-WASessions-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the database and Redis and reports the outbox backlog.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP, redisP pinger, outbox outboxCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-WASessions-Env", cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := map[string]pinger{"database": dbP, "redis": redisP}
		for name, p := range checks {
			if p == nil {
				continue
			}
			if err := p.Ping(ctx); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" unavailable"))
				return
			}
		}

		payload := map[string]any{"status": "ready"}
		if outbox != nil {
			counts, err := outbox.CountByStatus(ctx)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "outbox unavailable"))
				return
			}
			backlog := make(map[string]int64, len(counts))
			for status, n := range counts {
				backlog[string(status)] = n
			}
			payload["outbox"] = backlog
		}
		responses.WriteSuccess(w, payload)
	}
}
