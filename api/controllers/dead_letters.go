package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/wasessions-backend/api/responses"
	"github.com/angelmondragon/wasessions-backend/api/validators"
	"github.com/angelmondragon/wasessions-backend/pkg/db/models"
	"github.com/angelmondragon/wasessions-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/wasessions-backend/pkg/errors"
	"github.com/angelmondragon/wasessions-backend/pkg/logger"
	"github.com/angelmondragon/wasessions-backend/pkg/outbox"
	"github.com/angelmondragon/wasessions-backend/pkg/pagination"
	"github.com/go-chi/chi/v5"
)

type deadLetterLister interface {
	List(ctx context.Context, q outbox.DeadLetterQuery) ([]models.DeadLetter, *pagination.Cursor, error)
}

type deadLetterFinder interface {
	FindByEventID(ctx context.Context, eventID string) (*models.DeadLetter, error)
}

type deadLetterResponse struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	EventID     string          `json:"eventId"`
	AggregateID string          `json:"aggregateId"`
	EventName   string          `json:"eventName"`
	OccurredOn  time.Time       `json:"occurredOn"`
	Payload     json.RawMessage `json:"payload"`
	Error       string          `json:"error"`
	Attempts    int             `json:"attempts"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type deadLetterPage struct {
	Items  []deadLetterResponse `json:"items"`
	Cursor string               `json:"cursor,omitempty"`
}

// AdminDeadLetters lists the persisted dead letters, newest first.
func AdminDeadLetters(repo deadLetterLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		kind, err := validators.ParseQueryOneOf(r, "kind", string(enums.DeadLetterEvent), string(enums.DeadLetterCommand))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		query := outbox.DeadLetterQuery{Kind: enums.DeadLetterKind(kind), Limit: limit}
		if raw := r.URL.Query().Get("cursor"); raw != "" {
			cursor, err := pagination.ParseCursor(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor"))
				return
			}
			query.Cursor = cursor
		}

		rows, next, err := repo.List(r.Context(), query)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dead letters"))
			return
		}

		page := deadLetterPage{Items: make([]deadLetterResponse, 0, len(rows))}
		for _, row := range rows {
			page.Items = append(page.Items, toDeadLetterResponse(row))
		}
		if next != nil {
			page.Cursor = pagination.EncodeCursor(*next)
		}
		responses.WriteSuccess(w, page)
	}
}

// AdminDeadLetter returns the newest dead letter stored for an event or command id.
func AdminDeadLetter(repo deadLetterFinder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID := strings.TrimSpace(chi.URLParam(r, "eventId"))
		if eventID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "eventId is required"))
			return
		}
		row, err := repo.FindByEventID(r.Context(), eventID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find dead letter"))
			return
		}
		if row == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "dead letter not found"))
			return
		}
		responses.WriteSuccess(w, toDeadLetterResponse(*row))
	}
}

func toDeadLetterResponse(row models.DeadLetter) deadLetterResponse {
	return deadLetterResponse{
		ID:          row.ID.String(),
		Kind:        string(row.Kind),
		EventID:     row.EventID,
		AggregateID: row.AggregateID,
		EventName:   row.EventName,
		OccurredOn:  row.OccurredOn,
		Payload:     json.RawMessage(row.Payload),
		Error:       row.Error,
		Attempts:    row.Attempts,
		CreatedAt:   row.CreatedAt,
	}
}
