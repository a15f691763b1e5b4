package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/wasessions-backend/pkg/db/models"
	"github.com/angelmondragon/wasessions-backend/pkg/events"
	"github.com/angelmondragon/wasessions-backend/pkg/logger"
)

// Publisher is the port write paths use to hand off domain events.
type Publisher interface {
	Publish(ctx context.Context, tx *gorm.DB, evts ...events.Event) error
}

// Service stages domain events in the outbox within the caller's transaction.
type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg}
}

func (s *Service) Publish(ctx context.Context, tx *gorm.DB, evts ...events.Event) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for _, evt := range evts {
		row, err := MessageFor(evt)
		if err != nil {
			return err
		}
		if err := s.repo.Add(tx.WithContext(ctx), &row); err != nil {
			return fmt.Errorf("staging %s %s: %w", evt.EventName(), evt.EventID(), err)
		}
		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"event_id":     evt.EventID(),
				"event_name":   evt.EventName(),
				"aggregate_id": evt.AggregateID(),
				"outbox_id":    row.ID.String(),
			})
			s.logg.Info(logCtx, "outbox event queued")
		}
	}
	return nil
}

// MessageFor converts evt into an unsaved outbox row.
func MessageFor(evt events.Event) (models.OutboxMessage, error) {
	if evt == nil {
		return models.OutboxMessage{}, errors.New("event required")
	}
	payload, err := json.Marshal(evt.ToPrimitives())
	if err != nil {
		return models.OutboxMessage{}, fmt.Errorf("encoding %s payload: %w", evt.EventName(), err)
	}
	return models.OutboxMessage{
		EventID:     evt.EventID(),
		AggregateID: evt.AggregateID(),
		EventName:   evt.EventName(),
		OccurredOn:  evt.OccurredOn().UTC(),
		Payload:     payload,
	}, nil
}
