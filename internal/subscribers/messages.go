package subscribers

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/wasessions-backend/pkg/db/models"
	"github.com/angelmondragon/wasessions-backend/pkg/enums"
	"github.com/angelmondragon/wasessions-backend/pkg/events"
)

// MessageProjection stores inbound and outbound messages. A provider message
// id is stored once per session no matter how often the event is delivered.
type MessageProjection struct {
	db *gorm.DB
}

func NewMessageProjection(db *gorm.DB) *MessageProjection {
	return &MessageProjection{db: db}
}

func (p *MessageProjection) Name() string { return "message-projection" }

func (p *MessageProjection) Subscriptions() []Subscription {
	return []Subscription{
		{EventName: events.MessageReceivedName, Handler: p},
		{EventName: events.MessageSentName, Handler: p},
	}
}

func (p *MessageProjection) Handle(ctx context.Context, evt events.Event) error {
	row := models.Message{
		ID:         uuid.New(),
		SessionID:  evt.AggregateID(),
		OccurredOn: evt.OccurredOn().UTC(),
	}
	switch e := evt.(type) {
	case events.MessageReceived:
		row.ProviderMessageID = e.MessageID
		row.Direction = enums.MessageInbound
		row.Peer = e.From
		row.Content = e.Content
		if e.MediaURL != "" {
			url := e.MediaURL
			row.MediaURL = &url
		}
	case events.MessageSent:
		row.ProviderMessageID = e.MessageID
		row.Direction = enums.MessageOutbound
		row.Peer = e.To
		row.Content = e.Content
	default:
		return nil
	}

	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "provider_message_id"}},
		DoNothing: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("store message %s: %w", row.ProviderMessageID, err)
	}
	return nil
}
