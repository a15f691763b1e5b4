package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/wasessions-backend/pkg/enums"
)

// Message is the projected history of a session's inbound and outbound messages.
type Message struct {
	ID                uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	SessionID         string                 `gorm:"column:session_id;not null;uniqueIndex:messages_session_provider_key,priority:1"`
	ProviderMessageID string                 `gorm:"column:provider_message_id;not null;uniqueIndex:messages_session_provider_key,priority:2"`
	Direction         enums.MessageDirection `gorm:"column:direction;not null"`
	Peer              string                 `gorm:"column:peer;not null"`
	Content           string                 `gorm:"column:content"`
	MediaURL          *string                `gorm:"column:media_url"`
	OccurredOn        time.Time              `gorm:"column:occurred_on;not null"`
	CreatedAt         time.Time              `gorm:"column:created_at;autoCreateTime"`
}

func (Message) TableName() string { return "messages" }
