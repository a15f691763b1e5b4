package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/angelmondragon/wasessions-backend/pkg/enums"
)

// OutboxMessage is a staged domain event awaiting publication to the broker.
type OutboxMessage struct {
	ID          uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	EventID     string             `gorm:"column:event_id;not null;uniqueIndex:outbox_messages_event_id_key"`
	AggregateID string             `gorm:"column:aggregate_id;not null"`
	EventName   string             `gorm:"column:event_name;not null"`
	OccurredOn  time.Time          `gorm:"column:occurred_on;not null;index:outbox_messages_status_occurred_idx,priority:2"`
	Payload     datatypes.JSON     `gorm:"column:payload;type:jsonb;not null"`
	Status      enums.OutboxStatus `gorm:"column:status;not null;index:outbox_messages_status_occurred_idx,priority:1"`
	Attempts    int                `gorm:"column:attempts;not null"`
	LastError   *string            `gorm:"column:last_error"`
	PublishedAt *time.Time         `gorm:"column:published_at"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (OutboxMessage) TableName() string { return "outbox_messages" }
