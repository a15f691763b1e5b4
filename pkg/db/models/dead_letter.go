package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/angelmondragon/wasessions-backend/pkg/enums"
)

// DeadLetter is the persisted copy of a failure record, written only when the
// dead-letter stream itself could not be appended to.
type DeadLetter struct {
	ID          uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	Kind        enums.DeadLetterKind `gorm:"column:kind;not null"`
	EventID     string               `gorm:"column:event_id;not null;index"`
	AggregateID string               `gorm:"column:aggregate_id;not null"`
	EventName   string               `gorm:"column:event_name;not null"`
	OccurredOn  time.Time            `gorm:"column:occurred_on;not null"`
	Payload     datatypes.JSON       `gorm:"column:payload;type:jsonb;not null"`
	Error       string               `gorm:"column:error;not null"`
	Attempts    int                  `gorm:"column:attempts;not null"`
	CreatedAt   time.Time            `gorm:"column:created_at;autoCreateTime"`
}

func (DeadLetter) TableName() string { return "dead_letters" }
