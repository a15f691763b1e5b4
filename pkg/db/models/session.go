package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/wasessions-backend/pkg/enums"
)

// Session is the write model of a tenant's WhatsApp session.
type Session struct {
	ID        uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	TenantID  string              `gorm:"column:tenant_id;not null;index"`
	Name      string              `gorm:"column:name;not null"`
	Status    enums.SessionStatus `gorm:"column:status;not null"`
	Phone     *string             `gorm:"column:phone"`
	QRCode    *string             `gorm:"column:qr_code"`
	CreatedAt time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time           `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt *time.Time          `gorm:"column:deleted_at"`
}

func (Session) TableName() string { return "sessions" }
