package models

import "time"

// SessionView is the read model kept current by the status projection.
type SessionView struct {
	SessionID   string     `gorm:"column:session_id;primaryKey"`
	TenantID    string     `gorm:"column:tenant_id"`
	Name        string     `gorm:"column:name"`
	Status      string     `gorm:"column:status;not null"`
	Phone       *string    `gorm:"column:phone"`
	QRCode      *string    `gorm:"column:qr_code"`
	LastEventID string     `gorm:"column:last_event_id;not null"`
	LastEventAt time.Time  `gorm:"column:last_event_at;not null"`
	ConnectedAt *time.Time `gorm:"column:connected_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (SessionView) TableName() string { return "session_views" }
