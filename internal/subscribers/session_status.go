package subscribers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/wasessions-backend/pkg/db/models"
	"github.com/angelmondragon/wasessions-backend/pkg/enums"
	"github.com/angelmondragon/wasessions-backend/pkg/events"
)

// SessionStatusProjection keeps session_views in step with the session
// lifecycle events. Events older than the last applied one are ignored, so
// reclaimed or reordered deliveries never roll a view back.
type SessionStatusProjection struct {
	db *gorm.DB
}

func NewSessionStatusProjection(db *gorm.DB) *SessionStatusProjection {
	return &SessionStatusProjection{db: db}
}

func (p *SessionStatusProjection) Name() string { return "session-status-projection" }

// Subscriptions lists every lifecycle event the projection follows.
func (p *SessionStatusProjection) Subscriptions() []Subscription {
	return []Subscription{
		{EventName: events.SessionCreatedName, Handler: p},
		{EventName: events.SessionQRUpdatedName, Handler: p},
		{EventName: events.SessionConnectedName, Handler: p},
		{EventName: events.SessionDisconnectedName, Handler: p},
		{EventName: events.SessionDeletedName, Handler: p},
	}
}

func (p *SessionStatusProjection) Handle(ctx context.Context, evt events.Event) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var view models.SessionView
		err := tx.Where("session_id = ?", evt.AggregateID()).Take(&view).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			view = models.SessionView{SessionID: evt.AggregateID()}
		case err != nil:
			return fmt.Errorf("load session view %s: %w", evt.AggregateID(), err)
		case view.LastEventID == evt.EventID():
			return nil
		case view.LastEventAt.After(evt.OccurredOn()):
			return nil
		}

		if !apply(&view, evt) {
			return nil
		}
		view.LastEventID = evt.EventID()
		view.LastEventAt = evt.OccurredOn().UTC()
		view.UpdatedAt = time.Now().UTC()

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			UpdateAll: true,
		}).Create(&view).Error
	})
}

func apply(view *models.SessionView, evt events.Event) bool {
	switch e := evt.(type) {
	case events.SessionCreated:
		view.TenantID = e.TenantID
		view.Name = e.Name
		view.Status = string(enums.SessionCreated)
	case events.SessionQRUpdated:
		qr := e.QR
		view.QRCode = &qr
		view.Status = string(enums.SessionPairing)
	case events.SessionConnected:
		if e.Phone != "" {
			phone := e.Phone
			view.Phone = &phone
		}
		at := e.OccurredOn().UTC()
		view.ConnectedAt = &at
		view.QRCode = nil
		view.Status = string(enums.SessionConnected)
	case events.SessionDisconnected:
		view.Status = string(enums.SessionDisconnected)
	case events.SessionDeleted:
		if e.TenantID != "" {
			view.TenantID = e.TenantID
		}
		view.QRCode = nil
		view.Status = string(enums.SessionDeleted)
	default:
		return false
	}
	return true
}
