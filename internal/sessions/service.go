package sessions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/wasessions-backend/pkg/db/models"
	"github.com/angelmondragon/wasessions-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/wasessions-backend/pkg/errors"
	"github.com/angelmondragon/wasessions-backend/pkg/events"
	"github.com/angelmondragon/wasessions-backend/pkg/logger"
	"github.com/angelmondragon/wasessions-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ProviderEventType names a lifecycle or message callback from the bridge.
type ProviderEventType string

const (
	ProviderQR           ProviderEventType = "qr"
	ProviderConnected    ProviderEventType = "connected"
	ProviderDisconnected ProviderEventType = "disconnected"
	ProviderMessage      ProviderEventType = "message"
)

// ProviderEvent is a callback delivered by the WhatsApp bridge.
type ProviderEvent struct {
	Type       ProviderEventType
	SessionID  string
	QR         string
	Phone      string
	Reason     string
	MessageID  string
	From       string
	Content    string
	MediaURL   string
	OccurredAt time.Time
}

// Service owns the session aggregate. Every state change is written together
// with its domain events in one transaction.
type Service struct {
	tx     txRunner
	repo   *Repository
	events outbox.Publisher
	logg   *logger.Logger
	now    func() time.Time
}

func NewService(tx txRunner, repo *Repository, publisher outbox.Publisher, logg *logger.Logger) (*Service, error) {
	if tx == nil || repo == nil {
		return nil, fmt.Errorf("sessions storage required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("event publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{tx: tx, repo: repo, events: publisher, logg: logg, now: time.Now}, nil
}

func (s *Service) Create(ctx context.Context, tenantID, name string) (*models.Session, error) {
	tenantID = strings.TrimSpace(tenantID)
	name = strings.TrimSpace(name)
	if tenantID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session name is required")
	}

	now := s.now().UTC()
	session := &models.Session{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      name,
		Status:    enums.SessionCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, session); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create session")
		}
		evt := events.SessionCreated{Metadata: s.metadata(session.ID.String(), now), TenantID: tenantID, Name: name}
		return s.events.Publish(ctx, tx, evt)
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithSessionID(ctx, session.ID.String()), "session created")
	return session, nil
}

func (s *Service) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	return s.repo.Get(ctx, sessionID)
}

// Active returns the session unless it is unknown or deleted.
func (s *Service) Active(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == enums.SessionDeleted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "session is deleted")
	}
	return session, nil
}

// MarkDeleted is idempotent: deleting a deleted session publishes nothing.
func (s *Service) MarkDeleted(ctx context.Context, sessionID string) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		session, err := repo.GetForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		if session.Status == enums.SessionDeleted {
			return nil
		}
		now := s.now().UTC()
		session.Status = enums.SessionDeleted
		session.QRCode = nil
		session.DeletedAt = &now
		session.UpdatedAt = now
		if err := repo.Save(ctx, session); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete session")
		}
		evt := events.SessionDeleted{Metadata: s.metadata(sessionID, now), TenantID: session.TenantID}
		return s.events.Publish(ctx, tx, evt)
	})
}

// HandleProviderEvent applies a bridge callback to the aggregate and records
// the matching domain event.
func (s *Service) HandleProviderEvent(ctx context.Context, in ProviderEvent) error {
	occurred := in.OccurredAt.UTC()
	if in.OccurredAt.IsZero() {
		occurred = s.now().UTC()
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		session, err := repo.GetForUpdate(ctx, in.SessionID)
		if err != nil {
			return err
		}
		if session.Status == enums.SessionDeleted {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "session is deleted")
		}

		meta := s.metadata(in.SessionID, occurred)
		var evt events.Event
		switch in.Type {
		case ProviderQR:
			if strings.TrimSpace(in.QR) == "" {
				return pkgerrors.New(pkgerrors.CodeValidation, "qr is required")
			}
			qr := in.QR
			session.Status = enums.SessionPairing
			session.QRCode = &qr
			evt = events.SessionQRUpdated{Metadata: meta, QR: qr}
		case ProviderConnected:
			session.Status = enums.SessionConnected
			session.QRCode = nil
			if in.Phone != "" {
				phone := in.Phone
				session.Phone = &phone
			}
			evt = events.SessionConnected{Metadata: meta, Phone: in.Phone}
		case ProviderDisconnected:
			session.Status = enums.SessionDisconnected
			evt = events.SessionDisconnected{Metadata: meta, Reason: in.Reason}
		case ProviderMessage:
			if in.MessageID == "" || in.From == "" {
				return pkgerrors.New(pkgerrors.CodeValidation, "message id and sender are required")
			}
			evt = events.MessageReceived{Metadata: meta, MessageID: in.MessageID, From: in.From, Content: in.Content, MediaURL: in.MediaURL}
		default:
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported provider event %q", in.Type))
		}

		if in.Type != ProviderMessage {
			session.UpdatedAt = s.now().UTC()
			if err := repo.Save(ctx, session); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update session")
			}
		}
		return s.events.Publish(ctx, tx, evt)
	})
}

// RecordSent records a message the bridge accepted for delivery.
func (s *Service) RecordSent(ctx context.Context, sessionID, messageID, to, content string) error {
	evt := events.MessageSent{Metadata: s.metadata(sessionID, s.now().UTC()), MessageID: messageID, To: to, Content: content}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.events.Publish(ctx, tx, evt)
	})
}

func (s *Service) metadata(aggregateID string, at time.Time) events.Metadata {
	return events.Metadata{ID: uuid.NewString(), Aggregate: aggregateID, Occurred: at}
}
