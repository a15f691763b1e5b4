package controllers

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/wasessions-backend/api/responses"
	"github.com/angelmondragon/wasessions-backend/api/validators"
	"github.com/angelmondragon/wasessions-backend/internal/sessions"
	pkgerrors "github.com/angelmondragon/wasessions-backend/pkg/errors"
	"github.com/angelmondragon/wasessions-backend/pkg/logger"
)

const providerTokenHeader = "X-Provider-Token"

type providerEventHandler interface {
	HandleProviderEvent(ctx context.Context, in sessions.ProviderEvent) error
}

type providerWebhookRequest struct {
	Type       string    `json:"type" validate:"required,oneof=qr connected disconnected message"`
	SessionID  string    `json:"sessionId" validate:"required,uuid"`
	QR         string    `json:"qr" validate:"required_if=Type qr"`
	Phone      string    `json:"phone"`
	Reason     string    `json:"reason"`
	MessageID  string    `json:"messageId" validate:"required_if=Type message"`
	From       string    `json:"from" validate:"required_if=Type message"`
	Content    string    `json:"content"`
	MediaURL   string    `json:"mediaUrl" validate:"omitempty,url"`
	OccurredAt time.Time `json:"occurredAt"`
}

// ProviderWebhook turns bridge callbacks into session state changes. An empty
// token disables the shared-secret check.
func ProviderWebhook(svc providerEventHandler, token string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token != "" {
			got := strings.TrimSpace(r.Header.Get(providerTokenHeader))
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid provider token"))
				return
			}
		}

		var body providerWebhookRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithSessionID(ctx, body.SessionID)
			ctx = logg.WithField(ctx, "provider_event", body.Type)
		}

		err := svc.HandleProviderEvent(ctx, sessions.ProviderEvent{
			Type:       sessions.ProviderEventType(body.Type),
			SessionID:  body.SessionID,
			QR:         body.QR,
			Phone:      body.Phone,
			Reason:     body.Reason,
			MessageID:  body.MessageID,
			From:       body.From,
			Content:    body.Content,
			MediaURL:   body.MediaURL,
			OccurredAt: body.OccurredAt,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}
