package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/wasessions-backend/api/middleware"
	"github.com/angelmondragon/wasessions-backend/api/responses"
	"github.com/angelmondragon/wasessions-backend/api/validators"
	"github.com/angelmondragon/wasessions-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/wasessions-backend/pkg/errors"
	"github.com/angelmondragon/wasessions-backend/pkg/logger"
)

type sessionCreator interface {
	Create(ctx context.Context, tenantID, name string) (*models.Session, error)
}

type sessionReader interface {
	Get(ctx context.Context, sessionID string) (*models.Session, error)
}

type createSessionRequest struct {
	Name string `json:"name" validate:"required,min=1,max=120"`
}

type sessionResponse struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenantId"`
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	Phone     *string    `json:"phone,omitempty"`
	QRCode    *string    `json:"qrCode,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

func toSessionResponse(s *models.Session) sessionResponse {
	return sessionResponse{
		ID:        s.ID.String(),
		TenantID:  s.TenantID,
		Name:      s.Name,
		Status:    string(s.Status),
		Phone:     s.Phone,
		QRCode:    s.QRCode,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		DeletedAt: s.DeletedAt,
	}
}

// SessionCreate registers a session for the caller's tenant. The session.created
// event is staged in the same transaction.
func SessionCreate(svc sessionCreator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body createSessionRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.Create(r.Context(), middleware.TenantIDFromContext(r.Context()), validators.SanitizeString(body.Name, 120))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, "/api/v1/sessions/"+session.ID.String(), toSessionResponse(session))
	}
}

func SessionGet(svc sessionReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := ownedSession(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toSessionResponse(session))
	}
}

// ownedSession loads the path session and hides sessions of other tenants.
func ownedSession(r *http.Request, svc sessionReader) (*models.Session, error) {
	sessionID := chi.URLParam(r, "sessionId")
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	session, err := svc.Get(r.Context(), sessionID)
	if err != nil {
		return nil, err
	}
	if session.TenantID != middleware.TenantIDFromContext(r.Context()) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "session not found")
	}
	return session, nil
}
