package sessions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/wasessions-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/wasessions-backend/pkg/errors"
)

// Repository persists the session aggregate.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, session *models.Session) error {
	return r.db.WithContext(ctx).Create(session).Error
}

// Get loads a session by id. Unknown and unparsable ids are NOT_FOUND.
func (r *Repository) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	return r.get(r.db.WithContext(ctx), sessionID)
}

// GetForUpdate is Get with a row lock on Postgres.
func (r *Repository) GetForUpdate(ctx context.Context, sessionID string) (*models.Session, error) {
	query := r.db.WithContext(ctx)
	if query.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.get(query, sessionID)
}

func (r *Repository) get(query *gorm.DB, sessionID string) (*models.Session, error) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "session not found")
	}
	var session models.Session
	if err := query.Where("id = ?", id).Take(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "session not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load session")
	}
	return &session, nil
}

func (r *Repository) Save(ctx context.Context, session *models.Session) error {
	return r.db.WithContext(ctx).Save(session).Error
}
