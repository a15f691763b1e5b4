package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/wasessions-backend/pkg/db/models"
	"github.com/angelmondragon/wasessions-backend/pkg/enums"
	"github.com/angelmondragon/wasessions-backend/pkg/pagination"
)

// DLQRepository persists dead letters that could not be appended to a broker stream.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

func (r *DLQRepository) Insert(ctx context.Context, entry *models.DeadLetter) error {
	if entry == nil {
		return errors.New("dead letter required")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Kind == "" {
		entry.Kind = enums.DeadLetterEvent
	}
	if !entry.Kind.IsValid() {
		return errors.New("invalid dead letter kind " + string(entry.Kind))
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if len(entry.Payload) == 0 {
		entry.Payload = []byte("{}")
	}
	entry.Error = truncate(entry.Error)
	return r.db.WithContext(ctx).Create(entry).Error
}

// FindByEventID returns the most recent dead letter for eventID, or nil.
func (r *DLQRepository) FindByEventID(ctx context.Context, eventID string) (*models.DeadLetter, error) {
	var dl models.DeadLetter
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("created_at DESC").
		First(&dl).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &dl, nil
}

// DeadLetterQuery filters a page of dead letters.
type DeadLetterQuery struct {
	Kind   enums.DeadLetterKind
	Limit  int
	Cursor *pagination.Cursor
}

// List pages through dead letters, newest first. The returned cursor is nil on
// the last page.
func (r *DLQRepository) List(ctx context.Context, q DeadLetterQuery) ([]models.DeadLetter, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Model(&models.DeadLetter{})
	if q.Kind != "" {
		query = query.Where("kind = ?", q.Kind)
	}
	if q.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", q.Cursor.CreatedAt, q.Cursor.ID)
	}

	var rows []models.DeadLetter
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(q.Limit)).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	page, next := pagination.Trim(rows, q.Limit, func(row models.DeadLetter) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	})
	return page, next, nil
}

// DeleteBefore drops dead letters recorded before cutoff.
func (r *DLQRepository) DeleteBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	conn := tx
	if conn == nil {
		conn = r.db
	}
	res := conn.WithContext(ctx).
		Where("created_at < ?", cutoff.UTC()).
		Delete(&models.DeadLetter{})
	return res.RowsAffected, res.Error
}
