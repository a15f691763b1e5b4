package outbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/wasessions-backend/pkg/db"
	"github.com/angelmondragon/wasessions-backend/pkg/db/models"
	"github.com/angelmondragon/wasessions-backend/pkg/enums"
)

const maxErrorLen = 1024

// ErrDuplicateEvent is returned by Add when the event id is already staged.
var ErrDuplicateEvent = errors.New("outbox event already staged")

const pullPendingPostgres = `
UPDATE outbox_messages
SET status = 'processing', attempts = attempts + 1, updated_at = now()
WHERE id IN (
	SELECT id FROM outbox_messages
	WHERE status = 'pending'
	ORDER BY occurred_on ASC, id ASC
	LIMIT ?
	FOR UPDATE SKIP LOCKED
)
RETURNING *`

const releaseExpiredPostgres = `
UPDATE outbox_messages
SET status = 'pending', last_error = 'lease expired', updated_at = now()
WHERE status = 'processing' AND updated_at < now() - (? * interval '1 millisecond')`

// Repository is the outbox store. Rows move pending -> processing -> published;
// only published rows past retention are ever deleted.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Add stages msg as pending inside the caller's transaction.
func (r *Repository) Add(tx *gorm.DB, msg *models.OutboxMessage) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if msg == nil {
		return errors.New("outbox message required")
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now
	msg.Status = enums.OutboxPending
	msg.Attempts = 0
	if len(msg.Payload) == 0 {
		msg.Payload = []byte("{}")
	}
	if err := tx.Create(msg).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return fmt.Errorf("%w: %s", ErrDuplicateEvent, msg.EventID)
		}
		return err
	}
	return nil
}

// PullPending leases up to limit pending rows, oldest occurrence first. Leased
// rows are flipped to processing with attempts incremented. Concurrent callers
// never receive the same row.
func (r *Repository) PullPending(ctx context.Context, limit int) ([]models.OutboxMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []models.OutboxMessage
	var err error
	if r.db.Dialector.Name() == "postgres" {
		err = r.db.WithContext(ctx).Raw(pullPendingPostgres, limit).Scan(&rows).Error
	} else {
		rows, err = r.pullPendingTx(ctx, limit)
	}
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].OccurredOn.Before(rows[j].OccurredOn)
	})
	return rows, nil
}

// pullPendingTx is the lease for stores without SKIP LOCKED, which serialize
// writers anyway.
func (r *Repository) pullPendingTx(ctx context.Context, limit int) ([]models.OutboxMessage, error) {
	var rows []models.OutboxMessage
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uuid.UUID
		if err := tx.Model(&models.OutboxMessage{}).
			Where("status = ?", enums.OutboxPending).
			Order("occurred_on ASC").
			Order("id ASC").
			Limit(limit).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Model(&models.OutboxMessage{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":     enums.OutboxProcessing,
				"attempts":   gorm.Expr("attempts + 1"),
				"updated_at": time.Now().UTC(),
			}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).
			Order("occurred_on ASC").
			Find(&rows).Error
	})
	return rows, err
}

func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&models.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       enums.OutboxPublished,
			"published_at": now,
			"updated_at":   now,
		}).Error
}

// MarkPending returns a leased row to pending with the failure recorded.
func (r *Repository) MarkPending(ctx context.Context, id uuid.UUID, errorMessage string) error {
	msg := truncate(errorMessage)
	return r.db.WithContext(ctx).Model(&models.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     enums.OutboxPending,
			"last_error": &msg,
			"updated_at": time.Now().UTC(),
		}).Error
}

// ReleaseExpired returns processing rows leased longer than olderThan to pending.
// A dispatcher killed mid-batch leaves its rows in processing otherwise.
func (r *Repository) ReleaseExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	if r.db.Dialector.Name() == "postgres" {
		res := r.releaseExpiredStmt(ctx, olderThan)
		return res.RowsAffected, res.Error
	}
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&models.OutboxMessage{}).
		Where("status = ? AND updated_at < ?", enums.OutboxProcessing, now.Add(-olderThan)).
		Updates(map[string]any{
			"status":     enums.OutboxPending,
			"last_error": "lease expired",
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

// releaseExpiredStmt ages leases on the database clock, the same clock
// pullPendingPostgres stamps them with.
func (r *Repository) releaseExpiredStmt(ctx context.Context, olderThan time.Duration) *gorm.DB {
	return r.db.WithContext(ctx).Exec(releaseExpiredPostgres, olderThan.Milliseconds())
}

// DeletePublishedBefore removes published rows whose publication is older than cutoff.
// Pending and processing rows are never touched.
func (r *Repository) DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	conn := tx
	if conn == nil {
		conn = r.db
	}
	res := conn.WithContext(ctx).
		Where("status = ? AND published_at < ?", enums.OutboxPublished, cutoff.UTC()).
		Delete(&models.OutboxMessage{})
	return res.RowsAffected, res.Error
}

// CountByStatus reports the number of rows per status. Statuses with no rows are
// present with a zero count.
func (r *Repository) CountByStatus(ctx context.Context) (map[enums.OutboxStatus]int64, error) {
	var counts []struct {
		Status enums.OutboxStatus
		Total  int64
	}
	if err := r.db.WithContext(ctx).Model(&models.OutboxMessage{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&counts).Error; err != nil {
		return nil, err
	}
	out := map[enums.OutboxStatus]int64{
		enums.OutboxPending:    0,
		enums.OutboxProcessing: 0,
		enums.OutboxPublished:  0,
	}
	for _, c := range counts {
		out[c.Status] = c.Total
	}
	return out, nil
}

// truncate caps message at maxErrorLen bytes without splitting a rune.
// Invalid UTF-8 is replaced since Postgres text columns reject it.
func truncate(message string) string {
	message = strings.ToValidUTF8(message, "\uFFFD")
	if len(message) <= maxErrorLen {
		return message
	}
	n := maxErrorLen
	for n > 0 && !utf8.RuneStart(message[n]) {
		n--
	}
	return message[:n]
}
