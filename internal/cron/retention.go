package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/wasessions-backend/pkg/logger"
	"github.com/angelmondragon/wasessions-backend/pkg/metrics"
)

const (
	OutboxRetentionJob     = "outbox-retention"
	DeadLetterRetentionJob = "dead-letter-retention"
)

var defaultRetention = map[string]time.Duration{
	OutboxRetentionJob:     7 * 24 * time.Hour,
	DeadLetterRetentionJob: 30 * 24 * time.Hour,
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// PurgeFunc deletes rows older than cutoff and reports how many went.
type PurgeFunc func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)

type RetentionJobParams struct {
	Name      string
	Logger    *logger.Logger
	DB        txRunner
	Purge     PurgeFunc
	Metrics   *metrics.MaintenanceMetrics
	Retention time.Duration
}

// RetentionJob deletes table rows that aged past a window, in one transaction
// per run.
type RetentionJob struct {
	name      string
	logg      *logger.Logger
	db        txRunner
	purge     PurgeFunc
	metrics   *metrics.MaintenanceMetrics
	retention time.Duration
	now       func() time.Time
}

func NewRetentionJob(params RetentionJobParams) (*RetentionJob, error) {
	var missing []error
	if params.Name == "" {
		missing = append(missing, errors.New("name required"))
	}
	if params.Logger == nil {
		missing = append(missing, errors.New("logger required"))
	}
	if params.DB == nil {
		missing = append(missing, errors.New("db runner required"))
	}
	if params.Purge == nil {
		missing = append(missing, errors.New("purge func required"))
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultRetention[params.Name]
	}
	if retention <= 0 && params.Name != "" {
		missing = append(missing, fmt.Errorf("retention required for %s", params.Name))
	}
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}
	return &RetentionJob{
		name:      params.Name,
		logg:      params.Logger,
		db:        params.DB,
		purge:     params.Purge,
		metrics:   params.Metrics,
		retention: retention,
		now:       time.Now,
	}, nil
}

func (j *RetentionJob) Name() string { return j.name }

func (j *RetentionJob) Retention() time.Duration { return j.retention }

func (j *RetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) (err error) {
		deleted, err = j.purge(ctx, tx, cutoff)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	j.metrics.AddRemoved(j.name, deleted)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	}), "retention purge complete")
	return nil
}
