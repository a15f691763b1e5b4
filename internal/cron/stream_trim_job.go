package cron

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/wasessions-backend/pkg/logger"
	"github.com/angelmondragon/wasessions-backend/pkg/metrics"
)

const (
	StreamTrimJobName      = "stream-trim"
	defaultStreamRetention = 72 * time.Hour
)

type streamTrimmer interface {
	TrimStreamBefore(ctx context.Context, stream string, cutoff time.Time) (int64, error)
}

type StreamTrimJobParams struct {
	Logger    *logger.Logger
	Trimmer   streamTrimmer
	Metrics   *metrics.MaintenanceMetrics
	Streams   []string
	Retention time.Duration
}

// NewStreamTrimJob bounds broker stream length by dropping entries older than
// the retention window. Entries still pending in a group are dropped as well,
// so retention must exceed the longest expected consumer outage.
func NewStreamTrimJob(params StreamTrimJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Trimmer == nil {
		return nil, fmt.Errorf("stream trimmer required")
	}
	var streams []string
	seen := map[string]struct{}{}
	for _, s := range params.Streams {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		streams = append(streams, s)
	}
	if len(streams) == 0 {
		return nil, fmt.Errorf("at least one stream required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultStreamRetention
	}
	return &streamTrimJob{
		logg:      params.Logger,
		trimmer:   params.Trimmer,
		metrics:   params.Metrics,
		streams:   streams,
		retention: retention,
		now:       time.Now,
	}, nil
}

type streamTrimJob struct {
	logg      *logger.Logger
	trimmer   streamTrimmer
	metrics   *metrics.MaintenanceMetrics
	streams   []string
	retention time.Duration
	now       func() time.Time
}

func (j *streamTrimJob) Name() string { return StreamTrimJobName }

// Run trims every stream even when one of them fails.
func (j *streamTrimJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var errs error
	for _, stream := range j.streams {
		dropped, err := j.trimmer.TrimStreamBefore(ctx, stream, cutoff)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("trim %s: %w", stream, err))
			continue
		}
		j.metrics.AddRemoved(j.Name(), dropped)
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"stream":          stream,
			"cutoff":          cutoff,
			"entries_dropped": dropped,
		})
		j.logg.Info(logCtx, "stream trimmed")
	}
	return errs
}
