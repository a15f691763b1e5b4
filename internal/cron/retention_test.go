package cron

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/angelmondragon/wasessions-backend/pkg/logger"
	"github.com/angelmondragon/wasessions-backend/pkg/metrics"
)

type recordingPurge struct {
	cutoffs []time.Time
	rows    int64
	err     error
}

func (p *recordingPurge) purge(_ context.Context, _ *gorm.DB, cutoff time.Time) (int64, error) {
	p.cutoffs = append(p.cutoffs, cutoff)
	return p.rows, p.err
}

type passthroughTx struct{}

func (passthroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func retentionJob(t *testing.T, name string, retention time.Duration, purge *recordingPurge, now time.Time) *RetentionJob {
	t.Helper()
	job, err := NewRetentionJob(RetentionJobParams{
		Name:      name,
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
		DB:        passthroughTx{},
		Purge:     purge.purge,
		Metrics:   metrics.NewMaintenanceMetrics(prometheus.NewRegistry()),
		Retention: retention,
	})
	if err != nil {
		t.Fatalf("NewRetentionJob: %v", err)
	}
	job.now = func() time.Time { return now }
	return job
}

func TestRetentionJobCutoffs(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name      string
		job       string
		retention time.Duration
		want      time.Time
	}{
		{"outbox default", OutboxRetentionJob, 0, now.Add(-7 * 24 * time.Hour)},
		{"dead letter default", DeadLetterRetentionJob, 0, now.Add(-30 * 24 * time.Hour)},
		{"configured window", OutboxRetentionJob, 6 * time.Hour, now.Add(-6 * time.Hour)},
		{"custom job", "message-retention", time.Hour, now.Add(-time.Hour)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			purge := &recordingPurge{rows: 4}
			job := retentionJob(t, tc.job, tc.retention, purge, now)
			if err := job.Run(context.Background()); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if len(purge.cutoffs) != 1 || !purge.cutoffs[0].Equal(tc.want) {
				t.Fatalf("expected one purge at %s, got %v", tc.want, purge.cutoffs)
			}
			if job.Name() != tc.job {
				t.Fatalf("expected name %q, got %q", tc.job, job.Name())
			}
		})
	}
}

func TestRetentionJobWrapsPurgeError(t *testing.T) {
	purge := &recordingPurge{err: errors.New("lock timeout")}
	job := retentionJob(t, DeadLetterRetentionJob, 0, purge, time.Now())

	err := job.Run(context.Background())
	if err == nil || !strings.HasPrefix(err.Error(), DeadLetterRetentionJob+": ") {
		t.Fatalf("expected error prefixed with job name, got %v", err)
	}
	if !errors.Is(err, purge.err) {
		t.Fatalf("expected purge error in chain, got %v", err)
	}
}

func TestNewRetentionJobReportsEveryMissingDependency(t *testing.T) {
	_, err := NewRetentionJob(RetentionJobParams{})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"name required", "logger required", "db runner required", "purge func required"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %q", want, err.Error())
		}
	}

	_, err = NewRetentionJob(RetentionJobParams{
		Name:   "message-retention",
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		DB:     passthroughTx{},
		Purge:  (&recordingPurge{}).purge,
	})
	if err == nil || !strings.Contains(err.Error(), "retention required for message-retention") {
		t.Fatalf("expected missing retention error, got %v", err)
	}
}
