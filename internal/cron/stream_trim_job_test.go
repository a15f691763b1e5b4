package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/wasessions-backend/pkg/logger"
)

type fakeTrimmer struct {
	cutoffs map[string]time.Time
	fail    map[string]error
}

func (f *fakeTrimmer) TrimStreamBefore(ctx context.Context, stream string, cutoff time.Time) (int64, error) {
	if err := f.fail[stream]; err != nil {
		return 0, err
	}
	if f.cutoffs == nil {
		f.cutoffs = map[string]time.Time{}
	}
	f.cutoffs[stream] = cutoff
	return 4, nil
}

func TestStreamTrimJobTrimsEachStreamOnce(t *testing.T) {
	now := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	trimmer := &fakeTrimmer{}
	jobIface, err := NewStreamTrimJob(StreamTrimJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
		Trimmer:   trimmer,
		Streams:   []string{"domain-events", "session-commands", " ", "domain-events"},
		Retention: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewStreamTrimJob: %v", err)
	}
	job := jobIface.(*streamTrimJob)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(trimmer.cutoffs) != 2 {
		t.Fatalf("expected 2 trimmed streams, got %v", trimmer.cutoffs)
	}
	if got := trimmer.cutoffs["session-commands"]; !got.Equal(now.Add(-24 * time.Hour)) {
		t.Fatalf("unexpected cutoff %s", got)
	}
}

func TestStreamTrimJobContinuesAfterFailure(t *testing.T) {
	trimmer := &fakeTrimmer{fail: map[string]error{"domain-events": errors.New("READONLY")}}
	jobIface, err := NewStreamTrimJob(StreamTrimJobParams{
		Logger:  logger.New(logger.Options{ServiceName: "test"}),
		Trimmer: trimmer,
		Streams: []string{"domain-events", "session-commands"},
	})
	if err != nil {
		t.Fatalf("NewStreamTrimJob: %v", err)
	}

	if err := jobIface.Run(context.Background()); err == nil {
		t.Fatal("expected aggregated error")
	}
	if _, ok := trimmer.cutoffs["session-commands"]; !ok {
		t.Fatal("expected second stream to be trimmed despite first failure")
	}
}

func TestStreamTrimJobRequiresStreams(t *testing.T) {
	_, err := NewStreamTrimJob(StreamTrimJobParams{
		Logger:  logger.New(logger.Options{ServiceName: "test"}),
		Trimmer: &fakeTrimmer{},
		Streams: []string{"", "  "},
	})
	if err == nil {
		t.Fatal("expected missing streams error")
	}
}
