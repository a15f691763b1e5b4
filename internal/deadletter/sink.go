package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/wasessions-backend/pkg/db/models"
	"github.com/angelmondragon/wasessions-backend/pkg/enums"
	"github.com/angelmondragon/wasessions-backend/pkg/events"
	"github.com/angelmondragon/wasessions-backend/pkg/logger"
	"github.com/angelmondragon/wasessions-backend/pkg/redis"
)

// StreamAppender appends ordered fields to a broker stream.
type StreamAppender interface {
	AppendStream(ctx context.Context, stream string, fields []redis.Field) (string, error)
}

// Repository is the persistent fallback for failure records.
type Repository interface {
	Insert(ctx context.Context, entry *models.DeadLetter) error
}

// EventFailure is a domain event that exhausted its attempts.
type EventFailure struct {
	EventName   string
	EventID     string
	AggregateID string
	OccurredOn  time.Time
	Payload     json.RawMessage
	Error       string
	Attempts    int64
}

// CommandFailure is a session command whose execution failed.
type CommandFailure struct {
	CommandID string
	Type      string
	EntryID   string
	SessionID string
	Error     string
	Payload   string
	FailedAt  time.Time
}

type Config struct {
	EventsStream   string
	CommandsStream string
}

// Sink appends failure records to the dead-letter streams. When an append
// fails and a repository is configured, the record is stored there instead.
type Sink struct {
	streams StreamAppender
	repo    Repository
	cfg     Config
	logg    *logger.Logger
}

// NewSink builds a sink. repo may be nil, in which case append errors are
// returned to the caller.
func NewSink(streams StreamAppender, repo Repository, cfg Config, logg *logger.Logger) (*Sink, error) {
	if streams == nil {
		return nil, errors.New("stream appender required")
	}
	if cfg.EventsStream == "" || cfg.CommandsStream == "" {
		return nil, errors.New("dead-letter stream names required")
	}
	return &Sink{streams: streams, repo: repo, cfg: cfg, logg: logg}, nil
}

func (s *Sink) PublishEvent(ctx context.Context, f EventFailure) error {
	payload := string(f.Payload)
	if payload == "" {
		payload = "{}"
	}
	fields := []redis.Field{
		{Key: "eventName", Value: f.EventName},
		{Key: "eventId", Value: f.EventID},
		{Key: "aggregateId", Value: f.AggregateID},
		{Key: "occurredOn", Value: events.FormatTime(f.OccurredOn)},
		{Key: "payload", Value: payload},
		{Key: "error", Value: f.Error},
		{Key: "attempts", Value: strconv.FormatInt(f.Attempts, 10)},
	}
	_, err := s.streams.AppendStream(ctx, s.cfg.EventsStream, fields)
	if err == nil {
		return nil
	}
	return s.fallback(ctx, err, &models.DeadLetter{
		Kind:        enums.DeadLetterEvent,
		EventID:     f.EventID,
		AggregateID: f.AggregateID,
		EventName:   f.EventName,
		OccurredOn:  f.OccurredOn.UTC(),
		Payload:     jsonPayload(payload),
		Error:       f.Error,
		Attempts:    int(f.Attempts),
	})
}

func (s *Sink) PublishCommand(ctx context.Context, f CommandFailure) error {
	if f.FailedAt.IsZero() {
		f.FailedAt = time.Now().UTC()
	}
	fields := []redis.Field{
		{Key: "commandId", Value: f.CommandID},
		{Key: "type", Value: f.Type},
		{Key: "entryId", Value: f.EntryID},
		{Key: "error", Value: f.Error},
		{Key: "payload", Value: f.Payload},
		{Key: "failedAt", Value: events.FormatTime(f.FailedAt)},
	}
	_, err := s.streams.AppendStream(ctx, s.cfg.CommandsStream, fields)
	if err == nil {
		return nil
	}
	return s.fallback(ctx, err, &models.DeadLetter{
		Kind:        enums.DeadLetterCommand,
		EventID:     firstNonEmpty(f.CommandID, f.EntryID),
		AggregateID: firstNonEmpty(f.SessionID, "unknown"),
		EventName:   firstNonEmpty(f.Type, "unknown"),
		OccurredOn:  f.FailedAt.UTC(),
		Payload:     jsonPayload(f.Payload),
		Error:       f.Error,
		Attempts:    1,
	})
}

func (s *Sink) fallback(ctx context.Context, appendErr error, entry *models.DeadLetter) error {
	appendErr = fmt.Errorf("append dead letter: %w", appendErr)
	if s.repo == nil {
		return appendErr
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"kind":       entry.Kind,
			"event_id":   entry.EventID,
			"event_name": entry.EventName,
		})
		s.logg.Warn(logCtx, "dead-letter stream unavailable, storing record")
	}
	if err := s.repo.Insert(ctx, entry); err != nil {
		return multierr.Append(appendErr, fmt.Errorf("store dead letter: %w", err))
	}
	return nil
}

// jsonPayload keeps valid JSON as is and quotes anything else.
func jsonPayload(raw string) []byte {
	if raw == "" {
		return []byte("{}")
	}
	if json.Valid([]byte(raw)) {
		return []byte(raw)
	}
	quoted, _ := json.Marshal(raw)
	return quoted
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
