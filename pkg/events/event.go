package events

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimeLayout is the ISO-8601 form used for occurredOn on the wire.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

var (
	ErrUnknownEvent      = errors.New("unknown event name")
	ErrInvalidAttributes = errors.New("invalid event attributes")
)

// Event is an immutable fact recorded by a session aggregate.
type Event interface {
	EventID() string
	AggregateID() string
	EventName() string
	OccurredOn() time.Time
	// ToPrimitives returns the event attributes, without the metadata.
	ToPrimitives() map[string]any
}

// Metadata carries the identity fields shared by every event.
type Metadata struct {
	ID        string
	Aggregate string
	Occurred  time.Time
}

// NewMetadata stamps a fresh event id and the current time.
func NewMetadata(aggregateID string) Metadata {
	return Metadata{
		ID:        uuid.NewString(),
		Aggregate: aggregateID,
		Occurred:  time.Now().UTC(),
	}
}

func (m Metadata) EventID() string       { return m.ID }
func (m Metadata) AggregateID() string   { return m.Aggregate }
func (m Metadata) OccurredOn() time.Time { return m.Occurred }

// Validate rejects metadata that cannot identify an event.
func (m Metadata) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("%w: event id required", ErrInvalidAttributes)
	}
	if strings.TrimSpace(m.Aggregate) == "" {
		return fmt.Errorf("%w: aggregate id required", ErrInvalidAttributes)
	}
	if m.Occurred.IsZero() {
		return fmt.Errorf("%w: occurredOn required", ErrInvalidAttributes)
	}
	return nil
}

// FormatTime renders t in TimeLayout (UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts any RFC 3339 timestamp.
func ParseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse occurredOn %q: %w", value, err)
	}
	return t.UTC(), nil
}

// Names lists every event in the closed set.
func Names() []string {
	return []string{
		SessionCreatedName,
		SessionQRUpdatedName,
		SessionConnectedName,
		SessionDisconnectedName,
		SessionDeletedName,
		MessageReceivedName,
		MessageSentName,
	}
}

// Known reports whether name belongs to the closed set.
func Known(name string) bool {
	for _, n := range Names() {
		if n == name {
			return true
		}
	}
	return false
}

// FromPrimitives rebuilds the typed event for name from its metadata and
// attribute map.
func FromPrimitives(name string, meta Metadata, attrs map[string]any) (Event, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	switch name {
	case SessionCreatedName:
		return sessionCreatedFrom(meta, attrs)
	case SessionQRUpdatedName:
		return sessionQRUpdatedFrom(meta, attrs)
	case SessionConnectedName:
		return sessionConnectedFrom(meta, attrs)
	case SessionDisconnectedName:
		return sessionDisconnectedFrom(meta, attrs)
	case SessionDeletedName:
		return sessionDeletedFrom(meta, attrs)
	case MessageReceivedName:
		return messageReceivedFrom(meta, attrs)
	case MessageSentName:
		return messageSentFrom(meta, attrs)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
}

func requiredString(attrs map[string]any, key string) (string, error) {
	value := optionalString(attrs, key)
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%w: %s required", ErrInvalidAttributes, key)
	}
	return value, nil
}

// optionalString returns the attribute as stored; message bodies keep their whitespace.
func optionalString(attrs map[string]any, key string) string {
	raw, ok := attrs[key]
	if !ok || raw == nil {
		return ""
	}
	if s, ok := raw.(string); ok {
		return s
	}
	return fmt.Sprint(raw)
}
