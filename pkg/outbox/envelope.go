package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/wasessions-backend/pkg/db/models"
	"github.com/angelmondragon/wasessions-backend/pkg/events"
	"github.com/angelmondragon/wasessions-backend/pkg/redis"
)

// Stream field names, in append order.
const (
	FieldOutboxID    = "outboxId"
	FieldEventName   = "eventName"
	FieldEventID     = "eventId"
	FieldAggregateID = "aggregateId"
	FieldOccurredOn  = "occurredOn"
	FieldPayload     = "payload"
)

var ErrMalformedEnvelope = errors.New("malformed event envelope")

// Envelope is a domain event as carried on the broker stream.
type Envelope struct {
	OutboxID    string
	EventName   string
	EventID     string
	AggregateID string
	OccurredOn  time.Time
	Payload     json.RawMessage
}

func EnvelopeFor(msg models.OutboxMessage) Envelope {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return Envelope{
		OutboxID:    msg.ID.String(),
		EventName:   msg.EventName,
		EventID:     msg.EventID,
		AggregateID: msg.AggregateID,
		OccurredOn:  msg.OccurredOn,
		Payload:     payload,
	}
}

// Fields returns the ordered stream fields.
func (e Envelope) Fields() []redis.Field {
	return []redis.Field{
		{Key: FieldOutboxID, Value: e.OutboxID},
		{Key: FieldEventName, Value: e.EventName},
		{Key: FieldEventID, Value: e.EventID},
		{Key: FieldAggregateID, Value: e.AggregateID},
		{Key: FieldOccurredOn, Value: events.FormatTime(e.OccurredOn)},
		{Key: FieldPayload, Value: string(e.Payload)},
	}
}

// Attributes decodes the payload into the event attribute map.
func (e Envelope) Attributes() (map[string]any, error) {
	attrs := map[string]any{}
	if len(e.Payload) == 0 {
		return attrs, nil
	}
	if err := json.Unmarshal(e.Payload, &attrs); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedEnvelope, err)
	}
	return attrs, nil
}

// Event rebuilds the typed domain event.
func (e Envelope) Event() (events.Event, error) {
	attrs, err := e.Attributes()
	if err != nil {
		return nil, err
	}
	meta := events.Metadata{ID: e.EventID, Aggregate: e.AggregateID, Occurred: e.OccurredOn}
	return events.FromPrimitives(e.EventName, meta, attrs)
}

// DecodeEnvelope parses stream values. Entries missing eventName, eventId,
// aggregateId or occurredOn are malformed.
func DecodeEnvelope(values map[string]string) (Envelope, error) {
	var missing []string
	for _, key := range []string{FieldEventName, FieldEventID, FieldAggregateID, FieldOccurredOn} {
		if strings.TrimSpace(values[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return Envelope{}, fmt.Errorf("%w: missing %s", ErrMalformedEnvelope, strings.Join(missing, ", "))
	}
	occurred, err := events.ParseTime(values[FieldOccurredOn])
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	payload := values[FieldPayload]
	if strings.TrimSpace(payload) == "" {
		payload = "{}"
	}
	if !json.Valid([]byte(payload)) {
		return Envelope{}, fmt.Errorf("%w: payload is not valid JSON", ErrMalformedEnvelope)
	}
	return Envelope{
		OutboxID:    values[FieldOutboxID],
		EventName:   values[FieldEventName],
		EventID:     values[FieldEventID],
		AggregateID: values[FieldAggregateID],
		OccurredOn:  occurred,
		Payload:     json.RawMessage(payload),
	}, nil
}
