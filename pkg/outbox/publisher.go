package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/wasessions-backend/pkg/db/models"
	"github.com/angelmondragon/wasessions-backend/pkg/redis"
)

// StreamAppender appends ordered fields to a broker stream.
type StreamAppender interface {
	AppendStream(ctx context.Context, stream string, fields []redis.Field) (string, error)
}

// StreamPublisher appends one envelope per outbox row. It never retries.
type StreamPublisher struct {
	streams StreamAppender
	stream  string
}

func NewStreamPublisher(streams StreamAppender, stream string) (*StreamPublisher, error) {
	if streams == nil {
		return nil, errors.New("stream appender required")
	}
	if stream == "" {
		return nil, errors.New("stream name required")
	}
	return &StreamPublisher{streams: streams, stream: stream}, nil
}

// Publish appends msg and returns the broker-assigned entry id.
func (p *StreamPublisher) Publish(ctx context.Context, msg models.OutboxMessage) (string, error) {
	id, err := p.streams.AppendStream(ctx, p.stream, EnvelopeFor(msg).Fields())
	if err != nil {
		return "", fmt.Errorf("publish %s %s: %w", msg.EventName, msg.EventID, err)
	}
	return id, nil
}

func (p *StreamPublisher) Stream() string {
	return p.stream
}
