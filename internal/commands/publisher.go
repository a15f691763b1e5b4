package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/wasessions-backend/pkg/redis"
)

const (
	FieldCommandID = "commandId"
	FieldPayload   = "payload"
)

// StreamAppender appends ordered fields to a broker stream.
type StreamAppender interface {
	AppendStream(ctx context.Context, stream string, fields []redis.Field) (string, error)
}

// Enqueued identifies an accepted command.
type Enqueued struct {
	CommandID string
	EntryID   string
}

// Publisher appends validated commands to the command stream.
type Publisher struct {
	streams StreamAppender
	stream  string
}

func NewPublisher(streams StreamAppender, stream string) (*Publisher, error) {
	if streams == nil {
		return nil, errors.New("stream appender required")
	}
	if stream == "" {
		return nil, errors.New("command stream required")
	}
	return &Publisher{streams: streams, stream: stream}, nil
}

func (p *Publisher) Enqueue(ctx context.Context, cmd Command) (Enqueued, error) {
	if err := Validate(cmd); err != nil {
		return Enqueued{}, err
	}
	payload, err := Encode(cmd)
	if err != nil {
		return Enqueued{}, fmt.Errorf("encoding %s: %w", cmd.CommandType(), err)
	}
	commandID := uuid.NewString()
	entryID, err := p.streams.AppendStream(ctx, p.stream, []redis.Field{
		{Key: FieldCommandID, Value: commandID},
		{Key: FieldPayload, Value: string(payload)},
	})
	if err != nil {
		return Enqueued{}, fmt.Errorf("enqueue %s: %w", cmd.CommandType(), err)
	}
	return Enqueued{CommandID: commandID, EntryID: entryID}, nil
}
