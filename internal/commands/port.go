package commands

import (
	"context"
	"fmt"
)

// SessionPort executes session commands against the messaging provider.
type SessionPort interface {
	Start(ctx context.Context, cmd Start) error
	Stop(ctx context.Context, cmd Stop) error
	SendMessage(ctx context.Context, cmd SendMessage) error
	ReadMessages(ctx context.Context, cmd ReadMessages) error
	EditMessage(ctx context.Context, cmd EditMessage) error
	DeleteMessage(ctx context.Context, cmd DeleteMessage) error
	ReactMessage(ctx context.Context, cmd ReactMessage) error
	Delete(ctx context.Context, cmd Delete) error
}

// Execute dispatches cmd to the matching port operation.
func Execute(ctx context.Context, port SessionPort, cmd Command) error {
	if port == nil {
		return fmt.Errorf("session port required")
	}
	switch c := cmd.(type) {
	case Start:
		return port.Start(ctx, c)
	case Stop:
		return port.Stop(ctx, c)
	case SendMessage:
		return port.SendMessage(ctx, c)
	case ReadMessages:
		return port.ReadMessages(ctx, c)
	case EditMessage:
		return port.EditMessage(ctx, c)
	case DeleteMessage:
		return port.DeleteMessage(ctx, c)
	case ReactMessage:
		return port.ReactMessage(ctx, c)
	case Delete:
		return port.Delete(ctx, c)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownType, cmd)
	}
}
