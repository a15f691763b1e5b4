package subscribers

import (
	"context"
	"fmt"

	"github.com/angelmondragon/wasessions-backend/internal/commands"
	"github.com/angelmondragon/wasessions-backend/pkg/events"
)

// Enqueuer appends a command to the command stream.
type Enqueuer interface {
	Enqueue(ctx context.Context, cmd commands.Command) (commands.Enqueued, error)
}

// AutoStart asks the session worker to boot every newly created session.
type AutoStart struct {
	commands Enqueuer
}

func NewAutoStart(enq Enqueuer) *AutoStart {
	return &AutoStart{commands: enq}
}

func (a *AutoStart) Name() string { return "session-autostart" }

func (a *AutoStart) Subscriptions() []Subscription {
	return []Subscription{{EventName: events.SessionCreatedName, Handler: a}}
}

func (a *AutoStart) Handle(ctx context.Context, evt events.Event) error {
	if _, ok := evt.(events.SessionCreated); !ok {
		return nil
	}
	if _, err := a.commands.Enqueue(ctx, commands.Start{SessionID: evt.AggregateID()}); err != nil {
		return fmt.Errorf("enqueue start for %s: %w", evt.AggregateID(), err)
	}
	return nil
}
