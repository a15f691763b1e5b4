package subscribers

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/angelmondragon/wasessions-backend/pkg/events"
)

// Handler reacts to one domain event. Returning an error schedules a retry.
type Handler interface {
	Name() string
	Handle(ctx context.Context, evt events.Event) error
}

// Subscription binds a handler to an event name.
type Subscription struct {
	EventName string
	Handler   Handler
}

// Registry maps event names to their handlers. It is built once and never
// mutated afterwards.
type Registry struct {
	handlers map[string][]Handler
}

func NewRegistry(subs ...Subscription) (*Registry, error) {
	handlers := make(map[string][]Handler)
	for _, sub := range subs {
		if sub.Handler == nil {
			return nil, fmt.Errorf("handler required for %q", sub.EventName)
		}
		if !events.Known(sub.EventName) {
			return nil, fmt.Errorf("%w: %q subscribed by %s", events.ErrUnknownEvent, sub.EventName, sub.Handler.Name())
		}
		handlers[sub.EventName] = append(handlers[sub.EventName], sub.Handler)
	}
	if len(handlers) == 0 {
		return nil, errors.New("at least one subscription required")
	}
	return &Registry{handlers: handlers}, nil
}

// HandlersFor returns the handlers for name in registration order.
func (r *Registry) HandlersFor(name string) []Handler {
	list := r.handlers[name]
	out := make([]Handler, len(list))
	copy(out, list)
	return out
}

// EventNames lists the subscribed event names, sorted.
func (r *Registry) EventNames() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
