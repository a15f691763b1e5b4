package idempotency

import (
	"context"
	"fmt"
	"time"
)

type exampleConsumer struct {
	markers *Manager
	calls   int
}

func (c *exampleConsumer) handle(ctx context.Context, eventID string) string {
	if done, _ := c.markers.IsProcessed(ctx, eventID); done {
		return "duplicate, acked"
	}
	c.calls++
	_ = c.markers.MarkProcessed(ctx, eventID)
	return "handled"
}

func ExampleManager_IsProcessed() {
	ctx := context.Background()
	markers, _ := NewManager(newFakeStore(), "domain-event-handlers", 7*24*time.Hour)
	consumer := &exampleConsumer{markers: markers}

	fmt.Println(consumer.handle(ctx, "8d7f0c7e-1b1e-4c55-9f7b-6f1d6a3f0b21"))
	fmt.Println(consumer.handle(ctx, "8d7f0c7e-1b1e-4c55-9f7b-6f1d6a3f0b21"))
	// Output:
	// handled
	// duplicate, acked
}
