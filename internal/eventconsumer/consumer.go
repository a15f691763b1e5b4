package eventconsumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/angelmondragon/wasessions-backend/internal/deadletter"
	"github.com/angelmondragon/wasessions-backend/internal/subscribers"
	"github.com/angelmondragon/wasessions-backend/pkg/events"
	"github.com/angelmondragon/wasessions-backend/pkg/idempotency"
	"github.com/angelmondragon/wasessions-backend/pkg/logger"
	"github.com/angelmondragon/wasessions-backend/pkg/metrics"
	"github.com/angelmondragon/wasessions-backend/pkg/outbox"
	"github.com/angelmondragon/wasessions-backend/pkg/redis"
	"github.com/angelmondragon/wasessions-backend/pkg/streams"
	"github.com/angelmondragon/wasessions-backend/pkg/tracing"
)

// Registry resolves the handlers subscribed to an event name.
type Registry interface {
	HandlersFor(name string) []subscribers.Handler
}

// DeadLetters receives events that ran out of attempts.
type DeadLetters interface {
	PublishEvent(ctx context.Context, f deadletter.EventFailure) error
}

// Policy bounds retries of a failing event.
type Policy struct {
	MaxAttempts int64
	Backoff     time.Duration
	BackoffMax  time.Duration
}

type ConsumerParams struct {
	Group         *streams.Group
	Registry      Registry
	Markers       *idempotency.Manager
	DeadLetters   DeadLetters
	Logger        *logger.Logger
	Metrics       *metrics.ConsumerMetrics
	Tracer        trace.Tracer
	Policy        Policy
	ClaimInterval time.Duration
}

// Consumer delivers domain events from the stream to their subscribers.
// Failed events stay in the pending list until a claim pass hands them back
// after the backoff window; after Policy.MaxAttempts they are dead-lettered.
type Consumer struct {
	group    *streams.Group
	registry Registry
	markers  *idempotency.Manager
	dlq      DeadLetters
	logg     *logger.Logger
	metrics  *metrics.ConsumerMetrics
	tracer   trace.Tracer
	policy   Policy
	runner   *streams.Runner
	now      func() time.Time
}

func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Group == nil {
		return nil, errors.New("event consumer group required")
	}
	if params.Registry == nil {
		return nil, errors.New("subscriber registry required")
	}
	if params.Markers == nil {
		return nil, errors.New("idempotency markers required")
	}
	if params.DeadLetters == nil {
		return nil, errors.New("dead-letter sink required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Policy.MaxAttempts < 1 {
		return nil, errors.New("max attempts must be at least 1")
	}
	if params.Policy.Backoff <= 0 || params.Policy.BackoffMax < params.Policy.Backoff {
		return nil, errors.New("invalid retry backoff")
	}
	if params.ClaimInterval <= 0 {
		return nil, errors.New("claim interval must be positive")
	}
	if params.Group.ClaimIdle() <= 0 {
		return nil, errors.New("claim idle must be positive")
	}
	tracer := params.Tracer
	if tracer == nil {
		tracer = tracing.Tracer("eventconsumer")
	}
	c := &Consumer{
		group:    params.Group,
		registry: params.Registry,
		markers:  params.Markers,
		dlq:      params.DeadLetters,
		logg:     params.Logger,
		metrics:  params.Metrics,
		tracer:   tracer,
		policy:   params.Policy,
		now:      time.Now,
	}
	runner, err := streams.NewRunner(params.Group, c.Handle, params.Logger, streams.RunnerOptions{
		Name:          "event-consumer",
		ClaimInterval: params.ClaimInterval,
	})
	if err != nil {
		return nil, err
	}
	c.runner = runner
	return c, nil
}

// Run blocks until ctx is canceled or Stop is called.
func (c *Consumer) Run(ctx context.Context) error {
	return c.runner.Run(ctx)
}

func (c *Consumer) Stop() {
	c.runner.Stop()
}

// Handle processes one stream entry, fresh or reclaimed. A returned error
// leaves the entry pending.
func (c *Consumer) Handle(ctx context.Context, entry redis.StreamEntry) error {
	started := c.now()
	logCtx := c.logg.WithStreamEntry(ctx, c.group.Stream(), c.group.Name(), entry.ID)

	env, err := outbox.DecodeEnvelope(entry.Values)
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "dropping malformed event entry")
		c.metrics.Observe(entry.Values[outbox.FieldEventName], metrics.OutcomeMalformed, 0)
		return c.group.Ack(ctx, entry.ID)
	}
	logCtx = c.logg.WithFields(c.logg.WithEventID(logCtx, env.EventID), map[string]any{
		"event_name":   env.EventName,
		"aggregate_id": env.AggregateID,
	})

	processed, err := c.markers.IsProcessed(ctx, env.EventID)
	if err != nil {
		return fmt.Errorf("check processed marker: %w", err)
	}
	if processed {
		c.logg.Info(logCtx, "duplicate event acknowledged")
		c.metrics.Observe(env.EventName, metrics.OutcomeDuplicate, 0)
		return c.group.Ack(ctx, entry.ID)
	}

	waiting, err := c.markers.InBackoff(ctx, env.EventID)
	if err != nil {
		return fmt.Errorf("check retry marker: %w", err)
	}
	if waiting {
		c.logg.Debug(logCtx, "event still in backoff")
		c.metrics.Observe(env.EventName, metrics.OutcomeBackoff, 0)
		return nil
	}

	evt, err := env.Event()
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "dropping undecodable event")
		c.metrics.Observe(env.EventName, metrics.OutcomeMalformed, 0)
		return c.group.Ack(ctx, entry.ID)
	}

	handlers := c.registry.HandlersFor(env.EventName)
	if len(handlers) == 0 {
		c.logg.Debug(logCtx, "no subscribers for event")
		c.metrics.Observe(env.EventName, metrics.OutcomeUnhandled, 0)
		return c.group.Ack(ctx, entry.ID)
	}

	if err := c.dispatch(ctx, evt, handlers); err != nil {
		return c.fail(ctx, logCtx, entry, env, err, started)
	}

	if err := c.markers.MarkProcessed(ctx, env.EventID); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	if err := c.group.Ack(ctx, entry.ID); err != nil {
		return err
	}
	c.metrics.Observe(env.EventName, metrics.OutcomeProcessed, c.now().Sub(started))
	c.logg.Info(logCtx, "event processed")
	return nil
}

func (c *Consumer) dispatch(ctx context.Context, evt events.Event, handlers []subscribers.Handler) error {
	ctx, span := c.tracer.Start(ctx, "event."+evt.EventName())
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", evt.EventID()),
		attribute.String("event.name", evt.EventName()),
		attribute.String("aggregate.id", evt.AggregateID()),
	)
	for _, h := range handlers {
		if err := h.Handle(ctx, evt); err != nil {
			err = fmt.Errorf("%s: %w", h.Name(), err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	return nil
}

func (c *Consumer) fail(ctx, logCtx context.Context, entry redis.StreamEntry, env outbox.Envelope, cause error, started time.Time) error {
	c.metrics.IncFailure(env.EventName)
	attempts, err := c.markers.IncrementAttempts(ctx, env.EventID)
	if err != nil {
		c.logg.Error(logCtx, "event handler failed", cause)
		return fmt.Errorf("increment attempts: %w", err)
	}
	logCtx = c.logg.WithField(logCtx, "attempts", attempts)

	if attempts < c.policy.MaxAttempts {
		delay := Backoff(attempts, c.policy.Backoff, c.policy.BackoffMax)
		if err := c.markers.ScheduleRetry(ctx, env.EventID, delay); err != nil {
			return fmt.Errorf("schedule retry: %w", err)
		}
		c.logg.Error(c.logg.WithField(logCtx, "retry_in_ms", delay.Milliseconds()), "event handler failed, retry scheduled", cause)
		c.metrics.Observe(env.EventName, metrics.OutcomeRetry, c.now().Sub(started))
		return nil
	}

	failure := deadletter.EventFailure{
		EventName:   env.EventName,
		EventID:     env.EventID,
		AggregateID: env.AggregateID,
		OccurredOn:  env.OccurredOn,
		Payload:     env.Payload,
		Error:       cause.Error(),
		Attempts:    attempts,
	}
	if err := c.dlq.PublishEvent(ctx, failure); err != nil {
		c.logg.Error(logCtx, "event dead letter failed", err)
		return fmt.Errorf("dead-letter %s: %w", env.EventID, err)
	}
	if err := c.markers.MarkProcessed(ctx, env.EventID); err != nil {
		return fmt.Errorf("mark dead-lettered event processed: %w", err)
	}
	if err := c.group.Ack(ctx, entry.ID); err != nil {
		return err
	}
	c.logg.Error(logCtx, "event dead-lettered", cause)
	c.metrics.Observe(env.EventName, metrics.OutcomeDeadLettered, c.now().Sub(started))
	return nil
}
