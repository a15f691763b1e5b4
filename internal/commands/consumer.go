package commands

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/angelmondragon/wasessions-backend/internal/deadletter"
	"github.com/angelmondragon/wasessions-backend/pkg/logger"
	"github.com/angelmondragon/wasessions-backend/pkg/metrics"
	"github.com/angelmondragon/wasessions-backend/pkg/redis"
	"github.com/angelmondragon/wasessions-backend/pkg/streams"
	"github.com/angelmondragon/wasessions-backend/pkg/tracing"
)

// DeadLetters receives commands that failed to execute.
type DeadLetters interface {
	PublishCommand(ctx context.Context, f deadletter.CommandFailure) error
}

type ConsumerParams struct {
	Group       *streams.Group
	Port        SessionPort
	DeadLetters DeadLetters
	Logger      *logger.Logger
	Metrics     *metrics.ConsumerMetrics
	Tracer      trace.Tracer
}

// Consumer executes the command stream against the session port. A failed
// command is acknowledged and dead-lettered at once; nothing is retried or
// reclaimed.
type Consumer struct {
	group   *streams.Group
	port    SessionPort
	dlq     DeadLetters
	logg    *logger.Logger
	metrics *metrics.ConsumerMetrics
	tracer  trace.Tracer
	runner  *streams.Runner
	now     func() time.Time
}

func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Group == nil {
		return nil, errors.New("command consumer group required")
	}
	if params.Port == nil {
		return nil, errors.New("session port required")
	}
	if params.DeadLetters == nil {
		return nil, errors.New("dead-letter sink required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	tracer := params.Tracer
	if tracer == nil {
		tracer = tracing.Tracer("commands")
	}
	c := &Consumer{
		group:   params.Group,
		port:    params.Port,
		dlq:     params.DeadLetters,
		logg:    params.Logger,
		metrics: params.Metrics,
		tracer:  tracer,
		now:     time.Now,
	}
	runner, err := streams.NewRunner(params.Group, c.Handle, params.Logger, streams.RunnerOptions{Name: "session-worker"})
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

// Handle processes one command entry.
func (c *Consumer) Handle(ctx context.Context, entry redis.StreamEntry) error {
	started := c.now()
	commandID := entry.Values[FieldCommandID]
	payload, hasPayload := entry.Values[FieldPayload]
	logCtx := c.logg.WithField(c.logg.WithStreamEntry(ctx, c.group.Stream(), c.group.Name(), entry.ID), "command_id", commandID)

	if !hasPayload {
		c.logg.Warn(logCtx, "dropping command without payload")
		c.metrics.Observe("", metrics.OutcomeMalformed, 0)
		return c.group.Ack(ctx, entry.ID)
	}

	header, _ := PeekHeader(payload)
	cmd, err := Parse(payload)
	if err != nil && !errors.Is(err, ErrUnknownType) {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "dropping malformed command")
		c.metrics.Observe(header.Type, metrics.OutcomeMalformed, 0)
		return c.group.Ack(ctx, entry.ID)
	}

	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"command_type": header.Type,
		"session_id":   header.SessionID,
	})
	if err == nil {
		err = c.execute(ctx, cmd)
	}
	if err == nil {
		c.metrics.Observe(header.Type, metrics.OutcomeProcessed, c.now().Sub(started))
		c.logg.Info(logCtx, "command executed")
		return c.group.Ack(ctx, entry.ID)
	}

	c.metrics.IncFailure(header.Type)
	c.logg.Error(logCtx, "command failed", err)
	if ackErr := c.group.Ack(ctx, entry.ID); ackErr != nil {
		return ackErr
	}
	failure := deadletter.CommandFailure{
		CommandID: commandID,
		Type:      header.Type,
		EntryID:   entry.ID,
		SessionID: header.SessionID,
		Error:     err.Error(),
		Payload:   payload,
		FailedAt:  c.now().UTC(),
	}
	if dlqErr := c.dlq.PublishCommand(ctx, failure); dlqErr != nil {
		c.logg.Error(logCtx, "command dead letter lost", dlqErr)
	}
	c.metrics.Observe(header.Type, metrics.OutcomeDeadLettered, c.now().Sub(started))
	return nil
}

func (c *Consumer) execute(ctx context.Context, cmd Command) error {
	ctx, span := c.tracer.Start(ctx, "command."+string(cmd.CommandType()))
	defer span.End()
	span.SetAttributes(
		attribute.String("command.type", string(cmd.CommandType())),
		attribute.String("session.id", cmd.Session()),
	)
	if err := Execute(ctx, c.port, cmd); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
