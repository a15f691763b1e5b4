package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/wasessions-backend/pkg/config"
	"github.com/angelmondragon/wasessions-backend/pkg/db/models"
	"github.com/angelmondragon/wasessions-backend/pkg/logger"
	"github.com/angelmondragon/wasessions-backend/pkg/metrics"
	"github.com/angelmondragon/wasessions-backend/pkg/tracing"
)

const (
	defaultBatchSize    = 50
	defaultPollInterval = 500 * time.Millisecond
	maxBackoff          = 10 * time.Second
	jitterWindow        = 250 * time.Millisecond
)

type pinger interface {
	Ping(context.Context) error
}

type outboxRepository interface {
	PullPending(ctx context.Context, limit int) ([]models.OutboxMessage, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	MarkPending(ctx context.Context, id uuid.UUID, errorMessage string) error
	ReleaseExpired(ctx context.Context, olderThan time.Duration) (int64, error)
}

type streamPublisher interface {
	Publish(ctx context.Context, msg models.OutboxMessage) (string, error)
	Stream() string
}

type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         pinger
	Redis      pinger
	Repository outboxRepository
	Publisher  streamPublisher
	Metrics    *metrics.OutboxMetrics
	Tracer     trace.Tracer
}

// Service is the outbox dispatcher: it leases staged rows in batches and
// appends each one to the event stream. A failed append puts the row back to
// pending with the error, so delivery is at least once and rows are never dropped.
type Service struct {
	logg      *logger.Logger
	deps      map[string]pinger
	repo      outboxRepository
	publisher streamPublisher
	metrics   *metrics.OutboxMetrics
	tracer    trace.Tracer
	batchSize int
	poll      time.Duration
	lease     time.Duration
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Publisher == nil:
		return nil, errors.New("stream publisher is required")
	}

	deps := make(map[string]pinger, 2)
	if params.DB != nil {
		deps["database"] = params.DB
	}
	if params.Redis != nil {
		deps["redis"] = params.Redis
	}
	tracer := params.Tracer
	if tracer == nil {
		tracer = tracing.Tracer("outbox-publisher")
	}
	s := &Service{
		logg:      params.Logger,
		deps:      deps,
		repo:      params.Repository,
		publisher: params.Publisher,
		metrics:   params.Metrics,
		tracer:    tracer,
		batchSize: params.Config.Outbox.BatchSize,
		poll:      params.Config.Outbox.PollInterval(),
		lease:     params.Config.Outbox.LeaseTimeout(),
		now:       time.Now,
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.poll <= 0 {
		s.poll = defaultPollInterval
	}
	return s, nil
}

// checkDependencies pings every dependency concurrently.
func (s *Service) checkDependencies(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for name, dep := range s.deps {
		g.Go(func() error {
			if err := dep.Ping(gctx); err != nil {
				s.logg.Error(s.logg.WithField(ctx, "dependency", name), "dependency ping failed", err)
				return fmt.Errorf("%s ping failed: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Run polls until ctx is canceled or Stop is called. It returns ctx.Err() of
// the caller's context, or nil after Stop.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		cancel()
		return errors.New("outbox publisher already running")
	}
	s.cancel, s.done = cancel, done
	s.mu.Unlock()
	defer func() {
		cancel()
		close(done)
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()

	if err := s.checkDependencies(runCtx); err != nil {
		return err
	}

	delay := backoff{base: s.poll, max: maxBackoff}
	for runCtx.Err() == nil {
		leased, err := s.processBatch(runCtx)
		switch {
		case runCtx.Err() != nil:
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
			sleep(runCtx, withJitter(delay.next()))
		case leased == 0:
			// drained; the next batch waits a full poll interval
			delay.reset()
			sleep(runCtx, s.poll)
		default:
			delay.reset()
		}
	}
	s.logg.Info(ctx, "outbox publisher stopped")
	return ctx.Err()
}

// Stop cancels a running loop and waits for it to return.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// processBatch returns expired leases to pending, leases one batch and
// publishes it in order. It returns the number of rows leased. Every leased
// row is attempted; state write failures are joined into the returned error.
func (s *Service) processBatch(ctx context.Context) (int, error) {
	if s.lease > 0 {
		released, err := s.repo.ReleaseExpired(ctx, s.lease)
		if err != nil {
			return 0, fmt.Errorf("release expired leases: %w", err)
		}
		if released > 0 {
			s.metrics.AddReleased(released)
			s.logg.Warn(s.logg.WithField(ctx, "released", released), "outbox leases expired")
		}
	}

	batch, err := s.repo.PullPending(ctx, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("pull pending: %w", err)
	}
	var stateErrs []error
	for _, msg := range batch {
		if err := s.publishOne(ctx, msg); err != nil {
			// the row keeps its lease until ReleaseExpired returns it
			s.metrics.IncStateWriteFailed(msg.EventName)
			s.logg.Error(s.logg.WithEventID(ctx, msg.EventID), "outbox state write failed", err)
			stateErrs = append(stateErrs, err)
		}
	}
	return len(batch), errors.Join(stateErrs...)
}

// publishOne only fails when the row state could not be recorded; a broker
// failure is absorbed by returning the row to pending.
func (s *Service) publishOne(ctx context.Context, msg models.OutboxMessage) error {
	ctx, span := s.tracer.Start(ctx, "outbox.publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("outbox.id", msg.ID.String()),
		attribute.String("event.id", msg.EventID),
		attribute.String("event.name", msg.EventName),
		attribute.Int("outbox.attempts", msg.Attempts),
		attribute.String("messaging.destination", s.publisher.Stream()),
	)
	logCtx := s.logg.WithFields(s.logg.WithEventID(ctx, msg.EventID), s.eventFields(msg))

	started := s.now()
	entryID, pubErr := s.publisher.Publish(ctx, msg)
	s.metrics.ObservePublish(msg.EventName, s.now().Sub(started))
	if pubErr != nil {
		span.RecordError(pubErr)
		span.SetStatus(codes.Error, pubErr.Error())
		s.metrics.IncFailed(msg.EventName)
		s.logg.Warn(s.logg.WithField(logCtx, "error", pubErr.Error()), "outbox publish failed")
		if err := s.repo.MarkPending(ctx, msg.ID, pubErr.Error()); err != nil {
			return fmt.Errorf("mark pending %s: %w", msg.ID, err)
		}
		return nil
	}

	if err := s.repo.MarkPublished(ctx, msg.ID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("mark published %s: %w", msg.ID, err)
	}
	span.SetAttributes(attribute.String("messaging.message.id", entryID))
	s.metrics.IncPublished(msg.EventName)
	s.logg.Info(s.logg.WithField(logCtx, "entry_id", entryID), "outbox event published")
	return nil
}

func (s *Service) eventFields(msg models.OutboxMessage) map[string]any {
	fields := map[string]any{
		"outbox_id":    msg.ID.String(),
		"event_name":   msg.EventName,
		"aggregate_id": msg.AggregateID,
		"attempts":     msg.Attempts,
		"stream":       s.publisher.Stream(),
	}
	if msg.LastError != nil {
		fields["last_error"] = *msg.LastError
	}
	return fields
}

// backoff doubles from base up to max until reset.
type backoff struct {
	base, max, current time.Duration
}

func (b *backoff) next() time.Duration {
	switch {
	case b.current <= 0:
		b.current = b.base
	case b.current*2 > b.max:
		b.current = b.max
	default:
		b.current *= 2
	}
	return b.current
}

func (b *backoff) reset() {
	b.current = 0
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}
