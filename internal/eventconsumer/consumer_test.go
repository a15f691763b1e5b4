package eventconsumer

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/angelmondragon/wasessions-backend/internal/deadletter"
	"github.com/angelmondragon/wasessions-backend/internal/subscribers"
	"github.com/angelmondragon/wasessions-backend/pkg/events"
	"github.com/angelmondragon/wasessions-backend/pkg/idempotency"
	"github.com/angelmondragon/wasessions-backend/pkg/logger"
	"github.com/angelmondragon/wasessions-backend/pkg/metrics"
	"github.com/angelmondragon/wasessions-backend/pkg/outbox"
	"github.com/angelmondragon/wasessions-backend/pkg/redis"
	"github.com/angelmondragon/wasessions-backend/pkg/streams"
	"github.com/angelmondragon/wasessions-backend/pkg/streams/streamstest"
)

const (
	testStream = "session-events"
	testGroup  = "projections"
	testDLQ    = "session-events-dlq"
)

type countingBroker struct {
	*streamstest.Broker
	acks int
}

func (b *countingBroker) Ack(ctx context.Context, stream, group string, ids ...string) error {
	b.acks += len(ids)
	return b.Broker.Ack(ctx, stream, group, ids...)
}

type countingHandler struct {
	calls int
	err   error
}

func (h *countingHandler) Name() string { return "counting" }

func (h *countingHandler) Handle(ctx context.Context, evt events.Event) error {
	h.calls++
	return h.err
}

type fixture struct {
	broker   *countingBroker
	kv       *streamstest.KV
	markers  *idempotency.Manager
	handler  *countingHandler
	spans    *tracetest.SpanRecorder
	consumer *Consumer
}

func newFixture(t *testing.T, consumerName string, shared *fixture) *fixture {
	t.Helper()
	f := &fixture{handler: &countingHandler{}}
	if shared != nil {
		f.broker, f.kv, f.handler = shared.broker, shared.kv, shared.handler
	} else {
		f.broker = &countingBroker{Broker: streamstest.NewBroker()}
		f.kv = streamstest.NewKV()
	}

	group, err := streams.NewGroup(f.broker, streams.GroupConfig{
		Stream: testStream, Group: testGroup, Consumer: consumerName,
		BatchSize: 10, ClaimIdle: time.Minute,
	})
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	if err := group.Ensure(context.Background()); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	f.markers, err = idempotency.NewManager(f.kv, testGroup, time.Hour)
	if err != nil {
		t.Fatalf("markers: %v", err)
	}
	registry, err := subscribers.NewRegistry(subscribers.Subscription{EventName: events.SessionConnectedName, Handler: f.handler})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	logg := logger.New(logger.Options{ServiceName: "eventconsumer-test", Output: io.Discard})
	sink, err := deadletter.NewSink(f.broker, nil, deadletter.Config{EventsStream: testDLQ, CommandsStream: "session-commands-dlq"}, logg)
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	f.spans = tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(f.spans))

	f.consumer, err = NewConsumer(ConsumerParams{
		Group:         group,
		Registry:      registry,
		Markers:       f.markers,
		DeadLetters:   sink,
		Logger:        logg,
		Metrics:       metrics.NewConsumerMetrics(prometheus.NewRegistry(), "event-consumer"),
		Tracer:        provider.Tracer("test"),
		Policy:        Policy{MaxAttempts: 3, Backoff: time.Second, BackoffMax: 10 * time.Second},
		ClaimInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	return f
}

func connectedFields(eventID string) []redis.Field {
	return outbox.Envelope{
		OutboxID:    "o-" + eventID,
		EventName:   events.SessionConnectedName,
		EventID:     eventID,
		AggregateID: "s1",
		OccurredOn:  time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC),
		Payload:     []byte(`{"phone":"+15550001"}`),
	}.Fields()
}

func (f *fixture) deliver(t *testing.T, fields []redis.Field) redis.StreamEntry {
	t.Helper()
	if _, err := f.broker.AppendStream(context.Background(), testStream, fields); err != nil {
		t.Fatalf("append: %v", err)
	}
	entries, err := f.consumer.group.Read(context.Background())
	if err != nil || len(entries) != 1 {
		t.Fatalf("read: %v (%d entries)", err, len(entries))
	}
	return entries[0]
}

func (f *fixture) pending() int {
	return len(f.broker.Pending(testStream, testGroup))
}

func TestHandleProcessesEvent(t *testing.T) {
	f := newFixture(t, "c1", nil)
	entry := f.deliver(t, connectedFields("e1"))

	if err := f.consumer.Handle(context.Background(), entry); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.handler.calls != 1 || f.pending() != 0 {
		t.Fatalf("expected one call and ack, got calls=%d pending=%d", f.handler.calls, f.pending())
	}
	processed, _ := f.markers.IsProcessed(context.Background(), "e1")
	if !processed {
		t.Fatalf("expected processed marker")
	}
	spans := f.spans.Ended()
	if len(spans) != 1 || spans[0].Name() != "event.session.connected" {
		t.Fatalf("expected one event span, got %d", len(spans))
	}
}

func TestDuplicateEventHandledOnce(t *testing.T) {
	f := newFixture(t, "c1", nil)
	first := f.deliver(t, connectedFields("e1"))
	second := f.deliver(t, connectedFields("e1"))

	for _, entry := range []redis.StreamEntry{first, second} {
		if err := f.consumer.Handle(context.Background(), entry); err != nil {
			t.Fatalf("handle %s: %v", entry.ID, err)
		}
	}
	if f.handler.calls != 1 {
		t.Fatalf("expected handler invoked once, got %d", f.handler.calls)
	}
	if f.pending() != 0 || f.broker.acks != 2 {
		t.Fatalf("expected both entries acked, acks=%d pending=%d", f.broker.acks, f.pending())
	}
}

func TestFailingEventDeadLetteredAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, "c1", nil)
	f.handler.err = errors.New("projection down")
	entry := f.deliver(t, connectedFields("e1"))
	ctx := context.Background()

	for attempt := 1; attempt <= 3; attempt++ {
		if err := f.consumer.Handle(ctx, entry); err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		if attempt < 3 {
			if f.pending() != 1 {
				t.Fatalf("attempt %d: entry should stay pending", attempt)
			}
			// still in backoff: no handler call, no ack
			if err := f.consumer.Handle(ctx, entry); err != nil {
				t.Fatalf("backoff skip: %v", err)
			}
			if f.handler.calls != attempt {
				t.Fatalf("handler ran during backoff")
			}
			f.kv.Advance(Backoff(int64(attempt), time.Second, 10*time.Second))
		}
	}

	if f.handler.calls != 3 {
		t.Fatalf("expected 3 handler calls, got %d", f.handler.calls)
	}
	if f.broker.acks != 1 || f.pending() != 0 {
		t.Fatalf("expected exactly one ack, got %d", f.broker.acks)
	}
	dlq := f.broker.Entries(testDLQ)
	if len(dlq) != 1 {
		t.Fatalf("expected one dead letter, got %d", len(dlq))
	}
	if dlq[0].Values["attempts"] != "3" || dlq[0].Values["eventId"] != "e1" || dlq[0].Values["error"] == "" {
		t.Fatalf("unexpected dead letter %+v", dlq[0].Values)
	}

	// later redelivery of the same id is a duplicate
	again := f.deliver(t, connectedFields("e1"))
	if err := f.consumer.Handle(ctx, again); err != nil {
		t.Fatalf("handle redelivery: %v", err)
	}
	if f.handler.calls != 3 || len(f.broker.Entries(testDLQ)) != 1 {
		t.Fatalf("dead-lettered event must not run again")
	}
}

func TestRetryScheduleFollowsBackoff(t *testing.T) {
	f := newFixture(t, "c1", nil)
	f.handler.err = errors.New("boom")
	entry := f.deliver(t, connectedFields("e1"))

	if err := f.consumer.Handle(context.Background(), entry); err != nil {
		t.Fatalf("handle: %v", err)
	}
	key := f.kv.MarkerKey("retry", testGroup, "e1")
	if ttl := f.kv.TTL(key); ttl != time.Second {
		t.Fatalf("expected first retry after 1s, got %s", ttl)
	}
	if got := f.kv.Count(f.kv.MarkerKey("attempts", testGroup, "e1")); got != 1 {
		t.Fatalf("expected attempts=1, got %d", got)
	}
}

func TestDeadLetterFailureLeavesEntryPending(t *testing.T) {
	f := newFixture(t, "c1", nil)
	f.consumer.policy.MaxAttempts = 1
	f.handler.err = errors.New("boom")
	entry := f.deliver(t, connectedFields("e1"))
	f.broker.AppendErr = errors.New("broker unavailable")

	if err := f.consumer.Handle(context.Background(), entry); err == nil {
		t.Fatalf("expected dead-letter failure to surface")
	}
	if f.pending() != 1 || f.broker.acks != 0 {
		t.Fatalf("entry must stay pending when the dead letter is lost")
	}
}

func TestMalformedEntriesAcked(t *testing.T) {
	f := newFixture(t, "c1", nil)
	cases := [][]redis.Field{
		{{Key: "eventName", Value: events.SessionConnectedName}, {Key: "aggregateId", Value: "s1"}},
		{{Key: "eventName", Value: "session.exploded"}, {Key: "eventId", Value: "e2"}, {Key: "aggregateId", Value: "s1"}, {Key: "occurredOn", Value: "2025-03-01T09:30:00.000Z"}},
		{{Key: "eventName", Value: events.SessionConnectedName}, {Key: "eventId", Value: "e3"}, {Key: "aggregateId", Value: "s1"}, {Key: "occurredOn", Value: "yesterday"}},
	}
	for i, fields := range cases {
		entry := f.deliver(t, fields)
		if err := f.consumer.Handle(context.Background(), entry); err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
	}
	if f.handler.calls != 0 || f.pending() != 0 || len(f.broker.Entries(testDLQ)) != 0 {
		t.Fatalf("malformed entries must be acked without handlers or dead letters")
	}
}

func TestEventWithoutSubscribersAcked(t *testing.T) {
	f := newFixture(t, "c1", nil)
	fields := outbox.Envelope{
		EventName:   events.SessionDeletedName,
		EventID:     "e9",
		AggregateID: "s1",
		OccurredOn:  time.Now().UTC(),
		Payload:     []byte(`{}`),
	}.Fields()
	entry := f.deliver(t, fields)

	if err := f.consumer.Handle(context.Background(), entry); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.pending() != 0 {
		t.Fatalf("expected unhandled event acked")
	}
}

func TestMarkerStoreFailureLeavesEntryPending(t *testing.T) {
	f := newFixture(t, "c1", nil)
	entry := f.deliver(t, connectedFields("e1"))
	f.kv.Err = errors.New("redis down")

	if err := f.consumer.Handle(context.Background(), entry); err == nil {
		t.Fatalf("expected marker failure")
	}
	if f.pending() != 1 || f.handler.calls != 0 {
		t.Fatalf("entry must stay pending untouched")
	}
}

func TestClaimPassReprocessesStalledEntry(t *testing.T) {
	crashed := newFixture(t, "c1", nil)
	crashed.handler.err = errors.New("boom")
	entry := crashed.deliver(t, connectedFields("e1"))
	if err := crashed.consumer.Handle(context.Background(), entry); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	crashed.handler.err = nil

	survivor := newFixture(t, "c2", crashed)
	crashed.broker.Advance(2 * time.Minute)
	crashed.kv.Advance(2 * time.Minute)

	if err := survivor.consumer.runner.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if crashed.handler.calls != 2 {
		t.Fatalf("expected the reclaimed entry processed once more, got %d calls", crashed.handler.calls)
	}
	if survivor.pending() != 0 {
		t.Fatalf("expected reclaimed entry acked")
	}
}

func TestNewConsumerValidatesPolicy(t *testing.T) {
	f := newFixture(t, "c1", nil)
	params := ConsumerParams{
		Group:       f.consumer.group,
		Registry:    f.consumer.registry,
		Markers:     f.markers,
		DeadLetters: f.consumer.dlq,
		Logger:      f.consumer.logg,
		Policy:      Policy{MaxAttempts: 0, Backoff: time.Second, BackoffMax: time.Second},
	}
	if _, err := NewConsumer(params); err == nil {
		t.Fatalf("expected max attempts validation")
	}
	params.Policy = Policy{MaxAttempts: 3, Backoff: time.Minute, BackoffMax: time.Second}
	if _, err := NewConsumer(params); err == nil {
		t.Fatalf("expected backoff validation")
	}
}

func TestNewConsumerRequiresClaimPass(t *testing.T) {
	f := newFixture(t, "c1", nil)
	params := ConsumerParams{
		Group:       f.consumer.group,
		Registry:    f.consumer.registry,
		Markers:     f.markers,
		DeadLetters: f.consumer.dlq,
		Logger:      f.consumer.logg,
		Policy:      Policy{MaxAttempts: 3, Backoff: time.Second, BackoffMax: 10 * time.Second},
	}
	if _, err := NewConsumer(params); err == nil || !strings.Contains(err.Error(), "claim interval") {
		t.Fatalf("expected claim interval validation, got %v", err)
	}

	noIdle, err := streams.NewGroup(f.broker, streams.GroupConfig{
		Stream: testStream, Group: testGroup, Consumer: "c2", BatchSize: 10,
	})
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	params.Group = noIdle
	params.ClaimInterval = time.Second
	if _, err := NewConsumer(params); err == nil || !strings.Contains(err.Error(), "claim idle") {
		t.Fatalf("expected claim idle validation, got %v", err)
	}

	params.Group = f.consumer.group
	if _, err := NewConsumer(params); err != nil {
		t.Fatalf("expected valid consumer, got %v", err)
	}
}
