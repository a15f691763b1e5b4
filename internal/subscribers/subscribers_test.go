package subscribers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/wasessions-backend/internal/commands"
	"github.com/angelmondragon/wasessions-backend/pkg/db/models"
	"github.com/angelmondragon/wasessions-backend/pkg/events"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.SessionView{}, &models.Message{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return conn
}

func meta(session string, at time.Time) events.Metadata {
	return events.Metadata{ID: uuid.NewString(), Aggregate: session, Occurred: at}
}

type namedHandler struct{ name string }

func (h namedHandler) Name() string                                     { return h.name }
func (h namedHandler) Handle(ctx context.Context, e events.Event) error { return nil }

func TestRegistryLooksUpInOrder(t *testing.T) {
	first, second := namedHandler{"first"}, namedHandler{"second"}
	reg, err := NewRegistry(
		Subscription{EventName: events.SessionConnectedName, Handler: first},
		Subscription{EventName: events.SessionConnectedName, Handler: second},
		Subscription{EventName: events.MessageSentName, Handler: first},
	)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	got := reg.HandlersFor(events.SessionConnectedName)
	if len(got) != 2 || got[0].Name() != "first" || got[1].Name() != "second" {
		t.Fatalf("unexpected handlers %+v", got)
	}
	if len(reg.HandlersFor(events.SessionDeletedName)) != 0 {
		t.Fatalf("expected no handlers for unsubscribed event")
	}
	names := reg.EventNames()
	if len(names) != 2 || names[0] != events.MessageSentName {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestRegistryRejectsUnknownEvent(t *testing.T) {
	_, err := NewRegistry(Subscription{EventName: "session.exploded", Handler: namedHandler{"x"}})
	if !errors.Is(err, events.ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
	if _, err := NewRegistry(Subscription{EventName: events.SessionCreatedName}); err == nil {
		t.Fatalf("expected error for nil handler")
	}
	if _, err := NewRegistry(); err == nil {
		t.Fatalf("expected error for empty registry")
	}
}

func TestSessionStatusProjectionFollowsLifecycle(t *testing.T) {
	conn := newTestDB(t)
	p := NewSessionStatusProjection(conn)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	steps := []events.Event{
		events.SessionCreated{Metadata: meta("s1", base), TenantID: "t1", Name: "support"},
		events.SessionQRUpdated{Metadata: meta("s1", base.Add(time.Second)), QR: "qr-data"},
		events.SessionConnected{Metadata: meta("s1", base.Add(2*time.Second)), Phone: "+15550001"},
	}
	for _, evt := range steps {
		if err := p.Handle(ctx, evt); err != nil {
			t.Fatalf("handle %s: %v", evt.EventName(), err)
		}
	}

	var view models.SessionView
	if err := conn.Take(&view, "session_id = ?", "s1").Error; err != nil {
		t.Fatalf("load view: %v", err)
	}
	if view.Status != "connected" || view.TenantID != "t1" || view.Name != "support" {
		t.Fatalf("unexpected view %+v", view)
	}
	if view.Phone == nil || *view.Phone != "+15550001" || view.QRCode != nil || view.ConnectedAt == nil {
		t.Fatalf("expected phone set and qr cleared, got %+v", view)
	}
	if view.LastEventID != steps[2].EventID() {
		t.Fatalf("expected last event id tracked")
	}
}

func TestSessionStatusProjectionIgnoresStaleEvents(t *testing.T) {
	conn := newTestDB(t)
	p := NewSessionStatusProjection(conn)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := p.Handle(ctx, events.SessionConnected{Metadata: meta("s1", base.Add(time.Minute))}); err != nil {
		t.Fatalf("handle connected: %v", err)
	}
	if err := p.Handle(ctx, events.SessionDisconnected{Metadata: meta("s1", base), Reason: "late"}); err != nil {
		t.Fatalf("handle stale: %v", err)
	}

	var view models.SessionView
	if err := conn.Take(&view, "session_id = ?", "s1").Error; err != nil {
		t.Fatalf("load view: %v", err)
	}
	if view.Status != "connected" {
		t.Fatalf("stale event rolled view back to %s", view.Status)
	}
}

func TestMessageProjectionStoresOnce(t *testing.T) {
	conn := newTestDB(t)
	p := NewMessageProjection(conn)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	received := events.MessageReceived{Metadata: meta("s1", at), MessageID: "wamid.1", From: "15550002@c.us", Content: "hi", MediaURL: "https://cdn.example.com/a.jpg"}
	for i := 0; i < 2; i++ {
		if err := p.Handle(ctx, received); err != nil {
			t.Fatalf("handle received: %v", err)
		}
	}
	sent := events.MessageSent{Metadata: meta("s1", at.Add(time.Second)), MessageID: "wamid.2", To: "15550002@c.us", Content: "hello"}
	if err := p.Handle(ctx, sent); err != nil {
		t.Fatalf("handle sent: %v", err)
	}

	var rows []models.Message
	if err := conn.Order("occurred_on ASC").Find(&rows).Error; err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(rows))
	}
	if rows[0].Direction != "inbound" || rows[0].Peer != "15550002@c.us" || rows[0].MediaURL == nil {
		t.Fatalf("unexpected inbound row %+v", rows[0])
	}
	if rows[1].Direction != "outbound" || rows[1].Content != "hello" {
		t.Fatalf("unexpected outbound row %+v", rows[1])
	}
}

type recordingEnqueuer struct {
	cmds []commands.Command
	err  error
}

func (r *recordingEnqueuer) Enqueue(ctx context.Context, cmd commands.Command) (commands.Enqueued, error) {
	if r.err != nil {
		return commands.Enqueued{}, r.err
	}
	r.cmds = append(r.cmds, cmd)
	return commands.Enqueued{CommandID: "c1", EntryID: "1-0"}, nil
}

func TestAutoStartEnqueuesStart(t *testing.T) {
	enq := &recordingEnqueuer{}
	a := NewAutoStart(enq)
	evt := events.SessionCreated{Metadata: meta("s1", time.Now().UTC()), TenantID: "t1"}
	if err := a.Handle(context.Background(), evt); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(enq.cmds) != 1 {
		t.Fatalf("expected one command, got %d", len(enq.cmds))
	}
	start, ok := enq.cmds[0].(commands.Start)
	if !ok || start.SessionID != "s1" {
		t.Fatalf("unexpected command %+v", enq.cmds[0])
	}

	enq.err = errors.New("broker down")
	if err := a.Handle(context.Background(), evt); err == nil {
		t.Fatalf("expected enqueue failure to surface for retry")
	}
}

func TestDefaultsBuildValidRegistry(t *testing.T) {
	reg, err := NewRegistry(Defaults(newTestDB(t), &recordingEnqueuer{})...)
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if got := len(reg.HandlersFor(events.SessionCreatedName)); got != 2 {
		t.Fatalf("expected projection and autostart on session.created, got %d", got)
	}
	if got := len(reg.EventNames()); got != len(events.Names()) {
		t.Fatalf("expected every event subscribed, got %d", got)
	}
}
