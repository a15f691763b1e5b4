// Package streamstest provides an in-memory consumer-group broker for tests.
package streamstest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/wasessions-backend/pkg/redis"
)

// Broker mimics Redis Streams consumer groups: per-group delivery cursor,
// pending entries list with owner and idle time, and cursor-based reclaim.
type Broker struct {
	mu      sync.Mutex
	now     time.Time
	seq     int64
	streams map[string][]redis.StreamEntry
	groups  map[string]*group

	// AppendErr, when set, fails every AppendStream call.
	AppendErr error
	// ReadErr, when set, fails every ReadGroup call.
	ReadErr error
}

type group struct {
	lastDelivered int
	pending       map[string]*pendingEntry
}

type pendingEntry struct {
	entry       redis.StreamEntry
	consumer    string
	deliveredAt time.Time
	deliveries  int
}

func NewBroker() *Broker {
	return &Broker{
		now:     time.Unix(1_700_000_000, 0),
		streams: map[string][]redis.StreamEntry{},
		groups:  map[string]*group{},
	}
}

// Advance moves the broker clock used for idle times.
func (b *Broker) Advance(d time.Duration) {
	b.mu.Lock()
	b.now = b.now.Add(d)
	b.mu.Unlock()
}

func (b *Broker) AppendStream(ctx context.Context, stream string, fields []redis.Field) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.AppendErr != nil {
		return "", b.AppendErr
	}
	b.seq++
	id := fmt.Sprintf("%d-0", b.seq)
	values := make(map[string]string, len(fields))
	for _, f := range fields {
		values[f.Key] = f.Value
	}
	b.streams[stream] = append(b.streams[stream], redis.StreamEntry{ID: id, Values: values})
	return id, nil
}

func (b *Broker) EnsureGroup(ctx context.Context, stream, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := groupKey(stream, name)
	if _, ok := b.groups[key]; ok {
		return nil
	}
	if _, ok := b.streams[stream]; !ok {
		b.streams[stream] = nil
	}
	b.groups[key] = &group{lastDelivered: len(b.streams[stream]), pending: map[string]*pendingEntry{}}
	return nil
}

func (b *Broker) ReadGroup(ctx context.Context, args redis.ReadGroupArgs) ([]redis.StreamEntry, error) {
	entries, err := b.read(args)
	if err != nil || len(entries) > 0 || args.Block <= 0 {
		return entries, err
	}
	wait := args.Block
	if wait > 5*time.Millisecond {
		wait = 5 * time.Millisecond
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(wait):
	}
	return b.read(args)
}

func (b *Broker) read(args redis.ReadGroupArgs) ([]redis.StreamEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ReadErr != nil {
		return nil, b.ReadErr
	}
	g, ok := b.groups[groupKey(args.Stream, args.Group)]
	if !ok {
		return nil, fmt.Errorf("NOGROUP no such key '%s' or consumer group '%s'", args.Stream, args.Group)
	}
	all := b.streams[args.Stream]
	var out []redis.StreamEntry
	for g.lastDelivered < len(all) && (args.Count <= 0 || int64(len(out)) < args.Count) {
		entry := all[g.lastDelivered]
		g.lastDelivered++
		g.pending[entry.ID] = &pendingEntry{entry: entry, consumer: args.Consumer, deliveredAt: b.now, deliveries: 1}
		out = append(out, entry)
	}
	return out, nil
}

func (b *Broker) AutoClaim(ctx context.Context, args redis.AutoClaimArgs) ([]redis.StreamEntry, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.groups[groupKey(args.Stream, args.Group)]
	if !ok {
		return nil, "", fmt.Errorf("NOGROUP no such key '%s' or consumer group '%s'", args.Stream, args.Group)
	}
	start := seqOf(args.Start)
	ids := make([]string, 0, len(g.pending))
	for id := range g.pending {
		if seqOf(id) >= start {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return seqOf(ids[i]) < seqOf(ids[j]) })

	count := int(args.Count)
	if count <= 0 {
		count = 100
	}
	var out []redis.StreamEntry
	next := "0-0"
	for i, id := range ids {
		if len(out) == count {
			next = ids[i]
			break
		}
		p := g.pending[id]
		if b.now.Sub(p.deliveredAt) < args.MinIdle {
			continue
		}
		p.consumer = args.Consumer
		p.deliveredAt = b.now
		p.deliveries++
		out = append(out, p.entry)
	}
	return out, next, nil
}

func (b *Broker) Ack(ctx context.Context, stream, name string, ids ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.groups[groupKey(stream, name)]
	if !ok {
		return nil
	}
	for _, id := range ids {
		delete(g.pending, id)
	}
	return nil
}

// Entries returns a copy of everything appended to stream.
func (b *Broker) Entries(stream string) []redis.StreamEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]redis.StreamEntry(nil), b.streams[stream]...)
}

// Pending returns the ids still unacknowledged in the group.
func (b *Broker) Pending(stream, name string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.groups[groupKey(stream, name)]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return seqOf(ids[i]) < seqOf(ids[j]) })
	return ids
}

// Owner reports which consumer currently owns a pending entry.
func (b *Broker) Owner(stream, name, id string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if g, ok := b.groups[groupKey(stream, name)]; ok {
		if p, ok := g.pending[id]; ok {
			return p.consumer
		}
	}
	return ""
}

func groupKey(stream, name string) string {
	return stream + "\x00" + name
}

func seqOf(id string) int64 {
	head, _, _ := strings.Cut(id, "-")
	n, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
