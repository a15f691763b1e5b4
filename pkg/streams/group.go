package streams

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/wasessions-backend/pkg/redis"
)

// claimStart is the cursor that begins a reclaim scan from the head of the
// pending entries list.
const claimStart = "0-0"

// Broker is the subset of the stream client a consumer group needs.
type Broker interface {
	EnsureGroup(ctx context.Context, stream, group string) error
	ReadGroup(ctx context.Context, args redis.ReadGroupArgs) ([]redis.StreamEntry, error)
	AutoClaim(ctx context.Context, args redis.AutoClaimArgs) ([]redis.StreamEntry, string, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
}

type GroupConfig struct {
	Stream    string
	Group     string
	Consumer  string
	BatchSize int
	Block     time.Duration
	ClaimIdle time.Duration
}

// Group binds a broker to one stream, consumer group and consumer name.
type Group struct {
	broker Broker
	cfg    GroupConfig

	mu     sync.Mutex
	cursor string
}

func NewGroup(broker Broker, cfg GroupConfig) (*Group, error) {
	if broker == nil {
		return nil, errors.New("stream broker required")
	}
	var missing []string
	if strings.TrimSpace(cfg.Stream) == "" {
		missing = append(missing, "stream")
	}
	if strings.TrimSpace(cfg.Group) == "" {
		missing = append(missing, "group")
	}
	if strings.TrimSpace(cfg.Consumer) == "" {
		missing = append(missing, "consumer")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("consumer group config missing %s", strings.Join(missing, ", "))
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.New("batch size must be positive")
	}
	return &Group{broker: broker, cfg: cfg, cursor: claimStart}, nil
}

func (g *Group) Stream() string   { return g.cfg.Stream }
func (g *Group) Name() string     { return g.cfg.Group }
func (g *Group) Consumer() string { return g.cfg.Consumer }

// ClaimIdle is how long an entry must sit unacked before Claim takes it over.
func (g *Group) ClaimIdle() time.Duration { return g.cfg.ClaimIdle }

// Ensure creates the group at the stream tail. An existing group is left as is.
func (g *Group) Ensure(ctx context.Context) error {
	return g.broker.EnsureGroup(ctx, g.cfg.Stream, g.cfg.Group)
}

// Read blocks up to the configured timeout for entries never delivered to the group.
func (g *Group) Read(ctx context.Context) ([]redis.StreamEntry, error) {
	return g.broker.ReadGroup(ctx, redis.ReadGroupArgs{
		Stream:   g.cfg.Stream,
		Group:    g.cfg.Group,
		Consumer: g.cfg.Consumer,
		Count:    int64(g.cfg.BatchSize),
		Block:    g.cfg.Block,
	})
}

// Claim takes ownership of entries idle longer than ClaimIdle, resuming from the
// cursor saved by the previous call.
func (g *Group) Claim(ctx context.Context) ([]redis.StreamEntry, error) {
	g.mu.Lock()
	start := g.cursor
	g.mu.Unlock()

	entries, next, err := g.broker.AutoClaim(ctx, redis.AutoClaimArgs{
		Stream:   g.cfg.Stream,
		Group:    g.cfg.Group,
		Consumer: g.cfg.Consumer,
		MinIdle:  g.cfg.ClaimIdle,
		Start:    start,
		Count:    int64(g.cfg.BatchSize),
	})
	if err != nil {
		return nil, err
	}

	if next == "" {
		next = claimStart
	}
	g.mu.Lock()
	g.cursor = next
	g.mu.Unlock()
	return entries, nil
}

func (g *Group) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return g.broker.Ack(ctx, g.cfg.Stream, g.cfg.Group, ids...)
}

// Cursor returns the saved reclaim cursor.
func (g *Group) Cursor() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cursor
}
