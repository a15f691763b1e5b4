package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamEntry is a single stream entry with its fields flattened to strings.
type StreamEntry struct {
	ID     string
	Values map[string]string
}

// Field is one ordered stream field. XADD keeps the order given here.
type Field struct {
	Key   string
	Value string
}

// ReadGroupArgs configures a consumer-group read of new entries.
type ReadGroupArgs struct {
	Stream   string
	Group    string
	Consumer string
	Count    int64
	Block    time.Duration
}

// AutoClaimArgs configures a reclaim of idle pending entries.
type AutoClaimArgs struct {
	Stream   string
	Group    string
	Consumer string
	MinIdle  time.Duration
	Start    string
	Count    int64
}

// AppendStream appends fields to stream and returns the broker-assigned id.
func (c *Client) AppendStream(ctx context.Context, stream string, fields []Field) (string, error) {
	store, err := c.conn()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(stream) == "" {
		return "", errors.New("stream name required")
	}
	if len(fields) == 0 {
		return "", errors.New("stream entry requires at least one field")
	}
	values := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		values = append(values, f.Key, f.Value)
	}
	id, err := store.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// EnsureGroup creates group at the tail of stream, creating the stream when
// missing. An existing group is not an error.
func (c *Client) EnsureGroup(ctx context.Context, stream, group string) error {
	store, err := c.conn()
	if err != nil {
		return err
	}
	err = store.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !IsBusyGroup(err) {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}
	return nil
}

// ReadGroup reads up to Count never-delivered entries for the consumer,
// blocking up to Block. A timeout yields no entries and no error.
func (c *Client) ReadGroup(ctx context.Context, args ReadGroupArgs) ([]StreamEntry, error) {
	store, err := c.conn()
	if err != nil {
		return nil, err
	}
	block := args.Block
	if block <= 0 {
		block = -1
	}
	streams, err := store.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    args.Group,
		Consumer: args.Consumer,
		Streams:  []string{args.Stream, ">"},
		Count:    args.Count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s/%s: %w", args.Stream, args.Group, err)
	}
	var entries []StreamEntry
	for _, s := range streams {
		for _, msg := range s.Messages {
			entries = append(entries, toEntry(msg))
		}
	}
	return entries, nil
}

// AutoClaim transfers entries idle longer than MinIdle to the consumer and
// returns them with the cursor to resume from ("0-0" once the scan wrapped).
func (c *Client) AutoClaim(ctx context.Context, args AutoClaimArgs) ([]StreamEntry, string, error) {
	store, err := c.conn()
	if err != nil {
		return nil, "", err
	}
	start := args.Start
	if start == "" {
		start = "0-0"
	}
	msgs, next, err := store.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   args.Stream,
		Group:    args.Group,
		Consumer: args.Consumer,
		MinIdle:  args.MinIdle,
		Start:    start,
		Count:    args.Count,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, start, nil
	}
	if err != nil {
		return nil, start, fmt.Errorf("xautoclaim %s/%s: %w", args.Stream, args.Group, err)
	}
	entries := make([]StreamEntry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, toEntry(msg))
	}
	if next == "" {
		next = "0-0"
	}
	return entries, next, nil
}

// Ack acknowledges ids within group.
func (c *Client) Ack(ctx context.Context, stream, group string, ids ...string) error {
	store, err := c.conn()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := store.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("xack %s/%s: %w", stream, group, err)
	}
	return nil
}

// TrimStreamBefore drops entries whose ids were assigned before cutoff. Trimming
// is approximate so redis may keep a few older entries until a full node frees.
func (c *Client) TrimStreamBefore(ctx context.Context, stream string, cutoff time.Time) (int64, error) {
	store, err := c.conn()
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(stream) == "" {
		return 0, errors.New("stream name required")
	}
	minID := fmt.Sprintf("%d-0", cutoff.UnixMilli())
	n, err := store.XTrimMinIDApprox(ctx, stream, minID, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("xtrim %s: %w", stream, err)
	}
	return n, nil
}

// IsBusyGroup reports the "consumer group already exists" reply.
func IsBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func toEntry(msg redis.XMessage) StreamEntry {
	values := make(map[string]string, len(msg.Values))
	for k, v := range msg.Values {
		switch val := v.(type) {
		case string:
			values[k] = val
		case nil:
		default:
			values[k] = fmt.Sprint(val)
		}
	}
	return StreamEntry{ID: msg.ID, Values: values}
}
