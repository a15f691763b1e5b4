package streams

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/angelmondragon/wasessions-backend/pkg/logger"
	"github.com/angelmondragon/wasessions-backend/pkg/redis"
)

const (
	defaultErrorBackoff = 500 * time.Millisecond
	maxErrorBackoff     = 10 * time.Second
	jitterWindow        = 250 * time.Millisecond
)

// HandlerFunc processes one entry. Acknowledgement is the handler's decision;
// a returned error is logged and the entry stays pending.
type HandlerFunc func(ctx context.Context, entry redis.StreamEntry) error

type RunnerOptions struct {
	// ClaimInterval throttles the reclaim pass. Zero disables reclaiming.
	ClaimInterval time.Duration
	ErrorBackoff  time.Duration
	// Name labels log lines, e.g. "event-consumer".
	Name string
}

// Runner drives a consumer group: an optional throttled claim pass followed by
// a blocking read pass, forever, handling entries one at a time.
type Runner struct {
	group  *Group
	handle HandlerFunc
	logg   *logger.Logger
	opts   RunnerOptions

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	lastClaim time.Time
	now       func() time.Time
}

func NewRunner(group *Group, handle HandlerFunc, logg *logger.Logger, opts RunnerOptions) (*Runner, error) {
	if group == nil {
		return nil, errors.New("consumer group required")
	}
	if handle == nil {
		return nil, errors.New("entry handler required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = defaultErrorBackoff
	}
	if opts.Name == "" {
		opts.Name = group.Name()
	}
	return &Runner{group: group, handle: handle, logg: logg, opts: opts, now: time.Now}, nil
}

// Run creates the group and loops until ctx is canceled or Stop is called. It
// returns ctx.Err() from the caller's context, or nil after Stop.
func (r *Runner) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		cancel()
		return errors.New("runner already started")
	}
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	defer func() {
		cancel()
		close(done)
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
	}()

	logCtx := r.logg.WithFields(runCtx, map[string]any{
		"runner":   r.opts.Name,
		"stream":   r.group.Stream(),
		"group":    r.group.Name(),
		"consumer": r.group.Consumer(),
	})

	if err := r.group.Ensure(runCtx); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}
	r.logg.Info(logCtx, "stream consumer started")

	backoff := r.opts.ErrorBackoff
	for {
		if runCtx.Err() != nil {
			r.logg.Info(logCtx, "stream consumer stopped")
			return ctx.Err()
		}

		if err := r.Poll(logCtx); err != nil {
			if runCtx.Err() != nil {
				continue
			}
			r.logg.Error(logCtx, "stream consumer poll failed", err)
			if err := sleep(runCtx, withJitter(backoff)); err != nil {
				continue
			}
			backoff = nextBackoff(backoff, r.opts.ErrorBackoff, maxErrorBackoff)
			continue
		}
		backoff = r.opts.ErrorBackoff
	}
}

// Poll runs one iteration: the claim pass when due, then one blocking read.
func (r *Runner) Poll(ctx context.Context) error {
	if r.claimDue() {
		entries, err := r.group.Claim(ctx)
		if err != nil {
			return fmt.Errorf("claim pass: %w", err)
		}
		if len(entries) > 0 {
			r.logg.Info(r.logg.WithField(ctx, "claimed", len(entries)), "reclaimed idle entries")
		}
		r.dispatch(ctx, entries)
	}

	entries, err := r.group.Read(ctx)
	if err != nil {
		return fmt.Errorf("read pass: %w", err)
	}
	r.dispatch(ctx, entries)
	return nil
}

func (r *Runner) dispatch(ctx context.Context, entries []redis.StreamEntry) {
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if err := r.handle(ctx, entry); err != nil {
			r.logg.Error(r.logg.WithField(ctx, "entry_id", entry.ID), "stream entry left pending", err)
		}
	}
}

func (r *Runner) claimDue() bool {
	if r.opts.ClaimInterval <= 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if !r.lastClaim.IsZero() && now.Sub(r.lastClaim) < r.opts.ClaimInterval {
		return false
	}
	r.lastClaim = now
	return true
}

// Stop cancels a running loop and waits for it to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}
