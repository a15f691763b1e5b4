package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	kindProcessed = "processed"
	kindAttempts  = "attempts"
	kindRetry     = "retry"
)

// Store is the key/value surface the markers need.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Del(ctx context.Context, keys ...string) error
	MarkerKey(kind, scope, id string) string
}

// Manager keeps the per-event processed/attempts/retry markers for one
// consumer group. Keys follow `was:marker:<kind>:<group>:<event_id>`.
//
// The markers are read then written without a transaction. Two replicas
// racing on the same event after a claim may both run the handlers.
type Manager struct {
	store Store
	scope string
	ttl   time.Duration
}

// NewManager builds markers scoped to a consumer group. ttl bounds both the
// processed and the attempts markers.
func NewManager(store Store, scope string, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("marker store is required")
	}
	if strings.TrimSpace(scope) == "" {
		return nil, errors.New("marker scope is required")
	}
	if ttl <= 0 {
		return nil, errors.New("processed ttl must be positive")
	}
	return &Manager{store: store, scope: strings.TrimSpace(scope), ttl: ttl}, nil
}

// IsProcessed reports whether eventID completed within the dedup window.
func (m *Manager) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	key, err := m.key(kindProcessed, eventID)
	if err != nil {
		return false, err
	}
	return m.store.Exists(ctx, key)
}

// InBackoff reports whether a retry delay for eventID is still running.
func (m *Manager) InBackoff(ctx context.Context, eventID string) (bool, error) {
	key, err := m.key(kindRetry, eventID)
	if err != nil {
		return false, err
	}
	return m.store.Exists(ctx, key)
}

// MarkProcessed records completion and clears the attempts and retry markers.
func (m *Manager) MarkProcessed(ctx context.Context, eventID string) error {
	key, err := m.key(kindProcessed, eventID)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, key, "1", m.ttl); err != nil {
		return err
	}
	attempts, _ := m.key(kindAttempts, eventID)
	retry, _ := m.key(kindRetry, eventID)
	return m.store.Del(ctx, attempts, retry)
}

// IncrementAttempts bumps and returns the failure counter for eventID.
func (m *Manager) IncrementAttempts(ctx context.Context, eventID string) (int64, error) {
	key, err := m.key(kindAttempts, eventID)
	if err != nil {
		return 0, err
	}
	return m.store.IncrWithTTL(ctx, key, m.ttl)
}

// ScheduleRetry blocks reprocessing of eventID until delay elapses.
func (m *Manager) ScheduleRetry(ctx context.Context, eventID string, delay time.Duration) error {
	key, err := m.key(kindRetry, eventID)
	if err != nil {
		return err
	}
	// a zero TTL would never expire
	if delay < time.Millisecond {
		delay = time.Millisecond
	}
	return m.store.Set(ctx, key, "1", delay)
}

func (m *Manager) key(kind, eventID string) (string, error) {
	if strings.TrimSpace(eventID) == "" {
		return "", errors.New("event id is required")
	}
	return m.store.MarkerKey(kind, m.scope, eventID), nil
}
