package cron

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultLockTTL = 55 * time.Minute

// Lock gives one replica exclusive use of a maintenance cycle.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type leaseStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DeleteIfEquals(ctx context.Context, key, expected string) (bool, error)
}

// LockKey scopes the maintenance lock to a deployment environment.
func LockKey(env string) string {
	if env = strings.TrimSpace(env); env == "" {
		env = "default"
	}
	return "was:cron-worker:lock:" + env
}

// RedisLock is a SETNX lease that expires on its own if the holder dies. The
// value is an owner token so a replica can only release its own lease.
type RedisLock struct {
	store  leaseStore
	key    string
	ttl    time.Duration
	holder string
	token  string
}

func NewRedisLock(store leaseStore, key string, ttl time.Duration, holder string) (*RedisLock, error) {
	switch {
	case store == nil:
		return nil, errors.New("lease store required")
	case strings.TrimSpace(key) == "":
		return nil, errors.New("lock key required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{store: store, key: key, ttl: ttl, holder: strings.TrimSpace(holder)}, nil
}

func (l *RedisLock) newToken() string {
	if l.holder == "" {
		return uuid.NewString()
	}
	return l.holder + "/" + uuid.NewString()
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	token := l.newToken()
	acquired, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if acquired {
		l.token = token
	}
	return acquired, nil
}

// Release drops the lease if this replica still owns it. A lease that expired
// and was taken by another replica is left alone.
func (l *RedisLock) Release(ctx context.Context) error {
	token := l.token
	if token == "" {
		return nil
	}
	l.token = ""
	if _, err := l.store.DeleteIfEquals(ctx, l.key, token); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}
