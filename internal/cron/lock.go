package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/creditwallet-backend/pkg/instance"
)

const defaultLockTTL = 30 * time.Minute

// ErrLeaseLost means the lease expired before Release and another worker may
// have taken it. The cycle outlived the lock TTL.
var ErrLeaseLost = errors.New("cron lease lost before release")

// Locker hands out the cluster-wide lease a cron cycle runs under.
type Locker interface {
	// TryLock does not block. ok is false when another worker holds the lease.
	TryLock(ctx context.Context) (lease Lease, ok bool, err error)
}

type Lease interface {
	Release(ctx context.Context) error
}

type leaseStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
}

// RedisLocker keeps the lease in a single Redis key. The stored token is the
// worker instance id plus a random suffix, so a stuck lease can be traced to
// its holder and only that holder can release it.
type RedisLocker struct {
	store leaseStore
	key   string
	ttl   time.Duration
}

func NewRedisLocker(store leaseStore, key string, ttl time.Duration) (*RedisLocker, error) {
	switch {
	case store == nil:
		return nil, errors.New("redis client required for lock")
	case key == "":
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{store: store, key: key, ttl: ttl}, nil
}

func (l *RedisLocker) TryLock(ctx context.Context) (Lease, bool, error) {
	token := instance.GetID() + ":" + uuid.NewString()
	ok, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{store: l.store, key: l.key, token: token}, true, nil
}

type redisLease struct {
	store leaseStore
	key   string
	token string
}

func (l *redisLease) Release(ctx context.Context) error {
	removed, err := l.store.CompareAndDelete(ctx, l.key, l.token)
	if err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	if !removed {
		return ErrLeaseLost
	}
	return nil
}
