// Package lock serialises administrative operations that must not run
// twice at once, such as resequencing a numbering line.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/andy/tallybook/internal/domain"
)

// DefaultTTL is how long a distributed lock survives a crashed holder
const DefaultTTL = 5 * time.Minute

// Release gives a held lock back
type Release func(ctx context.Context) error

// Locker hands out named, non-blocking exclusive locks. Acquire fails with
// domain.ErrResequenceBusy when the key is held elsewhere.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// Local is an in-process Locker
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

func (l *Local) Acquire(_ context.Context, key string) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, fmt.Errorf("%w: %s", domain.ErrResequenceBusy, key)
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}, nil
}

// Redis is a Locker shared by every process pointing at the same Redis
type Redis struct {
	client    *redislock.Client
	namespace string
	ttl       time.Duration
}

// NewRedis wraps an existing go-redis client. Keys are prefixed with
// namespace so several books can share one Redis.
func NewRedis(rdb redis.UniversalClient, namespace string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{
		client:    redislock.New(rdb),
		namespace: namespace,
		ttl:       ttl,
	}
}

// Connect dials addr and verifies the connection before returning a Locker
func Connect(ctx context.Context, addr, password string, db int, namespace string, ttl time.Duration) (*Redis, *redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewRedis(rdb, namespace, ttl), rdb, nil
}

func (r *Redis) Acquire(ctx context.Context, key string) (Release, error) {
	fullKey := key
	if r.namespace != "" {
		fullKey = r.namespace + ":" + key
	}

	l, err := r.client.Obtain(ctx, fullKey, r.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", domain.ErrResequenceBusy, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain lock %s: %w", fullKey, err)
	}

	return func(ctx context.Context) error {
		if err := l.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return fmt.Errorf("failed to release lock %s: %w", fullKey, err)
		}
		return nil
	}, nil
}

// ResequenceKey names the lock guarding a numbering line's resequence
func ResequenceKey(line domain.Line) string {
	return "resequence:" + string(line)
}
