// Package lock не даёт двум проходам синхронизации одного вида работать одновременно.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

var (
	ErrNotObtained = errors.New("lock: not obtained")
	// ErrLost: блокировка истекла или перехвачена, продлить её нельзя.
	ErrLost = errors.New("lock: lost")
)

// Lease: взятая блокировка. Держатель продлевает её чаще, чем истекает ttl.
type Lease interface {
	Refresh(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Redis: распределённая блокировка для нескольких экземпляров сервиса.
type Redis struct{ c *redislock.Client }

func NewRedis(client *redis.Client) *Redis { return &Redis{c: redislock.New(client)} }

func (r *Redis) Obtain(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	l, err := r.c.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrNotObtained
	}
	if err != nil {
		return nil, err
	}
	return redisLease{l: l}, nil
}

type redisLease struct{ l *redislock.Lock }

func (r redisLease) Refresh(ctx context.Context, ttl time.Duration) error {
	err := r.l.Refresh(ctx, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return ErrLost
	}
	return err
}

func (r redisLease) Release(ctx context.Context) error {
	if err := r.l.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		return err
	}
	return nil
}

// Local: блокировка в пределах процесса, когда Redis не настроен. ttl не используется.
type Local struct {
	mu   sync.Mutex
	seq  uint64
	held map[string]uint64
}

func NewLocal() *Local { return &Local{held: map[string]uint64{}} }

func (l *Local) Obtain(_ context.Context, key string, _ time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, ErrNotObtained
	}
	l.seq++
	l.held[key] = l.seq
	return &localLease{l: l, key: key, token: l.seq}, nil
}

type localLease struct {
	l     *Local
	key   string
	token uint64
}

func (ll *localLease) Refresh(context.Context, time.Duration) error {
	ll.l.mu.Lock()
	defer ll.l.mu.Unlock()
	if ll.l.held[ll.key] != ll.token {
		return ErrLost
	}
	return nil
}

// Release повторно ничего не делает и чужую блокировку того же ключа не снимает.
func (ll *localLease) Release(context.Context) error {
	ll.l.mu.Lock()
	defer ll.l.mu.Unlock()
	if ll.l.held[ll.key] == ll.token {
		delete(ll.l.held, ll.key)
	}
	return nil
}
