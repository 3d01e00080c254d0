package curation

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/curator/pkg/common/logger"
)

// Locker serializes writers of one canonical key, possibly across
// processes. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// LocalLocker serializes writers inside one process.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.sem <- struct{}{}:
		return func() {
			<-kl.sem
			l.release(key, kl)
		}, nil
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker holds a SET NX lease per key. The holder extends the lease
// every renew until it releases it; a crashed holder's lease expires after
// ttl.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	renew  time.Duration
	wait   time.Duration
	retry  time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{
		client: client,
		prefix: "curator:lock:",
		ttl:    ttl,
		renew:  ttl / 3,
		wait:   2 * time.Second,
		retry:  25 * time.Millisecond,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	name := l.prefix + key
	token := uuid.New().String()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			stop := make(chan struct{})
			go l.keepAlive(name, token, stop)

			var once sync.Once
			return func() {
				once.Do(func() {
					close(stop)
					_ = releaseScript.Run(context.Background(), l.client, []string{name}, token).Err()
				})
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLocked
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

// keepAlive extends the lease on name while token still owns it.
func (l *RedisLocker) keepAlive(name, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.renew)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), l.renew)
		held, err := extendScript.Run(ctx, l.client, []string{name}, token, l.ttl.Milliseconds()).Int()
		cancel()
		if err != nil {
			logger.Log.WithError(err).WithField("lock", name).Warn("Failed to extend lock lease")
			continue
		}
		if held == 0 {
			logger.Log.WithField("lock", name).Warn("Lock lease lost before release")
			return
		}
	}
}

// lockAll takes the locks of keys in sorted order and returns a func that
// releases all of them.
func lockAll(ctx context.Context, l Locker, keys []string) (func(), error) {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	releases := make([]func(), 0, len(sorted))
	unlock := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, key := range sorted {
		release, err := l.Lock(ctx, key)
		if err != nil {
			unlock()
			return nil, err
		}
		releases = append(releases, release)
	}
	return unlock, nil
}
