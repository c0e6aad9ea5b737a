package limiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Limiter reports whether another hit for key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// fixedWindowScript increments the counter and starts the window on the
// first hit, atomically.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
	return 0
end
return 1
`)

type RedisLimiter struct {
	rdb    *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func NewRedisClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
}

func NewRedisLimiter(rdb *redis.Client, prefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		rdb:    rdb,
		prefix: prefix,
		limit:  limit,
		window: window,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}
	res, err := fixedWindowScript.Run(ctx, l.rdb, []string{l.prefix + ":" + key}, l.limit, l.window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("limiter: %w", err)
	}
	return res == 1, nil
}

// MemoryLimiter is a process-local fixed window used when redis is not
// configured.
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	windows map[string]*memoryWindow
}

type memoryWindow struct {
	start time.Time
	count int
}

func NewMemoryLimiter(limit int, window time.Duration, now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		now:     now,
		windows: make(map[string]*memoryWindow),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		l.windows[key] = &memoryWindow{start: now, count: 1}
		l.evict(now)
		return true, nil
	}
	w.count++
	return w.count <= l.limit, nil
}

func (l *MemoryLimiter) evict(now time.Time) {
	if len(l.windows) < 1024 {
		return
	}
	for k, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, k)
		}
	}
}
