package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultKey = "intern-allocator:cycle-lock"
	DefaultTTL = 10 * time.Minute

	retryInterval = 500 * time.Millisecond
	opTimeout     = 2 * time.Second
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const refreshScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

// Redis is a lease lock shared by every replica using the same key.
// The lease is refreshed while held so long cycles keep it.
type Redis struct {
	client  *redis.Client
	key     string
	ttl     time.Duration
	logger  *zap.Logger
	release *redis.Script
	refresh *redis.Script
}

func NewRedis(client *redis.Client, key string, ttl time.Duration, logger *zap.Logger) *Redis {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Redis{
		client:  client,
		key:     key,
		ttl:     ttl,
		logger:  logger,
		release: redis.NewScript(releaseScript),
		refresh: redis.NewScript(refreshScript),
	}
}

func (l *Redis) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Join(ErrNotAcquired, ctx.Err())
			}
			return nil, fmt.Errorf("acquiring %s: %w", l.key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-timer.C:
		}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.keepAlive(token, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()

			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			defer cancel()
			if err := l.release.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
				l.logger.Warn("releasing cycle lock", zap.String("key", l.key), zap.Error(err))
			}
		})
	}, nil
}

func (l *Redis) keepAlive(token string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			n, err := l.refresh.Run(ctx, l.client, []string{l.key}, token, l.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil {
				l.logger.Warn("refreshing cycle lock", zap.String("key", l.key), zap.Error(err))
				continue
			}
			if n == 0 {
				l.logger.Error("cycle lock lost", zap.String("key", l.key))
				return
			}
		}
	}
}
