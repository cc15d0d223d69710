package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreachable points at a port nothing listens on.
func unreachable(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewRedisDefaults(t *testing.T) {
	t.Parallel()

	l := NewRedis(unreachable(t), "", 0, nil)
	assert.Equal(t, DefaultKey, l.key)
	assert.Equal(t, DefaultTTL, l.ttl)
	assert.NotNil(t, l.release)
	assert.NotNil(t, l.refresh)
}

func TestRedisAcquireUnreachable(t *testing.T) {
	t.Parallel()

	l := NewRedis(unreachable(t), "test:lock", time.Minute, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	release, err := l.Acquire(ctx)
	require.Error(t, err)
	assert.Nil(t, release)
	assert.Contains(t, err.Error(), "acquiring test:lock")
	assert.False(t, errors.Is(err, ErrNotAcquired))
}

func TestRedisAcquireCancelled(t *testing.T) {
	t.Parallel()

	l := NewRedis(unreachable(t), "test:lock", time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotAcquired))
	assert.True(t, errors.Is(err, context.Canceled))
}
