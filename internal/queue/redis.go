package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultKey = "intern-allocator:score-queue"

	popTimeout = 5 * time.Second
	retryDelay = time.Second
)

// Redis is a list-backed queue. Producers LPUSH, consumers BRPOP.
type Redis struct {
	client *redis.Client
	key    string
	logger *zap.Logger
}

func NewRedis(client *redis.Client, key string, logger *zap.Logger) *Redis {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, key: key, logger: logger}
}

func (q *Redis) Enqueue(ctx context.Context, task Task) error {
	payload, err := encode(task)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue task for application %d: %w", task.ApplicationID, err)
	}
	return nil
}

// Consume hands tasks to handler one at a time until ctx is cancelled.
// Handler errors are logged; the task is not retried.
func (q *Redis) Consume(ctx context.Context, handler Handler) error {
	q.logger.Info("consuming score queue", zap.String("key", q.key))

	for {
		if ctx.Err() != nil {
			return nil
		}

		result, err := q.client.BRPop(ctx, popTimeout, q.key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			q.logger.Warn("reading score queue", zap.Error(err))
			timer := time.NewTimer(retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
			continue
		}

		// BRPOP replies with [key, value]
		if len(result) != 2 {
			continue
		}

		task, err := decode([]byte(result[1]))
		if err != nil {
			q.logger.Error("dropping malformed task", zap.String("payload", result[1]), zap.Error(err))
			continue
		}

		if err := handler(ctx, task); err != nil {
			q.logger.Error("processing task",
				zap.Int64("application_id", task.ApplicationID),
				zap.Error(err),
			)
		}
	}
}
