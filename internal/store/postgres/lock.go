package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/spigell/intern-allocator/internal/lock"
	"go.uber.org/zap"
)

const (
	lockRetryInterval = 500 * time.Millisecond
	lockOpTimeout     = 2 * time.Second
)

// AdvisoryLock is a session level advisory lock. It is held on a dedicated
// connection, so Postgres frees it when the holder process dies.
type AdvisoryLock struct {
	db     *sql.DB
	name   string
	key    int64
	logger *zap.Logger
}

// CycleLock returns an advisory lock whose key is derived from name.
func (s *Store) CycleLock(name string, logger *zap.Logger) *AdvisoryLock {
	if name == "" {
		name = lock.DefaultKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdvisoryLock{db: s.db, name: name, key: advisoryKey(name), logger: logger}
}

func (l *AdvisoryLock) Acquire(ctx context.Context) (func(), error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Join(lock.ErrNotAcquired, ctx.Err())
		}
		return nil, fmt.Errorf("acquiring %s: %w", l.name, err)
	}

	for {
		var ok bool
		if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&ok); err != nil {
			conn.Close()
			if ctx.Err() != nil {
				return nil, errors.Join(lock.ErrNotAcquired, ctx.Err())
			}
			return nil, fmt.Errorf("acquiring %s: %w", l.name, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(lockRetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			conn.Close()
			return nil, errors.Join(lock.ErrNotAcquired, ctx.Err())
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			defer conn.Close()

			ctx, cancel := context.WithTimeout(context.Background(), lockOpTimeout)
			defer cancel()
			if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, l.key); err != nil {
				l.logger.Warn("releasing cycle lock", zap.String("name", l.name), zap.Error(err))
				// a broken session must not go back to the pool still holding the lock
				_ = conn.Raw(func(any) error { return driver.ErrBadConn })
			}
		})
	}, nil
}

func advisoryKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}
