package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spigell/intern-allocator/internal/lock"
	"go.uber.org/zap"
)

const (
	lockRetryInterval = 500 * time.Millisecond
	lockOpTimeout     = 2 * time.Second
)

// CycleLock is a lease row shared by every process that opens the same database file.
// A lease left behind by a crashed process can be taken over once it expires.
type CycleLock struct {
	db     *sql.DB
	name   string
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// CycleLock returns a lock named name backed by the cycle_locks table.
func (s *Store) CycleLock(name string, ttl time.Duration, logger *zap.Logger) *CycleLock {
	if name == "" {
		name = lock.DefaultKey
	}
	if ttl <= 0 {
		ttl = lock.DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CycleLock{db: s.db, name: name, ttl: ttl, logger: logger, now: time.Now}
}

func (l *CycleLock) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()

	for {
		ok, err := l.tryAcquire(ctx, token)
		if err != nil {
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
			return nil, errors.Join(lock.ErrNotAcquired, ctx.Err())
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

			ctx, cancel := context.WithTimeout(context.Background(), lockOpTimeout)
			defer cancel()
			if _, err := l.db.ExecContext(ctx,
				`DELETE FROM cycle_locks WHERE name = ? AND holder = ?`, l.name, token); err != nil {
				l.logger.Warn("releasing cycle lock", zap.String("name", l.name), zap.Error(err))
			}
		})
	}, nil
}

// tryAcquire inserts the lease or takes over an expired one.
func (l *CycleLock) tryAcquire(ctx context.Context, token string) (bool, error) {
	now := l.now()
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO cycle_locks (name, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE cycle_locks.expires_at <= ?`,
		l.name, token, now.Add(l.ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *CycleLock) keepAlive(token string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), lockOpTimeout)
			res, err := l.db.ExecContext(ctx,
				`UPDATE cycle_locks SET expires_at = ? WHERE name = ? AND holder = ?`,
				l.now().Add(l.ttl).UnixMilli(), l.name, token)
			cancel()
			if err != nil {
				l.logger.Warn("refreshing cycle lock", zap.String("name", l.name), zap.Error(err))
				continue
			}
			if n, _ := res.RowsAffected(); n == 0 {
				l.logger.Error("cycle lock lost", zap.String("name", l.name))
				return
			}
		}
	}
}
