package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

// unlockLua deletes the lock only when it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// refreshLua extends the lock TTL only when it still holds the caller's token.
const refreshLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager with SET NX plus token-checked
// Lua scripts for release and refresh.
type LockManager struct {
	rdb       *redis.Client
	unlockSc  *redis.Script
	refreshSc *redis.Script

	mu     sync.Mutex
	tokens map[string]string
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:       c.Underlying(),
		unlockSc:  redis.NewScript(unlockLua),
		refreshSc: redis.NewScript(refreshLua),
		tokens:    make(map[string]string),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire takes the lock for ttl. It returns domain.ErrLockHeld when another
// holder has it. The returned unlock func is idempotent.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, domain.ErrLockHeld)
	}

	lm.mu.Lock()
	lm.tokens[key] = token
	lm.mu.Unlock()

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			lm.mu.Lock()
			if lm.tokens[key] == token {
				delete(lm.tokens, key)
			}
			lm.mu.Unlock()

			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

// Refresh extends a lock this manager holds. It returns domain.ErrLockHeld
// when the lock expired and someone else took it, and domain.ErrNotFound
// when this manager never acquired key.
func (lm *LockManager) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	lm.mu.Lock()
	token, ok := lm.tokens[key]
	lm.mu.Unlock()
	if !ok {
		return fmt.Errorf("redis: refresh lock %s: %w", key, domain.ErrNotFound)
	}

	n, err := lm.refreshSc.Run(ctx, lm.rdb, []string{lockKey(key)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis: refresh lock %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("redis: refresh lock %s: %w", key, domain.ErrLockHeld)
	}
	return nil
}

var _ domain.LockManager = (*LockManager)(nil)
