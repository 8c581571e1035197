package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/solwatch/copybot/internal/domain"
)

// extendLua renews the lease TTL only while the stored token is still ours.
// Returns 1 on renewal, 0 when the lease lapsed or changed hands.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// releaseLua deletes the lease key only if its value matches the holder's
// token, so a lapsed holder can never release a successor's lease.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LeaderLease implements domain.LeaderLease on a single Redis key. The price
// monitor acquires it once, extends it every tick, and releases it on
// shutdown; follower instances see ErrLockHeld and sit out their ticks.
type LeaderLease struct {
	c         *Client
	key       string
	extendSc  *redis.Script
	releaseSc *redis.Script

	mu    sync.Mutex
	token string // non-empty while this instance believes it leads
}

// NewLeaderLease creates a lease for the named single-writer role, e.g.
// "monitor".
func NewLeaderLease(c *Client, name string) *LeaderLease {
	return &LeaderLease{
		c:         c,
		key:       c.key("lease", name),
		extendSc:  redis.NewScript(extendLua),
		releaseSc: redis.NewScript(releaseLua),
	}
}

// Acquire claims the lease for ttl with a fresh holder token. It returns
// domain.ErrLockHeld while another instance holds the lease.
func (l *LeaderLease) Acquire(ctx context.Context, ttl time.Duration) error {
	token := uuid.New().String()

	ok, err := l.c.rdb.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis: acquire lease %s: %w", l.key, err)
	}
	if !ok {
		return domain.ErrLockHeld
	}

	l.mu.Lock()
	l.token = token
	l.mu.Unlock()
	return nil
}

// Extend renews the holder's TTL. It returns domain.ErrLeaseExpired when the
// lease lapsed or was taken over since the last renewal; the holder must
// Acquire again before resuming leader work.
func (l *LeaderLease) Extend(ctx context.Context, ttl time.Duration) error {
	l.mu.Lock()
	token := l.token
	l.mu.Unlock()
	if token == "" {
		return domain.ErrLeaseExpired
	}

	renewed, err := l.extendSc.Run(ctx, l.c.rdb, []string{l.key}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis: extend lease %s: %w", l.key, err)
	}
	if renewed == 0 {
		l.mu.Lock()
		l.token = ""
		l.mu.Unlock()
		return domain.ErrLeaseExpired
	}
	return nil
}

// Release gives the lease up if this instance still holds it. Releasing a
// lease that already lapsed is a no-op.
func (l *LeaderLease) Release(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()
	if token == "" {
		return nil
	}

	if err := l.releaseSc.Run(ctx, l.c.rdb, []string{l.key}, token).Err(); err != nil {
		return fmt.Errorf("redis: release lease %s: %w", l.key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.LeaderLease = (*LeaderLease)(nil)
