package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Locker hands out short-lived exclusive leases.
type Locker struct {
	rdb redis.UniversalClient
}

func NewLocker(rdb redis.UniversalClient) *Locker {
	return &Locker{rdb: rdb}
}

// Lease is a held lock. Release only deletes the key if this lease still owns it.
type Lease struct {
	rdb   redis.UniversalClient
	key   string
	token string
}

// TryAcquire returns nil without error when another holder owns the lock.
func (l *Locker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	lease := &Lease{rdb: l.rdb, key: key("lock", name), token: uuid.NewString()}
	ok, err := l.rdb.SetNX(ctx, lease.key, lease.token, ttl).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if !ok {
		return nil, nil
	}
	return lease, nil
}

func (l *Lease) Release(ctx context.Context) error {
	if err := releaseLockScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
