package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// INCR and the first-hit PEXPIRE run as one script so a counter can never be
// left without a TTL.
var incrWindowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {n, redis.call('PTTL', KEYS[1])}
`)

// WindowCounter is a fixed-window counter keyed by scope and subject.
type WindowCounter struct {
	rdb   redis.UniversalClient
	scope string
}

func NewWindowCounter(rdb redis.UniversalClient, scope string) *WindowCounter {
	return &WindowCounter{rdb: rdb, scope: scope}
}

// Hit increments the counter, starting a new window of length window on the
// first hit. It returns the count including this hit and the time until reset.
func (c *WindowCounter) Hit(ctx context.Context, subject string, window time.Duration) (int64, time.Duration, error) {
	res, err := incrWindowScript.Run(ctx, c.rdb, []string{key("counter", c.scope, subject)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, unavailable(err)
	}
	ttl := time.Duration(res[1]) * time.Millisecond
	if ttl < 0 {
		ttl = window
	}
	return res[0], ttl, nil
}

// Count returns the current value without incrementing it.
func (c *WindowCounter) Count(ctx context.Context, subject string) (int64, error) {
	n, err := c.rdb.Get(ctx, key("counter", c.scope, subject)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, unavailable(err)
	}
	return n, nil
}

// TTL returns how long until the current window resets, zero when no window
// is open.
func (c *WindowCounter) TTL(ctx context.Context, subject string) (time.Duration, error) {
	d, err := c.rdb.PTTL(ctx, key("counter", c.scope, subject)).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

func (c *WindowCounter) Reset(ctx context.Context, subject string) error {
	if err := c.rdb.Del(ctx, key("counter", c.scope, subject)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
