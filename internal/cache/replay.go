package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard lets a value be used once within ttl across all instances.
type ReplayGuard struct {
	rdb   redis.UniversalClient
	scope string
}

func NewReplayGuard(rdb redis.UniversalClient, scope string) *ReplayGuard {
	return &ReplayGuard{rdb: rdb, scope: scope}
}

// Claim returns false if subject was already claimed and has not expired.
func (g *ReplayGuard) Claim(ctx context.Context, subject string, ttl time.Duration) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, key("replay", g.scope, subject), 1, ttl).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}
