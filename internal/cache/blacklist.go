package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBlacklist remembers revoked jtis until the token would have expired
// anyway; Redis drops the entry afterwards.
type TokenBlacklist struct {
	rdb redis.UniversalClient
	now func() time.Time
}

func NewTokenBlacklist(rdb redis.UniversalClient) *TokenBlacklist {
	return &TokenBlacklist{rdb: rdb, now: time.Now}
}

func (b *TokenBlacklist) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(b.now())
	if ttl <= 0 {
		return nil
	}
	if err := b.rdb.Set(ctx, key("jti_blacklist", jti), 1, ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (b *TokenBlacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := b.rdb.Exists(ctx, key("jti_blacklist", jti)).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return n > 0, nil
}
