package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DocumentStore caches opaque rendered documents such as the JWKS body.
type DocumentStore struct {
	rdb redis.UniversalClient
}

func NewDocumentStore(rdb redis.UniversalClient) *DocumentStore {
	return &DocumentStore{rdb: rdb}
}

func (s *DocumentStore) Get(ctx context.Context, name string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, key("doc", name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, unavailable(err)
	}
	return b, nil
}

func (s *DocumentStore) Set(ctx context.Context, name string, body []byte, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, key("doc", name), body, ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *DocumentStore) Delete(ctx context.Context, name string) error {
	if err := s.rdb.Del(ctx, key("doc", name)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
