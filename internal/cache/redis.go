// Package cache holds the shared low-latency state used across instances:
// TTL entries, atomic counters, and short-lived locks, all in Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/warden/internal/config"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "warden:"

var (
	// ErrMiss means the key does not exist or its TTL has lapsed.
	ErrMiss = errors.New("cache miss")
	// ErrUnavailable wraps any transport or server failure.
	ErrUnavailable = errors.New("cache unavailable")
)

// Connect builds a client from a redis:// URL or host:port and verifies it.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(cfg.Addr, "redis://") || strings.HasPrefix(cfg.Addr, "rediss://") {
		opt, err := redis.ParseURL(cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return client, nil
}

func key(parts ...string) string {
	return keyPrefix + strings.Join(parts, ":")
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
