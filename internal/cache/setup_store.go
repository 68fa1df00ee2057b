package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/redis/go-redis/v9"
)

// SetupStore keeps pending MFA setup sessions. Expiry is enforced by the Redis
// TTL, not by comparing timestamps. The sealed secret is also kept under a
// longer-lived pending key so a lapsed session can be regenerated with the
// same secret.
type SetupStore struct {
	rdb        redis.UniversalClient
	ttl        time.Duration
	pendingTTL time.Duration
}

func NewSetupStore(rdb redis.UniversalClient, ttl, pendingTTL time.Duration) *SetupStore {
	return &SetupStore{rdb: rdb, ttl: ttl, pendingTTL: pendingTTL}
}

func setupKey(userID, setupSessionID string) string {
	return key("mfa_setup", userID, setupSessionID)
}

func latestSetupKey(userID string) string {
	return key("mfa_latest_setup", userID)
}

func pendingSecretKey(userID string) string {
	return key("mfa_pending_secret", userID)
}

// TTL is the lifetime given to each saved session.
func (s *SetupStore) TTL() time.Duration {
	return s.ttl
}

func (s *SetupStore) Save(ctx context.Context, session *models.MfaSetupSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode setup session: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, setupKey(session.UserID, session.SetupSessionID), payload, s.ttl)
		pipe.Set(ctx, latestSetupKey(session.UserID), session.SetupSessionID, s.ttl)
		pipe.Set(ctx, pendingSecretKey(session.UserID), session.SealedSecret, s.pendingTTL)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Get returns ErrMiss once the session's TTL has lapsed.
func (s *SetupStore) Get(ctx context.Context, userID, setupSessionID string) (*models.MfaSetupSession, error) {
	raw, err := s.rdb.Get(ctx, setupKey(userID, setupSessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, unavailable(err)
	}

	var session models.MfaSetupSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("failed to decode setup session: %w", err)
	}
	return &session, nil
}

// Latest returns the most recently saved live session for the user.
func (s *SetupStore) Latest(ctx context.Context, userID string) (*models.MfaSetupSession, error) {
	sid, err := s.rdb.Get(ctx, latestSetupKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, unavailable(err)
	}
	return s.Get(ctx, userID, sid)
}

// PendingSecret returns the sealed secret of the last setup, which outlives
// the session itself.
func (s *SetupStore) PendingSecret(ctx context.Context, userID string) (string, error) {
	sealed, err := s.rdb.Get(ctx, pendingSecretKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrMiss
		}
		return "", unavailable(err)
	}
	return sealed, nil
}

// Discard removes every trace of a pending setup for the user.
func (s *SetupStore) Discard(ctx context.Context, userID, setupSessionID string) error {
	keys := []string{latestSetupKey(userID), pendingSecretKey(userID)}
	if setupSessionID != "" {
		keys = append(keys, setupKey(userID, setupSessionID))
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
