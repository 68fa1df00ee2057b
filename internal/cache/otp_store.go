package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrAttemptsExceeded means the stored code was burned after too many tries.
var ErrAttemptsExceeded = errors.New("verification attempts exceeded")

// Atomically bumps the attempt counter and returns the stored hash with it.
var otpAttemptScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
local n = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
return {redis.call('HGET', KEYS[1], 'hash'), n}
`)

// OTPStore holds one hashed email OTP per (user, purpose).
type OTPStore struct {
	rdb         redis.UniversalClient
	ttl         time.Duration
	maxAttempts int
}

func NewOTPStore(rdb redis.UniversalClient, ttl time.Duration, maxAttempts int) *OTPStore {
	return &OTPStore{rdb: rdb, ttl: ttl, maxAttempts: maxAttempts}
}

func otpKey(userID, purpose string) string {
	return key("email_otp", userID, purpose)
}

// Put replaces any outstanding code for the same purpose.
func (s *OTPStore) Put(ctx context.Context, userID, purpose, codeHash string) error {
	k := otpKey(userID, purpose)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k, "hash", codeHash, "attempts", 0)
		pipe.PExpire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Verify counts an attempt and consumes the code when match accepts its hash.
// A code can be consumed once; concurrent winners are decided by DEL.
func (s *OTPStore) Verify(ctx context.Context, userID, purpose string, match func(hash string) bool) (bool, error) {
	k := otpKey(userID, purpose)
	res, err := otpAttemptScript.Run(ctx, s.rdb, []string{k}).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, ErrMiss
		}
		return false, unavailable(err)
	}
	if len(res) != 2 {
		return false, ErrMiss
	}
	hash, _ := res[0].(string)
	attempts, _ := res[1].(int64)

	if attempts > int64(s.maxAttempts) {
		_ = s.rdb.Del(ctx, k).Err()
		return false, ErrAttemptsExceeded
	}

	if !match(hash) {
		if attempts >= int64(s.maxAttempts) {
			_ = s.rdb.Del(ctx, k).Err()
		}
		return false, nil
	}

	deleted, err := s.rdb.Del(ctx, k).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return deleted == 1, nil
}
