package services

import (
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/config"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func testLockoutConfig() config.LockoutConfig {
	return config.LockoutConfig{
		MaxFailedAttempts:           5,
		LockoutWindow:               60 * time.Minute,
		InitialLockout:              15 * time.Minute,
		MaxLockout:                  24 * time.Hour,
		ProgressiveMultiplier:       2.0,
		EnableProgressiveLockout:    true,
		MaxProgressiveLevel:         5,
		ProgressiveObservation:      24 * time.Hour,
		SuspiciousActivityThreshold: 0.7,
		IPBlockThreshold:            20,
		IPBlockWindow:               time.Hour,
		MaxConcurrentSessions:       5,
		SessionTimeout:              60 * time.Minute,
		SendSecurityAlerts:          true,
	}
}

func testMFAConfig() config.MFAConfig {
	return config.MFAConfig{
		Issuer:                 "Warden",
		EncryptionKey:          []byte("0123456789abcdef0123456789abcdef"),
		BackupCodeCount:        10,
		TOTPSkew:               1,
		SetupSessionTTL:        60 * time.Second,
		PendingSecretTTL:       15 * time.Minute,
		EmailOTPTTL:            10 * time.Minute,
		EmailOTPMaxAttempts:    5,
		EmailOTPSendLimit:      3,
		EmailOTPSendWindow:     5 * time.Minute,
		VerifyMaxAttempts:      10,
		VerifyWindow:           15 * time.Minute,
		EnforcementGracePeriod: 7 * 24 * time.Hour,
	}
}

// fixedClock returns a settable clock for services with a now field.
type fixedClock struct {
	t time.Time
}

func (c *fixedClock) now() time.Time { return c.t }

func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }
