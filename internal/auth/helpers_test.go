package auth

import (
	"context"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	testKeysOnce sync.Once
	testKeys     []*rsa.PrivateKey
)

// testKey returns one of a few shared RSA keys; generating them is slow.
func testKey(t *testing.T, i int) *rsa.PrivateKey {
	t.Helper()
	testKeysOnce.Do(func() {
		for n := 0; n < 3; n++ {
			k, err := GenerateSigningKey()
			if err != nil {
				panic(err)
			}
			testKeys = append(testKeys, k)
		}
	})
	require.Less(t, i, len(testKeys))
	return testKeys[i]
}

type memoryBlacklist struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	err     error
}

func newMemoryBlacklist() *memoryBlacklist {
	return &memoryBlacklist{revoked: map[string]time.Time{}}
}

func (b *memoryBlacklist) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revoked[jti] = expiresAt
	return nil
}

func (b *memoryBlacklist) IsRevoked(_ context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return false, b.err
	}
	_, ok := b.revoked[jti]
	return ok, nil
}

type mockSessionChecker struct {
	IsSessionActiveFunc func(ctx context.Context, sessionID string) (bool, error)
}

func (m *mockSessionChecker) IsSessionActive(ctx context.Context, sessionID string) (bool, error) {
	if m.IsSessionActiveFunc != nil {
		return m.IsSessionActiveFunc(ctx, sessionID)
	}
	return true, nil
}
