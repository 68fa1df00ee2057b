//go:build integration

package repositories

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupDB starts a throwaway Postgres, applies the embedded migrations and
// returns a connected DB.
func setupDB(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("warden"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, database.Migrate(ctx, dsn, logger))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return database.NewFromPool(pool, logger)
}

func createUser(t *testing.T, db *database.DB, email string) *models.User {
	t.Helper()
	user, err := NewUserRepository(db).Create(context.Background(), &models.User{
		Email:        email,
		PasswordHash: "$2a$04$placeholderplaceholderplaceholderplaceholderplaceho",
		Name:         "Test",
	})
	require.NoError(t, err)
	return user
}

func TestIntegration(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	t.Run("lockout trips at threshold and survives success", func(t *testing.T) {
		user := createUser(t, db, "lockout@example.com")
		attempts := NewLoginAttemptRepository(db)
		lockouts := NewLockoutRepository(db)
		now := time.Now().UTC().Truncate(time.Millisecond)

		decide := func(state LockoutState) *models.LockoutRecord {
			if state.Active != nil {
				return state.Active
			}
			if state.FailureCount < 3 {
				return nil
			}
			expires := now.Add(15 * time.Minute)
			return &models.LockoutRecord{
				UserID: user.ID, Reason: models.LockoutReasonTooManyFailures, Level: state.RecentLockouts + 1,
				FailedAttemptCount: state.FailureCount, StartedAt: now, ExpiresAt: &expires,
			}
		}

		record := func(success bool) *AttemptOutcome {
			out, err := attempts.RecordAttempt(ctx, &models.LoginAttempt{
				UserID: &user.ID, Identifier: user.Email, Success: success,
				IPAddress: "203.0.113.1", AttemptedAt: now,
			}, time.Hour, 24*time.Hour, decide)
			require.NoError(t, err)
			return out
		}

		assert.Nil(t, record(false).Lockout)
		assert.Nil(t, record(false).Lockout)
		third := record(false)
		require.NotNil(t, third.Lockout)
		assert.True(t, third.Created)
		assert.True(t, third.Attempt.TriggeredLockout)

		record(true)
		active, err := lockouts.GetActive(ctx, user.ID, now)
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, third.Lockout.ID, active.ID)

		released, err := lockouts.Release(ctx, user.ID, models.ReleaseReasonManual, nil, now.Add(time.Second))
		require.NoError(t, err)
		assert.Len(t, released, 1)

		_, err = lockouts.Release(ctx, user.ID, models.ReleaseReasonManual, nil, now.Add(2*time.Second))
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("unknown identifier is recorded without user", func(t *testing.T) {
		out, err := NewLoginAttemptRepository(db).RecordAttempt(ctx, &models.LoginAttempt{
			Identifier: "ghost@example.com", IPAddress: "198.51.100.4", AttemptedAt: time.Now(),
		}, time.Hour, 24*time.Hour, func(LockoutState) *models.LockoutRecord {
			t.Fatal("decider must not run for unknown users")
			return nil
		})
		require.NoError(t, err)
		assert.Nil(t, out.Attempt.UserID)
		assert.Nil(t, out.Lockout)
	})

	t.Run("session cap evicts oldest under concurrency", func(t *testing.T) {
		user := createUser(t, db, "sessions@example.com")
		sessions := NewSessionRepository(db)
		base := time.Now().UTC()

		const logins = 6
		var wg sync.WaitGroup
		for i := 0; i < logins; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				s := &models.UserSession{
					UserID:           user.ID,
					SessionTokenHash: auth.HashToken(fmt.Sprintf("session-%d", i)),
					RefreshTokenHash: auth.HashToken(fmt.Sprintf("refresh-%d", i)),
					IPAddress:        "203.0.113.1",
					ExpiresAt:        base.Add(time.Hour),
					RefreshExpiresAt: base.Add(24 * time.Hour),
				}
				_, err := sessions.CreateWithinCap(ctx, s, 2, base.Add(time.Duration(i)*time.Millisecond))
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		active, err := sessions.ListActive(ctx, user.ID, base)
		require.NoError(t, err)
		assert.Len(t, active, 2)
	})

	t.Run("backup code consumed once under concurrency", func(t *testing.T) {
		user := createUser(t, db, "backup@example.com")
		mfa := NewMfaSettingsRepository(db)
		codes := NewBackupCodeRepository(db)
		now := time.Now().UTC()

		hash := auth.HashBackupCode("ABCD-EFGH")
		_, err := mfa.Enable(ctx, user.ID, "v1:sealed", []string{hash, auth.HashBackupCode("JKMN-PQRS")}, now)
		require.NoError(t, err)

		_, err = mfa.Enable(ctx, user.ID, "v1:sealed", nil, now)
		assert.ErrorIs(t, err, models.ErrInvalidOperation)

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := codes.Consume(ctx, user.ID, hash, now)
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)

		settings, err := mfa.Get(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, settings.BackupCodesRemaining)
	})

	t.Run("refresh rotation is compare and swap", func(t *testing.T) {
		user := createUser(t, db, "refresh@example.com")
		sessions := NewSessionRepository(db)
		now := time.Now().UTC()

		s := &models.UserSession{
			UserID: user.ID, SessionTokenHash: auth.HashToken("s"), RefreshTokenHash: auth.HashToken("r1"),
			IPAddress: "203.0.113.1", ExpiresAt: now.Add(time.Hour), RefreshExpiresAt: now.Add(24 * time.Hour),
		}
		_, err := sessions.CreateWithinCap(ctx, s, 5, now)
		require.NoError(t, err)

		_, err = sessions.RotateRefresh(ctx, s.ID, auth.HashToken("r1"), auth.HashToken("r2"), now.Add(24*time.Hour), time.Hour, now)
		require.NoError(t, err)
		_, err = sessions.RotateRefresh(ctx, s.ID, auth.HashToken("r1"), auth.HashToken("r3"), now.Add(24*time.Hour), time.Hour, now)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}
