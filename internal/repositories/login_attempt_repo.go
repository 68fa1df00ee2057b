package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/jackc/pgx/v5"
)

// LockoutState is what the lockout policy sees for one failed attempt.
// Counts are taken under the per-user advisory lock and include the attempt
// being recorded.
type LockoutState struct {
	FailureCount   int
	RecentLockouts int
	Active         *models.LockoutRecord
}

// LockoutDecider returns the lockout to create, or nil.
type LockoutDecider func(state LockoutState) *models.LockoutRecord

// AttemptOutcome is the result of recording one attempt.
type AttemptOutcome struct {
	Attempt *models.LoginAttempt
	Lockout *models.LockoutRecord // newly created or already active
	Created bool
}

// LoginAttemptRepository handles database operations for login attempts
type LoginAttemptRepository struct {
	db *database.DB
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

const loginAttemptColumns = `id, user_id, identifier, success, failure_reason, ip_address, user_agent,
	device_fingerprint, location, risk_score, is_suspicious, triggered_lockout, attempted_at`

func scanLoginAttempt(row rowScanner) (*models.LoginAttempt, error) {
	var a models.LoginAttempt
	err := row.Scan(
		&a.ID, &a.UserID, &a.Identifier, &a.Success, &a.FailureReason, &a.IPAddress, &a.UserAgent,
		&a.DeviceFingerprint, &a.Location, &a.RiskScore, &a.IsSuspicious, &a.TriggeredLockout, &a.AttemptedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &a, nil
}

// RecordAttempt persists the attempt and, for failures against a known user,
// evaluates decide while holding that user's lockout lock. Two concurrent
// failures for the same user are therefore counted one after the other.
func (r *LoginAttemptRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt, window, observation time.Duration, decide LockoutDecider) (*AttemptOutcome, error) {
	if attempt.UserID == nil {
		stored, err := insertAttempt(ctx, r.db.Pool, attempt)
		if err != nil {
			return nil, err
		}
		return &AttemptOutcome{Attempt: stored}, nil
	}

	userID := *attempt.UserID
	var outcome *AttemptOutcome
	err := r.db.WithAdvisoryLock(ctx, "lockout:"+userID, func(tx pgx.Tx) error {
		stored, err := insertAttempt(ctx, tx, attempt)
		if err != nil {
			return err
		}
		outcome = &AttemptOutcome{Attempt: stored}
		if attempt.Success {
			return nil
		}

		now := stored.AttemptedAt
		var state LockoutState

		// Failures reset at the last success inside the window.
		err = tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM login_attempts
			WHERE user_id = $1 AND success = false
			  AND failure_reason IS DISTINCT FROM $3 AND failure_reason IS DISTINCT FROM $4
			  AND attempted_at >= GREATEST(
				$2,
				COALESCE((SELECT MAX(attempted_at) FROM login_attempts
				          WHERE user_id = $1 AND success = true AND attempted_at >= $2), $2)
			)
		`, userID, now.Add(-window), models.FailureReasonAccountLocked, models.FailureReasonIPBlocked).Scan(&state.FailureCount)
		if err != nil {
			return fmt.Errorf("failed to count failed attempts: %w", err)
		}

		err = tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM lockout_records
			WHERE user_id = $1 AND reason <> $2 AND started_at >= $3
		`, userID, models.LockoutReasonManual, now.Add(-observation)).Scan(&state.RecentLockouts)
		if err != nil {
			return fmt.Errorf("failed to count recent lockouts: %w", err)
		}

		state.Active, err = activeLockout(ctx, tx, userID, now)
		if err != nil {
			return err
		}

		record := decide(state)
		if record == nil {
			return nil
		}
		if record == state.Active {
			outcome.Lockout = state.Active
			return nil
		}

		if err := insertLockout(ctx, tx, record); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE login_attempts SET triggered_lockout = true WHERE id = $1`, stored.ID); err != nil {
			return fmt.Errorf("failed to flag attempt: %w", err)
		}
		stored.TriggeredLockout = true
		outcome.Lockout = record
		outcome.Created = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func insertAttempt(ctx context.Context, q database.Querier, a *models.LoginAttempt) (*models.LoginAttempt, error) {
	query := `
		INSERT INTO login_attempts (user_id, identifier, success, failure_reason, ip_address, user_agent,
			device_fingerprint, location, risk_score, is_suspicious, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + loginAttemptColumns

	stored, err := scanLoginAttempt(q.QueryRow(ctx, query,
		a.UserID, a.Identifier, a.Success, a.FailureReason, a.IPAddress, a.UserAgent,
		a.DeviceFingerprint, a.Location, a.RiskScore, a.IsSuspicious, a.AttemptedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to record login attempt: %w", err)
	}
	return stored, nil
}

// CountRecentFailures counts failed attempts for an identifier since the given time.
func (r *LoginAttemptRepository) CountRecentFailures(ctx context.Context, identifier string, since time.Time) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM login_attempts
		WHERE identifier = $1 AND success = false AND attempted_at >= $2
	`, identifier, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count failures: %w", err)
	}
	return count, nil
}

// KnownOrigin reports whether the user has logged in successfully from this
// IP and from this device fingerprint before.
func (r *LoginAttemptRepository) KnownOrigin(ctx context.Context, userID, ip, fingerprint string) (ipSeen, deviceSeen bool, err error) {
	err = r.db.Pool.QueryRow(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM login_attempts WHERE user_id = $1 AND success AND ip_address = $2),
			EXISTS (SELECT 1 FROM login_attempts WHERE user_id = $1 AND success AND device_fingerprint = $3)
	`, userID, ip, fingerprint).Scan(&ipSeen, &deviceSeen)
	if err != nil {
		return false, false, fmt.Errorf("failed to check login history: %w", err)
	}
	return ipSeen, deviceSeen, nil
}

// HasHistory reports whether the user has any successful login on record.
func (r *LoginAttemptRepository) HasHistory(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM login_attempts WHERE user_id = $1 AND success)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check login history: %w", err)
	}
	return exists, nil
}

// LastSuccessful returns the user's most recent successful attempt.
func (r *LoginAttemptRepository) LastSuccessful(ctx context.Context, userID string) (*models.LoginAttempt, error) {
	query := `SELECT ` + loginAttemptColumns + ` FROM login_attempts
		WHERE user_id = $1 AND success ORDER BY attempted_at DESC LIMIT 1`
	return scanLoginAttempt(r.db.Pool.QueryRow(ctx, query, userID))
}

// Statistics aggregates attempts in [from, to).
func (r *LoginAttemptRepository) Statistics(ctx context.Context, from, to time.Time) (*models.LoginStatistics, error) {
	stats := &models.LoginStatistics{From: from, To: to}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE success),
			COUNT(*) FILTER (WHERE NOT success),
			COUNT(*) FILTER (WHERE is_suspicious),
			COUNT(DISTINCT ip_address)
		FROM login_attempts
		WHERE attempted_at >= $1 AND attempted_at < $2
	`, from, to).Scan(
		&stats.TotalAttempts, &stats.SuccessfulLogins, &stats.FailedLogins,
		&stats.SuspiciousLogins, &stats.UniqueIPAddresses,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load login statistics: %w", err)
	}
	return stats, nil
}

// PurgeBefore deletes attempts older than cutoff.
func (r *LoginAttemptRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM login_attempts WHERE attempted_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge login attempts: %w", err)
	}
	return result.RowsAffected(), nil
}
