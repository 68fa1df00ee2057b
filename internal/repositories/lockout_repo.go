package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/jackc/pgx/v5"
)

// LockoutRepository handles lockout records
type LockoutRepository struct {
	db *database.DB
}

func NewLockoutRepository(db *database.DB) *LockoutRepository {
	return &LockoutRepository{db: db}
}

const lockoutColumns = `id, user_id, reason, level, failed_attempt_count, triggering_ip, details, locked_by,
	started_at, expires_at, released_at, release_reason, released_by`

func scanLockout(row rowScanner) (*models.LockoutRecord, error) {
	var l models.LockoutRecord
	err := row.Scan(
		&l.ID, &l.UserID, &l.Reason, &l.Level, &l.FailedAttemptCount, &l.TriggeringIP, &l.Details, &l.LockedBy,
		&l.StartedAt, &l.ExpiresAt, &l.ReleasedAt, &l.ReleaseReason, &l.ReleasedBy,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &l, nil
}

// activeLockout returns the newest effective lockout, or nil.
func activeLockout(ctx context.Context, q database.Querier, userID string, now time.Time) (*models.LockoutRecord, error) {
	query := `SELECT ` + lockoutColumns + ` FROM lockout_records
		WHERE user_id = $1 AND released_at IS NULL AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY started_at DESC LIMIT 1`

	record, err := scanLockout(q.QueryRow(ctx, query, userID, now))
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active lockout: %w", err)
	}
	return record, nil
}

func insertLockout(ctx context.Context, q database.Querier, l *models.LockoutRecord) error {
	query := `
		INSERT INTO lockout_records (user_id, reason, level, failed_attempt_count, triggering_ip, details,
			locked_by, started_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	err := q.QueryRow(ctx, query,
		l.UserID, l.Reason, l.Level, l.FailedAttemptCount, l.TriggeringIP, l.Details,
		l.LockedBy, l.StartedAt, l.ExpiresAt,
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("failed to create lockout: %w", database.MapPostgresError(err))
	}
	return nil
}

// GetActive returns the effective lockout for the user at now, or nil.
func (r *LockoutRepository) GetActive(ctx context.Context, userID string, now time.Time) (*models.LockoutRecord, error) {
	return activeLockout(ctx, r.db.Pool, userID, now)
}

// Create stores a lockout outside the counting path. Any lockout still in
// force is released as superseded so only one stays effective.
func (r *LockoutRepository) Create(ctx context.Context, record *models.LockoutRecord) error {
	return r.db.WithAdvisoryLock(ctx, "lockout:"+record.UserID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE lockout_records
			SET released_at = $2, release_reason = $3, released_by = $4
			WHERE user_id = $1 AND released_at IS NULL AND (expires_at IS NULL OR expires_at > $2)
		`, record.UserID, record.StartedAt, models.ReleaseReasonSuperseded, record.LockedBy)
		if err != nil {
			return fmt.Errorf("failed to supersede lockout: %w", err)
		}
		return insertLockout(ctx, tx, record)
	})
}

// Release ends every effective lockout for the user. Returns ErrNotFound when
// nothing was in force.
func (r *LockoutRepository) Release(ctx context.Context, userID, reason string, releasedBy *string, now time.Time) ([]models.LockoutRecord, error) {
	query := `
		UPDATE lockout_records
		SET released_at = $2, release_reason = $3, released_by = $4
		WHERE user_id = $1 AND released_at IS NULL AND (expires_at IS NULL OR expires_at > $2)
		RETURNING ` + lockoutColumns

	rows, err := r.db.Pool.Query(ctx, query, userID, now, reason, releasedBy)
	if err != nil {
		return nil, fmt.Errorf("failed to release lockout: %w", err)
	}
	defer rows.Close()

	released := make([]models.LockoutRecord, 0, 1)
	for rows.Next() {
		record, err := scanLockout(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lockout: %w", err)
		}
		released = append(released, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lockout rows: %w", err)
	}
	if len(released) == 0 {
		return nil, models.ErrNotFound
	}
	return released, nil
}

// ListByUser returns the user's lockout history, newest first.
func (r *LockoutRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.LockoutRecord, error) {
	query := `SELECT ` + lockoutColumns + ` FROM lockout_records
		WHERE user_id = $1 ORDER BY started_at DESC LIMIT $2`

	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query lockouts: %w", err)
	}
	defer rows.Close()

	records := make([]models.LockoutRecord, 0)
	for rows.Next() {
		record, err := scanLockout(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lockout: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// Statistics aggregates lockouts started in [from, to).
func (r *LockoutRepository) Statistics(ctx context.Context, from, to, now time.Time) (*models.LockoutStatistics, error) {
	stats := &models.LockoutStatistics{From: from, To: to, ByReason: make(map[models.LockoutReason]int)}

	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE released_at IS NULL AND (expires_at IS NULL OR expires_at > $3)),
			COUNT(*) FILTER (WHERE release_reason = $4),
			COUNT(DISTINCT user_id)
		FROM lockout_records
		WHERE started_at >= $1 AND started_at < $2
	`, from, to, now, models.ReleaseReasonManual).Scan(
		&stats.TotalLockouts, &stats.ActiveLockouts, &stats.ManualReleases, &stats.AffectedUsers,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load lockout statistics: %w", err)
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT reason, COUNT(*) FROM lockout_records
		WHERE started_at >= $1 AND started_at < $2
		GROUP BY reason
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load lockout reasons: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var reason models.LockoutReason
		var count int
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, fmt.Errorf("failed to scan lockout reason: %w", err)
		}
		stats.ByReason[reason] = count
	}
	return stats, rows.Err()
}

// PurgeBefore deletes lockout history that ended before cutoff. Permanent,
// unreleased lockouts are never purged.
func (r *LockoutRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `
		DELETE FROM lockout_records
		WHERE COALESCE(released_at, expires_at) < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge lockouts: %w", err)
	}
	return result.RowsAffected(), nil
}
