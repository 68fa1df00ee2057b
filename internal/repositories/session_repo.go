package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/jackc/pgx/v5"
)

// SessionRepository stores user sessions
type SessionRepository struct {
	db *database.DB
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, user_id, session_token_hash, refresh_token_hash, ip_address, user_agent,
	device_info, location_info, is_suspicious, created_at, last_activity_at, expires_at, refresh_expires_at,
	is_active, terminated_at, termination_reason`

func scanSession(row rowScanner) (*models.UserSession, error) {
	var s models.UserSession
	err := row.Scan(
		&s.ID, &s.UserID, &s.SessionTokenHash, &s.RefreshTokenHash, &s.IPAddress, &s.UserAgent,
		&s.Device, &s.Location, &s.IsSuspicious, &s.CreatedAt, &s.LastActivityAt, &s.ExpiresAt, &s.RefreshExpiresAt,
		&s.IsActive, &s.TerminatedAt, &s.TerminationReason,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

func scanSessions(rows pgx.Rows) ([]models.UserSession, error) {
	defer rows.Close()

	sessions := make([]models.UserSession, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

// CreateWithinCap inserts the session after evicting the user's
// least-recently-active sessions so that at most maxSessions remain live.
// Admission for one user is serialized by an advisory lock, so concurrent
// logins cannot both see room under the cap.
func (r *SessionRepository) CreateWithinCap(ctx context.Context, s *models.UserSession, maxSessions int, now time.Time) ([]models.UserSession, error) {
	var evicted []models.UserSession
	err := r.db.WithAdvisoryLock(ctx, "sessions:"+s.UserID, func(tx pgx.Tx) error {
		// Sessions idle past expiry are not live and do not count.
		_, err := tx.Exec(ctx, `
			UPDATE user_sessions SET is_active = false, terminated_at = $2, termination_reason = $3
			WHERE user_id = $1 AND is_active AND expires_at <= $2
		`, s.UserID, now, models.TerminationExpired)
		if err != nil {
			return fmt.Errorf("failed to expire sessions: %w", err)
		}

		// Keep the newest maxSessions-1, evict everything older.
		rows, err := tx.Query(ctx, `
			UPDATE user_sessions SET is_active = false, terminated_at = $3, termination_reason = $4
			WHERE id IN (
				SELECT id FROM user_sessions
				WHERE user_id = $1 AND is_active
				ORDER BY last_activity_at DESC, created_at DESC
				OFFSET $2
			)
			RETURNING `+sessionColumns,
			s.UserID, maxSessions-1, now, models.TerminationConcurrentLimit,
		)
		if err != nil {
			return fmt.Errorf("failed to evict sessions: %w", err)
		}
		evicted, err = scanSessions(rows)
		if err != nil {
			return err
		}

		stored, err := scanSession(tx.QueryRow(ctx, `
			INSERT INTO user_sessions (user_id, session_token_hash, refresh_token_hash, ip_address, user_agent,
				device_info, location_info, is_suspicious, created_at, last_activity_at, expires_at, refresh_expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, $10, $11)
			RETURNING `+sessionColumns,
			s.UserID, s.SessionTokenHash, s.RefreshTokenHash, s.IPAddress, s.UserAgent,
			s.Device, s.Location, s.IsSuspicious, now, s.ExpiresAt, s.RefreshExpiresAt,
		))
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		*s = *stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return evicted, nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.UserSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM user_sessions WHERE id = $1`
	return scanSession(r.db.Pool.QueryRow(ctx, query, id))
}

func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.UserSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM user_sessions WHERE session_token_hash = $1`
	return scanSession(r.db.Pool.QueryRow(ctx, query, tokenHash))
}

func (r *SessionRepository) GetByRefreshHash(ctx context.Context, refreshHash string) (*models.UserSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM user_sessions WHERE refresh_token_hash = $1`
	return scanSession(r.db.Pool.QueryRow(ctx, query, refreshHash))
}

// IsActive reports whether the session is live at now.
func (r *SessionRepository) IsActive(ctx context.Context, id string, now time.Time) (bool, error) {
	var active bool
	err := r.db.Pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM user_sessions WHERE id = $1 AND is_active AND expires_at > $2)
	`, id, now).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return active, nil
}

// Touch slides the idle deadline of a live session. Returns ErrNotFound when
// the session is unknown, terminated or already expired.
func (r *SessionRepository) Touch(ctx context.Context, tokenHash string, timeout time.Duration, now time.Time) (*models.UserSession, error) {
	query := `
		UPDATE user_sessions SET last_activity_at = $2, expires_at = $3
		WHERE session_token_hash = $1 AND is_active AND expires_at > $2
		RETURNING ` + sessionColumns
	return scanSession(r.db.Pool.QueryRow(ctx, query, tokenHash, now, now.Add(timeout)))
}

// TouchByID is Touch keyed by session id, used by the access-token path.
func (r *SessionRepository) TouchByID(ctx context.Context, id string, timeout time.Duration, now time.Time) (*models.UserSession, error) {
	query := `
		UPDATE user_sessions SET last_activity_at = $2, expires_at = $3
		WHERE id = $1 AND is_active AND expires_at > $2
		RETURNING ` + sessionColumns
	return scanSession(r.db.Pool.QueryRow(ctx, query, id, now, now.Add(timeout)))
}

// RotateRefresh swaps the refresh hash only if it still equals oldHash.
func (r *SessionRepository) RotateRefresh(ctx context.Context, id, oldHash, newHash string, refreshExpiresAt time.Time, timeout time.Duration, now time.Time) (*models.UserSession, error) {
	query := `
		UPDATE user_sessions
		SET refresh_token_hash = $3, refresh_expires_at = $4, last_activity_at = $5, expires_at = $6
		WHERE id = $1 AND refresh_token_hash = $2 AND is_active AND expires_at > $5 AND refresh_expires_at > $5
		RETURNING ` + sessionColumns
	return scanSession(r.db.Pool.QueryRow(ctx, query, id, oldHash, newHash, refreshExpiresAt, now, now.Add(timeout)))
}

// Terminate ends one of the user's live sessions.
func (r *SessionRepository) Terminate(ctx context.Context, userID, id, reason string, now time.Time) (*models.UserSession, error) {
	query := `
		UPDATE user_sessions SET is_active = false, terminated_at = $3, termination_reason = $4
		WHERE id = $1 AND user_id = $2 AND is_active
		RETURNING ` + sessionColumns
	return scanSession(r.db.Pool.QueryRow(ctx, query, id, userID, now, reason))
}

// TerminateAll ends every live session of the user except keepID (if non-empty).
func (r *SessionRepository) TerminateAll(ctx context.Context, userID, keepID, reason string, now time.Time) ([]models.UserSession, error) {
	query := `
		UPDATE user_sessions SET is_active = false, terminated_at = $3, termination_reason = $4
		WHERE user_id = $1 AND is_active AND ($2 = '' OR id::text <> $2)
		RETURNING ` + sessionColumns

	rows, err := r.db.Pool.Query(ctx, query, userID, keepID, now, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to terminate sessions: %w", err)
	}
	return scanSessions(rows)
}

// ListActive returns live sessions, most recently active first.
func (r *SessionRepository) ListActive(ctx context.Context, userID string, now time.Time) ([]models.UserSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM user_sessions
		WHERE user_id = $1 AND is_active AND expires_at > $2
		ORDER BY last_activity_at DESC`

	rows, err := r.db.Pool.Query(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	return scanSessions(rows)
}

// ListRecent returns the user's sessions created since the given time,
// regardless of state.
func (r *SessionRepository) ListRecent(ctx context.Context, userID string, since time.Time, limit int) ([]models.UserSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM user_sessions
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at DESC LIMIT $3`

	rows, err := r.db.Pool.Query(ctx, query, userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	return scanSessions(rows)
}

// ApplyTimeout recomputes the idle deadline of every live session.
func (r *SessionRepository) ApplyTimeout(ctx context.Context, userID string, timeout time.Duration, now time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE user_sessions SET expires_at = last_activity_at + make_interval(secs => $2)
		WHERE user_id = $1 AND is_active AND expires_at > $3
	`, userID, timeout.Seconds(), now)
	if err != nil {
		return 0, fmt.Errorf("failed to apply session timeout: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Statistics summarizes every session the user ever had.
func (r *SessionRepository) Statistics(ctx context.Context, userID string, now time.Time) (*models.SessionStatistics, error) {
	stats := &models.SessionStatistics{
		DeviceBreakdown:   make(map[string]int),
		LocationBreakdown: make(map[string]int),
	}

	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE is_active AND expires_at > $2),
			COUNT(*) FILTER (WHERE expires_at <= $2 OR termination_reason = $3),
			COUNT(*) FILTER (WHERE is_suspicious),
			MAX(created_at)
		FROM user_sessions WHERE user_id = $1
	`, userID, now, models.TerminationExpired).Scan(
		&stats.TotalSessions, &stats.ActiveSessions, &stats.ExpiredSessions,
		&stats.SuspiciousSessions, &stats.LastLoginAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load session statistics: %w", err)
	}

	rows, err := r.db.Pool.Query(ctx, `SELECT device_info, location_info FROM user_sessions WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session breakdown: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var device *models.DeviceInfo
		var location *models.LocationInfo
		if err := rows.Scan(&device, &location); err != nil {
			return nil, fmt.Errorf("failed to scan session breakdown: %w", err)
		}
		stats.DeviceBreakdown[device.Label()]++
		stats.LocationBreakdown[location.Label()]++
	}
	return stats, rows.Err()
}

// ExpireIdle marks sessions past their idle deadline inactive.
func (r *SessionRepository) ExpireIdle(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE user_sessions SET is_active = false, terminated_at = $1, termination_reason = $2
		WHERE is_active AND expires_at <= $1
	`, now, models.TerminationExpired)
	if err != nil {
		return 0, fmt.Errorf("failed to expire sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeBefore deletes inactive sessions that ended before cutoff.
func (r *SessionRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		DELETE FROM user_sessions
		WHERE NOT is_active AND COALESCE(terminated_at, expires_at) < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
