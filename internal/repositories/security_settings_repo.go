package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SecuritySettingsRepository stores per-user policy overrides
type SecuritySettingsRepository struct {
	pool *pgxpool.Pool
}

func NewSecuritySettingsRepository(db *database.DB) *SecuritySettingsRepository {
	return &SecuritySettingsRepository{pool: db.Pool}
}

const securitySettingsColumns = `user_id, max_failed_attempts, lockout_window_minutes, initial_lockout_minutes,
	max_lockout_minutes, progressive_multiplier, enable_progressive_lockout, suspicious_activity_threshold,
	max_concurrent_sessions, session_timeout_minutes, send_security_alerts, updated_at`

func scanSecuritySettings(row rowScanner) (*models.SecuritySettings, error) {
	var s models.SecuritySettings
	err := row.Scan(
		&s.UserID, &s.MaxFailedAttempts, &s.LockoutWindowMinutes, &s.InitialLockoutMinutes,
		&s.MaxLockoutMinutes, &s.ProgressiveMultiplier, &s.EnableProgressiveLockout, &s.SuspiciousActivityThreshold,
		&s.MaxConcurrentSessions, &s.SessionTimeoutMinutes, &s.SendSecurityAlerts, &s.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

// Get returns ErrNotFound when the user has no overrides.
func (r *SecuritySettingsRepository) Get(ctx context.Context, userID string) (*models.SecuritySettings, error) {
	query := `SELECT ` + securitySettingsColumns + ` FROM security_settings WHERE user_id = $1`
	return scanSecuritySettings(r.pool.QueryRow(ctx, query, userID))
}

// Upsert writes the full settings row.
func (r *SecuritySettingsRepository) Upsert(ctx context.Context, s *models.SecuritySettings) (*models.SecuritySettings, error) {
	query := `
		INSERT INTO security_settings (user_id, max_failed_attempts, lockout_window_minutes, initial_lockout_minutes,
			max_lockout_minutes, progressive_multiplier, enable_progressive_lockout, suspicious_activity_threshold,
			max_concurrent_sessions, session_timeout_minutes, send_security_alerts, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			max_failed_attempts = EXCLUDED.max_failed_attempts,
			lockout_window_minutes = EXCLUDED.lockout_window_minutes,
			initial_lockout_minutes = EXCLUDED.initial_lockout_minutes,
			max_lockout_minutes = EXCLUDED.max_lockout_minutes,
			progressive_multiplier = EXCLUDED.progressive_multiplier,
			enable_progressive_lockout = EXCLUDED.enable_progressive_lockout,
			suspicious_activity_threshold = EXCLUDED.suspicious_activity_threshold,
			max_concurrent_sessions = EXCLUDED.max_concurrent_sessions,
			session_timeout_minutes = EXCLUDED.session_timeout_minutes,
			send_security_alerts = EXCLUDED.send_security_alerts,
			updated_at = NOW()
		RETURNING ` + securitySettingsColumns

	saved, err := scanSecuritySettings(r.pool.QueryRow(ctx, query,
		s.UserID, s.MaxFailedAttempts, s.LockoutWindowMinutes, s.InitialLockoutMinutes,
		s.MaxLockoutMinutes, s.ProgressiveMultiplier, s.EnableProgressiveLockout, s.SuspiciousActivityThreshold,
		s.MaxConcurrentSessions, s.SessionTimeoutMinutes, s.SendSecurityAlerts,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to save security settings: %w", err)
	}
	return saved, nil
}
