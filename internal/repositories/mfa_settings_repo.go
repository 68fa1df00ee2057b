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

// MfaSettingsRepository persists per-user MFA state and its backup codes.
type MfaSettingsRepository struct {
	db *database.DB
}

func NewMfaSettingsRepository(db *database.DB) *MfaSettingsRepository {
	return &MfaSettingsRepository{db: db}
}

const mfaSettingsColumns = `user_id, is_enabled, is_enforced, encrypted_totp_secret, backup_codes_remaining,
	email_otp_enabled, enabled_at, last_used_at, enforcement_grace_period_end, created_at, updated_at`

func scanMfaSettings(row rowScanner) (*models.MfaSettings, error) {
	var s models.MfaSettings
	err := row.Scan(
		&s.UserID, &s.IsEnabled, &s.IsEnforced, &s.EncryptedTotpSecret, &s.BackupCodesRemaining,
		&s.EmailOtpEnabled, &s.EnabledAt, &s.LastUsedAt, &s.EnforcementGracePeriodEnd, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

// Get returns ErrNotFound when the user never started setup.
func (r *MfaSettingsRepository) Get(ctx context.Context, userID string) (*models.MfaSettings, error) {
	query := `SELECT ` + mfaSettingsColumns + ` FROM mfa_settings WHERE user_id = $1`
	return scanMfaSettings(r.db.Pool.QueryRow(ctx, query, userID))
}

// Ensure creates the disabled row on first setup and returns the current one.
func (r *MfaSettingsRepository) Ensure(ctx context.Context, userID string) (*models.MfaSettings, error) {
	query := `
		WITH ins AS (
			INSERT INTO mfa_settings (user_id) VALUES ($1)
			ON CONFLICT (user_id) DO NOTHING
			RETURNING ` + mfaSettingsColumns + `
		)
		SELECT ` + mfaSettingsColumns + ` FROM ins
		UNION ALL
		SELECT ` + mfaSettingsColumns + ` FROM mfa_settings WHERE user_id = $1
		LIMIT 1`

	settings, err := scanMfaSettings(r.db.Pool.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to ensure mfa settings: %w", err)
	}
	return settings, nil
}

// Enable flips the user to enabled and installs a fresh set of backup codes
// in one transaction. Returns ErrInvalidOperation if MFA is already enabled.
func (r *MfaSettingsRepository) Enable(ctx context.Context, userID, sealedSecret string, codeHashes []string, now time.Time) (*models.MfaSettings, error) {
	var settings *models.MfaSettings
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO mfa_settings (user_id, is_enabled, encrypted_totp_secret, backup_codes_remaining, enabled_at, updated_at)
			VALUES ($1, true, $2, $3, $4, $4)
			ON CONFLICT (user_id) DO UPDATE SET
				is_enabled = true,
				encrypted_totp_secret = EXCLUDED.encrypted_totp_secret,
				backup_codes_remaining = EXCLUDED.backup_codes_remaining,
				enabled_at = EXCLUDED.enabled_at,
				updated_at = EXCLUDED.updated_at
			WHERE NOT mfa_settings.is_enabled
			RETURNING ` + mfaSettingsColumns

		var err error
		settings, err = scanMfaSettings(tx.QueryRow(ctx, query, userID, sealedSecret, len(codeHashes), now))
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("%w: mfa is already enabled", models.ErrInvalidOperation)
		}
		if err != nil {
			return fmt.Errorf("failed to enable mfa: %w", err)
		}
		return replaceBackupCodes(ctx, tx, userID, codeHashes, now)
	})
	if err != nil {
		return nil, err
	}
	return settings, nil
}

// Disable clears the secret and invalidates every backup code. Returns
// ErrInvalidOperation if MFA was not enabled.
func (r *MfaSettingsRepository) Disable(ctx context.Context, userID string, now time.Time) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE mfa_settings
			SET is_enabled = false, encrypted_totp_secret = NULL, backup_codes_remaining = 0,
			    email_otp_enabled = false, enabled_at = NULL, updated_at = $2
			WHERE user_id = $1 AND is_enabled
		`, userID, now)
		if err != nil {
			return fmt.Errorf("failed to disable mfa: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: mfa is not enabled", models.ErrInvalidOperation)
		}
		_, err = tx.Exec(ctx, `
			UPDATE mfa_backup_codes SET invalidated_at = $2
			WHERE user_id = $1 AND NOT used AND invalidated_at IS NULL
		`, userID, now)
		if err != nil {
			return fmt.Errorf("failed to invalidate backup codes: %w", err)
		}
		return nil
	})
}

// SetEnforcement marks MFA as required by policy, with an optional grace period.
func (r *MfaSettingsRepository) SetEnforcement(ctx context.Context, userID string, enforced bool, graceEnd *time.Time) (*models.MfaSettings, error) {
	query := `
		INSERT INTO mfa_settings (user_id, is_enforced, enforcement_grace_period_end)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			is_enforced = EXCLUDED.is_enforced,
			enforcement_grace_period_end = EXCLUDED.enforcement_grace_period_end,
			updated_at = NOW()
		RETURNING ` + mfaSettingsColumns

	settings, err := scanMfaSettings(r.db.Pool.QueryRow(ctx, query, userID, enforced, graceEnd))
	if err != nil {
		return nil, fmt.Errorf("failed to set mfa enforcement: %w", err)
	}
	return settings, nil
}

// SetEmailOTP toggles email OTP as a second factor for an enabled user.
func (r *MfaSettingsRepository) SetEmailOTP(ctx context.Context, userID string, enabled bool) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE mfa_settings SET email_otp_enabled = $2, updated_at = NOW()
		WHERE user_id = $1 AND is_enabled
	`, userID, enabled)
	if err != nil {
		return fmt.Errorf("failed to update email otp: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: mfa is not enabled", models.ErrInvalidOperation)
	}
	return nil
}

// MarkUsed records the time of the last successful second factor.
func (r *MfaSettingsRepository) MarkUsed(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE mfa_settings SET last_used_at = $2 WHERE user_id = $1`, userID, at)
	if err != nil {
		return fmt.Errorf("failed to update mfa last use: %w", err)
	}
	return nil
}
