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

// BackupCodeRepository stores hashed single-use recovery codes
type BackupCodeRepository struct {
	db *database.DB
}

func NewBackupCodeRepository(db *database.DB) *BackupCodeRepository {
	return &BackupCodeRepository{db: db}
}

func replaceBackupCodes(ctx context.Context, tx pgx.Tx, userID string, hashes []string, now time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE mfa_backup_codes SET invalidated_at = $2
		WHERE user_id = $1 AND NOT used AND invalidated_at IS NULL
	`, userID, now)
	if err != nil {
		return fmt.Errorf("failed to invalidate backup codes: %w", err)
	}

	rows := make([][]any, 0, len(hashes))
	for _, h := range hashes {
		rows = append(rows, []any{userID, h, now})
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"mfa_backup_codes"},
		[]string{"user_id", "code_hash", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to store backup codes: %w", err)
	}
	return nil
}

// Replace invalidates all unused codes and stores the new batch. Returns
// ErrInvalidOperation if MFA is not enabled.
func (r *BackupCodeRepository) Replace(ctx context.Context, userID string, hashes []string, now time.Time) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE mfa_settings SET backup_codes_remaining = $2, updated_at = $3
			WHERE user_id = $1 AND is_enabled
		`, userID, len(hashes), now)
		if err != nil {
			return fmt.Errorf("failed to update backup code count: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: mfa is not enabled", models.ErrInvalidOperation)
		}
		return replaceBackupCodes(ctx, tx, userID, hashes, now)
	})
}

// Consume marks the matching unused code as used in a single statement and
// reports whether a code was consumed. Concurrent callers presenting the same
// code cannot both succeed: the row lock taken by the UPDATE makes the loser
// re-check used = false and match nothing.
func (r *BackupCodeRepository) Consume(ctx context.Context, userID, codeHash string, now time.Time) (bool, error) {
	var remaining int
	err := r.db.Pool.QueryRow(ctx, `
		WITH consumed AS (
			UPDATE mfa_backup_codes SET used = true, used_at = $3
			WHERE id = (
				SELECT id FROM mfa_backup_codes
				WHERE user_id = $1 AND code_hash = $2 AND NOT used AND invalidated_at IS NULL
				LIMIT 1
			) AND NOT used
			RETURNING user_id
		)
		UPDATE mfa_settings s
		SET backup_codes_remaining = GREATEST(s.backup_codes_remaining - 1, 0), last_used_at = $3
		FROM consumed
		WHERE s.user_id = consumed.user_id
		RETURNING s.backup_codes_remaining
	`, userID, codeHash, now).Scan(&remaining)

	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume backup code: %w", err)
	}
	return true, nil
}

// CountRemaining counts usable codes.
func (r *BackupCodeRepository) CountRemaining(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM mfa_backup_codes
		WHERE user_id = $1 AND NOT used AND invalidated_at IS NULL
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count backup codes: %w", err)
	}
	return count, nil
}
