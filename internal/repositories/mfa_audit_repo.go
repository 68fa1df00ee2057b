package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MfaAuditRepository is the append-only MFA audit trail
type MfaAuditRepository struct {
	pool *pgxpool.Pool
}

func NewMfaAuditRepository(db *database.DB) *MfaAuditRepository {
	return &MfaAuditRepository{pool: db.Pool}
}

func scanMfaAudit(row rowScanner) (*models.MfaAuditLog, error) {
	var l models.MfaAuditLog
	err := row.Scan(
		&l.ID, &l.UserID, &l.Action, &l.Method, &l.Success,
		&l.FailureReason, &l.IPAddress, &l.UserAgent, &l.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &l, nil
}

// Create appends an entry
func (r *MfaAuditRepository) Create(ctx context.Context, entry *models.MfaAuditLog) error {
	query := `
		INSERT INTO mfa_audit_logs (user_id, action, method, success, failure_reason, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))
		RETURNING id, created_at`

	var createdAt *time.Time
	if !entry.CreatedAt.IsZero() {
		createdAt = &entry.CreatedAt
	}

	err := r.pool.QueryRow(ctx, query,
		entry.UserID, entry.Action, entry.Method, entry.Success,
		entry.FailureReason, entry.IPAddress, entry.UserAgent, createdAt,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create mfa audit log: %w", err)
	}
	return nil
}

// ListByUser returns a page of the user's trail, newest first, and the total.
func (r *MfaAuditRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.MfaAuditLog, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM mfa_audit_logs WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count mfa audit logs: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, action, method, success, failure_reason, ip_address, user_agent, created_at
		FROM mfa_audit_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query mfa audit logs: %w", err)
	}
	defer rows.Close()

	entries := make([]models.MfaAuditLog, 0, limit)
	for rows.Next() {
		entry, err := scanMfaAudit(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan mfa audit log: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating mfa audit rows: %w", err)
	}
	return entries, total, nil
}

// PurgeBefore removes entries older than cutoff
func (r *MfaAuditRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM mfa_audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge mfa audit logs: %w", err)
	}
	return result.RowsAffected(), nil
}
