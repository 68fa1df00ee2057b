package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

// SecurityEventRepository persists security events
type SecurityEventRepository interface {
	Create(ctx context.Context, e *models.SecurityEvent) error
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MfaAuditRepository persists the MFA audit trail
type MfaAuditRepository interface {
	Create(ctx context.Context, entry *models.MfaAuditLog) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.MfaAuditLog, int, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditService dual-writes security events: a structured log line right away
// and a persisted row. Persistence failures are logged, never returned, so a
// failing audit store cannot block authentication.
type AuditService struct {
	events      SecurityEventRepository
	mfa         MfaAuditRepository
	auditLogger *pkglogger.AuditLogger
	logger      *slog.Logger
}

func NewAuditService(events SecurityEventRepository, mfa MfaAuditRepository, logger *slog.Logger) *AuditService {
	return &AuditService{
		events:      events,
		mfa:         mfa,
		auditLogger: pkglogger.NewAuditLogger(logger),
		logger:      logger,
	}
}

// RecordMfa writes one MFA audit entry.
func (s *AuditService) RecordMfa(ctx context.Context, entry *models.MfaAuditLog) {
	event := pkglogger.AuditEvent{
		EventType: "mfa_" + string(entry.Action),
		UserID:    entry.UserID,
		IPAddress: entry.IPAddress,
		UserAgent: entry.UserAgent,
		Success:   entry.Success,
	}
	if entry.FailureReason != nil {
		event.FailureReason = *entry.FailureReason
	}
	if entry.Method != nil {
		event.Metadata = map[string]string{"method": string(*entry.Method)}
	}
	s.auditLogger.LogMFAEvent(ctx, event)

	if err := s.mfa.Create(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist mfa audit log",
			slog.String("action", string(entry.Action)),
			slog.Any("error", err),
		)
	}
}

// RecordEvent writes one security event.
func (s *AuditService) RecordEvent(ctx context.Context, e *models.SecurityEvent) {
	event := pkglogger.AuditEvent{
		EventType: e.EventType,
		Success:   e.Success,
	}
	if e.UserID != nil {
		event.UserID = *e.UserID
	}
	if e.IPAddress != nil {
		event.IPAddress = *e.IPAddress
	}
	if e.UserAgent != nil {
		event.UserAgent = *e.UserAgent
	}
	if e.Reason != nil {
		event.FailureReason = *e.Reason
	}
	if e.ActorID != nil {
		event.Metadata = map[string]string{"actor_id": *e.ActorID}
	}

	switch e.EventType {
	case models.SecurityEventLockoutTriggered, models.SecurityEventLockoutManual, models.SecurityEventLockoutReleased:
		s.auditLogger.LogLockout(ctx, event)
	case models.SecurityEventSessionTerminated, models.SecurityEventSessionSuspicious:
		s.auditLogger.LogSessionEvent(ctx, event)
	default:
		s.auditLogger.LogAuthAttempt(ctx, event)
	}

	if err := s.events.Create(ctx, e); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist security event",
			slog.String("event_type", e.EventType),
			slog.Any("error", err),
		)
	}
}

// LogAttempt emits the structured line for a login attempt. The attempt row
// itself is the persisted record.
func (s *AuditService) LogAttempt(ctx context.Context, a *models.LoginAttempt) {
	event := pkglogger.AuditEvent{
		EventType: "login",
		IPAddress: a.IPAddress,
		UserAgent: a.UserAgent,
		Success:   a.Success,
	}
	if a.UserID != nil {
		event.UserID = *a.UserID
	}
	if a.FailureReason != nil {
		event.FailureReason = *a.FailureReason
	}
	if a.IsSuspicious {
		event.Metadata = map[string]string{"suspicious": "true"}
	}
	s.auditLogger.LogAuthAttempt(ctx, event)
}

// ListMfa returns one page of a user's MFA audit trail.
func (s *AuditService) ListMfa(ctx context.Context, userID string, limit, offset int) (*models.MfaAuditPage, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	entries, total, err := s.mfa.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list mfa audit logs", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternal
	}
	return &models.MfaAuditPage{Entries: entries, Total: total, Limit: limit, Offset: offset}, nil
}

// Purge drops audit rows older than cutoff.
func (s *AuditService) Purge(ctx context.Context, cutoff time.Time) (events, mfa int64, err error) {
	if events, err = s.events.PurgeBefore(ctx, cutoff); err != nil {
		return 0, 0, err
	}
	if mfa, err = s.mfa.PurgeBefore(ctx, cutoff); err != nil {
		return events, 0, err
	}
	return events, mfa, nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
