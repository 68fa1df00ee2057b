package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/BradenHooton/warden/internal/config"
	"github.com/BradenHooton/warden/internal/metrics"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/repositories"
	"github.com/BradenHooton/warden/internal/risk"
)

// velocityWindow is how far back failures count towards the velocity signal.
const velocityWindow = 15 * time.Minute

// LoginAttemptRepository persists login attempts
type LoginAttemptRepository interface {
	RecordAttempt(ctx context.Context, attempt *models.LoginAttempt, window, observation time.Duration, decide repositories.LockoutDecider) (*repositories.AttemptOutcome, error)
	CountRecentFailures(ctx context.Context, identifier string, since time.Time) (int, error)
	KnownOrigin(ctx context.Context, userID, ip, fingerprint string) (ipSeen, deviceSeen bool, err error)
	HasHistory(ctx context.Context, userID string) (bool, error)
	LastSuccessful(ctx context.Context, userID string) (*models.LoginAttempt, error)
	Statistics(ctx context.Context, from, to time.Time) (*models.LoginStatistics, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// LockoutRepository persists lockout records
type LockoutRepository interface {
	GetActive(ctx context.Context, userID string, now time.Time) (*models.LockoutRecord, error)
	Create(ctx context.Context, record *models.LockoutRecord) error
	Release(ctx context.Context, userID, reason string, releasedBy *string, now time.Time) ([]models.LockoutRecord, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.LockoutRecord, error)
	Statistics(ctx context.Context, from, to, now time.Time) (*models.LockoutStatistics, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SecuritySettingsRepository persists per-user policy overrides
type SecuritySettingsRepository interface {
	Get(ctx context.Context, userID string) (*models.SecuritySettings, error)
	Upsert(ctx context.Context, s *models.SecuritySettings) (*models.SecuritySettings, error)
}

// Counter is a shared fixed-window counter
type Counter interface {
	Hit(ctx context.Context, subject string, window time.Duration) (int64, time.Duration, error)
	Count(ctx context.Context, subject string) (int64, error)
}

// AttemptResult is the outcome of recording one login attempt.
type AttemptResult struct {
	Attempt          *models.LoginAttempt
	LockoutTriggered bool
	Lockout          *models.LockoutRecord
}

// LockoutService records login attempts and applies the progressive lockout
// policy. Counting and lockout creation happen under a per-user database
// lock, so concurrent failures cannot both slip under the threshold.
type LockoutService struct {
	attempts   LoginAttemptRepository
	lockouts   LockoutRepository
	settings   SecuritySettingsRepository
	ipAttempts Counter
	ipFailures Counter
	audit      *AuditService
	metrics    *metrics.Metrics
	cfg        config.LockoutConfig
	weights    risk.Weights
	logger     *slog.Logger
	now        func() time.Time
}

func NewLockoutService(
	attempts LoginAttemptRepository,
	lockouts LockoutRepository,
	settings SecuritySettingsRepository,
	ipAttempts, ipFailures Counter,
	audit *AuditService,
	m *metrics.Metrics,
	cfg config.LockoutConfig,
	logger *slog.Logger,
) *LockoutService {
	return &LockoutService{
		attempts:   attempts,
		lockouts:   lockouts,
		settings:   settings,
		ipAttempts: ipAttempts,
		ipFailures: ipFailures,
		audit:      audit,
		metrics:    m,
		cfg:        cfg,
		weights:    risk.DefaultWeights(),
		logger:     logger,
		now:        time.Now,
	}
}

// Settings returns the user's policy, or the configured defaults when the
// user has never customized it.
func (s *LockoutService) Settings(ctx context.Context, userID string) (*models.SecuritySettings, error) {
	settings, err := s.settings.Get(ctx, userID)
	if err == nil {
		return settings, nil
	}
	if errors.Is(err, models.ErrNotFound) {
		defaults := s.cfg.DefaultSecuritySettings(userID)
		return &defaults, nil
	}
	s.logger.ErrorContext(ctx, "failed to load security settings", slog.String("user_id", userID), slog.Any("error", err))
	return nil, models.ErrInternal
}

// UpdateSettings validates and stores a user's policy.
func (s *LockoutService) UpdateSettings(ctx context.Context, settings *models.SecuritySettings, actorID string) (*models.SecuritySettings, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	settings.UpdatedAt = s.now()

	stored, err := s.settings.Upsert(ctx, settings)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to update security settings", slog.String("user_id", settings.UserID), slog.Any("error", err))
		return nil, models.ErrInternal
	}

	s.audit.RecordEvent(ctx, &models.SecurityEvent{
		EventType: models.SecurityEventSettingsChanged,
		UserID:    &settings.UserID,
		ActorID:   strPtr(actorID),
		Success:   true,
	})
	return stored, nil
}

// CalculateRiskScore weighs the attempt against the user's login history.
// Signal lookups are best effort: a failed lookup drops that signal rather
// than failing the login.
func (s *LockoutService) CalculateRiskScore(ctx context.Context, userID *string, identifier string, client models.ClientInfo) float64 {
	now := s.now()
	signals := risk.Signals{
		UnknownUser: userID == nil,
		Current:     client.Location,
	}

	if failures, err := s.attempts.CountRecentFailures(ctx, identifier, now.Add(-velocityWindow)); err != nil {
		s.logger.WarnContext(ctx, "risk: failed to count recent failures", slog.Any("error", err))
	} else {
		signals.RecentFailures = failures
	}

	if n, err := s.ipAttempts.Count(ctx, client.IPAddress); err != nil {
		s.logger.WarnContext(ctx, "risk: failed to read ip attempt counter", slog.Any("error", err))
	} else {
		signals.IPAttempts = int(n)
	}

	if userID != nil {
		s.historySignals(ctx, *userID, client, now, &signals)
	}

	return s.weights.Score(signals)
}

func (s *LockoutService) historySignals(ctx context.Context, userID string, client models.ClientInfo, now time.Time, signals *risk.Signals) {
	hasHistory, err := s.attempts.HasHistory(ctx, userID)
	if err != nil {
		s.logger.WarnContext(ctx, "risk: failed to read login history", slog.Any("error", err))
		return
	}
	if !hasHistory {
		return
	}

	ipSeen, deviceSeen, err := s.attempts.KnownOrigin(ctx, userID, client.IPAddress, deviceFingerprint(client))
	if err != nil {
		s.logger.WarnContext(ctx, "risk: failed to check known origin", slog.Any("error", err))
	} else {
		signals.NewIP = !ipSeen
		signals.NewDevice = !deviceSeen
	}

	last, err := s.attempts.LastSuccessful(ctx, userID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.WarnContext(ctx, "risk: failed to load last login", slog.Any("error", err))
		}
		return
	}
	signals.Previous = last.Location
	signals.Elapsed = now.Sub(last.AttemptedAt)
}

// ShouldBlockIPAddress is the coarse per-IP circuit breaker, independent of
// the target account.
func (s *LockoutService) ShouldBlockIPAddress(ctx context.Context, ip string) (bool, error) {
	n, err := s.ipFailures.Count(ctx, ip)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to read ip failure counter", slog.Any("error", err))
		return false, models.ErrInternal
	}
	return n > int64(s.cfg.IPBlockThreshold), nil
}

// GetActiveLockout returns the lockout in force for the user, or nil.
func (s *LockoutService) GetActiveLockout(ctx context.Context, userID string) (*models.LockoutRecord, error) {
	record, err := s.lockouts.GetActive(ctx, userID, s.now())
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load active lockout", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternal
	}
	return record, nil
}

// CheckLockout returns a *models.LockoutError when the user is locked.
func (s *LockoutService) CheckLockout(ctx context.Context, userID string) error {
	now := s.now()
	record, err := s.lockouts.GetActive(ctx, userID, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load active lockout", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternal
	}
	if record.IsEffective(now) {
		return models.NewLockoutError(record, now)
	}
	return nil
}

// RecordAttempt persists the attempt and evaluates the lockout policy for
// failures against a known user. Unknown identifiers are recorded but never
// produce a lockout.
func (s *LockoutService) RecordAttempt(ctx context.Context, in models.LoginAttemptInput, riskScore float64) (*AttemptResult, error) {
	now := s.now()

	var settings *models.SecuritySettings
	if in.UserID != nil {
		var err error
		if settings, err = s.Settings(ctx, *in.UserID); err != nil {
			return nil, err
		}
	} else {
		defaults := s.cfg.DefaultSecuritySettings("")
		settings = &defaults
	}

	attempt := &models.LoginAttempt{
		UserID:            in.UserID,
		Identifier:        in.Identifier,
		Success:           in.Success,
		FailureReason:     in.FailureReason,
		IPAddress:         in.IPAddress,
		UserAgent:         in.UserAgent,
		DeviceFingerprint: in.DeviceFingerprint,
		Location:          in.Location,
		RiskScore:         riskScore,
		IsSuspicious:      riskScore >= settings.SuspiciousActivityThreshold,
		AttemptedAt:       now,
	}

	outcome, err := s.attempts.RecordAttempt(ctx, attempt, settings.LockoutWindow(), s.cfg.ProgressiveObservation, s.decider(settings, attempt))
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record login attempt", slog.Any("error", err))
		return nil, models.ErrInternal
	}

	s.countIP(ctx, in.IPAddress, in.Success)
	s.audit.LogAttempt(ctx, outcome.Attempt)

	result := &AttemptResult{Attempt: outcome.Attempt, Lockout: outcome.Lockout}
	switch {
	case in.Success:
		s.metrics.LoginAttempt("success")
	case outcome.Created:
		result.LockoutTriggered = true
		s.metrics.LoginAttempt("locked_out")
		s.metrics.Lockout(string(outcome.Lockout.Reason))
		s.recordLockout(ctx, outcome.Lockout, models.SecurityEventLockoutTriggered, nil, in.IPAddress, in.UserAgent)
	default:
		s.metrics.LoginAttempt("failure")
	}
	return result, nil
}

func (s *LockoutService) countIP(ctx context.Context, ip string, success bool) {
	if ip == "" {
		return
	}
	if _, _, err := s.ipAttempts.Hit(ctx, ip, s.cfg.IPBlockWindow); err != nil {
		s.logger.WarnContext(ctx, "failed to count ip attempt", slog.Any("error", err))
	}
	if success {
		return
	}
	if _, _, err := s.ipFailures.Hit(ctx, ip, s.cfg.IPBlockWindow); err != nil {
		s.logger.WarnContext(ctx, "failed to count ip failure", slog.Any("error", err))
	}
}

// decider builds the lockout policy evaluated under the user's lock.
func (s *LockoutService) decider(settings *models.SecuritySettings, attempt *models.LoginAttempt) repositories.LockoutDecider {
	return func(state repositories.LockoutState) *models.LockoutRecord {
		if state.Active != nil {
			return state.Active
		}
		if state.FailureCount < settings.MaxFailedAttempts {
			return nil
		}

		level := 1
		if settings.EnableProgressiveLockout {
			level = state.RecentLockouts + 1
			if level > s.cfg.MaxProgressiveLevel {
				level = s.cfg.MaxProgressiveLevel
			}
		}

		reason := models.LockoutReasonTooManyFailures
		if attempt.IsSuspicious {
			reason = models.LockoutReasonSuspiciousActivity
		}

		expiresAt := attempt.AttemptedAt.Add(LockoutDuration(settings, level))
		return &models.LockoutRecord{
			UserID:             *attempt.UserID,
			Reason:             reason,
			Level:              level,
			FailedAttemptCount: state.FailureCount,
			TriggeringIP:       strPtr(attempt.IPAddress),
			StartedAt:          attempt.AttemptedAt,
			ExpiresAt:          &expiresAt,
		}
	}
}

// LockoutDuration is initial × multiplier^(level-1), capped at the maximum.
func LockoutDuration(settings *models.SecuritySettings, level int) time.Duration {
	if level < 1 {
		level = 1
	}
	initial := time.Duration(settings.InitialLockoutMinutes) * time.Minute
	maximum := time.Duration(settings.MaxLockoutMinutes) * time.Minute

	d := float64(initial) * math.Pow(settings.ProgressiveMultiplier, float64(level-1))
	if d > float64(maximum) {
		return maximum
	}
	return time.Duration(d)
}

// ManualLockout locks the user on behalf of an administrator. A nil duration
// means permanent. Any lockout already in force is superseded.
func (s *LockoutService) ManualLockout(ctx context.Context, userID, actorID, reason string, duration *time.Duration, client models.ClientInfo) (*models.LockoutRecord, error) {
	now := s.now()
	record := &models.LockoutRecord{
		UserID:    userID,
		Reason:    models.LockoutReasonManual,
		Level:     1,
		Details:   strPtr(reason),
		LockedBy:  strPtr(actorID),
		StartedAt: now,
	}
	if duration != nil {
		if *duration <= 0 {
			return nil, fmt.Errorf("%w: duration must be positive", models.ErrInvalidRequest)
		}
		expiresAt := now.Add(*duration)
		record.ExpiresAt = &expiresAt
	}

	if err := s.lockouts.Create(ctx, record); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.ErrorContext(ctx, "failed to create manual lockout", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternal
	}

	s.metrics.Lockout(string(models.LockoutReasonManual))
	s.recordLockout(ctx, record, models.SecurityEventLockoutManual, &actorID, client.IPAddress, client.UserAgent)
	return record, nil
}

// ReleaseLockout ends the lockout in force. The failure tally is left alone;
// it ages out of the rolling window on its own.
func (s *LockoutService) ReleaseLockout(ctx context.Context, userID, actorID, reason string, client models.ClientInfo) error {
	released, err := s.lockouts.Release(ctx, userID, models.ReleaseReasonManual, strPtr(actorID), s.now())
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.ErrorContext(ctx, "failed to release lockout", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternal
	}

	s.metrics.LockoutReleased(models.ReleaseReasonManual)
	for i := range released {
		if reason != "" {
			released[i].Details = &reason
		}
		s.recordLockout(ctx, &released[i], models.SecurityEventLockoutReleased, &actorID, client.IPAddress, client.UserAgent)
	}
	return nil
}

func (s *LockoutService) recordLockout(ctx context.Context, record *models.LockoutRecord, eventType string, actorID *string, ip, userAgent string) {
	metadata := models.EventMetadata{
		"lockout_id": record.ID,
		"reason":     string(record.Reason),
		"level":      record.Level,
	}
	if record.ExpiresAt != nil {
		metadata["expires_at"] = record.ExpiresAt.UTC().Format(time.RFC3339)
	}

	s.audit.RecordEvent(ctx, &models.SecurityEvent{
		EventType: eventType,
		ActorID:   actorID,
		UserID:    &record.UserID,
		Success:   true,
		Reason:    record.Details,
		IPAddress: strPtr(ip),
		UserAgent: strPtr(userAgent),
		Metadata:  metadata,
	})
}

// LockoutHistory returns the user's most recent lockouts.
func (s *LockoutService) LockoutHistory(ctx context.Context, userID string, limit int) ([]models.LockoutRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	records, err := s.lockouts.ListByUser(ctx, userID, limit)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list lockouts", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternal
	}
	return records, nil
}

func (s *LockoutService) GetLockoutStatistics(ctx context.Context, from, to time.Time) (*models.LockoutStatistics, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", models.ErrInvalidRequest)
	}
	stats, err := s.lockouts.Statistics(ctx, from, to, s.now())
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load lockout statistics", slog.Any("error", err))
		return nil, models.ErrInternal
	}
	return stats, nil
}

func (s *LockoutService) GetLoginStatistics(ctx context.Context, from, to time.Time) (*models.LoginStatistics, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", models.ErrInvalidRequest)
	}
	stats, err := s.attempts.Statistics(ctx, from, to)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load login statistics", slog.Any("error", err))
		return nil, models.ErrInternal
	}
	return stats, nil
}

// Purge deletes attempts older than attemptCutoff and lockout history older
// than lockoutCutoff.
func (s *LockoutService) Purge(ctx context.Context, attemptCutoff, lockoutCutoff time.Time) (attempts, lockouts int64, err error) {
	if attempts, err = s.attempts.PurgeBefore(ctx, attemptCutoff); err != nil {
		return 0, 0, err
	}
	if lockouts, err = s.lockouts.PurgeBefore(ctx, lockoutCutoff); err != nil {
		return attempts, 0, err
	}
	return attempts, lockouts, nil
}

func deviceFingerprint(client models.ClientInfo) string {
	if client.DeviceFingerprint != "" {
		return client.DeviceFingerprint
	}
	return risk.Fingerprint(client.IPAddress, client.UserAgent)
}
