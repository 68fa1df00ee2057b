package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/metrics"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/risk"
)

const (
	// suspiciousLookback bounds the history a new session is compared against.
	suspiciousLookback = 30 * 24 * time.Hour
	suspiciousHistory  = 50
)

// SessionRepository persists user sessions
type SessionRepository interface {
	CreateWithinCap(ctx context.Context, s *models.UserSession, maxSessions int, now time.Time) ([]models.UserSession, error)
	GetByID(ctx context.Context, id string) (*models.UserSession, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.UserSession, error)
	GetByRefreshHash(ctx context.Context, refreshHash string) (*models.UserSession, error)
	IsActive(ctx context.Context, id string, now time.Time) (bool, error)
	Touch(ctx context.Context, tokenHash string, timeout time.Duration, now time.Time) (*models.UserSession, error)
	TouchByID(ctx context.Context, id string, timeout time.Duration, now time.Time) (*models.UserSession, error)
	RotateRefresh(ctx context.Context, id, oldHash, newHash string, refreshExpiresAt time.Time, timeout time.Duration, now time.Time) (*models.UserSession, error)
	Terminate(ctx context.Context, userID, id, reason string, now time.Time) (*models.UserSession, error)
	TerminateAll(ctx context.Context, userID, keepID, reason string, now time.Time) ([]models.UserSession, error)
	ListActive(ctx context.Context, userID string, now time.Time) ([]models.UserSession, error)
	ListRecent(ctx context.Context, userID string, since time.Time, limit int) ([]models.UserSession, error)
	ApplyTimeout(ctx context.Context, userID string, timeout time.Duration, now time.Time) (int64, error)
	Statistics(ctx context.Context, userID string, now time.Time) (*models.SessionStatistics, error)
	ExpireIdle(ctx context.Context, now time.Time) (int64, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SecurityPolicy resolves and updates per-user security settings
type SecurityPolicy interface {
	Settings(ctx context.Context, userID string) (*models.SecuritySettings, error)
	UpdateSettings(ctx context.Context, settings *models.SecuritySettings, actorID string) (*models.SecuritySettings, error)
}

// SessionService admits, renews and terminates user sessions.
type SessionService struct {
	repo          SessionRepository
	policy        SecurityPolicy
	users         UserDirectory
	email         EmailService
	audit         *AuditService
	metrics       *metrics.Metrics
	refreshExpiry time.Duration
	maxTravelKmh  float64
	logger        *slog.Logger
	now           func() time.Time
}

func NewSessionService(
	repo SessionRepository,
	policy SecurityPolicy,
	users UserDirectory,
	email EmailService,
	audit *AuditService,
	m *metrics.Metrics,
	refreshExpiry time.Duration,
	logger *slog.Logger,
) *SessionService {
	return &SessionService{
		repo:          repo,
		policy:        policy,
		users:         users,
		email:         email,
		audit:         audit,
		metrics:       m,
		refreshExpiry: refreshExpiry,
		maxTravelKmh:  risk.DefaultWeights().MaxTravelKmh,
		logger:        logger,
		now:           time.Now,
	}
}

// CreateSession admits a new session for the user, evicting the least
// recently active sessions when the user is at the concurrent-session cap.
// The raw session and refresh tokens are only returned here.
func (s *SessionService) CreateSession(ctx context.Context, in models.NewSession) (*models.CreatedSession, error) {
	settings, err := s.policy.Settings(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	sessionToken, err := auth.GenerateSessionToken()
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate session token", slog.Any("error", err))
		return nil, models.ErrInternal
	}
	refreshToken, err := auth.GenerateRefreshToken()
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate refresh token", slog.Any("error", err))
		return nil, models.ErrInternal
	}

	device := in.Device
	if device == nil {
		device = risk.ParseDevice(in.Client.UserAgent)
	}

	suspicious, err := s.IsSuspiciousSessionActivity(ctx, in.UserID, in.Client)
	if err != nil {
		// the session is still admitted; the check is advisory
		s.logger.WarnContext(ctx, "suspicious session check failed", slog.String("user_id", in.UserID), slog.Any("error", err))
	}

	now := s.now()
	session := &models.UserSession{
		UserID:           in.UserID,
		SessionTokenHash: auth.HashToken(sessionToken),
		RefreshTokenHash: auth.HashToken(refreshToken),
		IPAddress:        in.Client.IPAddress,
		UserAgent:        in.Client.UserAgent,
		Device:           device,
		Location:         in.Client.Location,
		IsSuspicious:     suspicious,
		CreatedAt:        now,
		LastActivityAt:   now,
		ExpiresAt:        now.Add(settings.SessionTimeout()),
		RefreshExpiresAt: now.Add(s.refreshExpiry),
		IsActive:         true,
	}

	evicted, err := s.repo.CreateWithinCap(ctx, session, settings.MaxConcurrentSessions, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to create session", slog.String("user_id", in.UserID), slog.Any("error", err))
		return nil, models.ErrInternal
	}

	s.metrics.SessionCreated(len(evicted))
	for i := range evicted {
		s.recordTermination(ctx, &evicted[i], models.TerminationConcurrentLimit, in.Client)
	}

	s.logger.InfoContext(ctx, "session created",
		slog.String("user_id", in.UserID),
		slog.String("session_id", session.ID),
		slog.Int("evicted", len(evicted)),
		slog.Bool("suspicious", suspicious),
	)

	if suspicious {
		s.audit.RecordEvent(ctx, &models.SecurityEvent{
			EventType: models.SecurityEventSessionSuspicious,
			UserID:    &in.UserID,
			Success:   true,
			IPAddress: strPtr(in.Client.IPAddress),
			UserAgent: strPtr(in.Client.UserAgent),
			Metadata:  models.EventMetadata{"session_id": session.ID},
		})
		if settings.SendSecurityAlerts {
			if err := s.SendSessionSecurityAlert(ctx, in.UserID, session); err != nil {
				s.logger.WarnContext(ctx, "failed to send session security alert", slog.String("user_id", in.UserID), slog.Any("error", err))
			}
		}
	}

	return &models.CreatedSession{
		Session:      session,
		SessionToken: sessionToken,
		RefreshToken: refreshToken,
		Terminated:   evicted,
		Suspicious:   suspicious,
	}, nil
}

// IsSuspiciousSessionActivity reports whether a new session deviates sharply
// from the user's recent sessions: both IP and browser are new, or the
// location is unreachable from the previous one in the elapsed time. Users
// with no recent history are never flagged.
func (s *SessionService) IsSuspiciousSessionActivity(ctx context.Context, userID string, client models.ClientInfo) (bool, error) {
	now := s.now()
	recent, err := s.repo.ListRecent(ctx, userID, now.Add(-suspiciousLookback), suspiciousHistory)
	if err != nil {
		return false, fmt.Errorf("failed to load recent sessions: %w", err)
	}
	if len(recent) == 0 {
		return false, nil
	}

	family := risk.BrowserFamily(client.UserAgent)
	knownIP, knownDevice := false, false
	for _, prev := range recent {
		if prev.IPAddress == client.IPAddress {
			knownIP = true
		}
		if family != "" && risk.BrowserFamily(prev.UserAgent) == family {
			knownDevice = true
		}
	}
	if !knownIP && !knownDevice {
		return true, nil
	}

	// recent is newest first
	for _, prev := range recent {
		if prev.Location.HasCoordinates() {
			return risk.ImpossibleTravel(prev.Location, client.Location, now.Sub(prev.LastActivityAt), s.maxTravelKmh), nil
		}
	}
	return false, nil
}

// SendSessionSecurityAlert notifies the account owner about a session.
func (s *SessionService) SendSessionSecurityAlert(ctx context.Context, userID string, session *models.UserSession) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	return s.email.SendSecurityAlert(ctx, user.Email, SecurityAlert{
		Subject:    "New sign-in to your account",
		Summary:    "We noticed a sign-in from a device or location we have not seen recently.",
		IPAddress:  session.IPAddress,
		Device:     session.Device.Label(),
		Location:   session.Location.Label(),
		OccurredAt: session.CreatedAt,
	})
}

// UpdateActivity slides the idle deadline of the session identified by its
// raw session token.
func (s *SessionService) UpdateActivity(ctx context.Context, sessionToken string) (*models.UserSession, error) {
	hash := auth.HashToken(sessionToken)
	current, err := s.repo.GetByTokenHash(ctx, hash)
	if err != nil {
		return nil, s.sessionLookupError(ctx, err)
	}

	settings, err := s.policy.Settings(ctx, current.UserID)
	if err != nil {
		return nil, err
	}

	session, err := s.repo.Touch(ctx, hash, settings.SessionTimeout(), s.now())
	if err != nil {
		return nil, s.sessionLookupError(ctx, err)
	}
	return session, nil
}

// TouchSession is UpdateActivity keyed by the session id carried in an
// access token.
func (s *SessionService) TouchSession(ctx context.Context, userID, sessionID string) error {
	settings, err := s.policy.Settings(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := s.repo.TouchByID(ctx, sessionID, settings.SessionTimeout(), s.now()); err != nil {
		return s.sessionLookupError(ctx, err)
	}
	return nil
}

// ValidateSession returns the session for a raw session token if it is live.
func (s *SessionService) ValidateSession(ctx context.Context, sessionToken string) (*models.UserSession, error) {
	session, err := s.repo.GetByTokenHash(ctx, auth.HashToken(sessionToken))
	if err != nil {
		return nil, s.sessionLookupError(ctx, err)
	}
	if !session.IsLive(s.now()) {
		return nil, models.ErrUnauthorized
	}
	return session, nil
}

// IsSessionActive lets the token manager check that an access token's
// session still exists.
func (s *SessionService) IsSessionActive(ctx context.Context, sessionID string) (bool, error) {
	return s.repo.IsActive(ctx, sessionID, s.now())
}

func (s *SessionService) sessionLookupError(ctx context.Context, err error) error {
	if errors.Is(err, models.ErrNotFound) {
		return models.ErrUnauthorized
	}
	s.logger.ErrorContext(ctx, "session lookup failed", slog.Any("error", err))
	return models.ErrInternal
}

// RotateRefreshToken exchanges a refresh token for a new one. The swap is a
// compare-and-set on the stored hash, so a token can be redeemed once.
func (s *SessionService) RotateRefreshToken(ctx context.Context, refreshToken string) (*models.UserSession, string, error) {
	oldHash := auth.HashToken(refreshToken)
	session, err := s.repo.GetByRefreshHash(ctx, oldHash)
	if err != nil {
		return nil, "", s.sessionLookupError(ctx, err)
	}

	now := s.now()
	if !session.IsLive(now) || !session.RefreshExpiresAt.After(now) {
		return nil, "", models.ErrUnauthorized
	}

	settings, err := s.policy.Settings(ctx, session.UserID)
	if err != nil {
		return nil, "", err
	}

	newToken, err := auth.GenerateRefreshToken()
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate refresh token", slog.Any("error", err))
		return nil, "", models.ErrInternal
	}

	rotated, err := s.repo.RotateRefresh(ctx, session.ID, oldHash, auth.HashToken(newToken), now.Add(s.refreshExpiry), settings.SessionTimeout(), now)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.WarnContext(ctx, "refresh token already rotated", slog.String("session_id", session.ID))
		}
		return nil, "", s.sessionLookupError(ctx, err)
	}
	return rotated, newToken, nil
}

// TerminateSession ends one of the user's sessions.
func (s *SessionService) TerminateSession(ctx context.Context, userID, sessionID, reason string, client models.ClientInfo) error {
	session, err := s.repo.Terminate(ctx, userID, sessionID, reason, s.now())
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.ErrorContext(ctx, "failed to terminate session", slog.String("session_id", sessionID), slog.Any("error", err))
		return models.ErrInternal
	}

	s.metrics.SessionsTerminated(reason, 1)
	s.recordTermination(ctx, session, reason, client)
	return nil
}

// TerminateAllOtherSessions ends every session of the user except currentID.
func (s *SessionService) TerminateAllOtherSessions(ctx context.Context, userID, currentID string, client models.ClientInfo) (int, error) {
	if currentID == "" {
		return 0, fmt.Errorf("%w: current session is required", models.ErrInvalidRequest)
	}
	return s.terminateAll(ctx, userID, currentID, models.TerminationOtherSessions, client)
}

// TerminateAllUserSessions ends every session of the user.
func (s *SessionService) TerminateAllUserSessions(ctx context.Context, userID, reason string, client models.ClientInfo) (int, error) {
	if reason == "" {
		reason = models.TerminationAllSessions
	}
	return s.terminateAll(ctx, userID, "", reason, client)
}

func (s *SessionService) terminateAll(ctx context.Context, userID, keepID, reason string, client models.ClientInfo) (int, error) {
	terminated, err := s.repo.TerminateAll(ctx, userID, keepID, reason, s.now())
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to terminate sessions", slog.String("user_id", userID), slog.Any("error", err))
		return 0, models.ErrInternal
	}

	s.metrics.SessionsTerminated(reason, len(terminated))
	for i := range terminated {
		s.recordTermination(ctx, &terminated[i], reason, client)
	}
	return len(terminated), nil
}

func (s *SessionService) recordTermination(ctx context.Context, session *models.UserSession, reason string, client models.ClientInfo) {
	s.audit.RecordEvent(ctx, &models.SecurityEvent{
		EventType: models.SecurityEventSessionTerminated,
		UserID:    &session.UserID,
		Success:   true,
		Reason:    &reason,
		IPAddress: strPtr(client.IPAddress),
		UserAgent: strPtr(client.UserAgent),
		Metadata: models.EventMetadata{
			"session_id": session.ID,
			"session_ip": session.IPAddress,
		},
	})
}

// GetActiveSessions lists the user's live sessions, flagging currentID.
func (s *SessionService) GetActiveSessions(ctx context.Context, userID, currentID string) ([]models.SessionSummary, error) {
	now := s.now()
	sessions, err := s.repo.ListActive(ctx, userID, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list sessions", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternal
	}

	summaries := make([]models.SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		summaries = append(summaries, models.SessionSummary{
			ID:             session.ID,
			IPAddress:      session.IPAddress,
			Device:         session.Device,
			Location:       session.Location,
			CreatedAt:      session.CreatedAt,
			LastActivityAt: session.LastActivityAt,
			ExpiresAt:      session.ExpiresAt,
			IsCurrent:      session.ID == currentID,
			IsSuspicious:   session.IsSuspicious,
			ActivityScore:  ActivityScore(session.LastActivityAt, now),
		})
	}
	return summaries, nil
}

// ActivityScore is 100 minus 10 per full idle day, floored at zero.
func ActivityScore(lastActivity, now time.Time) int {
	idleDays := int(now.Sub(lastActivity) / (24 * time.Hour))
	score := 100 - 10*idleDays
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	}
	return score
}

func (s *SessionService) GetSessionStatistics(ctx context.Context, userID string) (*models.SessionStatistics, error) {
	stats, err := s.repo.Statistics(ctx, userID, s.now())
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load session statistics", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternal
	}
	return stats, nil
}

// UpdateSessionTimeout stores the new idle timeout and applies it to the
// user's live sessions.
func (s *SessionService) UpdateSessionTimeout(ctx context.Context, userID string, minutes int) (*models.SecuritySettings, error) {
	current, err := s.policy.Settings(ctx, userID)
	if err != nil {
		return nil, err
	}
	updated := *current
	updated.SessionTimeoutMinutes = minutes

	stored, err := s.policy.UpdateSettings(ctx, &updated, userID)
	if err != nil {
		return nil, err
	}

	n, err := s.repo.ApplyTimeout(ctx, userID, stored.SessionTimeout(), s.now())
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to apply session timeout", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternal
	}
	s.logger.InfoContext(ctx, "session timeout updated",
		slog.String("user_id", userID),
		slog.Int("minutes", minutes),
		slog.Int64("sessions", n),
	)
	return stored, nil
}

// Cleanup expires idle sessions and deletes ended ones older than cutoff.
func (s *SessionService) Cleanup(ctx context.Context, cutoff time.Time) (expired, purged int64, err error) {
	if expired, err = s.repo.ExpireIdle(ctx, s.now()); err != nil {
		return 0, 0, err
	}
	if purged, err = s.repo.PurgeBefore(ctx, cutoff); err != nil {
		return expired, 0, err
	}
	if expired > 0 {
		s.logger.InfoContext(ctx, "expired idle sessions", slog.Int64("count", expired))
	}
	return expired, purged, nil
}
