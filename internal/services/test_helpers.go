package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/repositories"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// newTestAudit returns an AuditService whose stores accept everything.
func newTestAudit() (*AuditService, *MockSecurityEventRepository, *MockMfaAuditRepository) {
	events := &MockSecurityEventRepository{}
	mfa := &MockMfaAuditRepository{}
	return NewAuditService(events, mfa, newTestLogger()), events, mfa
}

// MockUserDirectory implements UserDirectory for testing
type MockUserDirectory struct {
	GetByIDFunc    func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc func(ctx context.Context, email string) (*models.User, error)
}

func (m *MockUserDirectory) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserDirectory) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

// MockLoginAttemptRepository implements LoginAttemptRepository for testing
type MockLoginAttemptRepository struct {
	RecordAttemptFunc       func(ctx context.Context, attempt *models.LoginAttempt, window, observation time.Duration, decide repositories.LockoutDecider) (*repositories.AttemptOutcome, error)
	CountRecentFailuresFunc func(ctx context.Context, identifier string, since time.Time) (int, error)
	KnownOriginFunc         func(ctx context.Context, userID, ip, fingerprint string) (bool, bool, error)
	HasHistoryFunc          func(ctx context.Context, userID string) (bool, error)
	LastSuccessfulFunc      func(ctx context.Context, userID string) (*models.LoginAttempt, error)
	StatisticsFunc          func(ctx context.Context, from, to time.Time) (*models.LoginStatistics, error)
	PurgeBeforeFunc         func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *MockLoginAttemptRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt, window, observation time.Duration, decide repositories.LockoutDecider) (*repositories.AttemptOutcome, error) {
	if m.RecordAttemptFunc != nil {
		return m.RecordAttemptFunc(ctx, attempt, window, observation, decide)
	}
	return &repositories.AttemptOutcome{Attempt: attempt}, nil
}

func (m *MockLoginAttemptRepository) CountRecentFailures(ctx context.Context, identifier string, since time.Time) (int, error) {
	if m.CountRecentFailuresFunc != nil {
		return m.CountRecentFailuresFunc(ctx, identifier, since)
	}
	return 0, nil
}

func (m *MockLoginAttemptRepository) KnownOrigin(ctx context.Context, userID, ip, fingerprint string) (bool, bool, error) {
	if m.KnownOriginFunc != nil {
		return m.KnownOriginFunc(ctx, userID, ip, fingerprint)
	}
	return true, true, nil
}

func (m *MockLoginAttemptRepository) HasHistory(ctx context.Context, userID string) (bool, error) {
	if m.HasHistoryFunc != nil {
		return m.HasHistoryFunc(ctx, userID)
	}
	return false, nil
}

func (m *MockLoginAttemptRepository) LastSuccessful(ctx context.Context, userID string) (*models.LoginAttempt, error) {
	if m.LastSuccessfulFunc != nil {
		return m.LastSuccessfulFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *MockLoginAttemptRepository) Statistics(ctx context.Context, from, to time.Time) (*models.LoginStatistics, error) {
	if m.StatisticsFunc != nil {
		return m.StatisticsFunc(ctx, from, to)
	}
	return &models.LoginStatistics{From: from, To: to}, nil
}

func (m *MockLoginAttemptRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.PurgeBeforeFunc != nil {
		return m.PurgeBeforeFunc(ctx, cutoff)
	}
	return 0, nil
}

// MockLockoutRepository implements LockoutRepository for testing
type MockLockoutRepository struct {
	GetActiveFunc   func(ctx context.Context, userID string, now time.Time) (*models.LockoutRecord, error)
	CreateFunc      func(ctx context.Context, record *models.LockoutRecord) error
	ReleaseFunc     func(ctx context.Context, userID, reason string, releasedBy *string, now time.Time) ([]models.LockoutRecord, error)
	ListByUserFunc  func(ctx context.Context, userID string, limit int) ([]models.LockoutRecord, error)
	StatisticsFunc  func(ctx context.Context, from, to, now time.Time) (*models.LockoutStatistics, error)
	PurgeBeforeFunc func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *MockLockoutRepository) GetActive(ctx context.Context, userID string, now time.Time) (*models.LockoutRecord, error) {
	if m.GetActiveFunc != nil {
		return m.GetActiveFunc(ctx, userID, now)
	}
	return nil, nil
}

func (m *MockLockoutRepository) Create(ctx context.Context, record *models.LockoutRecord) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, record)
	}
	return nil
}

func (m *MockLockoutRepository) Release(ctx context.Context, userID, reason string, releasedBy *string, now time.Time) ([]models.LockoutRecord, error) {
	if m.ReleaseFunc != nil {
		return m.ReleaseFunc(ctx, userID, reason, releasedBy, now)
	}
	return nil, models.ErrNotFound
}

func (m *MockLockoutRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.LockoutRecord, error) {
	if m.ListByUserFunc != nil {
		return m.ListByUserFunc(ctx, userID, limit)
	}
	return []models.LockoutRecord{}, nil
}

func (m *MockLockoutRepository) Statistics(ctx context.Context, from, to, now time.Time) (*models.LockoutStatistics, error) {
	if m.StatisticsFunc != nil {
		return m.StatisticsFunc(ctx, from, to, now)
	}
	return &models.LockoutStatistics{From: from, To: to, ByReason: map[models.LockoutReason]int{}}, nil
}

func (m *MockLockoutRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.PurgeBeforeFunc != nil {
		return m.PurgeBeforeFunc(ctx, cutoff)
	}
	return 0, nil
}

// MockSecuritySettingsRepository implements SecuritySettingsRepository for testing
type MockSecuritySettingsRepository struct {
	GetFunc    func(ctx context.Context, userID string) (*models.SecuritySettings, error)
	UpsertFunc func(ctx context.Context, s *models.SecuritySettings) (*models.SecuritySettings, error)
}

func (m *MockSecuritySettingsRepository) Get(ctx context.Context, userID string) (*models.SecuritySettings, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *MockSecuritySettingsRepository) Upsert(ctx context.Context, s *models.SecuritySettings) (*models.SecuritySettings, error) {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, s)
	}
	return s, nil
}

// MockSessionRepository implements SessionRepository for testing
type MockSessionRepository struct {
	CreateWithinCapFunc  func(ctx context.Context, s *models.UserSession, maxSessions int, now time.Time) ([]models.UserSession, error)
	GetByIDFunc          func(ctx context.Context, id string) (*models.UserSession, error)
	GetByTokenHashFunc   func(ctx context.Context, tokenHash string) (*models.UserSession, error)
	GetByRefreshHashFunc func(ctx context.Context, refreshHash string) (*models.UserSession, error)
	IsActiveFunc         func(ctx context.Context, id string, now time.Time) (bool, error)
	TouchFunc            func(ctx context.Context, tokenHash string, timeout time.Duration, now time.Time) (*models.UserSession, error)
	TouchByIDFunc        func(ctx context.Context, id string, timeout time.Duration, now time.Time) (*models.UserSession, error)
	RotateRefreshFunc    func(ctx context.Context, id, oldHash, newHash string, refreshExpiresAt time.Time, timeout time.Duration, now time.Time) (*models.UserSession, error)
	TerminateFunc        func(ctx context.Context, userID, id, reason string, now time.Time) (*models.UserSession, error)
	TerminateAllFunc     func(ctx context.Context, userID, keepID, reason string, now time.Time) ([]models.UserSession, error)
	ListActiveFunc       func(ctx context.Context, userID string, now time.Time) ([]models.UserSession, error)
	ListRecentFunc       func(ctx context.Context, userID string, since time.Time, limit int) ([]models.UserSession, error)
	ApplyTimeoutFunc     func(ctx context.Context, userID string, timeout time.Duration, now time.Time) (int64, error)
	StatisticsFunc       func(ctx context.Context, userID string, now time.Time) (*models.SessionStatistics, error)
	ExpireIdleFunc       func(ctx context.Context, now time.Time) (int64, error)
	PurgeBeforeFunc      func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *MockSessionRepository) CreateWithinCap(ctx context.Context, s *models.UserSession, maxSessions int, now time.Time) ([]models.UserSession, error) {
	if m.CreateWithinCapFunc != nil {
		return m.CreateWithinCapFunc(ctx, s, maxSessions, now)
	}
	s.ID = "session-new"
	return nil, nil
}

func (m *MockSessionRepository) GetByID(ctx context.Context, id string) (*models.UserSession, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.UserSession, error) {
	if m.GetByTokenHashFunc != nil {
		return m.GetByTokenHashFunc(ctx, tokenHash)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionRepository) GetByRefreshHash(ctx context.Context, refreshHash string) (*models.UserSession, error) {
	if m.GetByRefreshHashFunc != nil {
		return m.GetByRefreshHashFunc(ctx, refreshHash)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionRepository) IsActive(ctx context.Context, id string, now time.Time) (bool, error) {
	if m.IsActiveFunc != nil {
		return m.IsActiveFunc(ctx, id, now)
	}
	return false, nil
}

func (m *MockSessionRepository) Touch(ctx context.Context, tokenHash string, timeout time.Duration, now time.Time) (*models.UserSession, error) {
	if m.TouchFunc != nil {
		return m.TouchFunc(ctx, tokenHash, timeout, now)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionRepository) TouchByID(ctx context.Context, id string, timeout time.Duration, now time.Time) (*models.UserSession, error) {
	if m.TouchByIDFunc != nil {
		return m.TouchByIDFunc(ctx, id, timeout, now)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionRepository) RotateRefresh(ctx context.Context, id, oldHash, newHash string, refreshExpiresAt time.Time, timeout time.Duration, now time.Time) (*models.UserSession, error) {
	if m.RotateRefreshFunc != nil {
		return m.RotateRefreshFunc(ctx, id, oldHash, newHash, refreshExpiresAt, timeout, now)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionRepository) Terminate(ctx context.Context, userID, id, reason string, now time.Time) (*models.UserSession, error) {
	if m.TerminateFunc != nil {
		return m.TerminateFunc(ctx, userID, id, reason, now)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionRepository) TerminateAll(ctx context.Context, userID, keepID, reason string, now time.Time) ([]models.UserSession, error) {
	if m.TerminateAllFunc != nil {
		return m.TerminateAllFunc(ctx, userID, keepID, reason, now)
	}
	return []models.UserSession{}, nil
}

func (m *MockSessionRepository) ListActive(ctx context.Context, userID string, now time.Time) ([]models.UserSession, error) {
	if m.ListActiveFunc != nil {
		return m.ListActiveFunc(ctx, userID, now)
	}
	return []models.UserSession{}, nil
}

func (m *MockSessionRepository) ListRecent(ctx context.Context, userID string, since time.Time, limit int) ([]models.UserSession, error) {
	if m.ListRecentFunc != nil {
		return m.ListRecentFunc(ctx, userID, since, limit)
	}
	return []models.UserSession{}, nil
}

func (m *MockSessionRepository) ApplyTimeout(ctx context.Context, userID string, timeout time.Duration, now time.Time) (int64, error) {
	if m.ApplyTimeoutFunc != nil {
		return m.ApplyTimeoutFunc(ctx, userID, timeout, now)
	}
	return 0, nil
}

func (m *MockSessionRepository) Statistics(ctx context.Context, userID string, now time.Time) (*models.SessionStatistics, error) {
	if m.StatisticsFunc != nil {
		return m.StatisticsFunc(ctx, userID, now)
	}
	return &models.SessionStatistics{}, nil
}

func (m *MockSessionRepository) ExpireIdle(ctx context.Context, now time.Time) (int64, error) {
	if m.ExpireIdleFunc != nil {
		return m.ExpireIdleFunc(ctx, now)
	}
	return 0, nil
}

func (m *MockSessionRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.PurgeBeforeFunc != nil {
		return m.PurgeBeforeFunc(ctx, cutoff)
	}
	return 0, nil
}

// MockMfaSettingsRepository implements MfaSettingsRepository for testing
type MockMfaSettingsRepository struct {
	GetFunc            func(ctx context.Context, userID string) (*models.MfaSettings, error)
	EnsureFunc         func(ctx context.Context, userID string) (*models.MfaSettings, error)
	EnableFunc         func(ctx context.Context, userID, sealedSecret string, codeHashes []string, now time.Time) (*models.MfaSettings, error)
	DisableFunc        func(ctx context.Context, userID string, now time.Time) error
	SetEnforcementFunc func(ctx context.Context, userID string, enforced bool, graceEnd *time.Time) (*models.MfaSettings, error)
	SetEmailOTPFunc    func(ctx context.Context, userID string, enabled bool) error
	MarkUsedFunc       func(ctx context.Context, userID string, at time.Time) error
}

func (m *MockMfaSettingsRepository) Get(ctx context.Context, userID string) (*models.MfaSettings, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *MockMfaSettingsRepository) Ensure(ctx context.Context, userID string) (*models.MfaSettings, error) {
	if m.EnsureFunc != nil {
		return m.EnsureFunc(ctx, userID)
	}
	return &models.MfaSettings{UserID: userID}, nil
}

func (m *MockMfaSettingsRepository) Enable(ctx context.Context, userID, sealedSecret string, codeHashes []string, now time.Time) (*models.MfaSettings, error) {
	if m.EnableFunc != nil {
		return m.EnableFunc(ctx, userID, sealedSecret, codeHashes, now)
	}
	return &models.MfaSettings{UserID: userID, IsEnabled: true, EncryptedTotpSecret: &sealedSecret, BackupCodesRemaining: len(codeHashes), EnabledAt: &now}, nil
}

func (m *MockMfaSettingsRepository) Disable(ctx context.Context, userID string, now time.Time) error {
	if m.DisableFunc != nil {
		return m.DisableFunc(ctx, userID, now)
	}
	return nil
}

func (m *MockMfaSettingsRepository) SetEnforcement(ctx context.Context, userID string, enforced bool, graceEnd *time.Time) (*models.MfaSettings, error) {
	if m.SetEnforcementFunc != nil {
		return m.SetEnforcementFunc(ctx, userID, enforced, graceEnd)
	}
	return &models.MfaSettings{UserID: userID, IsEnforced: enforced, EnforcementGracePeriodEnd: graceEnd}, nil
}

func (m *MockMfaSettingsRepository) SetEmailOTP(ctx context.Context, userID string, enabled bool) error {
	if m.SetEmailOTPFunc != nil {
		return m.SetEmailOTPFunc(ctx, userID, enabled)
	}
	return nil
}

func (m *MockMfaSettingsRepository) MarkUsed(ctx context.Context, userID string, at time.Time) error {
	if m.MarkUsedFunc != nil {
		return m.MarkUsedFunc(ctx, userID, at)
	}
	return nil
}

// MemoryBackupCodes implements BackupCodeRepository with compare-and-set
// consumption, mirroring the single UPDATE the database performs.
type MemoryBackupCodes struct {
	mu    sync.Mutex
	codes map[string]bool // hash -> used
}

func NewMemoryBackupCodes() *MemoryBackupCodes {
	return &MemoryBackupCodes{codes: make(map[string]bool)}
}

func (m *MemoryBackupCodes) Replace(_ context.Context, _ string, hashes []string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes = make(map[string]bool, len(hashes))
	for _, h := range hashes {
		m.codes[h] = false
	}
	return nil
}

func (m *MemoryBackupCodes) Consume(_ context.Context, _ string, codeHash string, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	used, ok := m.codes[codeHash]
	if !ok || used {
		return false, nil
	}
	m.codes[codeHash] = true
	return true, nil
}

func (m *MemoryBackupCodes) CountRemaining(_ context.Context, _ string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, used := range m.codes {
		if !used {
			n++
		}
	}
	return n, nil
}

// MockSecurityEventRepository implements SecurityEventRepository for testing
type MockSecurityEventRepository struct {
	mu              sync.Mutex
	Events          []*models.SecurityEvent
	CreateFunc      func(ctx context.Context, e *models.SecurityEvent) error
	PurgeBeforeFunc func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *MockSecurityEventRepository) Create(ctx context.Context, e *models.SecurityEvent) error {
	m.mu.Lock()
	m.Events = append(m.Events, e)
	m.mu.Unlock()
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, e)
	}
	return nil
}

func (m *MockSecurityEventRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.PurgeBeforeFunc != nil {
		return m.PurgeBeforeFunc(ctx, cutoff)
	}
	return 0, nil
}

// ByType returns the recorded events of one type.
func (m *MockSecurityEventRepository) ByType(eventType string) []*models.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SecurityEvent
	for _, e := range m.Events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// MockMfaAuditRepository implements MfaAuditRepository for testing
type MockMfaAuditRepository struct {
	mu              sync.Mutex
	Entries         []*models.MfaAuditLog
	CreateFunc      func(ctx context.Context, entry *models.MfaAuditLog) error
	ListByUserFunc  func(ctx context.Context, userID string, limit, offset int) ([]models.MfaAuditLog, int, error)
	PurgeBeforeFunc func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *MockMfaAuditRepository) Create(ctx context.Context, entry *models.MfaAuditLog) error {
	m.mu.Lock()
	m.Entries = append(m.Entries, entry)
	m.mu.Unlock()
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, entry)
	}
	return nil
}

func (m *MockMfaAuditRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.MfaAuditLog, int, error) {
	if m.ListByUserFunc != nil {
		return m.ListByUserFunc(ctx, userID, limit, offset)
	}
	return []models.MfaAuditLog{}, 0, nil
}

func (m *MockMfaAuditRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.PurgeBeforeFunc != nil {
		return m.PurgeBeforeFunc(ctx, cutoff)
	}
	return 0, nil
}

// Count returns the number of entries recorded for action.
func (m *MockMfaAuditRepository) Count(action models.MfaAction) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.Entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

// MockEmailService implements EmailService for testing
type MockEmailService struct {
	mu                    sync.Mutex
	LastCode              string
	OTPCount              int
	AlertCount            int
	SendOTPFunc           func(ctx context.Context, email, code, purpose string, expiresAt time.Time) error
	SendSecurityAlertFunc func(ctx context.Context, email string, alert SecurityAlert) error
}

func (m *MockEmailService) SendOTP(ctx context.Context, email, code, purpose string, expiresAt time.Time) error {
	m.mu.Lock()
	m.LastCode = code
	m.OTPCount++
	m.mu.Unlock()
	if m.SendOTPFunc != nil {
		return m.SendOTPFunc(ctx, email, code, purpose, expiresAt)
	}
	return nil
}

func (m *MockEmailService) SendSecurityAlert(ctx context.Context, email string, alert SecurityAlert) error {
	m.mu.Lock()
	m.AlertCount++
	m.mu.Unlock()
	if m.SendSecurityAlertFunc != nil {
		return m.SendSecurityAlertFunc(ctx, email, alert)
	}
	return nil
}

// MockLoginGuard implements LoginGuard for testing
type MockLoginGuard struct {
	ShouldBlockIPAddressFunc func(ctx context.Context, ip string) (bool, error)
	CalculateRiskScoreFunc   func(ctx context.Context, userID *string, identifier string, client models.ClientInfo) float64
	CheckLockoutFunc         func(ctx context.Context, userID string) error
	RecordAttemptFunc        func(ctx context.Context, in models.LoginAttemptInput, riskScore float64) (*AttemptResult, error)
	SettingsFunc             func(ctx context.Context, userID string) (*models.SecuritySettings, error)

	mu       sync.Mutex
	Attempts []models.LoginAttemptInput
}

func (m *MockLoginGuard) ShouldBlockIPAddress(ctx context.Context, ip string) (bool, error) {
	if m.ShouldBlockIPAddressFunc != nil {
		return m.ShouldBlockIPAddressFunc(ctx, ip)
	}
	return false, nil
}

func (m *MockLoginGuard) CalculateRiskScore(ctx context.Context, userID *string, identifier string, client models.ClientInfo) float64 {
	if m.CalculateRiskScoreFunc != nil {
		return m.CalculateRiskScoreFunc(ctx, userID, identifier, client)
	}
	return 0
}

func (m *MockLoginGuard) CheckLockout(ctx context.Context, userID string) error {
	if m.CheckLockoutFunc != nil {
		return m.CheckLockoutFunc(ctx, userID)
	}
	return nil
}

func (m *MockLoginGuard) RecordAttempt(ctx context.Context, in models.LoginAttemptInput, riskScore float64) (*AttemptResult, error) {
	m.mu.Lock()
	m.Attempts = append(m.Attempts, in)
	m.mu.Unlock()
	if m.RecordAttemptFunc != nil {
		return m.RecordAttemptFunc(ctx, in, riskScore)
	}
	return &AttemptResult{Attempt: &models.LoginAttempt{UserID: in.UserID, Success: in.Success}}, nil
}

func (m *MockLoginGuard) Settings(ctx context.Context, userID string) (*models.SecuritySettings, error) {
	if m.SettingsFunc != nil {
		return m.SettingsFunc(ctx, userID)
	}
	return &models.SecuritySettings{UserID: userID, SuspiciousActivityThreshold: 0.7, MaxConcurrentSessions: 5, SessionTimeoutMinutes: 60}, nil
}

// MockSessionManager implements SessionManager for testing
type MockSessionManager struct {
	CreateSessionFunc      func(ctx context.Context, in models.NewSession) (*models.CreatedSession, error)
	RotateRefreshTokenFunc func(ctx context.Context, refreshToken string) (*models.UserSession, string, error)
	TerminateSessionFunc   func(ctx context.Context, userID, sessionID, reason string, client models.ClientInfo) error
}

func (m *MockSessionManager) CreateSession(ctx context.Context, in models.NewSession) (*models.CreatedSession, error) {
	if m.CreateSessionFunc != nil {
		return m.CreateSessionFunc(ctx, in)
	}
	return &models.CreatedSession{
		Session:      &models.UserSession{ID: "session-1", UserID: in.UserID, IsActive: true},
		SessionToken: "session-token",
		RefreshToken: "refresh-token",
	}, nil
}

func (m *MockSessionManager) RotateRefreshToken(ctx context.Context, refreshToken string) (*models.UserSession, string, error) {
	if m.RotateRefreshTokenFunc != nil {
		return m.RotateRefreshTokenFunc(ctx, refreshToken)
	}
	return nil, "", models.ErrUnauthorized
}

func (m *MockSessionManager) TerminateSession(ctx context.Context, userID, sessionID, reason string, client models.ClientInfo) error {
	if m.TerminateSessionFunc != nil {
		return m.TerminateSessionFunc(ctx, userID, sessionID, reason, client)
	}
	return nil
}

// MockSecondFactor implements SecondFactor for testing
type MockSecondFactor struct {
	RequiresMfaFunc        func(ctx context.Context, userID string, riskScore, threshold float64) ([]models.MfaType, error)
	VerifyFunc             func(ctx context.Context, userID, code string, mfaType models.MfaType, client models.ClientInfo) (bool, error)
	SendEmailOtpToUserFunc func(ctx context.Context, userID, purpose string, client models.ClientInfo) error
}

func (m *MockSecondFactor) RequiresMfa(ctx context.Context, userID string, riskScore, threshold float64) ([]models.MfaType, error) {
	if m.RequiresMfaFunc != nil {
		return m.RequiresMfaFunc(ctx, userID, riskScore, threshold)
	}
	return nil, nil
}

func (m *MockSecondFactor) Verify(ctx context.Context, userID, code string, mfaType models.MfaType, client models.ClientInfo) (bool, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, userID, code, mfaType, client)
	}
	return false, nil
}

func (m *MockSecondFactor) SendEmailOtpToUser(ctx context.Context, userID, purpose string, client models.ClientInfo) error {
	if m.SendEmailOtpToUserFunc != nil {
		return m.SendEmailOtpToUserFunc(ctx, userID, purpose, client)
	}
	return nil
}

// MockBlacklist is an in-memory token blacklist
type MockBlacklist struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

func NewMockBlacklist() *MockBlacklist {
	return &MockBlacklist{revoked: make(map[string]time.Time)}
}

func (b *MockBlacklist) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revoked[jti] = expiresAt
	return nil
}

func (b *MockBlacklist) IsRevoked(_ context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.revoked[jti]
	return ok, nil
}

// NewTestUser creates an active user with the given password hash.
func NewTestUser(id, email, passwordHash string) *models.User {
	return &models.User{
		ID:           id,
		Email:        email,
		PasswordHash: passwordHash,
		Name:         "Test User",
		Role:         models.RoleUser,
		Status:       models.UserStatusActive,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
}
