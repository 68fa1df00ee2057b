package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds user claims to request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, userID, sessionID string) *http.Request {
	claims := &models.TokenClaims{
		UserID:    userID,
		SessionID: sessionID,
		Type:      models.TokenTypeAccess,
		Roles:     []string{"user"},
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// WithAdminContext adds admin user claims to request context
func WithAdminContext(req *http.Request, userID string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Type:   models.TokenTypeAccess,
		Roles:  []string{"user", "admin"},
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// WithURLParam sets a chi route parameter on the request
func WithURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(req.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc            func(ctx context.Context, email, password string, client models.ClientInfo) (*models.LoginResult, error)
	CompleteMfaLoginFunc func(ctx context.Context, mfaToken, code string, mfaType models.MfaType, client models.ClientInfo) (*models.LoginResult, error)
	SendLoginOtpFunc     func(ctx context.Context, mfaToken string, client models.ClientInfo) error
	RefreshFunc          func(ctx context.Context, refreshToken string) (*models.TokenPair, error)
	LogoutFunc           func(ctx context.Context, claims *models.TokenClaims, client models.ClientInfo) error
}

func (m *MockAuthService) Login(ctx context.Context, email, password string, client models.ClientInfo) (*models.LoginResult, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, email, password, client)
	}
	return nil, models.ErrInvalidCredentials
}

func (m *MockAuthService) CompleteMfaLogin(ctx context.Context, mfaToken, code string, mfaType models.MfaType, client models.ClientInfo) (*models.LoginResult, error) {
	if m.CompleteMfaLoginFunc != nil {
		return m.CompleteMfaLoginFunc(ctx, mfaToken, code, mfaType, client)
	}
	return nil, models.ErrInvalidCredentials
}

func (m *MockAuthService) SendLoginOtp(ctx context.Context, mfaToken string, client models.ClientInfo) error {
	if m.SendLoginOtpFunc != nil {
		return m.SendLoginOtpFunc(ctx, mfaToken, client)
	}
	return nil
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	return nil, models.ErrUnauthorized
}

func (m *MockAuthService) Logout(ctx context.Context, claims *models.TokenClaims, client models.ClientInfo) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, claims, client)
	}
	return nil
}

// MockMfaService implements MfaServiceInterface and MfaAuditReader for testing
type MockMfaService struct {
	SetupTotpFunc           func(ctx context.Context, userID string, client models.ClientInfo) (*models.MfaSetupResult, error)
	RegenerateQrCodeFunc    func(ctx context.Context, userID, setupSessionID string, client models.ClientInfo) (*models.MfaSetupResult, error)
	VerifyTotpSetupFunc     func(ctx context.Context, userID, code, setupSessionID string, client models.ClientInfo) (bool, error)
	EnableMfaFunc           func(ctx context.Context, userID, code, setupSessionID string, client models.ClientInfo) (*models.MfaEnableResult, error)
	VerifyFunc              func(ctx context.Context, userID, code string, mfaType models.MfaType, client models.ClientInfo) (bool, error)
	DisableMfaFunc          func(ctx context.Context, userID, password, code, reason string, client models.ClientInfo) error
	GenerateBackupCodesFunc func(ctx context.Context, userID string, count int, client models.ClientInfo) ([]string, error)
	GetStatusFunc           func(ctx context.Context, userID string) (*models.MfaStatus, error)
	SendEmailOtpFunc        func(ctx context.Context, email, purpose string, client models.ClientInfo) error
	GetAuditLogsFunc        func(ctx context.Context, userID string, limit, offset int) (*models.MfaAuditPage, error)
	SetEnforcementFunc      func(ctx context.Context, userID string, enforced bool, client models.ClientInfo) (*models.MfaStatus, error)
}

func (m *MockMfaService) SetupTotp(ctx context.Context, userID string, client models.ClientInfo) (*models.MfaSetupResult, error) {
	if m.SetupTotpFunc != nil {
		return m.SetupTotpFunc(ctx, userID, client)
	}
	return nil, models.ErrInternal
}

func (m *MockMfaService) RegenerateQrCode(ctx context.Context, userID, setupSessionID string, client models.ClientInfo) (*models.MfaSetupResult, error) {
	if m.RegenerateQrCodeFunc != nil {
		return m.RegenerateQrCodeFunc(ctx, userID, setupSessionID, client)
	}
	return nil, models.ErrExpired
}

func (m *MockMfaService) VerifyTotpSetup(ctx context.Context, userID, code, setupSessionID string, client models.ClientInfo) (bool, error) {
	if m.VerifyTotpSetupFunc != nil {
		return m.VerifyTotpSetupFunc(ctx, userID, code, setupSessionID, client)
	}
	return false, nil
}

func (m *MockMfaService) EnableMfa(ctx context.Context, userID, code, setupSessionID string, client models.ClientInfo) (*models.MfaEnableResult, error) {
	if m.EnableMfaFunc != nil {
		return m.EnableMfaFunc(ctx, userID, code, setupSessionID, client)
	}
	return nil, models.ErrInvalidCredentials
}

func (m *MockMfaService) Verify(ctx context.Context, userID, code string, mfaType models.MfaType, client models.ClientInfo) (bool, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, userID, code, mfaType, client)
	}
	return false, nil
}

func (m *MockMfaService) DisableMfa(ctx context.Context, userID, password, code, reason string, client models.ClientInfo) error {
	if m.DisableMfaFunc != nil {
		return m.DisableMfaFunc(ctx, userID, password, code, reason, client)
	}
	return nil
}

func (m *MockMfaService) GenerateBackupCodes(ctx context.Context, userID string, count int, client models.ClientInfo) ([]string, error) {
	if m.GenerateBackupCodesFunc != nil {
		return m.GenerateBackupCodesFunc(ctx, userID, count, client)
	}
	return nil, models.ErrInvalidOperation
}

func (m *MockMfaService) GetStatus(ctx context.Context, userID string) (*models.MfaStatus, error) {
	if m.GetStatusFunc != nil {
		return m.GetStatusFunc(ctx, userID)
	}
	return &models.MfaStatus{AvailableMethods: []models.MfaType{}}, nil
}

func (m *MockMfaService) SendEmailOtp(ctx context.Context, email, purpose string, client models.ClientInfo) error {
	if m.SendEmailOtpFunc != nil {
		return m.SendEmailOtpFunc(ctx, email, purpose, client)
	}
	return nil
}

func (m *MockMfaService) GetAuditLogs(ctx context.Context, userID string, limit, offset int) (*models.MfaAuditPage, error) {
	if m.GetAuditLogsFunc != nil {
		return m.GetAuditLogsFunc(ctx, userID, limit, offset)
	}
	return &models.MfaAuditPage{Entries: []models.MfaAuditLog{}, Limit: limit, Offset: offset}, nil
}

func (m *MockMfaService) SetEnforcement(ctx context.Context, userID string, enforced bool, client models.ClientInfo) (*models.MfaStatus, error) {
	if m.SetEnforcementFunc != nil {
		return m.SetEnforcementFunc(ctx, userID, enforced, client)
	}
	return &models.MfaStatus{IsEnforced: enforced}, nil
}

// MockSessionService implements SessionServiceInterface for testing
type MockSessionService struct {
	GetActiveSessionsFunc         func(ctx context.Context, userID, currentID string) ([]models.SessionSummary, error)
	TerminateSessionFunc          func(ctx context.Context, userID, sessionID, reason string, client models.ClientInfo) error
	TerminateAllOtherSessionsFunc func(ctx context.Context, userID, currentID string, client models.ClientInfo) (int, error)
	UpdateSessionTimeoutFunc      func(ctx context.Context, userID string, minutes int) (*models.SecuritySettings, error)
	GetSessionStatisticsFunc      func(ctx context.Context, userID string) (*models.SessionStatistics, error)
}

func (m *MockSessionService) GetActiveSessions(ctx context.Context, userID, currentID string) ([]models.SessionSummary, error) {
	if m.GetActiveSessionsFunc != nil {
		return m.GetActiveSessionsFunc(ctx, userID, currentID)
	}
	return nil, nil
}

func (m *MockSessionService) TerminateSession(ctx context.Context, userID, sessionID, reason string, client models.ClientInfo) error {
	if m.TerminateSessionFunc != nil {
		return m.TerminateSessionFunc(ctx, userID, sessionID, reason, client)
	}
	return nil
}

func (m *MockSessionService) TerminateAllOtherSessions(ctx context.Context, userID, currentID string, client models.ClientInfo) (int, error) {
	if m.TerminateAllOtherSessionsFunc != nil {
		return m.TerminateAllOtherSessionsFunc(ctx, userID, currentID, client)
	}
	return 0, nil
}

func (m *MockSessionService) UpdateSessionTimeout(ctx context.Context, userID string, minutes int) (*models.SecuritySettings, error) {
	if m.UpdateSessionTimeoutFunc != nil {
		return m.UpdateSessionTimeoutFunc(ctx, userID, minutes)
	}
	return &models.SecuritySettings{UserID: userID, SessionTimeoutMinutes: minutes}, nil
}

func (m *MockSessionService) GetSessionStatistics(ctx context.Context, userID string) (*models.SessionStatistics, error) {
	if m.GetSessionStatisticsFunc != nil {
		return m.GetSessionStatisticsFunc(ctx, userID)
	}
	return &models.SessionStatistics{DeviceBreakdown: map[string]int{}, LocationBreakdown: map[string]int{}}, nil
}

// MockLockoutAdmin implements LockoutAdminInterface for testing
type MockLockoutAdmin struct {
	ManualLockoutFunc        func(ctx context.Context, userID, actorID, reason string, duration *time.Duration, client models.ClientInfo) (*models.LockoutRecord, error)
	ReleaseLockoutFunc       func(ctx context.Context, userID, actorID, reason string, client models.ClientInfo) error
	GetActiveLockoutFunc     func(ctx context.Context, userID string) (*models.LockoutRecord, error)
	LockoutHistoryFunc       func(ctx context.Context, userID string, limit int) ([]models.LockoutRecord, error)
	GetLockoutStatisticsFunc func(ctx context.Context, from, to time.Time) (*models.LockoutStatistics, error)
	GetLoginStatisticsFunc   func(ctx context.Context, from, to time.Time) (*models.LoginStatistics, error)
}

func (m *MockLockoutAdmin) ManualLockout(ctx context.Context, userID, actorID, reason string, duration *time.Duration, client models.ClientInfo) (*models.LockoutRecord, error) {
	if m.ManualLockoutFunc != nil {
		return m.ManualLockoutFunc(ctx, userID, actorID, reason, duration, client)
	}
	return &models.LockoutRecord{UserID: userID, Reason: models.LockoutReasonManual, Level: 1}, nil
}

func (m *MockLockoutAdmin) ReleaseLockout(ctx context.Context, userID, actorID, reason string, client models.ClientInfo) error {
	if m.ReleaseLockoutFunc != nil {
		return m.ReleaseLockoutFunc(ctx, userID, actorID, reason, client)
	}
	return models.ErrNotFound
}

func (m *MockLockoutAdmin) GetActiveLockout(ctx context.Context, userID string) (*models.LockoutRecord, error) {
	if m.GetActiveLockoutFunc != nil {
		return m.GetActiveLockoutFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockLockoutAdmin) LockoutHistory(ctx context.Context, userID string, limit int) ([]models.LockoutRecord, error) {
	if m.LockoutHistoryFunc != nil {
		return m.LockoutHistoryFunc(ctx, userID, limit)
	}
	return nil, nil
}

func (m *MockLockoutAdmin) GetLockoutStatistics(ctx context.Context, from, to time.Time) (*models.LockoutStatistics, error) {
	if m.GetLockoutStatisticsFunc != nil {
		return m.GetLockoutStatisticsFunc(ctx, from, to)
	}
	return &models.LockoutStatistics{From: from, To: to, ByReason: map[models.LockoutReason]int{}}, nil
}

func (m *MockLockoutAdmin) GetLoginStatistics(ctx context.Context, from, to time.Time) (*models.LoginStatistics, error) {
	if m.GetLoginStatisticsFunc != nil {
		return m.GetLoginStatisticsFunc(ctx, from, to)
	}
	return &models.LoginStatistics{From: from, To: to}, nil
}
