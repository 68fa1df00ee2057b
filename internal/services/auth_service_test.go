package services

import (
	"context"
	"crypto/rsa"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
)

var (
	signingKeyOnce sync.Once
	signingKey     *rsa.PrivateKey
)

func newTestTokenManager(t *testing.T) *auth.TokenManager {
	t.Helper()
	signingKeyOnce.Do(func() {
		var err error
		signingKey, err = auth.GenerateSigningKey()
		if err != nil {
			panic(err)
		}
	})
	tm, err := auth.NewTokenManager(signingKey, "", "warden", 15*time.Minute, 5*time.Minute, NewMockBlacklist())
	require.NoError(t, err)
	tm.SetSessionChecker(allSessionsActive{})
	return tm
}

type allSessionsActive struct{}

func (allSessionsActive) IsSessionActive(context.Context, string) (bool, error) { return true, nil }

type authFixture struct {
	svc      *AuthService
	users    *MockUserDirectory
	guard    *MockLoginGuard
	sessions *MockSessionManager
	mfa      *MockSecondFactor
	tokens   *auth.TokenManager
	user     *models.User
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	user := NewTestUser("user-1", "user@example.com", string(hash))

	f := &authFixture{
		users: &MockUserDirectory{
			GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
				if email == user.Email {
					return user, nil
				}
				return nil, models.ErrNotFound
			},
			GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
				if id == user.ID {
					return user, nil
				}
				return nil, models.ErrNotFound
			},
		},
		guard:    &MockLoginGuard{},
		sessions: &MockSessionManager{},
		mfa:      &MockSecondFactor{},
		tokens:   newTestTokenManager(t),
		user:     user,
	}
	f.svc = NewAuthService(
		f.users,
		f.guard,
		f.sessions,
		f.mfa,
		f.tokens,
		auth.NewTimingDelay(auth.TimingConfig{}),
		nil,
		newTestLogger(),
	)
	return f
}

var testClient = models.ClientInfo{IPAddress: "203.0.113.7", UserAgent: "Mozilla/5.0"}

func lastAttempt(t *testing.T, g *MockLoginGuard) models.LoginAttemptInput {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	require.NotEmpty(t, g.Attempts)
	return g.Attempts[len(g.Attempts)-1]
}

func TestAuthService_Login_Success(t *testing.T) {
	f := newAuthFixture(t)

	result, err := f.svc.Login(context.Background(), " User@Example.com ", testPassword, testClient)
	require.NoError(t, err)
	require.NotNil(t, result.Tokens)
	assert.False(t, result.MFARequired)
	assert.Equal(t, "session-1", result.Tokens.SessionID)
	assert.Equal(t, "refresh-token", result.Tokens.RefreshToken)
	assert.Equal(t, "Bearer", result.Tokens.TokenType)

	claims, err := f.tokens.ValidateToken(context.Background(), result.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, claims.UserID)
	assert.Equal(t, "session-1", claims.SessionID)

	attempt := lastAttempt(t, f.guard)
	assert.True(t, attempt.Success)
	assert.Equal(t, "user@example.com", attempt.Identifier)
}

func TestAuthService_Login_UniformCredentialErrors(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, unknownErr := f.svc.Login(ctx, "nobody@example.com", testPassword, testClient)
	_, wrongErr := f.svc.Login(ctx, f.user.Email, "wrong password", testClient)

	assert.Equal(t, models.ErrInvalidCredentials, unknownErr)
	assert.Equal(t, models.ErrInvalidCredentials, wrongErr)
	assert.Equal(t, unknownErr.Error(), wrongErr.Error())

	f.guard.mu.Lock()
	defer f.guard.mu.Unlock()
	require.Len(t, f.guard.Attempts, 2)
	assert.Nil(t, f.guard.Attempts[0].UserID)
	assert.Equal(t, models.FailureReasonUnknownUser, *f.guard.Attempts[0].FailureReason)
	assert.Equal(t, f.user.ID, *f.guard.Attempts[1].UserID)
	assert.Equal(t, models.FailureReasonInvalidCredentials, *f.guard.Attempts[1].FailureReason)
}

func TestAuthService_Login_InactiveAccountLooksLikeBadPassword(t *testing.T) {
	f := newAuthFixture(t)
	f.user.Status = models.UserStatusSuspended

	_, err := f.svc.Login(context.Background(), f.user.Email, testPassword, testClient)
	assert.Equal(t, models.ErrInvalidCredentials, err)
	assert.Equal(t, models.FailureReasonAccountInactive, *lastAttempt(t, f.guard).FailureReason)
}

func TestAuthService_Login_RequiresEmailAndPassword(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Login(context.Background(), "", testPassword, testClient)
	assert.True(t, errors.Is(err, models.ErrInvalidRequest))

	_, err = f.svc.Login(context.Background(), f.user.Email, "", testClient)
	assert.True(t, errors.Is(err, models.ErrInvalidRequest))
}

func TestAuthService_Login_IPBlocked(t *testing.T) {
	f := newAuthFixture(t)
	f.guard.ShouldBlockIPAddressFunc = func(ctx context.Context, ip string) (bool, error) {
		return true, nil
	}

	_, err := f.svc.Login(context.Background(), f.user.Email, testPassword, testClient)
	var limited *models.RateLimitError
	require.True(t, errors.As(err, &limited))
	assert.Equal(t, "ip", limited.Scope)
	assert.Equal(t, models.FailureReasonIPBlocked, *lastAttempt(t, f.guard).FailureReason)
}

func TestAuthService_Login_AccountLocked(t *testing.T) {
	f := newAuthFixture(t)
	expires := time.Now().Add(15 * time.Minute)
	f.guard.CheckLockoutFunc = func(ctx context.Context, userID string) error {
		return models.NewLockoutError(&models.LockoutRecord{Reason: models.LockoutReasonTooManyFailures, ExpiresAt: &expires}, time.Now())
	}

	// Even the right password is refused while locked.
	_, err := f.svc.Login(context.Background(), f.user.Email, testPassword, testClient)
	assert.True(t, errors.Is(err, models.ErrAccountLocked))
	assert.Equal(t, models.FailureReasonAccountLocked, *lastAttempt(t, f.guard).FailureReason)
}

func TestAuthService_Login_FailureThatTriggersLockout(t *testing.T) {
	f := newAuthFixture(t)
	expires := time.Now().Add(15 * time.Minute)
	f.guard.RecordAttemptFunc = func(ctx context.Context, in models.LoginAttemptInput, riskScore float64) (*AttemptResult, error) {
		return &AttemptResult{
			Attempt:          &models.LoginAttempt{},
			LockoutTriggered: true,
			Lockout:          &models.LockoutRecord{Reason: models.LockoutReasonTooManyFailures, ExpiresAt: &expires},
		}, nil
	}

	_, err := f.svc.Login(context.Background(), f.user.Email, "wrong password", testClient)
	var lockErr *models.LockoutError
	require.True(t, errors.As(err, &lockErr))
	assert.Greater(t, lockErr.RetryAfter(), 14*time.Minute)
}

func TestAuthService_Login_MfaChallenge(t *testing.T) {
	f := newAuthFixture(t)
	f.mfa.RequiresMfaFunc = func(ctx context.Context, userID string, riskScore, threshold float64) ([]models.MfaType, error) {
		return []models.MfaType{models.MfaTypeTOTP, models.MfaTypeBackupCode}, nil
	}
	sent := false
	f.mfa.SendEmailOtpToUserFunc = func(ctx context.Context, userID, purpose string, client models.ClientInfo) error {
		sent = true
		return nil
	}

	result, err := f.svc.Login(context.Background(), f.user.Email, testPassword, testClient)
	require.NoError(t, err)
	assert.True(t, result.MFARequired)
	assert.Nil(t, result.Tokens)
	assert.NotEmpty(t, result.MFAToken)
	assert.Equal(t, []models.MfaType{models.MfaTypeTOTP, models.MfaTypeBackupCode}, result.AvailableMethods)
	assert.False(t, sent)

	// No success is recorded until the second factor passes.
	f.guard.mu.Lock()
	assert.Empty(t, f.guard.Attempts)
	f.guard.mu.Unlock()

	claims, err := f.tokens.ValidateChallengeToken(context.Background(), result.MFAToken)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, claims.UserID)
}

func TestAuthService_Login_RiskTriggeredEmailChallenge(t *testing.T) {
	f := newAuthFixture(t)
	f.guard.CalculateRiskScoreFunc = func(ctx context.Context, userID *string, identifier string, client models.ClientInfo) float64 {
		return 0.9
	}
	f.mfa.RequiresMfaFunc = func(ctx context.Context, userID string, riskScore, threshold float64) ([]models.MfaType, error) {
		assert.Equal(t, 0.9, riskScore)
		assert.Equal(t, 0.7, threshold)
		return []models.MfaType{models.MfaTypeEmailOTP}, nil
	}
	var purpose string
	f.mfa.SendEmailOtpToUserFunc = func(ctx context.Context, userID, p string, client models.ClientInfo) error {
		purpose = p
		return nil
	}

	result, err := f.svc.Login(context.Background(), f.user.Email, testPassword, testClient)
	require.NoError(t, err)
	assert.True(t, result.MFARequired)
	assert.Equal(t, models.OTPPurposeLogin, purpose)
}

func TestAuthService_CompleteMfaLogin(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	challenge, _, err := f.tokens.GenerateMFAChallengeToken(f.user.ID)
	require.NoError(t, err)

	f.mfa.RequiresMfaFunc = func(ctx context.Context, userID string, riskScore, threshold float64) ([]models.MfaType, error) {
		return []models.MfaType{models.MfaTypeTOTP, models.MfaTypeBackupCode}, nil
	}
	f.mfa.VerifyFunc = func(ctx context.Context, userID, code string, mfaType models.MfaType, client models.ClientInfo) (bool, error) {
		return code == "123456" && mfaType == models.MfaTypeTOTP, nil
	}

	_, err = f.svc.CompleteMfaLogin(ctx, challenge, "654321", models.MfaTypeTOTP, testClient)
	assert.Equal(t, models.ErrInvalidCredentials, err)
	assert.Equal(t, models.FailureReasonMFAFailed, *lastAttempt(t, f.guard).FailureReason)

	result, err := f.svc.CompleteMfaLogin(ctx, challenge, "123456", models.MfaTypeTOTP, testClient)
	require.NoError(t, err)
	require.NotNil(t, result.Tokens)
	assert.True(t, lastAttempt(t, f.guard).Success)

	// The challenge is spent once it has been used successfully.
	_, err = f.svc.CompleteMfaLogin(ctx, challenge, "123456", models.MfaTypeTOTP, testClient)
	assert.Equal(t, models.ErrUnauthorized, err)
}

func TestAuthService_CompleteMfaLogin_RejectsMethodNotEnrolled(t *testing.T) {
	f := newAuthFixture(t)
	challenge, _, err := f.tokens.GenerateMFAChallengeToken(f.user.ID)
	require.NoError(t, err)

	// TOTP user who never opted into email codes
	f.mfa.RequiresMfaFunc = func(ctx context.Context, userID string, riskScore, threshold float64) ([]models.MfaType, error) {
		return []models.MfaType{models.MfaTypeTOTP, models.MfaTypeBackupCode}, nil
	}
	verified := false
	f.mfa.VerifyFunc = func(ctx context.Context, userID, code string, mfaType models.MfaType, client models.ClientInfo) (bool, error) {
		verified = true
		return true, nil
	}

	result, err := f.svc.CompleteMfaLogin(context.Background(), challenge, "123456", models.MfaTypeEmailOTP, testClient)
	assert.Equal(t, models.ErrInvalidCredentials, err)
	assert.Nil(t, result)
	assert.False(t, verified)
	assert.Equal(t, models.FailureReasonMFAFailed, *lastAttempt(t, f.guard).FailureReason)
}

func TestAuthService_CompleteMfaLogin_RejectsAccessToken(t *testing.T) {
	f := newAuthFixture(t)
	access, _, err := f.tokens.GenerateAccessToken(f.user, f.user.Roles(), "session-1")
	require.NoError(t, err)

	_, err = f.svc.CompleteMfaLogin(context.Background(), access, "123456", models.MfaTypeTOTP, testClient)
	assert.Equal(t, models.ErrUnauthorized, err)
}

func TestAuthService_Refresh(t *testing.T) {
	f := newAuthFixture(t)
	f.sessions.RotateRefreshTokenFunc = func(ctx context.Context, refreshToken string) (*models.UserSession, string, error) {
		if refreshToken != "refresh-1" {
			return nil, "", models.ErrUnauthorized
		}
		return &models.UserSession{ID: "session-1", UserID: f.user.ID}, "refresh-2", nil
	}

	pair, err := f.svc.Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", pair.RefreshToken)
	assert.Equal(t, "session-1", pair.SessionID)
	assert.NotEmpty(t, pair.AccessToken)

	_, err = f.svc.Refresh(context.Background(), "stale")
	assert.Equal(t, models.ErrUnauthorized, err)

	_, err = f.svc.Refresh(context.Background(), "")
	assert.True(t, errors.Is(err, models.ErrInvalidRequest))
}

func TestAuthService_Refresh_InactiveUserEndsSession(t *testing.T) {
	f := newAuthFixture(t)
	f.user.Status = models.UserStatusDisabled
	f.sessions.RotateRefreshTokenFunc = func(ctx context.Context, refreshToken string) (*models.UserSession, string, error) {
		return &models.UserSession{ID: "session-1", UserID: f.user.ID}, "refresh-2", nil
	}
	var terminated string
	f.sessions.TerminateSessionFunc = func(ctx context.Context, userID, sessionID, reason string, client models.ClientInfo) error {
		terminated = reason
		return nil
	}

	_, err := f.svc.Refresh(context.Background(), "refresh-1")
	assert.Equal(t, models.ErrUnauthorized, err)
	assert.Equal(t, models.TerminationSecurity, terminated)
}

func TestAuthService_Logout(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	access, claims, err := f.tokens.GenerateAccessToken(f.user, f.user.Roles(), "session-1")
	require.NoError(t, err)

	var ended string
	f.sessions.TerminateSessionFunc = func(ctx context.Context, userID, sessionID, reason string, client models.ClientInfo) error {
		ended = sessionID
		return models.ErrNotFound
	}

	require.NoError(t, f.svc.Logout(ctx, claims, testClient))
	assert.Equal(t, "session-1", ended)

	_, err = f.tokens.ValidateToken(ctx, access)
	assert.Error(t, err)

	assert.Equal(t, models.ErrUnauthorized, f.svc.Logout(ctx, nil, testClient))
}

func TestAuthService_Login_SessionFailureSurfaces(t *testing.T) {
	f := newAuthFixture(t)
	f.sessions.CreateSessionFunc = func(ctx context.Context, in models.NewSession) (*models.CreatedSession, error) {
		return nil, models.ErrInternal
	}

	_, err := f.svc.Login(context.Background(), f.user.Email, testPassword, testClient)
	assert.Equal(t, models.ErrInternal, err)
}
