package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/metrics"
	"github.com/BradenHooton/warden/internal/models"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
)

// UserDirectory resolves accounts. Credentials live with the user record.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// LoginGuard is the lockout engine as seen by the login flow
type LoginGuard interface {
	ShouldBlockIPAddress(ctx context.Context, ip string) (bool, error)
	CalculateRiskScore(ctx context.Context, userID *string, identifier string, client models.ClientInfo) float64
	CheckLockout(ctx context.Context, userID string) error
	RecordAttempt(ctx context.Context, in models.LoginAttemptInput, riskScore float64) (*AttemptResult, error)
	Settings(ctx context.Context, userID string) (*models.SecuritySettings, error)
}

// SessionManager is the session service as seen by the login flow
type SessionManager interface {
	CreateSession(ctx context.Context, in models.NewSession) (*models.CreatedSession, error)
	RotateRefreshToken(ctx context.Context, refreshToken string) (*models.UserSession, string, error)
	TerminateSession(ctx context.Context, userID, sessionID, reason string, client models.ClientInfo) error
}

// SecondFactor is the MFA engine as seen by the login flow
type SecondFactor interface {
	RequiresMfa(ctx context.Context, userID string, riskScore, threshold float64) ([]models.MfaType, error)
	Verify(ctx context.Context, userID, code string, mfaType models.MfaType, client models.ClientInfo) (bool, error)
	SendEmailOtpToUser(ctx context.Context, userID, purpose string, client models.ClientInfo) error
}

// TokenIssuer signs and revokes tokens
type TokenIssuer interface {
	GenerateAccessToken(user *models.User, roles []string, sessionID string) (string, *models.TokenClaims, error)
	GenerateMFAChallengeToken(userID string) (string, *models.TokenClaims, error)
	ValidateChallengeToken(ctx context.Context, tokenString string) (*models.TokenClaims, error)
	BlacklistToken(ctx context.Context, jti string, expiresAt time.Time) error
}

// AuthService orchestrates login: IP breaker, risk, lockout gate, password,
// second factor, then session and tokens.
type AuthService struct {
	users    UserDirectory
	guard    LoginGuard
	sessions SessionManager
	mfa      SecondFactor
	tokens   TokenIssuer
	timing   *auth.TimingDelay
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func NewAuthService(
	users UserDirectory,
	guard LoginGuard,
	sessions SessionManager,
	mfa SecondFactor,
	tokens TokenIssuer,
	timing *auth.TimingDelay,
	m *metrics.Metrics,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:    users,
		guard:    guard,
		sessions: sessions,
		mfa:      mfa,
		tokens:   tokens,
		timing:   timing,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Login checks the password and either finishes the login or returns an MFA
// challenge. Every failure returns the same error whether or not the account
// exists.
func (s *AuthService) Login(ctx context.Context, email, password string, client models.ClientInfo) (result *models.LoginResult, err error) {
	start := time.Now()
	defer func() { s.timing.WaitFrom(ctx, start, err == nil) }()

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", models.ErrInvalidRequest)
	}

	blocked, err := s.guard.ShouldBlockIPAddress(ctx, client.IPAddress)
	if err != nil {
		return nil, err
	}
	if blocked {
		s.record(ctx, nil, email, false, models.FailureReasonIPBlocked, client, 1)
		s.logger.WarnContext(ctx, "login blocked for ip", slog.String("ip_address", client.IPAddress))
		return nil, &models.RateLimitError{Scope: "ip"}
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.ErrorContext(ctx, "failed to look up user", slog.Any("error", err))
		return nil, models.ErrInternal
	}

	var userID *string
	if user != nil {
		userID = &user.ID
	}
	riskScore := s.guard.CalculateRiskScore(ctx, userID, email, client)
	s.metrics.RiskScore(riskScore)

	if user == nil {
		// burn the same bcrypt time as a real comparison
		_, _ = pkgauth.VerifyPassword("", password)
		s.record(ctx, nil, email, false, models.FailureReasonUnknownUser, client, riskScore)
		return nil, models.ErrInvalidCredentials
	}

	if err := s.guard.CheckLockout(ctx, user.ID); err != nil {
		if errors.Is(err, models.ErrAccountLocked) {
			s.record(ctx, userID, email, false, models.FailureReasonAccountLocked, client, riskScore)
		}
		return nil, err
	}

	ok, err := pkgauth.VerifyPassword(user.PasswordHash, password)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to verify password", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternal
	}
	if !ok || !user.IsActive() {
		reason := models.FailureReasonInvalidCredentials
		if ok {
			reason = models.FailureReasonAccountInactive
		}
		return nil, s.failedAttempt(ctx, user, email, reason, client, riskScore)
	}

	settings, err := s.guard.Settings(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	methods, err := s.mfa.RequiresMfa(ctx, user.ID, riskScore, settings.SuspiciousActivityThreshold)
	if err != nil {
		return nil, err
	}
	if len(methods) > 0 {
		return s.challenge(ctx, user, methods, riskScore, client)
	}

	if _, err := s.guard.RecordAttempt(ctx, attemptInput(userID, email, true, "", client), riskScore); err != nil {
		return nil, err
	}
	return s.issue(ctx, user, client, riskScore)
}

// challenge hands out the short-lived token used to finish the login. The
// attempt is only recorded as a success once the second factor passes.
func (s *AuthService) challenge(ctx context.Context, user *models.User, methods []models.MfaType, riskScore float64, client models.ClientInfo) (*models.LoginResult, error) {
	token, _, err := s.tokens.GenerateMFAChallengeToken(user.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to issue mfa challenge", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternal
	}

	// risk-triggered challenges for users without MFA can only use email
	if len(methods) == 1 && methods[0] == models.MfaTypeEmailOTP {
		if err := s.mfa.SendEmailOtpToUser(ctx, user.ID, models.OTPPurposeLogin, client); err != nil {
			return nil, err
		}
	}

	s.logger.InfoContext(ctx, "mfa challenge issued", slog.String("user_id", user.ID), slog.Float64("risk_score", riskScore))
	return &models.LoginResult{
		MFARequired:      true,
		MFAToken:         token,
		AvailableMethods: methods,
		RiskScore:        riskScore,
	}, nil
}

// CompleteMfaLogin finishes a challenged login. The challenge token is
// single-use once the second factor passes.
func (s *AuthService) CompleteMfaLogin(ctx context.Context, mfaToken, code string, mfaType models.MfaType, client models.ClientInfo) (result *models.LoginResult, err error) {
	start := time.Now()
	defer func() { s.timing.WaitFrom(ctx, start, err == nil) }()

	claims, err := s.challengeClaims(ctx, mfaToken)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidCredentials
		}
		s.logger.ErrorContext(ctx, "failed to load user", slog.Any("error", err))
		return nil, models.ErrInternal
	}
	if err := s.guard.CheckLockout(ctx, user.ID); err != nil {
		return nil, err
	}

	riskScore := s.guard.CalculateRiskScore(ctx, &user.ID, user.Email, client)

	// A challenge exists, so ask for the methods regardless of the new score.
	methods, err := s.mfa.RequiresMfa(ctx, user.ID, 1, 0)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(methods, mfaType) {
		return nil, s.failedAttempt(ctx, user, user.Email, models.FailureReasonMFAFailed, client, riskScore)
	}

	ok, err := s.mfa.Verify(ctx, user.ID, code, mfaType, client)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.failedAttempt(ctx, user, user.Email, models.FailureReasonMFAFailed, client, riskScore)
	}

	if err := s.tokens.BlacklistToken(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		s.logger.ErrorContext(ctx, "failed to consume mfa challenge", slog.Any("error", err))
		return nil, models.ErrInternal
	}

	if _, err := s.guard.RecordAttempt(ctx, attemptInput(&user.ID, user.Email, true, "", client), riskScore); err != nil {
		return nil, err
	}
	return s.issue(ctx, user, client, riskScore)
}

// SendLoginOtp emails a login code to the user behind a challenge token.
func (s *AuthService) SendLoginOtp(ctx context.Context, mfaToken string, client models.ClientInfo) error {
	claims, err := s.challengeClaims(ctx, mfaToken)
	if err != nil {
		return err
	}
	return s.mfa.SendEmailOtpToUser(ctx, claims.UserID, models.OTPPurposeLogin, client)
}

func (s *AuthService) challengeClaims(ctx context.Context, mfaToken string) (*models.TokenClaims, error) {
	claims, err := s.tokens.ValidateChallengeToken(ctx, mfaToken)
	if err != nil {
		if errors.Is(err, models.ErrInternal) {
			return nil, models.ErrInternal
		}
		return nil, models.ErrUnauthorized
	}
	return claims, nil
}

// Refresh redeems a refresh token for a new token pair. Each refresh token
// works once.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token is required", models.ErrInvalidRequest)
	}

	session, newRefresh, err := s.sessions.RotateRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load user for refresh", slog.String("user_id", session.UserID), slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}
	if !user.IsActive() {
		_ = s.sessions.TerminateSession(ctx, user.ID, session.ID, models.TerminationSecurity, models.ClientInfo{})
		return nil, models.ErrUnauthorized
	}

	access, claims, err := s.tokens.GenerateAccessToken(user, user.Roles(), session.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to issue access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternal
	}

	return &models.TokenPair{
		AccessToken:      access,
		RefreshToken:     newRefresh,
		TokenType:        "Bearer",
		ExpiresAt:        claims.ExpiresAt.Time,
		SessionID:        session.ID,
		RefreshExpiresAt: session.RefreshExpiresAt,
	}, nil
}

// Logout revokes the presented access token and ends its session.
func (s *AuthService) Logout(ctx context.Context, claims *models.TokenClaims, client models.ClientInfo) error {
	if claims == nil {
		return models.ErrUnauthorized
	}
	if claims.ExpiresAt != nil {
		if err := s.tokens.BlacklistToken(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
			s.logger.ErrorContext(ctx, "failed to blacklist token", slog.String("user_id", claims.UserID), slog.Any("error", err))
			return models.ErrInternal
		}
	}

	err := s.sessions.TerminateSession(ctx, claims.UserID, claims.SessionID, models.TerminationLogout, client)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}
	s.logger.InfoContext(ctx, "user logged out", slog.String("user_id", claims.UserID), slog.String("session_id", claims.SessionID))
	return nil
}

// issue admits the session and signs the access token for it.
func (s *AuthService) issue(ctx context.Context, user *models.User, client models.ClientInfo, riskScore float64) (*models.LoginResult, error) {
	created, err := s.sessions.CreateSession(ctx, models.NewSession{UserID: user.ID, Client: client})
	if err != nil {
		return nil, err
	}

	access, claims, err := s.tokens.GenerateAccessToken(user, user.Roles(), created.Session.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to issue access token", slog.String("user_id", user.ID), slog.Any("error", err))
		// the session is useless without a token
		if terr := s.sessions.TerminateSession(ctx, user.ID, created.Session.ID, models.TerminationSecurity, client); terr != nil {
			s.logger.ErrorContext(ctx, "failed to terminate orphaned session", slog.Any("error", terr))
		}
		return nil, models.ErrInternal
	}

	terminated := make([]string, 0, len(created.Terminated))
	for _, t := range created.Terminated {
		terminated = append(terminated, t.ID)
	}

	s.logger.InfoContext(ctx, "user logged in",
		slog.String("user_id", user.ID),
		slog.String("session_id", created.Session.ID),
		slog.Float64("risk_score", riskScore),
	)
	return &models.LoginResult{
		Tokens: &models.TokenPair{
			AccessToken:      access,
			RefreshToken:     created.RefreshToken,
			TokenType:        "Bearer",
			ExpiresAt:        claims.ExpiresAt.Time,
			SessionID:        created.Session.ID,
			RefreshExpiresAt: created.Session.RefreshExpiresAt,
		},
		TerminatedSessions: terminated,
		RiskScore:          riskScore,
	}, nil
}

// failedAttempt records a failure against a known user and returns the error
// to surface: the lockout if this attempt tripped one, otherwise the uniform
// credential error.
func (s *AuthService) failedAttempt(ctx context.Context, user *models.User, identifier, reason string, client models.ClientInfo, riskScore float64) error {
	res, err := s.guard.RecordAttempt(ctx, attemptInput(&user.ID, identifier, false, reason, client), riskScore)
	if err != nil {
		return err
	}
	if res.LockoutTriggered && res.Lockout != nil {
		return models.NewLockoutError(res.Lockout, s.now())
	}
	return models.ErrInvalidCredentials
}

// record stores an attempt whose outcome is already decided.
func (s *AuthService) record(ctx context.Context, userID *string, identifier string, success bool, reason string, client models.ClientInfo, riskScore float64) {
	if _, err := s.guard.RecordAttempt(ctx, attemptInput(userID, identifier, success, reason, client), riskScore); err != nil {
		s.logger.ErrorContext(ctx, "failed to record login attempt", slog.String("reason", reason), slog.Any("error", err))
	}
}

func attemptInput(userID *string, identifier string, success bool, reason string, client models.ClientInfo) models.LoginAttemptInput {
	fp := deviceFingerprint(client)
	return models.LoginAttemptInput{
		UserID:            userID,
		Identifier:        identifier,
		Success:           success,
		FailureReason:     strPtr(reason),
		IPAddress:         client.IPAddress,
		UserAgent:         client.UserAgent,
		DeviceFingerprint: &fp,
		Location:          client.Location,
	}
}
