package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/cache"
	"github.com/BradenHooton/warden/internal/config"
	"github.com/BradenHooton/warden/internal/metrics"
	"github.com/BradenHooton/warden/internal/models"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
)

const emailOTPDigits = 6

// MfaSettingsRepository persists per-user MFA state
type MfaSettingsRepository interface {
	Get(ctx context.Context, userID string) (*models.MfaSettings, error)
	Ensure(ctx context.Context, userID string) (*models.MfaSettings, error)
	Enable(ctx context.Context, userID, sealedSecret string, codeHashes []string, now time.Time) (*models.MfaSettings, error)
	Disable(ctx context.Context, userID string, now time.Time) error
	SetEnforcement(ctx context.Context, userID string, enforced bool, graceEnd *time.Time) (*models.MfaSettings, error)
	SetEmailOTP(ctx context.Context, userID string, enabled bool) error
	MarkUsed(ctx context.Context, userID string, at time.Time) error
}

// BackupCodeRepository persists hashed backup codes
type BackupCodeRepository interface {
	Replace(ctx context.Context, userID string, hashes []string, now time.Time) error
	Consume(ctx context.Context, userID, codeHash string, now time.Time) (bool, error)
	CountRemaining(ctx context.Context, userID string) (int, error)
}

// SetupStore holds pending setup sessions with a cache-enforced TTL
type SetupStore interface {
	Save(ctx context.Context, session *models.MfaSetupSession) error
	Get(ctx context.Context, userID, setupSessionID string) (*models.MfaSetupSession, error)
	Latest(ctx context.Context, userID string) (*models.MfaSetupSession, error)
	PendingSecret(ctx context.Context, userID string) (string, error)
	Discard(ctx context.Context, userID, setupSessionID string) error
	TTL() time.Duration
}

// OTPStore holds hashed email one-time codes
type OTPStore interface {
	Put(ctx context.Context, userID, purpose, codeHash string) error
	Verify(ctx context.Context, userID, purpose string, match func(hash string) bool) (bool, error)
}

// ReplayGuard marks a value as used once across instances
type ReplayGuard interface {
	Claim(ctx context.Context, subject string, ttl time.Duration) (bool, error)
}

// Sealer encrypts TOTP secrets at rest
type Sealer interface {
	Seal(plaintext []byte) (string, error)
	Open(sealed string) ([]byte, error)
}

// MfaService runs the MFA lifecycle: TOTP setup, enable and disable, backup
// codes, email OTP, and second-factor verification during login.
type MfaService struct {
	settings   MfaSettingsRepository
	codes      BackupCodeRepository
	setups     SetupStore
	otps       OTPStore
	otpSends   Counter
	verifyHits Counter
	replay     ReplayGuard
	sealer     Sealer
	totp       *auth.TOTPManager
	users      UserDirectory
	email      EmailService
	audit      *AuditService
	metrics    *metrics.Metrics
	cfg        config.MFAConfig
	logger     *slog.Logger
	now        func() time.Time
}

// MfaDeps groups the collaborators of MfaService.
type MfaDeps struct {
	Settings   MfaSettingsRepository
	Codes      BackupCodeRepository
	Setups     SetupStore
	OTPs       OTPStore
	OTPSends   Counter
	VerifyHits Counter
	Replay     ReplayGuard
	Sealer     Sealer
	TOTP       *auth.TOTPManager
	Users      UserDirectory
	Email      EmailService
	Audit      *AuditService
	Metrics    *metrics.Metrics
}

func NewMfaService(deps MfaDeps, cfg config.MFAConfig, logger *slog.Logger) *MfaService {
	return &MfaService{
		settings:   deps.Settings,
		codes:      deps.Codes,
		setups:     deps.Setups,
		otps:       deps.OTPs,
		otpSends:   deps.OTPSends,
		verifyHits: deps.VerifyHits,
		replay:     deps.Replay,
		sealer:     deps.Sealer,
		totp:       deps.TOTP,
		users:      deps.Users,
		email:      deps.Email,
		audit:      deps.Audit,
		metrics:    deps.Metrics,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// SetupTotp starts a new pending setup with a fresh secret.
func (s *MfaService) SetupTotp(ctx context.Context, userID string, client models.ClientInfo) (*models.MfaSetupResult, error) {
	settings, err := s.settings.Ensure(ctx, userID)
	if err != nil {
		return nil, s.internal(ctx, "failed to load mfa settings", err)
	}
	if settings.IsEnabled {
		return nil, fmt.Errorf("%w: mfa is already enabled", models.ErrInvalidOperation)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, s.internal(ctx, "failed to load user", err)
	}

	key, err := s.totp.GenerateSecret(user.Email)
	if err != nil {
		return nil, s.internal(ctx, "failed to generate totp secret", err)
	}

	result, err := s.startSetup(ctx, userID, key.Secret, key.URI)
	if err != nil {
		return nil, err
	}
	s.record(ctx, userID, models.MfaActionSetupInitiated, methodPtr(models.MfaTypeTOTP), true, "", client)
	return result, nil
}

// RegenerateQrCode opens a new setup window for the pending secret. The
// secret is reused even when the previous window already lapsed.
func (s *MfaService) RegenerateQrCode(ctx context.Context, userID, setupSessionID string, client models.ClientInfo) (*models.MfaSetupResult, error) {
	settings, err := s.settings.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: no pending mfa setup", models.ErrInvalidOperation)
		}
		return nil, s.internal(ctx, "failed to load mfa settings", err)
	}
	if settings.IsEnabled {
		return nil, fmt.Errorf("%w: mfa is already enabled", models.ErrInvalidOperation)
	}

	sealed, err := s.pendingSecret(ctx, userID, setupSessionID)
	if err != nil {
		return nil, err
	}
	secret, err := s.sealer.Open(sealed)
	if err != nil {
		return nil, s.internal(ctx, "failed to open pending secret", err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, s.internal(ctx, "failed to load user", err)
	}

	if setupSessionID != "" {
		if err := s.setups.Discard(ctx, userID, setupSessionID); err != nil {
			return nil, s.internal(ctx, "failed to discard setup session", err)
		}
	}

	uri := s.totp.ProvisioningURI(user.Email, string(secret))
	result, err := s.startSetup(ctx, userID, string(secret), uri)
	if err != nil {
		return nil, err
	}
	s.record(ctx, userID, models.MfaActionSetupRegenerated, methodPtr(models.MfaTypeTOTP), true, "", client)
	return result, nil
}

func (s *MfaService) pendingSecret(ctx context.Context, userID, setupSessionID string) (string, error) {
	if setupSessionID != "" {
		session, err := s.setups.Get(ctx, userID, setupSessionID)
		if err == nil {
			return session.SealedSecret, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			return "", s.internal(ctx, "failed to load setup session", err)
		}
	}

	sealed, err := s.setups.PendingSecret(ctx, userID)
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return "", fmt.Errorf("%w: no pending mfa setup", models.ErrInvalidOperation)
		}
		return "", s.internal(ctx, "failed to load pending secret", err)
	}
	return sealed, nil
}

func (s *MfaService) startSetup(ctx context.Context, userID, secret, uri string) (*models.MfaSetupResult, error) {
	sealed, err := s.sealer.Seal([]byte(secret))
	if err != nil {
		return nil, s.internal(ctx, "failed to seal totp secret", err)
	}

	now := s.now()
	ttl := s.setups.TTL()
	session := &models.MfaSetupSession{
		UserID:         userID,
		SetupSessionID: uuid.NewString(),
		SealedSecret:   sealed,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
	if err := s.setups.Save(ctx, session); err != nil {
		return nil, s.internal(ctx, "failed to save setup session", err)
	}

	image, err := s.totp.QRCodeDataURL(uri)
	if err != nil {
		// the URI alone is enough to finish setup
		s.logger.WarnContext(ctx, "failed to render qr code", slog.Any("error", err))
	}

	return &models.MfaSetupResult{
		SecretKey:          secret,
		QRCodeURI:          uri,
		QRCodeImage:        image,
		FormattedSecretKey: auth.FormatSecret(secret),
		SetupSessionID:     session.SetupSessionID,
		ExpiresInSeconds:   int(ttl / time.Second),
	}, nil
}

// loadSetup returns ErrExpired once the setup window has lapsed.
func (s *MfaService) loadSetup(ctx context.Context, userID, setupSessionID string) (*models.MfaSetupSession, error) {
	var session *models.MfaSetupSession
	var err error
	if setupSessionID != "" {
		session, err = s.setups.Get(ctx, userID, setupSessionID)
	} else {
		session, err = s.setups.Latest(ctx, userID)
	}
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, fmt.Errorf("%w: mfa setup session", models.ErrExpired)
		}
		return nil, s.internal(ctx, "failed to load setup session", err)
	}
	return session, nil
}

// VerifyTotpSetup checks a code against the pending secret. It does not
// enable MFA.
func (s *MfaService) VerifyTotpSetup(ctx context.Context, userID, code, setupSessionID string, client models.ClientInfo) (bool, error) {
	if !auth.IsTOTPCode(code) {
		return false, fmt.Errorf("%w: code must be 6 digits", models.ErrInvalidRequest)
	}
	if err := s.throttle(ctx, "setup:"+userID); err != nil {
		return false, err
	}

	session, err := s.loadSetup(ctx, userID, setupSessionID)
	if err != nil {
		return false, err
	}

	valid, err := s.checkSealedTotp(ctx, session.SealedSecret, code)
	if err != nil {
		return false, err
	}

	s.record(ctx, userID, models.MfaActionSetupVerified, methodPtr(models.MfaTypeTOTP), valid, failureIf(!valid, "invalid_code"), client)
	return valid, nil
}

// EnableMfa re-verifies the code against the pending secret, turns MFA on and
// returns the plaintext backup codes. They are never retrievable again.
func (s *MfaService) EnableMfa(ctx context.Context, userID, code, setupSessionID string, client models.ClientInfo) (*models.MfaEnableResult, error) {
	if !auth.IsTOTPCode(code) {
		return nil, fmt.Errorf("%w: code must be 6 digits", models.ErrInvalidRequest)
	}
	if err := s.throttle(ctx, "setup:"+userID); err != nil {
		return nil, err
	}

	session, err := s.loadSetup(ctx, userID, setupSessionID)
	if err != nil {
		return nil, err
	}

	valid, err := s.checkSealedTotp(ctx, session.SealedSecret, code)
	if err != nil {
		return nil, err
	}
	if !valid {
		s.record(ctx, userID, models.MfaActionEnabled, methodPtr(models.MfaTypeTOTP), false, "invalid_code", client)
		return nil, models.ErrInvalidCredentials
	}

	// the enabling code must not also pass a login challenge
	if _, err := s.replay.Claim(ctx, totpReplayKey(userID, code), s.totp.ReplayWindow()); err != nil {
		s.logger.WarnContext(ctx, "failed to claim enabling totp code", slog.Any("error", err))
	}

	codes, hashes, err := s.newBackupCodes(s.cfg.BackupCodeCount)
	if err != nil {
		return nil, s.internal(ctx, "failed to generate backup codes", err)
	}

	now := s.now()
	settings, err := s.settings.Enable(ctx, userID, session.SealedSecret, hashes, now)
	if err != nil {
		if errors.Is(err, models.ErrInvalidOperation) {
			return nil, fmt.Errorf("%w: mfa is already enabled", models.ErrInvalidOperation)
		}
		return nil, s.internal(ctx, "failed to enable mfa", err)
	}

	if err := s.setups.Discard(ctx, userID, session.SetupSessionID); err != nil {
		s.logger.WarnContext(ctx, "failed to discard setup session", slog.Any("error", err))
	}

	s.record(ctx, userID, models.MfaActionEnabled, methodPtr(models.MfaTypeTOTP), true, "", client)

	enabledAt := now
	if settings.EnabledAt != nil {
		enabledAt = *settings.EnabledAt
	}
	return &models.MfaEnableResult{
		IsEnabled:        true,
		BackupCodes:      codes,
		BackupCodesCount: len(codes),
		EnabledAt:        enabledAt,
	}, nil
}

// DisableMfa needs the current password and a second factor. Enforced MFA
// cannot be disabled.
func (s *MfaService) DisableMfa(ctx context.Context, userID, password, code, reason string, client models.ClientInfo) error {
	settings, err := s.enabledSettings(ctx, userID)
	if err != nil {
		return err
	}
	if settings.IsEnforced {
		s.record(ctx, userID, models.MfaActionDisabled, nil, false, "mfa_enforced", client)
		return fmt.Errorf("%w: mfa is enforced for this account", models.ErrInvalidOperation)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return s.internal(ctx, "failed to load user", err)
	}
	ok, err := pkgauth.VerifyPassword(user.PasswordHash, password)
	if err != nil {
		return s.internal(ctx, "failed to verify password", err)
	}
	if !ok {
		s.record(ctx, userID, models.MfaActionDisabled, nil, false, "invalid_password", client)
		return models.ErrInvalidCredentials
	}

	var method models.MfaType
	var valid bool
	switch {
	case auth.IsTOTPCode(code):
		method = models.MfaTypeTOTP
		valid, err = s.checkTotp(ctx, settings, userID, code)
	case auth.IsBackupCode(code):
		method = models.MfaTypeBackupCode
		valid, err = s.consumeBackupCode(ctx, userID, code)
	default:
		return fmt.Errorf("%w: code must be a TOTP or backup code", models.ErrInvalidRequest)
	}
	if err != nil {
		return err
	}
	if !valid {
		s.record(ctx, userID, models.MfaActionDisabled, &method, false, "invalid_code", client)
		return models.ErrInvalidCredentials
	}

	if err := s.settings.Disable(ctx, userID, s.now()); err != nil {
		if errors.Is(err, models.ErrInvalidOperation) {
			return fmt.Errorf("%w: mfa is not enabled", models.ErrInvalidOperation)
		}
		return s.internal(ctx, "failed to disable mfa", err)
	}

	s.record(ctx, userID, models.MfaActionDisabled, &method, true, "", client)
	s.logger.InfoContext(ctx, "mfa disabled", slog.String("user_id", userID), slog.String("reason", reason))
	return nil
}

// Verify checks a second factor of the given type. Attempts are throttled per
// user across all types.
func (s *MfaService) Verify(ctx context.Context, userID, code string, mfaType models.MfaType, client models.ClientInfo) (bool, error) {
	if !mfaType.Valid() {
		return false, fmt.Errorf("%w: unknown mfa type %q", models.ErrInvalidRequest, mfaType)
	}
	if err := s.throttle(ctx, "verify:"+userID); err != nil {
		return false, err
	}

	switch mfaType {
	case models.MfaTypeTOTP:
		return s.VerifyTotp(ctx, userID, code, client)
	case models.MfaTypeBackupCode:
		return s.VerifyBackupCode(ctx, userID, code, client)
	default:
		return s.VerifyEmailOtp(ctx, userID, code, models.OTPPurposeLogin, client)
	}
}

// VerifyTotp accepts each code at most once within its validity window.
func (s *MfaService) VerifyTotp(ctx context.Context, userID, code string, client models.ClientInfo) (bool, error) {
	if !auth.IsTOTPCode(code) {
		return false, fmt.Errorf("%w: code must be 6 digits", models.ErrInvalidRequest)
	}

	settings, err := s.settings.Get(ctx, userID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return false, s.internal(ctx, "failed to load mfa settings", err)
	}

	valid := false
	if settings != nil && settings.IsEnabled {
		if valid, err = s.checkTotp(ctx, settings, userID, code); err != nil {
			return false, err
		}
	}
	s.verified(ctx, userID, models.MfaTypeTOTP, valid, client)
	return valid, nil
}

// VerifyBackupCode consumes the code; a code verifies at most once.
func (s *MfaService) VerifyBackupCode(ctx context.Context, userID, code string, client models.ClientInfo) (bool, error) {
	if !auth.IsBackupCode(code) {
		return false, fmt.Errorf("%w: malformed backup code", models.ErrInvalidRequest)
	}

	valid, err := s.consumeBackupCode(ctx, userID, code)
	if err != nil {
		return false, err
	}
	s.verified(ctx, userID, models.MfaTypeBackupCode, valid, client)
	return valid, nil
}

// VerifyEmailOtp consumes the outstanding code for purpose. After too many
// wrong guesses the code is burned and a new one must be requested.
func (s *MfaService) VerifyEmailOtp(ctx context.Context, userID, code, purpose string, client models.ClientInfo) (bool, error) {
	if !validPurpose(purpose) {
		return false, fmt.Errorf("%w: unknown otp purpose", models.ErrInvalidRequest)
	}
	if !auth.IsTOTPCode(code) {
		return false, fmt.Errorf("%w: code must be %d digits", models.ErrInvalidRequest, emailOTPDigits)
	}

	valid, err := s.otps.Verify(ctx, userID, purpose, func(hash string) bool {
		return pkgauth.MatchOTP(hash, code)
	})
	switch {
	case errors.Is(err, cache.ErrMiss):
		valid, err = false, nil
	case errors.Is(err, cache.ErrAttemptsExceeded):
		s.verified(ctx, userID, models.MfaTypeEmailOTP, false, client)
		return false, &models.RateLimitError{Scope: "email_otp_verify"}
	case err != nil:
		return false, s.internal(ctx, "failed to verify email otp", err)
	}

	s.verified(ctx, userID, models.MfaTypeEmailOTP, valid, client)
	return valid, nil
}

// SendEmailOtp issues a code to the account's address. Unknown addresses get
// the same response as known ones.
func (s *MfaService) SendEmailOtp(ctx context.Context, email, purpose string, client models.ClientInfo) error {
	if !validPurpose(purpose) {
		return fmt.Errorf("%w: unknown otp purpose", models.ErrInvalidRequest)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return s.internal(ctx, "failed to look up user", err)
	}

	subject := email
	if user != nil {
		subject = user.ID
	}
	count, ttl, err := s.otpSends.Hit(ctx, subject+":"+purpose, s.cfg.EmailOTPSendWindow)
	if err != nil {
		return s.internal(ctx, "failed to count otp sends", err)
	}
	if count > int64(s.cfg.EmailOTPSendLimit) {
		s.metrics.EmailOTPThrottled()
		return &models.RateLimitError{Scope: "email_otp", RetryAfter: ttl}
	}

	if user == nil {
		return nil
	}
	return s.sendOTP(ctx, user, purpose, client)
}

// SendEmailOtpToUser is SendEmailOtp for a caller already bound to a user,
// such as a login awaiting its second factor.
func (s *MfaService) SendEmailOtpToUser(ctx context.Context, userID, purpose string, client models.ClientInfo) error {
	if !validPurpose(purpose) {
		return fmt.Errorf("%w: unknown otp purpose", models.ErrInvalidRequest)
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		return s.internal(ctx, "failed to load user", err)
	}

	count, ttl, err := s.otpSends.Hit(ctx, user.ID+":"+purpose, s.cfg.EmailOTPSendWindow)
	if err != nil {
		return s.internal(ctx, "failed to count otp sends", err)
	}
	if count > int64(s.cfg.EmailOTPSendLimit) {
		s.metrics.EmailOTPThrottled()
		return &models.RateLimitError{Scope: "email_otp", RetryAfter: ttl}
	}
	return s.sendOTP(ctx, user, purpose, client)
}

func (s *MfaService) sendOTP(ctx context.Context, user *models.User, purpose string, client models.ClientInfo) error {
	code, err := auth.GenerateNumericOTP(emailOTPDigits)
	if err != nil {
		return s.internal(ctx, "failed to generate otp", err)
	}
	hash, err := pkgauth.HashOTP(code)
	if err != nil {
		return s.internal(ctx, "failed to hash otp", err)
	}
	if err := s.otps.Put(ctx, user.ID, purpose, hash); err != nil {
		return s.internal(ctx, "failed to store otp", err)
	}

	if err := s.email.SendOTP(ctx, user.Email, code, purpose, s.now().Add(s.cfg.EmailOTPTTL)); err != nil {
		s.record(ctx, user.ID, models.MfaActionEmailOTPSent, methodPtr(models.MfaTypeEmailOTP), false, "delivery_failed", client)
		return s.internal(ctx, "failed to deliver otp", err)
	}
	s.record(ctx, user.ID, models.MfaActionEmailOTPSent, methodPtr(models.MfaTypeEmailOTP), true, "", client)
	return nil
}

// GenerateBackupCodes replaces every existing code with count new ones.
func (s *MfaService) GenerateBackupCodes(ctx context.Context, userID string, count int, client models.ClientInfo) ([]string, error) {
	if count <= 0 {
		count = s.cfg.BackupCodeCount
	}
	if count > 20 {
		return nil, fmt.Errorf("%w: at most 20 backup codes", models.ErrInvalidRequest)
	}
	if _, err := s.enabledSettings(ctx, userID); err != nil {
		return nil, err
	}

	codes, hashes, err := s.newBackupCodes(count)
	if err != nil {
		return nil, s.internal(ctx, "failed to generate backup codes", err)
	}
	if err := s.codes.Replace(ctx, userID, hashes, s.now()); err != nil {
		if errors.Is(err, models.ErrInvalidOperation) {
			return nil, fmt.Errorf("%w: mfa is not enabled", models.ErrInvalidOperation)
		}
		return nil, s.internal(ctx, "failed to store backup codes", err)
	}

	s.record(ctx, userID, models.MfaActionBackupCodesRegenerated, methodPtr(models.MfaTypeBackupCode), true, "", client)
	return codes, nil
}

func (s *MfaService) GetStatus(ctx context.Context, userID string) (*models.MfaStatus, error) {
	settings, err := s.settings.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &models.MfaStatus{AvailableMethods: []models.MfaType{}}, nil
		}
		return nil, s.internal(ctx, "failed to load mfa settings", err)
	}

	return &models.MfaStatus{
		IsEnabled:                 settings.IsEnabled,
		IsEnforced:                settings.IsEnforced,
		AvailableMethods:          availableMethods(settings),
		BackupCodesRemaining:      settings.BackupCodesRemaining,
		EnforcementGracePeriodEnd: settings.EnforcementGracePeriodEnd,
		EnabledAt:                 settings.EnabledAt,
		LastUsedAt:                settings.LastUsedAt,
	}, nil
}

func availableMethods(settings *models.MfaSettings) []models.MfaType {
	methods := make([]models.MfaType, 0, 3)
	if !settings.IsEnabled {
		return methods
	}
	if settings.EncryptedTotpSecret != nil {
		methods = append(methods, models.MfaTypeTOTP)
	}
	if settings.BackupCodesRemaining > 0 {
		methods = append(methods, models.MfaTypeBackupCode)
	}
	if settings.EmailOtpEnabled {
		methods = append(methods, models.MfaTypeEmailOTP)
	}
	return methods
}

func (s *MfaService) IsMfaEnforced(ctx context.Context, userID string) (bool, error) {
	settings, err := s.settings.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, s.internal(ctx, "failed to load mfa settings", err)
	}
	return settings.IsEnforced, nil
}

// RequiresMfa returns the methods a login must complete, or nil when the
// password alone is enough. Users without MFA still get an email code when
// the attempt looks risky.
func (s *MfaService) RequiresMfa(ctx context.Context, userID string, riskScore, threshold float64) ([]models.MfaType, error) {
	settings, err := s.settings.Get(ctx, userID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, s.internal(ctx, "failed to load mfa settings", err)
	}
	if settings != nil && settings.IsEnabled {
		return availableMethods(settings), nil
	}
	if riskScore >= threshold {
		return []models.MfaType{models.MfaTypeEmailOTP}, nil
	}
	return nil, nil
}

// SetEnforcement requires MFA for the user. A user without MFA gets a grace
// period to set it up.
func (s *MfaService) SetEnforcement(ctx context.Context, userID string, enforced bool, client models.ClientInfo) (*models.MfaStatus, error) {
	current, err := s.settings.Ensure(ctx, userID)
	if err != nil {
		return nil, s.internal(ctx, "failed to load mfa settings", err)
	}

	var graceEnd *time.Time
	if enforced && !current.IsEnabled {
		end := s.now().Add(s.cfg.EnforcementGracePeriod)
		graceEnd = &end
	}
	if _, err := s.settings.SetEnforcement(ctx, userID, enforced, graceEnd); err != nil {
		return nil, s.internal(ctx, "failed to set mfa enforcement", err)
	}

	s.record(ctx, userID, models.MfaActionEnforcementChanged, nil, true, "", client)
	return s.GetStatus(ctx, userID)
}

// SetEmailOtp opts the user in or out of email codes as a second factor.
func (s *MfaService) SetEmailOtp(ctx context.Context, userID string, enabled bool) error {
	if _, err := s.enabledSettings(ctx, userID); err != nil {
		return err
	}
	if err := s.settings.SetEmailOTP(ctx, userID, enabled); err != nil {
		return s.internal(ctx, "failed to update email otp", err)
	}
	return nil
}

func (s *MfaService) GetAuditLogs(ctx context.Context, userID string, limit, offset int) (*models.MfaAuditPage, error) {
	return s.audit.ListMfa(ctx, userID, limit, offset)
}

func (s *MfaService) enabledSettings(ctx context.Context, userID string) (*models.MfaSettings, error) {
	settings, err := s.settings.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: mfa is not enabled", models.ErrInvalidOperation)
		}
		return nil, s.internal(ctx, "failed to load mfa settings", err)
	}
	if !settings.IsEnabled {
		return nil, fmt.Errorf("%w: mfa is not enabled", models.ErrInvalidOperation)
	}
	return settings, nil
}

// checkTotp validates against the stored secret and claims the code so it
// cannot be replayed within its window.
func (s *MfaService) checkTotp(ctx context.Context, settings *models.MfaSettings, userID, code string) (bool, error) {
	if settings.EncryptedTotpSecret == nil {
		return false, nil
	}
	valid, err := s.checkSealedTotp(ctx, *settings.EncryptedTotpSecret, code)
	if err != nil || !valid {
		return false, err
	}

	claimed, err := s.replay.Claim(ctx, totpReplayKey(userID, code), s.totp.ReplayWindow())
	if err != nil {
		return false, s.internal(ctx, "failed to claim totp code", err)
	}
	return claimed, nil
}

func (s *MfaService) checkSealedTotp(ctx context.Context, sealed, code string) (bool, error) {
	secret, err := s.sealer.Open(sealed)
	if err != nil {
		return false, s.internal(ctx, "failed to open totp secret", err)
	}
	valid, err := s.totp.Validate(string(secret), code, s.now())
	if err != nil {
		return false, s.internal(ctx, "failed to validate totp code", err)
	}
	return valid, nil
}

func (s *MfaService) consumeBackupCode(ctx context.Context, userID, code string) (bool, error) {
	ok, err := s.codes.Consume(ctx, userID, auth.HashBackupCode(code), s.now())
	if err != nil {
		return false, s.internal(ctx, "failed to consume backup code", err)
	}
	return ok, nil
}

func (s *MfaService) newBackupCodes(count int) ([]string, []string, error) {
	codes, err := auth.GenerateBackupCodes(count)
	if err != nil {
		return nil, nil, err
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = auth.HashBackupCode(c)
	}
	return codes, hashes, nil
}

func (s *MfaService) throttle(ctx context.Context, subject string) error {
	count, ttl, err := s.verifyHits.Hit(ctx, subject, s.cfg.VerifyWindow)
	if err != nil {
		return s.internal(ctx, "failed to count verification attempts", err)
	}
	if count > int64(s.cfg.VerifyMaxAttempts) {
		return &models.RateLimitError{Scope: "mfa_verify", RetryAfter: ttl}
	}
	return nil
}

func (s *MfaService) verified(ctx context.Context, userID string, method models.MfaType, success bool, client models.ClientInfo) {
	s.metrics.MFAVerification(string(method), success)
	s.record(ctx, userID, models.MfaActionVerify, &method, success, failureIf(!success, "invalid_code"), client)
	if success {
		if err := s.settings.MarkUsed(ctx, userID, s.now()); err != nil {
			s.logger.WarnContext(ctx, "failed to mark mfa used", slog.String("user_id", userID), slog.Any("error", err))
		}
	}
}

func (s *MfaService) record(ctx context.Context, userID string, action models.MfaAction, method *models.MfaType, success bool, reason string, client models.ClientInfo) {
	s.audit.RecordMfa(ctx, &models.MfaAuditLog{
		UserID:        userID,
		Action:        action,
		Method:        method,
		Success:       success,
		FailureReason: strPtr(reason),
		IPAddress:     client.IPAddress,
		UserAgent:     client.UserAgent,
		CreatedAt:     s.now(),
	})
}

func (s *MfaService) internal(ctx context.Context, msg string, err error) error {
	s.logger.ErrorContext(ctx, msg, slog.Any("error", err))
	return models.ErrInternal
}

func totpReplayKey(userID, code string) string {
	return userID + ":" + code
}

func methodPtr(t models.MfaType) *models.MfaType {
	return &t
}

func failureIf(cond bool, reason string) string {
	if cond {
		return reason
	}
	return ""
}

func validPurpose(purpose string) bool {
	switch purpose {
	case models.OTPPurposeLogin, models.OTPPurposeDisableMFA, models.OTPPurposeSensitive:
		return true
	}
	return false
}
