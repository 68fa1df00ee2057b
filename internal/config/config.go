package config

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Auth     AuthConfig
	Lockout  LockoutConfig
	MFA      MFAConfig
	Email    EmailConfig
	Cleanup  CleanupConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	AutoMigrate       bool
}

type RedisConfig struct {
	Addr     string // host:port or redis:// URL
	Password string
	DB       int
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type AuthConfig struct {
	// PEM encoded RSA private key. Empty outside production means an
	// ephemeral key generated at startup.
	SigningKeyPEM string
	SigningKeyID  string

	// The key replaced by the last rotation. It stays published and keeps
	// validating for one token lifetime after PreviousKeyRetiredAt (zero
	// means process start).
	PreviousSigningKeyPEM string
	PreviousSigningKeyID  string
	PreviousKeyRetiredAt  time.Time

	Issuer             string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	MFAChallengeExpiry time.Duration
	JWKSCacheTTL       time.Duration
	TimingDelay        time.Duration
}

// LockoutConfig holds the defaults applied to users without SecuritySettings.
type LockoutConfig struct {
	MaxFailedAttempts           int
	LockoutWindow               time.Duration
	InitialLockout              time.Duration
	MaxLockout                  time.Duration
	ProgressiveMultiplier       float64
	EnableProgressiveLockout    bool
	MaxProgressiveLevel         int
	ProgressiveObservation      time.Duration
	SuspiciousActivityThreshold float64
	IPBlockThreshold            int
	IPBlockWindow               time.Duration
	MaxConcurrentSessions       int
	SessionTimeout              time.Duration
	SendSecurityAlerts          bool
}

type MFAConfig struct {
	Issuer                 string
	EncryptionKey          []byte // exactly 32 bytes, AES-256
	BackupCodeCount        int
	TOTPSkew               uint
	SetupSessionTTL        time.Duration
	PendingSecretTTL       time.Duration
	EmailOTPTTL            time.Duration
	EmailOTPMaxAttempts    int
	EmailOTPSendLimit      int
	EmailOTPSendWindow     time.Duration
	VerifyMaxAttempts      int
	VerifyWindow           time.Duration
	EnforcementGracePeriod time.Duration
}

type EmailConfig struct {
	Enabled     bool
	Region      string
	FromAddress string
}

type CleanupConfig struct {
	Interval              time.Duration
	LoginAttemptRetention time.Duration
	SessionRetention      time.Duration
	AuditRetention        time.Duration
	LockTTL               time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	encryptionKey, err := parseEncryptionKey(getEnv("MFA_ENCRYPTION_KEY", ""))
	if err != nil {
		return nil, err
	}

	var retiredAt time.Time
	if raw := getEnv("JWT_PREVIOUS_KEY_RETIRED_AT", ""); raw != "" {
		if retiredAt, err = time.Parse(time.RFC3339, raw); err != nil {
			return nil, fmt.Errorf("JWT_PREVIOUS_KEY_RETIRED_AT must be RFC3339: %w", err)
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "warden"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", env != "production"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: splitList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			SigningKeyPEM:         loadPEM("JWT_PRIVATE_KEY", "JWT_PRIVATE_KEY_FILE"),
			SigningKeyID:          getEnv("JWT_KEY_ID", ""),
			PreviousSigningKeyPEM: loadPEM("JWT_PREVIOUS_PRIVATE_KEY", "JWT_PREVIOUS_PRIVATE_KEY_FILE"),
			PreviousSigningKeyID:  getEnv("JWT_PREVIOUS_KEY_ID", ""),
			PreviousKeyRetiredAt:  retiredAt,
			Issuer:                getEnv("JWT_ISSUER", "warden"),
			AccessTokenExpiry:     getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry:    getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			MFAChallengeExpiry:    getEnvAsDuration("MFA_CHALLENGE_EXPIRY", 5*time.Minute),
			JWKSCacheTTL:          getEnvAsDuration("JWKS_CACHE_TTL", time.Hour),
			TimingDelay:           getEnvAsDuration("AUTH_TIMING_DELAY", 250*time.Millisecond),
		},
		Lockout: LockoutConfig{
			MaxFailedAttempts:           getEnvAsInt("LOCKOUT_MAX_FAILED_ATTEMPTS", 5),
			LockoutWindow:               getEnvAsDuration("LOCKOUT_WINDOW", 60*time.Minute),
			InitialLockout:              getEnvAsDuration("LOCKOUT_INITIAL_DURATION", 15*time.Minute),
			MaxLockout:                  getEnvAsDuration("LOCKOUT_MAX_DURATION", 24*time.Hour),
			ProgressiveMultiplier:       getEnvAsFloat("LOCKOUT_PROGRESSIVE_MULTIPLIER", 2.0),
			EnableProgressiveLockout:    getEnvAsBool("LOCKOUT_PROGRESSIVE_ENABLED", true),
			MaxProgressiveLevel:         getEnvAsInt("LOCKOUT_MAX_PROGRESSIVE_LEVEL", 5),
			ProgressiveObservation:      getEnvAsDuration("LOCKOUT_PROGRESSIVE_OBSERVATION", 24*time.Hour),
			SuspiciousActivityThreshold: getEnvAsFloat("RISK_SUSPICIOUS_THRESHOLD", 0.7),
			IPBlockThreshold:            getEnvAsInt("IP_BLOCK_THRESHOLD", 20),
			IPBlockWindow:               getEnvAsDuration("IP_BLOCK_WINDOW", time.Hour),
			MaxConcurrentSessions:       getEnvAsInt("SESSION_MAX_CONCURRENT", 5),
			SessionTimeout:              getEnvAsDuration("SESSION_TIMEOUT", 60*time.Minute),
			SendSecurityAlerts:          getEnvAsBool("SECURITY_ALERTS_ENABLED", true),
		},
		MFA: MFAConfig{
			Issuer:                 getEnv("MFA_ISSUER", "Warden"),
			EncryptionKey:          encryptionKey,
			BackupCodeCount:        getEnvAsInt("MFA_BACKUP_CODE_COUNT", 10),
			TOTPSkew:               uint(getEnvAsInt("MFA_TOTP_SKEW", 1)),
			SetupSessionTTL:        getEnvAsDuration("MFA_SETUP_SESSION_TTL", 60*time.Second),
			PendingSecretTTL:       getEnvAsDuration("MFA_PENDING_SECRET_TTL", 15*time.Minute),
			EmailOTPTTL:            getEnvAsDuration("MFA_EMAIL_OTP_TTL", 10*time.Minute),
			EmailOTPMaxAttempts:    getEnvAsInt("MFA_EMAIL_OTP_MAX_ATTEMPTS", 5),
			EmailOTPSendLimit:      getEnvAsInt("MFA_EMAIL_OTP_SEND_LIMIT", 3),
			EmailOTPSendWindow:     getEnvAsDuration("MFA_EMAIL_OTP_SEND_WINDOW", 5*time.Minute),
			VerifyMaxAttempts:      getEnvAsInt("MFA_VERIFY_MAX_ATTEMPTS", 10),
			VerifyWindow:           getEnvAsDuration("MFA_VERIFY_WINDOW", 15*time.Minute),
			EnforcementGracePeriod: getEnvAsDuration("MFA_ENFORCEMENT_GRACE_PERIOD", 7*24*time.Hour),
		},
		Email: EmailConfig{
			Enabled:     getEnvAsBool("EMAIL_ENABLED", false),
			Region:      getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "security@example.com"),
		},
		Cleanup: CleanupConfig{
			Interval:              getEnvAsDuration("CLEANUP_INTERVAL", time.Hour),
			LoginAttemptRetention: getEnvAsDuration("CLEANUP_LOGIN_ATTEMPT_RETENTION", 30*24*time.Hour),
			SessionRetention:      getEnvAsDuration("CLEANUP_SESSION_RETENTION", 30*24*time.Hour),
			AuditRetention:        getEnvAsDuration("CLEANUP_AUDIT_RETENTION", 365*24*time.Hour),
			LockTTL:               getEnvAsDuration("CLEANUP_LOCK_TTL", 5*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate returns the first configuration violation.
func (c *Config) Validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Server.Env == "production" && c.Auth.SigningKeyPEM == "" {
		return fmt.Errorf("JWT_PRIVATE_KEY or JWT_PRIVATE_KEY_FILE is required in production")
	}
	if c.Auth.PreviousSigningKeyPEM != "" && c.Auth.SigningKeyPEM == "" {
		return fmt.Errorf("JWT_PREVIOUS_PRIVATE_KEY requires JWT_PRIVATE_KEY")
	}
	if len(c.MFA.EncryptionKey) != 32 {
		return fmt.Errorf("MFA_ENCRYPTION_KEY must decode to exactly 32 bytes (got %d)", len(c.MFA.EncryptionKey))
	}
	if isWeakKey(c.MFA.EncryptionKey) {
		return fmt.Errorf("MFA_ENCRYPTION_KEY cannot be a repeated or trivial value")
	}
	if c.Auth.AccessTokenExpiry <= 0 || c.Auth.RefreshTokenExpiry <= c.Auth.AccessTokenExpiry {
		return fmt.Errorf("REFRESH_TOKEN_EXPIRY must be longer than ACCESS_TOKEN_EXPIRY")
	}

	defaults := c.Lockout.DefaultSecuritySettings("")
	if err := defaults.Validate(); err != nil {
		return fmt.Errorf("invalid lockout defaults: %w", err)
	}
	if c.Lockout.MaxProgressiveLevel < 1 {
		return fmt.Errorf("LOCKOUT_MAX_PROGRESSIVE_LEVEL must be at least 1")
	}
	if c.Lockout.IPBlockThreshold < 1 {
		return fmt.Errorf("IP_BLOCK_THRESHOLD must be at least 1")
	}

	if c.MFA.BackupCodeCount < 1 || c.MFA.BackupCodeCount > 20 {
		return fmt.Errorf("MFA_BACKUP_CODE_COUNT must be between 1 and 20")
	}
	if c.MFA.SetupSessionTTL < 10*time.Second {
		return fmt.Errorf("MFA_SETUP_SESSION_TTL must be at least 10s")
	}
	if c.MFA.PendingSecretTTL < c.MFA.SetupSessionTTL {
		return fmt.Errorf("MFA_PENDING_SECRET_TTL must not be shorter than MFA_SETUP_SESSION_TTL")
	}
	if c.MFA.TOTPSkew > 3 {
		return fmt.Errorf("MFA_TOTP_SKEW must be at most 3")
	}
	if c.MFA.EmailOTPSendLimit < 1 || c.MFA.EmailOTPMaxAttempts < 1 {
		return fmt.Errorf("email OTP limits must be positive")
	}

	if c.Cleanup.Interval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be positive")
	}

	return nil
}

// DefaultSecuritySettings builds the policy used when a user has no overrides.
func (c *LockoutConfig) DefaultSecuritySettings(userID string) models.SecuritySettings {
	return models.SecuritySettings{
		UserID:                      userID,
		MaxFailedAttempts:           c.MaxFailedAttempts,
		LockoutWindowMinutes:        int(c.LockoutWindow / time.Minute),
		InitialLockoutMinutes:       int(c.InitialLockout / time.Minute),
		MaxLockoutMinutes:           int(c.MaxLockout / time.Minute),
		ProgressiveMultiplier:       c.ProgressiveMultiplier,
		EnableProgressiveLockout:    c.EnableProgressiveLockout,
		SuspiciousActivityThreshold: c.SuspiciousActivityThreshold,
		MaxConcurrentSessions:       c.MaxConcurrentSessions,
		SessionTimeoutMinutes:       int(c.SessionTimeout / time.Minute),
		SendSecurityAlerts:          c.SendSecurityAlerts,
	}
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// parseEncryptionKey accepts hex (64 chars), base64, or a raw 32 byte string.
func parseEncryptionKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY is required")
	}
	if len(raw) == 64 {
		if key, err := hex.DecodeString(raw); err == nil {
			return key, nil
		}
	}
	if key, err := base64.StdEncoding.DecodeString(raw); err == nil && len(key) == 32 {
		return key, nil
	}
	return []byte(raw), nil
}

func isWeakKey(key []byte) bool {
	for _, b := range key[1:] {
		if b != key[0] {
			return false
		}
	}
	return true
}

// loadPEM reads a key inline from envVar or from the file named by fileVar.
func loadPEM(envVar, fileVar string) string {
	if pem := getEnv(envVar, ""); pem != "" {
		return strings.ReplaceAll(pem, `\n`, "\n")
	}
	if path := getEnv(fileVar, ""); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			return string(data)
		}
	}
	return ""
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return splitList(getEnv("ALLOWED_ORIGINS", ""))
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
