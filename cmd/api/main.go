package main

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/background"
	"github.com/BradenHooton/warden/internal/cache"
	"github.com/BradenHooton/warden/internal/config"
	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/handlers"
	"github.com/BradenHooton/warden/internal/metrics"
	middlewareCustom "github.com/BradenHooton/warden/internal/middleware"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/repositories"
	"github.com/BradenHooton/warden/internal/routes"
	"github.com/BradenHooton/warden/internal/services"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// jwksLocalTTL bounds how long one instance serves a key set it rendered
// before re-reading the shared copy.
const jwksLocalTTL = time.Minute

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(startupCtx, cfg.Database.DSN(), logger); err != nil {
			logger.Error("failed to apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := cache.Connect(startupCtx, cfg.Redis)
	if err != nil {
		logger.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer rdb.Close()

	m := metrics.New()

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	attemptRepo := repositories.NewLoginAttemptRepository(db)
	lockoutRepo := repositories.NewLockoutRepository(db)
	settingsRepo := repositories.NewSecuritySettingsRepository(db)
	mfaSettingsRepo := repositories.NewMfaSettingsRepository(db)
	backupCodeRepo := repositories.NewBackupCodeRepository(db)
	securityEventRepo := repositories.NewSecurityEventRepository(db)
	mfaAuditRepo := repositories.NewMfaAuditRepository(db)

	// Tokens and the published key set
	tokenManager, err := newTokenManager(cfg.Auth, cache.NewTokenBlacklist(rdb), logger)
	if err != nil {
		logger.Error("failed to initialize token manager", slog.Any("error", err))
		os.Exit(1)
	}
	jwks := auth.NewJWKSPublisher(tokenManager, cache.NewDocumentStore(rdb), cfg.Auth.JWKSCacheTTL, jwksLocalTTL, logger)
	tokenManager.OnRotate(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		jwks.Invalidate(ctx)
	})

	sealer, err := auth.NewAESGCMSealer(cfg.MFA.EncryptionKey)
	if err != nil {
		logger.Error("failed to initialize secret sealer", slog.Any("error", err))
		os.Exit(1)
	}

	emailService := newEmailService(startupCtx, cfg, logger)
	cancelStartup()

	// Services
	auditService := services.NewAuditService(securityEventRepo, mfaAuditRepo, logger)

	lockoutService := services.NewLockoutService(
		attemptRepo,
		lockoutRepo,
		settingsRepo,
		cache.NewWindowCounter(rdb, "ip_attempts"),
		cache.NewWindowCounter(rdb, "ip_failures"),
		auditService,
		m,
		cfg.Lockout,
		logger,
	)

	sessionService := services.NewSessionService(
		sessionRepo,
		lockoutService,
		userRepo,
		emailService,
		auditService,
		m,
		cfg.Auth.RefreshTokenExpiry,
		logger,
	)
	tokenManager.SetSessionChecker(sessionService)

	mfaService := services.NewMfaService(services.MfaDeps{
		Settings:   mfaSettingsRepo,
		Codes:      backupCodeRepo,
		Setups:     cache.NewSetupStore(rdb, cfg.MFA.SetupSessionTTL, cfg.MFA.PendingSecretTTL),
		OTPs:       cache.NewOTPStore(rdb, cfg.MFA.EmailOTPTTL, cfg.MFA.EmailOTPMaxAttempts),
		OTPSends:   cache.NewWindowCounter(rdb, "otp_sends"),
		VerifyHits: cache.NewWindowCounter(rdb, "mfa_verify"),
		Replay:     cache.NewReplayGuard(rdb, "totp"),
		Sealer:     sealer,
		TOTP:       auth.NewTOTPManager(cfg.MFA.Issuer, cfg.MFA.TOTPSkew),
		Users:      userRepo,
		Email:      emailService,
		Audit:      auditService,
		Metrics:    m,
	}, cfg.MFA, logger)

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelay:      cfg.Auth.TimingDelay,
		Jitter:         cfg.Auth.TimingDelay / 2,
		DelayOnSuccess: false,
	})

	authService := services.NewAuthService(userRepo, lockoutService, sessionService, mfaService, tokenManager, timingDelay, m, logger)

	// Handlers
	ipConfig := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	redisPing := handlers.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	h := routes.Handlers{
		Auth:      handlers.NewAuthHandler(authService, ipConfig),
		MFA:       handlers.NewMFAHandler(mfaService, ipConfig, logger),
		Sessions:  handlers.NewSessionHandler(sessionService, ipConfig),
		Admin:     handlers.NewAdminHandler(lockoutService, mfaService, ipConfig),
		Audit:     handlers.NewAuditHandler(mfaService),
		WellKnown: handlers.NewWellKnownHandler(jwks, handlers.PingFunc(db.HealthCheck), redisPing, logger),
		Metrics:   m.Handler(),
	}

	// Bootstrap first admin user if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(ctx, userRepo, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, m))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	routes.RegisterRoutes(router, h, routes.Deps{
		Tokens:   tokenManager,
		Sessions: sessionService,
		IPConfig: ipConfig,
		Logger:   logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(
		sessionService,
		lockoutService,
		auditService,
		cache.NewLocker(rdb),
		m,
		cfg.Cleanup,
		logger,
	)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupManager.Stop()
	cleanupCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// newTokenManager loads the configured RSA key, or generates an ephemeral
// one outside production.
func newTokenManager(cfg config.AuthConfig, blacklist *cache.TokenBlacklist, logger *slog.Logger) (*auth.TokenManager, error) {
	key, err := loadOrGenerateKey(cfg.SigningKeyPEM, logger)
	if err != nil {
		return nil, err
	}

	keyID := cfg.SigningKeyID
	if keyID == "" {
		keyID = auth.KeyIDFor(&key.PublicKey)
	}

	tm, err := auth.NewTokenManager(key, keyID, cfg.Issuer, cfg.AccessTokenExpiry, cfg.MFAChallengeExpiry, blacklist)
	if err != nil {
		return nil, err
	}

	if cfg.PreviousSigningKeyPEM != "" {
		previous, err := auth.ParsePrivateKeyPEM(cfg.PreviousSigningKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("previous signing key: %w", err)
		}
		retiredAt := cfg.PreviousKeyRetiredAt
		if retiredAt.IsZero() {
			retiredAt = time.Now()
		}
		if err := tm.AddRetiredKey(previous, cfg.PreviousSigningKeyID, retiredAt); err != nil {
			return nil, err
		}
		logger.Info("previous signing key loaded", slog.Time("retired_at", retiredAt))
	}

	return tm, nil
}

func loadOrGenerateKey(pemData string, logger *slog.Logger) (*rsa.PrivateKey, error) {
	if pemData != "" {
		return auth.ParsePrivateKeyPEM(pemData)
	}
	logger.Warn("no signing key configured, generating an ephemeral key")
	return auth.GenerateSigningKey()
}

// newEmailService uses SES when enabled and otherwise logs deliveries.
func newEmailService(ctx context.Context, cfg *config.Config, logger *slog.Logger) services.EmailService {
	if !cfg.Email.Enabled {
		return services.NewLogEmailService(logger, cfg.Server.Env)
	}

	ses, err := services.NewAWSSESEmailService(ctx, cfg.Email.Region, cfg.Email.FromAddress, logger)
	if err != nil {
		logger.Error("failed to initialize SES, falling back to log delivery", slog.Any("error", err))
		return services.NewLogEmailService(logger, cfg.Server.Env)
	}
	return ses
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	_, err := userRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := &models.User{
		Email:        adminEmail,
		PasswordHash: hashedPassword,
		Name:         "Admin",
		Role:         models.RoleAdmin,
		Status:       models.UserStatusActive,
	}
	if _, err := userRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully")
	return nil
}
