package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/internal/cache"
	"github.com/BradenHooton/warden/internal/config"
	"github.com/BradenHooton/warden/internal/metrics"
)

const cleanupLockName = "cleanup"

type SessionCleaner interface {
	Cleanup(ctx context.Context, cutoff time.Time) (expired, purged int64, err error)
}

type AttemptPurger interface {
	Purge(ctx context.Context, attemptCutoff, lockoutCutoff time.Time) (attempts, lockouts int64, err error)
}

type AuditPurger interface {
	Purge(ctx context.Context, cutoff time.Time) (events, mfa int64, err error)
}

// CleanupManager periodically expires idle sessions and purges old
// attempts, lockout history and audit rows. A Redis lease keeps concurrent
// instances from running the same pass.
type CleanupManager struct {
	sessions SessionCleaner
	attempts AttemptPurger
	audit    AuditPurger
	locker   *cache.Locker
	metrics  *metrics.Metrics
	cfg      config.CleanupConfig
	logger   *slog.Logger
	now      func() time.Time
	stopCh   chan struct{}
}

func NewCleanupManager(
	sessions SessionCleaner,
	attempts AttemptPurger,
	audit AuditPurger,
	locker *cache.Locker,
	m *metrics.Metrics,
	cfg config.CleanupConfig,
	logger *slog.Logger,
) *CleanupManager {
	return &CleanupManager{
		sessions: sessions,
		attempts: attempts,
		audit:    audit,
		locker:   locker,
		metrics:  m,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start runs a pass immediately and then on every interval until ctx is
// cancelled or Stop is called. It blocks, so call it in a goroutine.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.cfg.Interval)
	defer ticker.Stop()

	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}

// runCleanup reports whether this instance held the lease and ran the pass.
func (cm *CleanupManager) runCleanup(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	lease, err := cm.locker.TryAcquire(ctx, cleanupLockName, cm.cfg.LockTTL)
	if err != nil {
		cm.logger.Error("cleanup lock unavailable", slog.String("error", err.Error()))
		return false
	}
	if lease == nil {
		cm.logger.Debug("cleanup already running elsewhere")
		return false
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			cm.logger.Warn("failed to release cleanup lock", slog.String("error", err.Error()))
		}
	}()

	now := cm.now()
	start := time.Now()

	expired, purged, err := cm.sessions.Cleanup(ctx, now.Add(-cm.cfg.SessionRetention))
	if err != nil {
		cm.logger.Error("session cleanup failed", slog.String("error", err.Error()))
	}
	cm.metrics.CleanupRows("sessions_expired", expired)
	cm.metrics.CleanupRows("user_sessions", purged)

	attemptCutoff := now.Add(-cm.cfg.LoginAttemptRetention)
	lockoutCutoff := now.Add(-4 * cm.cfg.LoginAttemptRetention)
	attempts, lockouts, err := cm.attempts.Purge(ctx, attemptCutoff, lockoutCutoff)
	if err != nil {
		cm.logger.Error("login attempt cleanup failed", slog.String("error", err.Error()))
	}
	cm.metrics.CleanupRows("login_attempts", attempts)
	cm.metrics.CleanupRows("account_lockouts", lockouts)

	events, mfa, err := cm.audit.Purge(ctx, now.Add(-cm.cfg.AuditRetention))
	if err != nil {
		cm.logger.Error("audit cleanup failed", slog.String("error", err.Error()))
	}
	cm.metrics.CleanupRows("security_events", events)
	cm.metrics.CleanupRows("mfa_audit_log", mfa)

	cm.logger.Info("cleanup pass complete",
		slog.Int64("sessions_expired", expired),
		slog.Int64("sessions_purged", purged),
		slog.Int64("attempts_purged", attempts),
		slog.Int64("lockouts_purged", lockouts),
		slog.Int64("events_purged", events),
		slog.Int64("mfa_audit_purged", mfa),
		slog.Duration("duration", time.Since(start)),
	)
	return true
}
