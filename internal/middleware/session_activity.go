package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// SessionToucher slides a session's idle expiry forward.
type SessionToucher interface {
	TouchSession(ctx context.Context, userID, sessionID string) error
}

// SessionActivity records activity on the caller's session for every
// authenticated request. It must run after auth.AuthMiddleware. A session
// that expired or was terminated between token validation and the touch
// is rejected; storage failures are logged and the request proceeds.
func SessionActivity(sessions SessionToucher, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := auth.GetUserFromContext(r)
			if claims == nil || claims.SessionID == "" {
				next.ServeHTTP(w, r)
				return
			}

			if err := sessions.TouchSession(r.Context(), claims.UserID, claims.SessionID); err != nil {
				if errors.Is(err, models.ErrUnauthorized) || errors.Is(err, models.ErrNotFound) {
					pkghttp.WriteUnauthorized(w, "session is no longer active")
					return
				}
				logger.WarnContext(r.Context(), "session touch failed",
					slog.String("session_id", claims.SessionID),
					slog.Any("error", err))
			}

			next.ServeHTTP(w, r)
		})
	}
}
