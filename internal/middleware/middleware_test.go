package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/metrics"
	"github.com/BradenHooton/warden/internal/models"
)

type toucherFunc func(ctx context.Context, userID, sessionID string) error

func (f toucherFunc) TouchSession(ctx context.Context, userID, sessionID string) error {
	return f(ctx, userID, sessionID)
}

func withClaims(r *http.Request, sessionID string) *http.Request {
	claims := &models.TokenClaims{Type: "access", UserID: "user-1", SessionID: sessionID}
	return r.WithContext(auth.WithClaims(r.Context(), claims))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestSessionActivity(t *testing.T) {
	tests := []struct {
		name       string
		sessionID  string
		touchErr   error
		wantStatus int
		wantTouch  bool
	}{
		{"touches live session", "sess-1", nil, http.StatusOK, true},
		{"rejects terminated session", "sess-1", models.ErrUnauthorized, http.StatusUnauthorized, true},
		{"rejects missing session", "sess-1", models.ErrNotFound, http.StatusUnauthorized, true},
		{"tolerates storage failure", "sess-1", models.ErrInternal, http.StatusOK, true},
		{"skips tokens without session", "", nil, http.StatusOK, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			touched := false
			mw := SessionActivity(toucherFunc(func(ctx context.Context, userID, sessionID string) error {
				touched = true
				assert.Equal(t, "user-1", userID)
				assert.Equal(t, tt.sessionID, sessionID)
				return tt.touchErr
			}), discardLogger())

			w := httptest.NewRecorder()
			mw(okHandler).ServeHTTP(w, withClaims(httptest.NewRequest("GET", "/sessions", nil), tt.sessionID))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantTouch, touched)
		})
	}
}

func TestSessionActivity_Anonymous(t *testing.T) {
	mw := SessionActivity(toucherFunc(func(ctx context.Context, userID, sessionID string) error {
		return errors.New("should not be called")
	}), discardLogger())

	w := httptest.NewRecorder()
	mw(okHandler).ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSecureLogger_RedactsAndRecordsRoute(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	m := metrics.New()

	r := chi.NewRouter()
	r.Use(SecureLogger(logger, m))
	r.Get("/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/sessions/abc?token=secret", nil))

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, buf.String(), `"path":"/sessions/abc?[REDACTED]"`)
	assert.NotContains(t, buf.String(), "secret")

	scrape := httptest.NewRecorder()
	m.Handler().ServeHTTP(scrape, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, scrape.Body.String(), `warden_http_requests_total{method="GET",route="/sessions/{id}",status="204"} 1`)
}

func TestCORS(t *testing.T) {
	h := CORS(DefaultCORSConfig([]string{"https://app.example.com"}))(okHandler)

	t.Run("allowed origin preflight", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/auth/login", nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", "POST")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("unknown origin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/health", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}
