package http_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) pkghttp.ErrorResponse {
	t.Helper()
	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteError(w, 400, "test_error", "Test message")

	assert.Equal(t, 400, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	resp := decode(t, w)
	assert.Equal(t, "test_error", resp.Error)
	assert.Equal(t, "Test message", resp.Message)
	assert.Empty(t, resp.Details)
}

func TestWriteErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteErrorWithDetails(w, 400, "test_error", "Test message", "Additional details")

	resp := decode(t, w)
	assert.Equal(t, "Additional details", resp.Details)
}

func TestWriteServiceError_Mapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid credentials", models.ErrInvalidCredentials, http.StatusUnauthorized, "unauthorized"},
		{"wrapped invalid credentials", fmt.Errorf("mfa: %w", models.ErrInvalidCredentials), http.StatusUnauthorized, "unauthorized"},
		{"unauthorized", models.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{"invalid request", models.ErrInvalidRequest, http.StatusBadRequest, "bad_request"},
		{"invalid operation", models.ErrInvalidOperation, http.StatusConflict, "invalid_operation"},
		{"expired", models.ErrExpired, http.StatusGone, "expired"},
		{"not found", models.ErrNotFound, http.StatusNotFound, "not_found"},
		{"rate limited", models.ErrRateLimited, http.StatusTooManyRequests, "rate_limit_exceeded"},
		{"locked", models.ErrAccountLocked, http.StatusLocked, "account_locked"},
		{"unknown", errors.New("pq: connection refused"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			pkghttp.WriteServiceError(w, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decode(t, w)
			assert.Equal(t, tt.wantCode, resp.Error)
			assert.NotContains(t, resp.Message, "pq:")
		})
	}
}

func TestWriteServiceError_CredentialMessageIsUniform(t *testing.T) {
	a := httptest.NewRecorder()
	pkghttp.WriteServiceError(a, fmt.Errorf("unknown user: %w", models.ErrInvalidCredentials))
	b := httptest.NewRecorder()
	pkghttp.WriteServiceError(b, fmt.Errorf("wrong password: %w", models.ErrInvalidCredentials))

	assert.Equal(t, a.Body.String(), b.Body.String())
}

func TestWriteServiceError_LockoutIncludesRetryAfter(t *testing.T) {
	now := time.Now()
	expires := now.Add(15 * time.Minute)
	err := models.NewLockoutError(&models.LockoutRecord{
		Reason:    models.LockoutReasonTooManyFailures,
		ExpiresAt: &expires,
	}, now)

	w := httptest.NewRecorder()
	pkghttp.WriteServiceError(w, err)

	assert.Equal(t, http.StatusLocked, w.Code)
	assert.Equal(t, "900", w.Header().Get("Retry-After"))
	resp := decode(t, w)
	assert.Equal(t, 900, resp.RetryAfterSeconds)
	assert.NotContains(t, w.Body.String(), "attempts")
}

func TestWriteServiceError_PermanentLockout(t *testing.T) {
	err := models.NewLockoutError(&models.LockoutRecord{Reason: models.LockoutReasonManual}, time.Now())

	w := httptest.NewRecorder()
	pkghttp.WriteServiceError(w, err)

	assert.Equal(t, http.StatusLocked, w.Code)
	assert.Empty(t, w.Header().Get("Retry-After"))
	assert.Zero(t, decode(t, w).RetryAfterSeconds)
}

func TestWriteServiceError_RateLimitRetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteServiceError(w, &models.RateLimitError{Scope: "email_otp", RetryAfter: 90500 * time.Millisecond})

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "91", w.Header().Get("Retry-After"))
}
