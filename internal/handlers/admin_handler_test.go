package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/warden/internal/handlers"
	"github.com/BradenHooton/warden/internal/models"
)

const adminID = "1d3f5a7b-9c2e-4f6a-8b0d-2e4f6a8b0c1d"

func adminRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	req := handlers.WithAdminContext(handlers.NewTestRequest(t, method, url, body), adminID)
	return handlers.WithURLParam(req, "id", testUserID)
}

// ── LockUser ─────────────────────────────────────────────────────────────────

func TestLockUser_Timed(t *testing.T) {
	var gotDuration *time.Duration
	var gotActor string
	mock := &handlers.MockLockoutAdmin{
		ManualLockoutFunc: func(ctx context.Context, userID, actorID, reason string, duration *time.Duration, client models.ClientInfo) (*models.LockoutRecord, error) {
			gotDuration, gotActor = duration, actorID
			return &models.LockoutRecord{UserID: userID, Reason: models.LockoutReasonManual, Level: 1}, nil
		},
	}
	h := handlers.NewAdminHandler(mock, &handlers.MockMfaService{}, nil)

	minutes := 30
	w := httptest.NewRecorder()
	h.LockUser(w, adminRequest(t, "POST", "/admin/users/"+testUserID+"/lockout", handlers.ManualLockoutRequest{
		Reason: "compromised", DurationMinutes: &minutes,
	}))

	var record models.LockoutRecord
	handlers.AssertJSONResponse(t, w, http.StatusCreated, &record)
	assert.Equal(t, models.LockoutReasonManual, record.Reason)
	require.NotNil(t, gotDuration)
	assert.Equal(t, 30*time.Minute, *gotDuration)
	assert.Equal(t, adminID, gotActor)
}

func TestLockUser_PermanentWhenNoDuration(t *testing.T) {
	var gotDuration *time.Duration
	called := false
	mock := &handlers.MockLockoutAdmin{
		ManualLockoutFunc: func(ctx context.Context, userID, actorID, reason string, duration *time.Duration, client models.ClientInfo) (*models.LockoutRecord, error) {
			called = true
			gotDuration = duration
			return &models.LockoutRecord{UserID: userID, Reason: models.LockoutReasonManual}, nil
		},
	}
	h := handlers.NewAdminHandler(mock, &handlers.MockMfaService{}, nil)

	w := httptest.NewRecorder()
	h.LockUser(w, adminRequest(t, "POST", "/admin/users/"+testUserID+"/lockout", handlers.ManualLockoutRequest{Reason: "fraud"}))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, called)
	assert.Nil(t, gotDuration)
}

func TestLockUser_RequiresReason(t *testing.T) {
	h := handlers.NewAdminHandler(&handlers.MockLockoutAdmin{}, &handlers.MockMfaService{}, nil)

	w := httptest.NewRecorder()
	h.LockUser(w, adminRequest(t, "POST", "/admin/users/"+testUserID+"/lockout", handlers.ManualLockoutRequest{}))

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestLockUser_UnknownUser(t *testing.T) {
	mock := &handlers.MockLockoutAdmin{
		ManualLockoutFunc: func(ctx context.Context, userID, actorID, reason string, duration *time.Duration, client models.ClientInfo) (*models.LockoutRecord, error) {
			return nil, models.ErrNotFound
		},
	}
	h := handlers.NewAdminHandler(mock, &handlers.MockMfaService{}, nil)

	w := httptest.NewRecorder()
	h.LockUser(w, adminRequest(t, "POST", "/admin/users/"+testUserID+"/lockout", handlers.ManualLockoutRequest{Reason: "x"}))

	handlers.AssertErrorResponse(t, w, http.StatusNotFound, "not_found")
}

func TestLockUser_InvalidUserID(t *testing.T) {
	h := handlers.NewAdminHandler(&handlers.MockLockoutAdmin{}, &handlers.MockMfaService{}, nil)

	req := handlers.WithAdminContext(handlers.NewTestRequest(t, "POST", "/admin/users/abc/lockout", handlers.ManualLockoutRequest{Reason: "x"}), adminID)
	req = handlers.WithURLParam(req, "id", "abc")
	w := httptest.NewRecorder()
	h.LockUser(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

// ── UnlockUser ───────────────────────────────────────────────────────────────

func TestUnlockUser(t *testing.T) {
	t.Run("released", func(t *testing.T) {
		mock := &handlers.MockLockoutAdmin{
			ReleaseLockoutFunc: func(ctx context.Context, userID, actorID, reason string, client models.ClientInfo) error {
				assert.Equal(t, "verified identity", reason)
				return nil
			},
		}
		h := handlers.NewAdminHandler(mock, &handlers.MockMfaService{}, nil)

		w := httptest.NewRecorder()
		h.UnlockUser(w, adminRequest(t, "DELETE", "/admin/users/"+testUserID+"/lockout", handlers.ReleaseLockoutRequest{Reason: "verified identity"}))

		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("nothing to release", func(t *testing.T) {
		h := handlers.NewAdminHandler(&handlers.MockLockoutAdmin{}, &handlers.MockMfaService{}, nil)

		w := httptest.NewRecorder()
		h.UnlockUser(w, adminRequest(t, "DELETE", "/admin/users/"+testUserID+"/lockout", nil))

		handlers.AssertErrorResponse(t, w, http.StatusNotFound, "not_found")
	})
}

// ── GetLockouts / GetStatistics ──────────────────────────────────────────────

func TestGetLockouts(t *testing.T) {
	expires := time.Now().Add(time.Hour)
	mock := &handlers.MockLockoutAdmin{
		GetActiveLockoutFunc: func(ctx context.Context, userID string) (*models.LockoutRecord, error) {
			return &models.LockoutRecord{UserID: userID, Reason: models.LockoutReasonTooManyFailures, Level: 2, ExpiresAt: &expires}, nil
		},
		LockoutHistoryFunc: func(ctx context.Context, userID string, limit int) ([]models.LockoutRecord, error) {
			assert.Equal(t, 5, limit)
			return []models.LockoutRecord{{UserID: userID, Level: 2}, {UserID: userID, Level: 1}}, nil
		},
	}
	h := handlers.NewAdminHandler(mock, &handlers.MockMfaService{}, nil)

	w := httptest.NewRecorder()
	h.GetLockouts(w, adminRequest(t, "GET", "/admin/users/"+testUserID+"/lockouts?limit=5", nil))

	var resp handlers.LockoutHistoryResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	require.NotNil(t, resp.Active)
	assert.Equal(t, 2, resp.Active.Level)
	assert.Len(t, resp.History, 2)
}

func TestGetStatistics(t *testing.T) {
	t.Run("default range", func(t *testing.T) {
		var span time.Duration
		mock := &handlers.MockLockoutAdmin{
			GetLockoutStatisticsFunc: func(ctx context.Context, from, to time.Time) (*models.LockoutStatistics, error) {
				span = to.Sub(from)
				return &models.LockoutStatistics{TotalLockouts: 3, ByReason: map[models.LockoutReason]int{models.LockoutReasonManual: 3}}, nil
			},
		}
		h := handlers.NewAdminHandler(mock, &handlers.MockMfaService{}, nil)

		w := httptest.NewRecorder()
		h.GetStatistics(w, handlers.WithAdminContext(handlers.NewTestRequest(t, "GET", "/admin/statistics", nil), adminID))

		var resp handlers.StatisticsResponse
		handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
		assert.Equal(t, 24*time.Hour, span)
		assert.Equal(t, 3, resp.Lockouts.TotalLockouts)
		assert.NotNil(t, resp.Logins)
	})

	t.Run("bad timestamp", func(t *testing.T) {
		h := handlers.NewAdminHandler(&handlers.MockLockoutAdmin{}, &handlers.MockMfaService{}, nil)

		w := httptest.NewRecorder()
		h.GetStatistics(w, handlers.WithAdminContext(handlers.NewTestRequest(t, "GET", "/admin/statistics?from=yesterday", nil), adminID))

		handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	})

	t.Run("inverted range", func(t *testing.T) {
		mock := &handlers.MockLockoutAdmin{
			GetLockoutStatisticsFunc: func(ctx context.Context, from, to time.Time) (*models.LockoutStatistics, error) {
				return nil, models.ErrInvalidRequest
			},
		}
		h := handlers.NewAdminHandler(mock, &handlers.MockMfaService{}, nil)

		w := httptest.NewRecorder()
		h.GetStatistics(w, handlers.WithAdminContext(handlers.NewTestRequest(t, "GET",
			"/admin/statistics?from=2026-03-02T00:00:00Z&to=2026-03-01T00:00:00Z", nil), adminID))

		handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	})
}

// ── SetMfaEnforcement ────────────────────────────────────────────────────────

func TestSetMfaEnforcement(t *testing.T) {
	grace := time.Now().Add(7 * 24 * time.Hour)
	mfa := &handlers.MockMfaService{
		SetEnforcementFunc: func(ctx context.Context, userID string, enforced bool, client models.ClientInfo) (*models.MfaStatus, error) {
			return &models.MfaStatus{IsEnforced: enforced, EnforcementGracePeriodEnd: &grace}, nil
		},
	}
	h := handlers.NewAdminHandler(&handlers.MockLockoutAdmin{}, mfa, nil)

	enforced := true
	w := httptest.NewRecorder()
	h.SetMfaEnforcement(w, adminRequest(t, "PUT", "/admin/users/"+testUserID+"/mfa/enforcement", handlers.MfaEnforcementRequest{Enforced: &enforced}))

	var status models.MfaStatus
	handlers.AssertJSONResponse(t, w, http.StatusOK, &status)
	assert.True(t, status.IsEnforced)
	assert.NotNil(t, status.EnforcementGracePeriodEnd)

	w = httptest.NewRecorder()
	h.SetMfaEnforcement(w, adminRequest(t, "PUT", "/admin/users/"+testUserID+"/mfa/enforcement", handlers.MfaEnforcementRequest{}))
	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}
