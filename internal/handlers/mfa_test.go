package handlers_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/warden/internal/handlers"
	"github.com/BradenHooton/warden/internal/models"
)

const (
	testUserID       = "7f1c2a4e-2b9d-4b53-9a55-3a1f2e0b9c11"
	testSetupSession = "0c8f6d1e-55a2-4f0e-8d6a-2b7c9e4f1a30"
)

func newMFAHandler(svc *handlers.MockMfaService) *handlers.MFAHandler {
	return handlers.NewMFAHandler(svc, nil, slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func TestMfaSetup(t *testing.T) {
	svc := &handlers.MockMfaService{
		SetupTotpFunc: func(ctx context.Context, userID string, client models.ClientInfo) (*models.MfaSetupResult, error) {
			assert.Equal(t, testUserID, userID)
			return &models.MfaSetupResult{
				SecretKey:          "JBSWY3DPEHPK3PXP",
				QRCodeURI:          "otpauth://totp/Warden:user?secret=JBSWY3DPEHPK3PXP",
				FormattedSecretKey: "JBSW Y3DP EHPK 3PXP",
				SetupSessionID:     testSetupSession,
				ExpiresInSeconds:   60,
			}, nil
		},
	}

	req := handlers.WithAuthContext(handlers.NewTestRequest(t, "POST", "/mfa/setup", nil), testUserID, "s1")
	w := httptest.NewRecorder()
	newMFAHandler(svc).Setup(w, req)

	var resp models.MfaSetupResult
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, 60, resp.ExpiresInSeconds)
	assert.Equal(t, testSetupSession, resp.SetupSessionID)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestMfaSetup_RequiresAuth(t *testing.T) {
	req := handlers.NewTestRequest(t, "POST", "/mfa/setup", nil)
	w := httptest.NewRecorder()
	newMFAHandler(&handlers.MockMfaService{}).Setup(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

func TestMfaRegenerate_ExpiredSession(t *testing.T) {
	req := handlers.WithAuthContext(handlers.NewTestRequest(t, "POST", "/mfa/setup/regenerate",
		handlers.SetupSessionRequest{SetupSessionID: testSetupSession}), testUserID, "s1")
	w := httptest.NewRecorder()
	newMFAHandler(&handlers.MockMfaService{}).Regenerate(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusGone, "expired")
}

func TestMfaRegenerate_AlreadyEnabled(t *testing.T) {
	svc := &handlers.MockMfaService{
		RegenerateQrCodeFunc: func(ctx context.Context, userID, setupSessionID string, client models.ClientInfo) (*models.MfaSetupResult, error) {
			return nil, models.ErrInvalidOperation
		},
	}
	req := handlers.WithAuthContext(handlers.NewTestRequest(t, "POST", "/mfa/setup/regenerate",
		handlers.SetupSessionRequest{SetupSessionID: testSetupSession}), testUserID, "s1")
	w := httptest.NewRecorder()
	newMFAHandler(svc).Regenerate(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusConflict, "invalid_operation")
}

func TestMfaVerifySetup(t *testing.T) {
	svc := &handlers.MockMfaService{
		VerifyTotpSetupFunc: func(ctx context.Context, userID, code, setupSessionID string, client models.ClientInfo) (bool, error) {
			return code == "123456", nil
		},
	}

	for code, want := range map[string]bool{"123456": true, "654321": false} {
		req := handlers.WithAuthContext(handlers.NewTestRequest(t, "POST", "/mfa/setup/verify",
			handlers.VerifySetupRequest{Code: code}), testUserID, "s1")
		w := httptest.NewRecorder()
		newMFAHandler(svc).VerifySetup(w, req)

		var resp handlers.VerifySetupResponse
		handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
		assert.Equal(t, want, resp.Valid, code)
	}
}

func TestMfaVerifySetup_RejectsMalformedCode(t *testing.T) {
	for _, code := range []string{"12345", "1234567", "abcdef"} {
		req := handlers.WithAuthContext(handlers.NewTestRequest(t, "POST", "/mfa/setup/verify",
			handlers.VerifySetupRequest{Code: code}), testUserID, "s1")
		w := httptest.NewRecorder()
		newMFAHandler(&handlers.MockMfaService{}).VerifySetup(w, req)

		handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	}
}

func TestMfaEnable_ReturnsBackupCodesOnce(t *testing.T) {
	svc := &handlers.MockMfaService{
		EnableMfaFunc: func(ctx context.Context, userID, code, setupSessionID string, client models.ClientInfo) (*models.MfaEnableResult, error) {
			assert.Equal(t, testSetupSession, setupSessionID)
			return &models.MfaEnableResult{
				IsEnabled:        true,
				BackupCodes:      []string{"ABCD-EFGH", "JKMN-PQRS"},
				BackupCodesCount: 2,
				EnabledAt:        time.Now(),
			}, nil
		},
	}
	req := handlers.WithAuthContext(handlers.NewTestRequest(t, "POST", "/mfa/enable",
		handlers.EnableMfaRequest{TotpCode: "123456", SetupSessionID: testSetupSession}), testUserID, "s1")
	w := httptest.NewRecorder()
	newMFAHandler(svc).Enable(w, req)

	var resp models.MfaEnableResult
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.True(t, resp.IsEnabled)
	assert.Len(t, resp.BackupCodes, 2)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestMfaVerify_Anonymous(t *testing.T) {
	svc := &handlers.MockMfaService{
		VerifyFunc: func(ctx context.Context, userID, code string, mfaType models.MfaType, client models.ClientInfo) (bool, error) {
			return mfaType == models.MfaTypeTOTP && code == "123456", nil
		},
	}

	req := handlers.NewTestRequest(t, "POST", "/mfa/verify", handlers.VerifyMfaRequest{
		UserID: testUserID, MfaCode: "123456", MfaType: "TOTP",
	})
	w := httptest.NewRecorder()
	newMFAHandler(svc).Verify(w, req)

	var resp handlers.VerifyMfaResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.True(t, resp.Valid)
}

func TestMfaVerify_NotEnabledLooksLikeWrongCode(t *testing.T) {
	svc := &handlers.MockMfaService{
		VerifyFunc: func(ctx context.Context, userID, code string, mfaType models.MfaType, client models.ClientInfo) (bool, error) {
			return false, models.ErrInvalidOperation
		},
	}

	req := handlers.NewTestRequest(t, "POST", "/mfa/verify", handlers.VerifyMfaRequest{
		UserID: testUserID, MfaCode: "123456", MfaType: "TOTP",
	})
	w := httptest.NewRecorder()
	newMFAHandler(svc).Verify(w, req)

	var resp handlers.VerifyMfaResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.False(t, resp.Valid)
}

func TestMfaVerify_Throttled(t *testing.T) {
	svc := &handlers.MockMfaService{
		VerifyFunc: func(ctx context.Context, userID, code string, mfaType models.MfaType, client models.ClientInfo) (bool, error) {
			return false, &models.RateLimitError{Scope: "mfa_verify", RetryAfter: 90 * time.Second}
		},
	}

	req := handlers.NewTestRequest(t, "POST", "/mfa/verify", handlers.VerifyMfaRequest{
		UserID: testUserID, MfaCode: "123456", MfaType: "TOTP",
	})
	w := httptest.NewRecorder()
	newMFAHandler(svc).Verify(w, req)

	resp := handlers.AssertErrorResponse(t, w, http.StatusTooManyRequests, "rate_limit_exceeded")
	assert.Equal(t, 90, resp.RetryAfterSeconds)
}

func TestMfaVerify_RequiresValidUserID(t *testing.T) {
	req := handlers.NewTestRequest(t, "POST", "/mfa/verify", handlers.VerifyMfaRequest{
		UserID: "not-a-uuid", MfaCode: "123456", MfaType: "TOTP",
	})
	w := httptest.NewRecorder()
	newMFAHandler(&handlers.MockMfaService{}).Verify(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestMfaDisable(t *testing.T) {
	t.Run("enforced", func(t *testing.T) {
		svc := &handlers.MockMfaService{
			DisableMfaFunc: func(ctx context.Context, userID, password, code, reason string, client models.ClientInfo) error {
				return models.ErrInvalidOperation
			},
		}
		req := handlers.WithAuthContext(handlers.NewTestRequest(t, "POST", "/mfa/disable", handlers.DisableMfaRequest{
			CurrentPassword: "pw", MfaCode: "123456",
		}), testUserID, "s1")
		w := httptest.NewRecorder()
		newMFAHandler(svc).Disable(w, req)

		handlers.AssertErrorResponse(t, w, http.StatusConflict, "invalid_operation")
	})

	t.Run("requires both factors", func(t *testing.T) {
		req := handlers.WithAuthContext(handlers.NewTestRequest(t, "POST", "/mfa/disable", handlers.DisableMfaRequest{
			CurrentPassword: "pw",
		}), testUserID, "s1")
		w := httptest.NewRecorder()
		newMFAHandler(&handlers.MockMfaService{}).Disable(w, req)

		handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	})

	t.Run("success", func(t *testing.T) {
		var gotReason string
		svc := &handlers.MockMfaService{
			DisableMfaFunc: func(ctx context.Context, userID, password, code, reason string, client models.ClientInfo) error {
				gotReason = reason
				return nil
			},
		}
		req := handlers.WithAuthContext(handlers.NewTestRequest(t, "POST", "/mfa/disable", handlers.DisableMfaRequest{
			CurrentPassword: "pw", MfaCode: "ABCD-EFGH", Reason: " lost phone ",
		}), testUserID, "s1")
		w := httptest.NewRecorder()
		newMFAHandler(svc).Disable(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "lost phone", gotReason)
	})
}

func TestMfaBackupCodes(t *testing.T) {
	svc := &handlers.MockMfaService{
		GenerateBackupCodesFunc: func(ctx context.Context, userID string, count int, client models.ClientInfo) ([]string, error) {
			codes := make([]string, count)
			for i := range codes {
				codes[i] = "ABCD-EFGH"
			}
			return codes, nil
		},
	}
	req := handlers.WithAuthContext(handlers.NewTestRequest(t, "POST", "/mfa/backup-codes", handlers.BackupCodesRequest{Count: 4}), testUserID, "s1")
	w := httptest.NewRecorder()
	newMFAHandler(svc).BackupCodes(w, req)

	var resp handlers.BackupCodesResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, 4, resp.BackupCodesCount)

	req = handlers.WithAuthContext(handlers.NewTestRequest(t, "POST", "/mfa/backup-codes", handlers.BackupCodesRequest{Count: 50}), testUserID, "s1")
	w = httptest.NewRecorder()
	newMFAHandler(svc).BackupCodes(w, req)
	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestMfaStatus(t *testing.T) {
	svc := &handlers.MockMfaService{
		GetStatusFunc: func(ctx context.Context, userID string) (*models.MfaStatus, error) {
			return &models.MfaStatus{
				IsEnabled:            true,
				AvailableMethods:     []models.MfaType{models.MfaTypeTOTP, models.MfaTypeBackupCode},
				BackupCodesRemaining: 9,
			}, nil
		},
	}
	req := handlers.WithAuthContext(handlers.NewTestRequest(t, "GET", "/mfa/status", nil), testUserID, "s1")
	w := httptest.NewRecorder()
	newMFAHandler(svc).Status(w, req)

	var resp models.MfaStatus
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, 9, resp.BackupCodesRemaining)
	assert.Contains(t, resp.AvailableMethods, models.MfaTypeBackupCode)
}

func TestMfaEmailOtp(t *testing.T) {
	t.Run("defaults purpose and normalizes email", func(t *testing.T) {
		var gotEmail, gotPurpose string
		svc := &handlers.MockMfaService{
			SendEmailOtpFunc: func(ctx context.Context, email, purpose string, client models.ClientInfo) error {
				gotEmail, gotPurpose = email, purpose
				return nil
			},
		}
		req := handlers.NewTestRequest(t, "POST", "/mfa/email-otp", handlers.EmailOtpRequest{Email: " User@Example.com\t"})
		w := httptest.NewRecorder()
		newMFAHandler(svc).EmailOtp(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "user@example.com", gotEmail)
		assert.Equal(t, models.OTPPurposeLogin, gotPurpose)
	})

	t.Run("rate limited", func(t *testing.T) {
		svc := &handlers.MockMfaService{
			SendEmailOtpFunc: func(ctx context.Context, email, purpose string, client models.ClientInfo) error {
				return &models.RateLimitError{Scope: "otp_send", RetryAfter: time.Minute}
			},
		}
		req := handlers.NewTestRequest(t, "POST", "/mfa/email-otp", handlers.EmailOtpRequest{Email: "user@example.com"})
		w := httptest.NewRecorder()
		newMFAHandler(svc).EmailOtp(w, req)

		handlers.AssertErrorResponse(t, w, http.StatusTooManyRequests, "rate_limit_exceeded")
	})

	t.Run("other failures look accepted", func(t *testing.T) {
		svc := &handlers.MockMfaService{
			SendEmailOtpFunc: func(ctx context.Context, email, purpose string, client models.ClientInfo) error {
				return models.ErrInvalidOperation
			},
		}
		req := handlers.NewTestRequest(t, "POST", "/mfa/email-otp", handlers.EmailOtpRequest{Email: "user@example.com", Purpose: "disable_mfa"})
		w := httptest.NewRecorder()
		newMFAHandler(svc).EmailOtp(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)
	})

	t.Run("unknown purpose", func(t *testing.T) {
		req := handlers.NewTestRequest(t, "POST", "/mfa/email-otp", handlers.EmailOtpRequest{Email: "user@example.com", Purpose: "anything"})
		w := httptest.NewRecorder()
		newMFAHandler(&handlers.MockMfaService{}).EmailOtp(w, req)

		handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	})
}

func TestMfaAudit_Paging(t *testing.T) {
	var gotLimit, gotOffset int
	svc := &handlers.MockMfaService{
		GetAuditLogsFunc: func(ctx context.Context, userID string, limit, offset int) (*models.MfaAuditPage, error) {
			gotLimit, gotOffset = limit, offset
			return &models.MfaAuditPage{Entries: []models.MfaAuditLog{}, Total: 42, Limit: limit, Offset: offset}, nil
		},
	}
	h := handlers.NewAuditHandler(svc)

	req := handlers.WithAuthContext(handlers.NewTestRequest(t, "GET", "/mfa/audit?limit=10&offset=30", nil), testUserID, "s1")
	w := httptest.NewRecorder()
	h.GetOwnMfaAudit(w, req)

	var page models.MfaAuditPage
	handlers.AssertJSONResponse(t, w, http.StatusOK, &page)
	assert.Equal(t, 42, page.Total)
	assert.Equal(t, 10, gotLimit)
	assert.Equal(t, 30, gotOffset)

	req = handlers.WithAuthContext(handlers.NewTestRequest(t, "GET", "/mfa/audit?limit=5000&offset=-1", nil), testUserID, "s1")
	w = httptest.NewRecorder()
	h.GetOwnMfaAudit(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 20, gotLimit)
	assert.Equal(t, 0, gotOffset)
}

func TestValidateRequest_CodeFormats(t *testing.T) {
	type body struct {
		Code string `validate:"required,mfacode"`
	}
	for _, code := range []string{"123456", "ABCD-EFGH", "abcd2345"} {
		assert.NoError(t, handlers.ValidateRequest(body{Code: code}), code)
	}
	for _, code := range []string{"12345", "ABC-DEFGH", "1234567890123", "12 456"} {
		assert.Error(t, handlers.ValidateRequest(body{Code: code}), code)
	}
}
