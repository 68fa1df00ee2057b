package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizedEmail(t *testing.T) {
	assert.Equal(t, "a****@*******.com", SanitizedEmail("alice@example.com"))
	assert.Equal(t, "[invalid-email]", SanitizedEmail("not-an-email"))
}

func TestSanitizeQueryString(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"page=2&limit=20", false},
		{"refresh_token=abc", true},
		{"mfaCode=123456", true},
		{"Session_Id=1", true},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeQueryString(tt.query), tt.query)
	}
}

func TestRedactedAttr(t *testing.T) {
	assert.Equal(t, "[REDACTED]", RedactedAttr("k", "v", "production").Value.String())
	assert.Equal(t, "v", RedactedAttr("k", "v", "development").Value.String())
}

func TestAuditLogger_FailureLogsAtWarn(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	al.LogMFAEvent(context.Background(), AuditEvent{
		EventType:     "mfa_verify",
		UserID:        "user-1",
		Success:       false,
		FailureReason: "invalid_code",
		Metadata:      map[string]string{"method": "TOTP"},
	})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "mfa", line["audit_type"])
	assert.Equal(t, "invalid_code", line["failure_reason"])
	assert.Equal(t, "TOTP", line["method"])
}
