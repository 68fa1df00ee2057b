package auth

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Secret Generation Tests (3 tests)
// ============================================================================

func TestTOTPManager_GenerateSecret_Success(t *testing.T) {
	tm := NewTOTPManager("Warden", 1)

	key, err := tm.GenerateSecret("alice@example.com")
	require.NoError(t, err)
	assert.Len(t, key.Secret, 32) // 20 bytes base32 encoded
	assert.True(t, strings.HasPrefix(key.URI, "otpauth://totp/"))
}

func TestTOTPManager_GenerateSecret_Unique(t *testing.T) {
	tm := NewTOTPManager("Warden", 1)

	a, err := tm.GenerateSecret("alice@example.com")
	require.NoError(t, err)
	b, err := tm.GenerateSecret("alice@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, a.Secret, b.Secret)
}

func TestTOTPManager_ProvisioningURI_Format(t *testing.T) {
	tm := NewTOTPManager("Warden", 1)

	uri := tm.ProvisioningURI("alice@example.com", "JBSWY3DPEHPK3PXP")
	parsed, err := url.Parse(uri)
	require.NoError(t, err)

	assert.Equal(t, "otpauth", parsed.Scheme)
	assert.Equal(t, "totp", parsed.Host)
	assert.Equal(t, "/Warden:alice@example.com", parsed.Path)
	q := parsed.Query()
	assert.Equal(t, "JBSWY3DPEHPK3PXP", q.Get("secret"))
	assert.Equal(t, "Warden", q.Get("issuer"))
	assert.Equal(t, "SHA1", q.Get("algorithm"))
	assert.Equal(t, "6", q.Get("digits"))
	assert.Equal(t, "30", q.Get("period"))
}

// ============================================================================
// Validation Tests (4 tests)
// ============================================================================

func TestTOTPManager_Validate_CurrentStep(t *testing.T) {
	tm := NewTOTPManager("Warden", 1)
	key, err := tm.GenerateSecret("alice@example.com")
	require.NoError(t, err)

	now := time.Now()
	code, err := tm.GenerateCode(key.Secret, now)
	require.NoError(t, err)

	valid, err := tm.Validate(key.Secret, code, now)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestTOTPManager_Validate_AdjacentSteps(t *testing.T) {
	tm := NewTOTPManager("Warden", 1)
	key, err := tm.GenerateSecret("alice@example.com")
	require.NoError(t, err)

	now := time.Unix(1_700_000_010, 0)
	for _, offset := range []time.Duration{-30 * time.Second, 30 * time.Second} {
		code, err := tm.GenerateCode(key.Secret, now.Add(offset))
		require.NoError(t, err)

		valid, err := tm.Validate(key.Secret, code, now)
		require.NoError(t, err)
		assert.True(t, valid, "offset %v should validate", offset)
	}
}

func TestTOTPManager_Validate_ThreeStepsAwayFails(t *testing.T) {
	tm := NewTOTPManager("Warden", 1)
	key, err := tm.GenerateSecret("alice@example.com")
	require.NoError(t, err)

	now := time.Unix(1_700_000_010, 0)
	for _, offset := range []time.Duration{-90 * time.Second, 90 * time.Second} {
		code, err := tm.GenerateCode(key.Secret, now.Add(offset))
		require.NoError(t, err)

		valid, err := tm.Validate(key.Secret, code, now)
		require.NoError(t, err)
		assert.False(t, valid, "offset %v should not validate", offset)
	}
}

func TestTOTPManager_Validate_MalformedCode(t *testing.T) {
	tm := NewTOTPManager("Warden", 1)
	key, err := tm.GenerateSecret("alice@example.com")
	require.NoError(t, err)

	valid, err := tm.Validate(key.Secret, "abcdef", time.Now())
	require.NoError(t, err)
	assert.False(t, valid)

	valid, err = tm.Validate(key.Secret, "12345", time.Now())
	assert.Error(t, err)
	assert.False(t, valid)
}

// ============================================================================
// Helpers (4 tests)
// ============================================================================

func TestTOTPManager_QRCodeDataURL(t *testing.T) {
	tm := NewTOTPManager("Warden", 1)
	dataURL, err := tm.QRCodeDataURL(tm.ProvisioningURI("alice@example.com", "JBSWY3DPEHPK3PXP"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dataURL, "data:image/png;base64,"))
}

func TestTOTPManager_ReplayWindow(t *testing.T) {
	assert.Equal(t, 90*time.Second, NewTOTPManager("Warden", 1).ReplayWindow())
	assert.Equal(t, 30*time.Second, NewTOTPManager("Warden", 0).ReplayWindow())
}

func TestFormatSecret(t *testing.T) {
	assert.Equal(t, "JBSW Y3DP EHPK 3PXP", FormatSecret("JBSWY3DPEHPK3PXP"))
	assert.Equal(t, "ABCD E", FormatSecret("ABCDE"))
	assert.Equal(t, "", FormatSecret(""))
}

func TestIsTOTPCode(t *testing.T) {
	assert.True(t, IsTOTPCode("123456"))
	assert.False(t, IsTOTPCode("12345"))
	assert.False(t, IsTOTPCode("12345a"))
	assert.False(t, IsTOTPCode("1234567"))
}
