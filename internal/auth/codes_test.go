package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateBackupCodes_UniqueAndFormatted(t *testing.T) {
	codes, err := GenerateBackupCodes(10)
	require.NoError(t, err)
	require.Len(t, codes, 10)

	seen := map[string]bool{}
	for _, c := range codes {
		assert.Len(t, c, 9)
		assert.Equal(t, byte('-'), c[4])
		assert.True(t, IsBackupCode(c))
		assert.False(t, seen[c], "duplicate code %s", c)
		seen[c] = true
	}
}

func TestNormalizeBackupCode(t *testing.T) {
	assert.Equal(t, "ABCD2345", NormalizeBackupCode(" abcd-2345 "))
	assert.Equal(t, "ABCD2345", NormalizeBackupCode("ABCD 2345"))
}

func TestHashBackupCode_NormalizesInput(t *testing.T) {
	assert.Equal(t, HashBackupCode("ABCD-2345"), HashBackupCode("abcd2345"))
	assert.NotEqual(t, HashBackupCode("ABCD-2345"), HashBackupCode("ABCD-2346"))
	assert.Len(t, HashBackupCode("ABCD-2345"), 64)
}

func TestIsBackupCode(t *testing.T) {
	assert.True(t, IsBackupCode("ABCD-2345"))
	assert.False(t, IsBackupCode("ABCD-0000"), "0 is not in the alphabet")
	assert.False(t, IsBackupCode("123456"))
}

func TestGenerateNumericOTP(t *testing.T) {
	code, err := GenerateNumericOTP(6)
	require.NoError(t, err)
	assert.Len(t, code, 6)
	assert.True(t, IsTOTPCode(code))
}
