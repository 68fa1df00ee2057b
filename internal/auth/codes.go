package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// Unambiguous alphabet: no 0/O, 1/I/L.
const backupCodeCharset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// GenerateBackupCodes returns count unique codes formatted XXXX-XXXX.
func GenerateBackupCodes(count int) ([]string, error) {
	seen := make(map[string]struct{}, count)
	codes := make([]string, 0, count)
	for len(codes) < count {
		raw, err := randomString(backupCodeCharset, 8)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		codes = append(codes, raw[:4]+"-"+raw[4:])
	}
	return codes, nil
}

// NormalizeBackupCode strips separators and case so users can type codes loosely.
func NormalizeBackupCode(code string) string {
	r := strings.NewReplacer("-", "", " ", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(code)))
}

// IsBackupCode reports whether code could be a backup code after normalization.
func IsBackupCode(code string) bool {
	n := NormalizeBackupCode(code)
	if len(n) != 8 {
		return false
	}
	for _, c := range n {
		if !strings.ContainsRune(backupCodeCharset, c) {
			return false
		}
	}
	return true
}

// HashBackupCode returns the SHA-256 storage form of a normalized code.
func HashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(NormalizeBackupCode(code)))
	return hex.EncodeToString(sum[:])
}

// GenerateNumericOTP returns a zero-padded numeric code of the given length.
func GenerateNumericOTP(digits int) (string, error) {
	return randomString("0123456789", digits)
}

func randomString(charset string, n int) (string, error) {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random index: %w", err)
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b), nil
}
