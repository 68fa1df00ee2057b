package auth

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	totpPeriod = 30
	totpDigits = otp.DigitsSix
)

// TOTPKey is a freshly generated secret and its provisioning URI.
type TOTPKey struct {
	Secret string // base32
	URI    string // otpauth://totp/...
}

// TOTPManager handles TOTP secret generation and validation
type TOTPManager struct {
	issuer string
	skew   uint
}

// NewTOTPManager creates a TOTP manager. skew is the number of 30s steps
// accepted on either side of the current one.
func NewTOTPManager(issuer string, skew uint) *TOTPManager {
	return &TOTPManager{issuer: issuer, skew: skew}
}

// GenerateSecret creates a new SHA1/6 digit/30s secret for accountName.
func (tm *TOTPManager) GenerateSecret(accountName string) (*TOTPKey, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountName,
		SecretSize:  20, // 160 bits, the RFC 4226 recommendation
		Period:      totpPeriod,
		Digits:      totpDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}
	return &TOTPKey{Secret: key.Secret(), URI: key.URL()}, nil
}

// ProvisioningURI rebuilds the otpauth URI for an existing secret.
func (tm *TOTPManager) ProvisioningURI(accountName, secret string) string {
	label := tm.issuer + ":" + accountName
	return fmt.Sprintf("otpauth://totp/%s?secret=%s&issuer=%s&algorithm=SHA1&digits=6&period=%d",
		url.PathEscape(label), secret, url.QueryEscape(tm.issuer), totpPeriod)
}

// QRCodeDataURL renders uri as a PNG data URL.
func (tm *TOTPManager) QRCodeDataURL(uri string) (string, error) {
	qr, err := qrcode.New(uri, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to create QR code: %w", err)
	}
	png, err := qr.PNG(200)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// Validate checks code against secret at the given instant.
func (tm *TOTPManager) Validate(secret, code string, at time.Time) (bool, error) {
	valid, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      tm.skew,
		Digits:    totpDigits,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to validate TOTP: %w", err)
	}
	return valid, nil
}

// ReplayWindow is how long an accepted code must stay unusable.
func (tm *TOTPManager) ReplayWindow() time.Duration {
	return time.Duration(2*tm.skew+1) * totpPeriod * time.Second
}

// GenerateCode returns the code for secret at t.
func (tm *TOTPManager) GenerateCode(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t, totp.ValidateOpts{
		Period:    totpPeriod,
		Digits:    totpDigits,
		Algorithm: otp.AlgorithmSHA1,
	})
}

// FormatSecret groups a base32 secret in blocks of four for manual entry.
func FormatSecret(secret string) string {
	var b strings.Builder
	for i, r := range secret {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IsTOTPCode reports whether code has the shape of a six digit TOTP.
func IsTOTPCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
