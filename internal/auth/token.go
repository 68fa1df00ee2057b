package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenBlacklist stores revoked jtis until their natural expiry.
type TokenBlacklist interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// SessionChecker resolves the sid claim against live session state.
type SessionChecker interface {
	IsSessionActive(ctx context.Context, sessionID string) (bool, error)
}

// SigningKey is one RSA key in the ring. RetiredAt is set once a newer key
// takes over signing.
type SigningKey struct {
	ID        string
	Private   *rsa.PrivateKey
	CreatedAt time.Time
	RetiredAt *time.Time
}

// PublicKey is a verification key published through JWKS.
type PublicKey struct {
	ID  string
	Key *rsa.PublicKey
}

// TokenManager issues and validates RS256 access tokens. Retired keys keep
// validating until the last token they could have signed has expired.
type TokenManager struct {
	mu      sync.RWMutex
	active  *SigningKey
	retired []*SigningKey

	issuer            string
	accessTokenExpiry time.Duration
	challengeExpiry   time.Duration
	blacklist         TokenBlacklist
	sessions          SessionChecker
	onRotate          []func()
	now               func() time.Time
}

// NewTokenManager creates a TokenManager signing with key under keyID.
func NewTokenManager(key *rsa.PrivateKey, keyID, issuer string, accessExpiry, challengeExpiry time.Duration, blacklist TokenBlacklist) (*TokenManager, error) {
	if key == nil {
		return nil, errors.New("signing key is required")
	}
	if keyID == "" {
		keyID = KeyIDFor(&key.PublicKey)
	}
	return &TokenManager{
		active:            &SigningKey{ID: keyID, Private: key, CreatedAt: time.Now()},
		issuer:            issuer,
		accessTokenExpiry: accessExpiry,
		challengeExpiry:   challengeExpiry,
		blacklist:         blacklist,
		now:               time.Now,
	}, nil
}

// SetSessionChecker enables the live session check in ValidateToken.
// Call after the session service is created.
func (tm *TokenManager) SetSessionChecker(sessions SessionChecker) {
	tm.sessions = sessions
}

// OnRotate registers a hook invoked after every key rotation.
func (tm *TokenManager) OnRotate(fn func()) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.onRotate = append(tm.onRotate, fn)
}

// AccessTokenExpiry is the lifetime of issued access tokens.
func (tm *TokenManager) AccessTokenExpiry() time.Duration {
	return tm.accessTokenExpiry
}

// GenerateAccessToken issues a short-lived token bound to sessionID.
func (tm *TokenManager) GenerateAccessToken(user *models.User, roles []string, sessionID string) (string, *models.TokenClaims, error) {
	if sessionID == "" {
		return "", nil, errors.New("access tokens must be bound to a session")
	}
	now := tm.now()
	claims := &models.TokenClaims{
		Type:      models.TokenTypeAccess,
		UserID:    user.ID,
		Email:     user.Email,
		Roles:     roles,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			Issuer:    tm.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.accessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := tm.sign(claims)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, claims, nil
}

// GenerateMFAChallengeToken issues the short token a client presents to
// finish a login with its second factor.
func (tm *TokenManager) GenerateMFAChallengeToken(userID string) (string, *models.TokenClaims, error) {
	now := tm.now()
	claims := &models.TokenClaims{
		Type:   models.TokenTypeMFAChallenge,
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    tm.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.challengeExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := tm.sign(claims)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign challenge token: %w", err)
	}
	return signed, claims, nil
}

// GenerateRefreshToken returns a high-entropy opaque token. Only its hash is stored.
func GenerateRefreshToken() (string, error) {
	return randomToken(32)
}

// GenerateSessionToken returns the opaque per-session secret.
func GenerateSessionToken() (string, error) {
	return randomToken(32)
}

// HashToken is the storage form of refresh and session tokens.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (tm *TokenManager) sign(claims *models.TokenClaims) (string, error) {
	tm.mu.RLock()
	key := tm.active
	tm.mu.RUnlock()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = key.ID
	return token.SignedString(key.Private)
}

// ValidateToken verifies an access token: signature, expiry, blacklist, and
// that its session is still active.
func (tm *TokenManager) ValidateToken(ctx context.Context, tokenString string) (*models.TokenClaims, error) {
	claims, err := tm.parse(tokenString, models.TokenTypeAccess)
	if err != nil {
		return nil, err
	}
	if claims.SessionID == "" {
		return nil, fmt.Errorf("%w: token is not bound to a session", models.ErrUnauthorized)
	}

	if err := tm.checkRevoked(ctx, claims.ID); err != nil {
		return nil, err
	}

	if tm.sessions == nil {
		return nil, fmt.Errorf("%w: session checker not configured", models.ErrInternal)
	}
	active, err := tm.sessions.IsSessionActive(ctx, claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: session lookup failed", models.ErrInternal)
	}
	if !active {
		return nil, fmt.Errorf("%w: session is no longer active", models.ErrUnauthorized)
	}

	return claims, nil
}

// ValidateChallengeToken verifies an MFA challenge token.
func (tm *TokenManager) ValidateChallengeToken(ctx context.Context, tokenString string) (*models.TokenClaims, error) {
	claims, err := tm.parse(tokenString, models.TokenTypeMFAChallenge)
	if err != nil {
		return nil, err
	}
	if err := tm.checkRevoked(ctx, claims.ID); err != nil {
		return nil, err
	}
	return claims, nil
}

// BlacklistToken revokes jti until expiresAt.
func (tm *TokenManager) BlacklistToken(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return fmt.Errorf("%w: missing token id", models.ErrInvalidRequest)
	}
	if err := tm.blacklist.Revoke(ctx, jti, expiresAt); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

func (tm *TokenManager) checkRevoked(ctx context.Context, jti string) error {
	if jti == "" {
		return fmt.Errorf("%w: missing token id", models.ErrUnauthorized)
	}
	revoked, err := tm.blacklist.IsRevoked(ctx, jti)
	if err != nil {
		return fmt.Errorf("%w: revocation check failed", models.ErrInternal)
	}
	if revoked {
		return fmt.Errorf("%w: token has been revoked", models.ErrUnauthorized)
	}
	return nil
}

func (tm *TokenManager) parse(tokenString, wantType string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(tm.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)

	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		key := tm.verificationKey(kid)
		if key == nil {
			return nil, fmt.Errorf("unknown signing key %q", kid)
		}
		return key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}
	if !token.Valid {
		return nil, models.ErrUnauthorized
	}
	if claims.Type != wantType {
		return nil, fmt.Errorf("%w: unexpected token type", models.ErrUnauthorized)
	}
	return claims, nil
}

func (tm *TokenManager) verificationKey(kid string) *rsa.PublicKey {
	for _, k := range tm.PublicKeys() {
		if k.ID == kid {
			return k.Key
		}
	}
	return nil
}

// PublicKeys returns the active key followed by retired keys still inside
// their validation grace period.
func (tm *TokenManager) PublicKeys() []PublicKey {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	now := tm.now()
	keys := []PublicKey{{ID: tm.active.ID, Key: &tm.active.Private.PublicKey}}
	for _, k := range tm.retired {
		if k.RetiredAt != nil && now.Before(k.RetiredAt.Add(tm.gracePeriod())) {
			keys = append(keys, PublicKey{ID: k.ID, Key: &k.Private.PublicKey})
		}
	}
	return keys
}

// AddRetiredKey restores a key that stopped signing at retiredAt, so tokens
// it issued before a restart keep validating through the grace period.
func (tm *TokenManager) AddRetiredKey(key *rsa.PrivateKey, keyID string, retiredAt time.Time) error {
	if key == nil {
		return errors.New("retired key is required")
	}
	if keyID == "" {
		keyID = KeyIDFor(&key.PublicKey)
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()
	if keyID == tm.active.ID {
		return fmt.Errorf("retired key id %q collides with the signing key", keyID)
	}
	tm.retired = append(tm.retired, &SigningKey{ID: keyID, Private: key, RetiredAt: &retiredAt})
	return nil
}

// Rotate makes key the signing key. The previous key keeps validating for one
// token lifetime.
func (tm *TokenManager) Rotate(key *rsa.PrivateKey, keyID string) string {
	if keyID == "" {
		keyID = KeyIDFor(&key.PublicKey)
	}

	tm.mu.Lock()
	now := tm.now()
	prev := tm.active
	prev.RetiredAt = &now
	kept := tm.retired[:0]
	for _, k := range tm.retired {
		if now.Before(k.RetiredAt.Add(tm.gracePeriod())) {
			kept = append(kept, k)
		}
	}
	tm.retired = append(kept, prev)
	tm.active = &SigningKey{ID: keyID, Private: key, CreatedAt: now}
	hooks := append([]func(){}, tm.onRotate...)
	tm.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	return keyID
}

func (tm *TokenManager) gracePeriod() time.Duration {
	if tm.challengeExpiry > tm.accessTokenExpiry {
		return tm.challengeExpiry
	}
	return tm.accessTokenExpiry
}

// GenerateSigningKey creates an ephemeral 2048-bit RSA key.
func GenerateSigningKey() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate rsa key: %w", err)
	}
	return key, nil
}

// ParsePrivateKeyPEM accepts PKCS#1 or PKCS#8 RSA keys.
func ParsePrivateKeyPEM(data string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, errors.New("invalid PEM data")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

// KeyIDFor derives a stable kid from the public key.
func KeyIDFor(pub *rsa.PublicKey) string {
	der := x509.MarshalPKCS1PublicKey(pub)
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:12])
}
