package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/BradenHooton/warden/internal/cache"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const jwksDocumentName = "jwks"

// documentName keys cached documents by the kid set they must contain, so an
// instance never serves a set rendered by a peer holding different keys.
func documentName(keys []PublicKey) string {
	kids := make([]string, len(keys))
	for i, k := range keys {
		kids[i] = k.ID
	}
	return jwksDocumentName + ":" + strings.Join(kids, ",")
}

// JWK is a single RSA public key in JSON Web Key form.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS is the key-set document served at /.well-known/jwks.json.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// KeySource supplies the keys to publish.
type KeySource interface {
	PublicKeys() []PublicKey
}

// DocumentCache is the shared cache for the rendered document.
type DocumentCache interface {
	Get(ctx context.Context, name string) ([]byte, error)
	Set(ctx context.Context, name string, body []byte, ttl time.Duration) error
	Delete(ctx context.Context, name string) error
}

// JWKSPublisher renders and caches the key set. Lookups go through a small
// in-process LRU, then the shared cache, then a coalesced rebuild.
type JWKSPublisher struct {
	source KeySource
	shared DocumentCache
	local  *expirable.LRU[string, []byte]
	group  singleflight.Group
	ttl    time.Duration
	logger *slog.Logger
}

// NewJWKSPublisher caches the document for ttl in the shared cache and for at
// most localTTL in process.
func NewJWKSPublisher(source KeySource, shared DocumentCache, ttl, localTTL time.Duration, logger *slog.Logger) *JWKSPublisher {
	if localTTL > ttl {
		localTTL = ttl
	}
	return &JWKSPublisher{
		source: source,
		shared: shared,
		local:  expirable.NewLRU[string, []byte](4, nil, localTTL),
		ttl:    ttl,
		logger: logger,
	}
}

// CacheTTL is advertised to relying parties via Cache-Control.
func (p *JWKSPublisher) CacheTTL() time.Duration {
	return p.ttl
}

// GetJwksObject returns the current key set.
func (p *JWKSPublisher) GetJwksObject(ctx context.Context) (*JWKS, error) {
	body, err := p.Document(ctx)
	if err != nil {
		return nil, err
	}
	var set JWKS
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("failed to decode jwks: %w", err)
	}
	return &set, nil
}

// Document returns the serialized key set.
func (p *JWKSPublisher) Document(ctx context.Context) ([]byte, error) {
	keys := p.source.PublicKeys()
	name := documentName(keys)
	if body, ok := p.local.Get(name); ok {
		return body, nil
	}

	v, err, _ := p.group.Do(name, func() (interface{}, error) {
		body, err := p.shared.Get(ctx, name)
		if err == nil {
			p.local.Add(name, body)
			return body, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			p.logger.Warn("jwks shared cache read failed", slog.String("error", err.Error()))
		}

		body, err = json.Marshal(BuildJWKS(keys))
		if err != nil {
			return nil, fmt.Errorf("failed to encode jwks: %w", err)
		}
		if err := p.shared.Set(ctx, name, body, p.ttl); err != nil {
			p.logger.Warn("jwks shared cache write failed", slog.String("error", err.Error()))
		}
		p.local.Add(name, body)
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Invalidate drops both cache layers for the current key set so the next
// read rebuilds the document.
func (p *JWKSPublisher) Invalidate(ctx context.Context) {
	p.local.Purge()
	if err := p.shared.Delete(ctx, documentName(p.source.PublicKeys())); err != nil {
		p.logger.Warn("jwks shared cache invalidation failed", slog.String("error", err.Error()))
	}
}

// BuildJWKS converts public keys into key-set form.
func BuildJWKS(keys []PublicKey) JWKS {
	set := JWKS{Keys: make([]JWK, 0, len(keys))}
	for _, k := range keys {
		set.Keys = append(set.Keys, JWK{
			Kty: "RSA",
			Use: "sig",
			Kid: k.ID,
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(k.Key.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(k.Key.E)).Bytes()),
		})
	}
	return set
}
