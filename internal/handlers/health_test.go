package handlers_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/BradenHooton/warden/internal/handlers"
)

type staticJWKS struct {
	body []byte
	err  error
}

func (s staticJWKS) Document(ctx context.Context) ([]byte, error) { return s.body, s.err }
func (s staticJWKS) CacheTTL() time.Duration                      { return time.Hour }

func up(ctx context.Context) error { return nil }

func newWellKnown(jwks handlers.JWKSSource, db, cache handlers.PingFunc) *handlers.WellKnownHandler {
	return handlers.NewWellKnownHandler(jwks, db, cache, slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func TestJWKS_ServesCachedDocument(t *testing.T) {
	doc := `{"keys":[{"kty":"RSA","use":"sig","kid":"k1","alg":"RS256","n":"abc","e":"AQAB"}]}`
	h := newWellKnown(staticJWKS{body: []byte(doc)}, up, up)

	w := httptest.NewRecorder()
	h.JWKS(w, httptest.NewRequest("GET", "/.well-known/jwks.json", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "public, max-age=3600", w.Header().Get("Cache-Control"))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, doc, w.Body.String())
}

func TestJWKS_RenderFailure(t *testing.T) {
	h := newWellKnown(staticJWKS{err: errors.New("boom")}, up, up)

	w := httptest.NewRecorder()
	h.JWKS(w, httptest.NewRequest("GET", "/.well-known/jwks.json", nil))

	handlers.AssertErrorResponse(t, w, http.StatusInternalServerError, "internal_error")
	assert.Empty(t, w.Header().Get("Cache-Control"))
}

func TestHealth(t *testing.T) {
	down := func(ctx context.Context) error { return errors.New("connection refused") }

	cases := []struct {
		name     string
		db       handlers.PingFunc
		cache    handlers.PingFunc
		status   int
		database string
		cacheOut string
	}{
		{"all up", up, up, http.StatusOK, "up", "up"},
		{"database down", down, up, http.StatusServiceUnavailable, "down", "up"},
		{"cache down", up, down, http.StatusServiceUnavailable, "up", "down"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newWellKnown(staticJWKS{}, tc.db, tc.cache)

			w := httptest.NewRecorder()
			h.Health(w, httptest.NewRequest("GET", "/health", nil))

			var resp handlers.HealthResponse
			handlers.AssertJSONResponse(t, w, tc.status, &resp)
			assert.Equal(t, tc.database, resp.Database)
			assert.Equal(t, tc.cacheOut, resp.Cache)
		})
	}
}
