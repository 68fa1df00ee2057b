package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// JWKSSource serves the rendered key-set document.
type JWKSSource interface {
	Document(ctx context.Context) ([]byte, error)
	CacheTTL() time.Duration
}

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// WellKnownHandler serves anonymous infrastructure endpoints.
type WellKnownHandler struct {
	jwks   JWKSSource
	db     Pinger
	cache  Pinger
	logger *slog.Logger
}

func NewWellKnownHandler(jwks JWKSSource, db, cache Pinger, logger *slog.Logger) *WellKnownHandler {
	return &WellKnownHandler{jwks: jwks, db: db, cache: cache, logger: logger}
}

// JWKS handles GET /.well-known/jwks.json
func (h *WellKnownHandler) JWKS(w http.ResponseWriter, r *http.Request) {
	body, err := h.jwks.Document(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to render jwks", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(h.jwks.CacheTTL()/time.Second)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// Health handles GET /health. Any failed dependency makes the whole check 503.
func (h *WellKnownHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "healthy", Database: "up", Cache: "up", Time: time.Now().UTC()}
	status := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		h.logger.WarnContext(ctx, "database health check failed", slog.Any("error", err))
		resp.Database = "down"
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	if err := h.cache.Ping(ctx); err != nil {
		h.logger.WarnContext(ctx, "cache health check failed", slog.Any("error", err))
		resp.Cache = "down"
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	pkghttp.WriteJSON(w, status, resp)
}
