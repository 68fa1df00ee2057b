package http

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/BradenHooton/warden/internal/models"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error             string `json:"error"`                         // Machine-readable error code
	Message           string `json:"message"`                       // Human-readable message
	Details           string `json:"details,omitempty"`             // Optional additional context
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"` // Set for lockouts and rate limits
}

// Uniform message for every credential or second-factor failure.
const invalidCredentialsMessage = "invalid credentials"

// WriteJSON writes v with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: errorCode, Message: message})
}

// WriteErrorWithDetails writes a JSON error response with additional details
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, errorCode, message, details string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: errorCode, Message: message, Details: details})
}

// WriteServiceError maps a service error onto the HTTP error taxonomy.
// Unknown errors become a generic 500 and never leak their text.
func WriteServiceError(w http.ResponseWriter, err error) {
	var lockErr *models.LockoutError
	var rateErr *models.RateLimitError

	switch {
	case errors.As(err, &lockErr):
		resp := ErrorResponse{Error: "account_locked", Message: "account is temporarily locked"}
		if retry := lockErr.RetryAfter(); retry > 0 {
			resp.RetryAfterSeconds = ceilSeconds(retry.Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfterSeconds))
		} else if lockErr.ExpiresAt == nil {
			resp.Message = "account is locked, contact support"
		}
		WriteJSON(w, http.StatusLocked, resp)
	case errors.As(err, &rateErr):
		resp := ErrorResponse{Error: "rate_limit_exceeded", Message: "too many requests, try again later"}
		if rateErr.RetryAfter > 0 {
			resp.RetryAfterSeconds = ceilSeconds(rateErr.RetryAfter.Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfterSeconds))
		}
		WriteJSON(w, http.StatusTooManyRequests, resp)
	case errors.Is(err, models.ErrAccountLocked):
		WriteError(w, http.StatusLocked, "account_locked", "account is temporarily locked")
	case errors.Is(err, models.ErrRateLimited):
		WriteTooManyRequests(w, "too many requests, try again later")
	case errors.Is(err, models.ErrInvalidCredentials):
		WriteUnauthorized(w, invalidCredentialsMessage)
	case errors.Is(err, models.ErrUnauthorized):
		WriteUnauthorized(w, "authentication required")
	case errors.Is(err, models.ErrForbidden):
		WriteForbidden(w, "insufficient permissions")
	case errors.Is(err, models.ErrInvalidRequest):
		WriteBadRequest(w, err.Error())
	case errors.Is(err, models.ErrInvalidOperation):
		WriteError(w, http.StatusConflict, "invalid_operation", err.Error())
	case errors.Is(err, models.ErrExpired):
		WriteError(w, http.StatusGone, "expired", err.Error())
	case errors.Is(err, models.ErrNotFound):
		WriteNotFound(w, "resource not found")
	case errors.Is(err, models.ErrConflict):
		WriteConflict(w, "resource already exists")
	default:
		WriteInternalError(w, "internal server error")
	}
}

func ceilSeconds(s float64) int {
	return int(math.Ceil(s))
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, "conflict", message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}
