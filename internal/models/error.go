package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound         = errors.New("resource not found")
	ErrConflict         = errors.New("resource already exists")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidOperation = errors.New("operation not allowed in current state")
	ErrInternal         = errors.New("internal server error")

	// Authentication outcomes. Credential and second-factor failures share one
	// message so callers cannot tell an unknown user from a wrong secret.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrRateLimited        = errors.New("too many requests")
	ErrExpired            = errors.New("expired")
)

// LockoutError reports an active lockout. Unwraps to ErrAccountLocked.
type LockoutError struct {
	Reason    LockoutReason
	ExpiresAt *time.Time
	now       time.Time
}

func NewLockoutError(record *LockoutRecord, now time.Time) *LockoutError {
	return &LockoutError{Reason: record.Reason, ExpiresAt: record.ExpiresAt, now: now}
}

func (e *LockoutError) Error() string {
	if e.ExpiresAt == nil {
		return "account is locked"
	}
	return fmt.Sprintf("account is locked, try again in %s", e.RetryAfter().Round(time.Second))
}

func (e *LockoutError) Unwrap() error { return ErrAccountLocked }

// RetryAfter is zero for permanent lockouts.
func (e *LockoutError) RetryAfter() time.Duration {
	if e.ExpiresAt == nil {
		return 0
	}
	if d := e.ExpiresAt.Sub(e.now); d > 0 {
		return d
	}
	return 0
}

// RateLimitError carries the wait until the limiting window resets.
type RateLimitError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s", e.Scope)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
