package domain

import "errors"

// Authentication failures. Verifiers wrap one of the specific causes with ErrAuth
// so callers can test either the category or the cause.
var (
	ErrAuth         = errors.New("authentication error")
	ErrMissingToken = errors.New("token required")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrTokenRevoked = errors.New("token has been revoked")
)

// Lifecycle failures. All of them are terminal to the single event that
// produced them; none closes the connection.
var (
	ErrValidation      = errors.New("validation error")
	ErrSessionNotFound = errors.New("session not found")
	ErrUnauthorized    = errors.New("session belongs to another user")
	ErrSessionEnded    = errors.New("session already ended")
	ErrStore           = errors.New("session store unavailable")
	ErrDirectory       = errors.New("membership directory unavailable")
)
