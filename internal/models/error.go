package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInternalServer = errors.New("internal server error")

	// Login flow errors. The credentials step never says which factor failed.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRateLimited        = errors.New("too many attempts")
	ErrDeliveryFailed     = errors.New("verification code could not be delivered")

	// Code confirmation errors
	ErrSessionMismatch = errors.New("login session does not match")
	ErrSessionExpired  = errors.New("login session expired")
	ErrInvalidCode     = errors.New("invalid verification code")
)
