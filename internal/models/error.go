package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Request validation (malformed email, missing or short reason)
	ErrValidation = errors.New("validation failed")

	// Operation not applicable to the current lock state
	ErrInvalidState = errors.New("operation not valid for current account state")

	// Admin session errors
	ErrAdminRequired = errors.New("admin access required")

	ErrAccountLocked = errors.New("account is locked")

	// The identity exists but has no lockout history
	ErrNoSecurityRecord = fmt.Errorf("%w: no security record", ErrNotFound)

	// Unlock token errors; both satisfy errors.Is(err, ErrForbidden)
	ErrInvalidUnlockToken = fmt.Errorf("%w: invalid unlock token", ErrForbidden)
	ErrUnlockTokenExpired = fmt.Errorf("%w: unlock token has expired", ErrForbidden)
)
