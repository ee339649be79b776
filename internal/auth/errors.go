package auth

import "errors"

var (
	// ErrMissingCredential indicates the Authorization header was absent or malformed.
	ErrMissingCredential = errors.New("auth: missing credential")
	// ErrInvalidToken indicates the token failed signature, expiry or shape validation.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrPrincipalInactive indicates the token subject no longer exists or is not active.
	ErrPrincipalInactive = errors.New("auth: principal inactive")
	// ErrPrincipalNotFound indicates the refresh token subject no longer exists.
	ErrPrincipalNotFound = errors.New("auth: principal not found")
	// ErrRefreshMismatch indicates the presented refresh token is not the
	// principal's currently stored value.
	ErrRefreshMismatch = errors.New("auth: refresh token mismatch")
	// ErrTokenCompromised indicates an already-consumed refresh token was
	// presented again; all sessions for the subject have been revoked.
	ErrTokenCompromised = errors.New("auth: refresh token reuse detected")
	// ErrInsufficientRole indicates the authenticated role is not in the allowed set.
	ErrInsufficientRole = errors.New("auth: insufficient role")
	// ErrUnauthenticated indicates no identity was attached to the request.
	ErrUnauthenticated = errors.New("auth: authentication required")
	// ErrStoreUnavailable indicates a persistence failure; callers may retry.
	ErrStoreUnavailable = errors.New("auth: store unavailable")

	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrEmailTaken         = errors.New("auth: email already registered")
	ErrNotFound           = errors.New("auth: not found")
)
