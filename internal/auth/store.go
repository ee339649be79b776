package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users() UserStore
	Roles() RoleStore
	RevokedTokens() RevokedTokenStore
}

// UserStore manages principal records and the single refresh-token slot.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]*User, error)

	// SetRefreshToken overwrites the slot unconditionally (login starts a
	// new single session).
	SetRefreshToken(ctx context.Context, id, value string) error
	// SwapRefreshToken replaces the slot only if it still holds previous.
	// Returns ErrRefreshMismatch when the compare fails, which is how a
	// lost rotation race surfaces.
	SwapRefreshToken(ctx context.Context, id, previous, value string) error
	// ClearRefreshToken empties the slot (logout, compromise response).
	ClearRefreshToken(ctx context.Context, id string) error

	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetResetToken(ctx context.Context, id, hash string, expires time.Time) error
	// ConsumeResetToken atomically clears a live reset token matching hash
	// and returns its owner; ErrNotFound when no live token matches.
	ConsumeResetToken(ctx context.Context, hash string, now time.Time) (*User, error)
	MarkVerified(ctx context.Context, id string) error
}

// RoleStore resolves the immutable role catalog.
type RoleStore interface {
	Find(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	// Ensure seeds roles that do not exist yet; existing rows are untouched.
	Ensure(ctx context.Context, roles []Role) error
}

// RevokedTokenStore is the revocation ledger: append-only, keyed by exact
// token value, bounded by the refresh token lifetime.
type RevokedTokenStore interface {
	// Revoke records the token as spent. Idempotent per token value.
	Revoke(ctx context.Context, token, userID string) error
	IsRevoked(ctx context.Context, token string) (bool, error)
	// PurgeExpired drops records created before cutoff and reports how many.
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
