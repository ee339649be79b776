package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	UserStatusActive    = "active"
	UserStatusInactive  = "inactive"
	UserStatusSuspended = "suspended"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
	RoleGuest = "guest"
)

// User is a principal identity. RefreshToken holds the single currently
// valid refresh token value; empty means no live session.
type User struct {
	ID            string
	Username      string
	Email         string
	PasswordHash  string
	RoleID        string
	Status        string
	Verified      bool
	RefreshToken  string
	ResetHash     string
	ResetExpires  time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Role groups permissions. Role names form a closed set.
type Role struct {
	ID          string
	Name        string
	Permissions []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BuiltinRoles is the reference role catalog seeded at startup.
var BuiltinRoles = []Role{
	{Name: RoleAdmin, Permissions: []string{"user.read", "user.write", "user.delete", "admin.users.list"}},
	{Name: RoleUser, Permissions: []string{"user.read", "user.write"}},
	{Name: RoleGuest, Permissions: []string{"user.read"}},
}

// ValidRoleName reports whether name belongs to the closed role set.
func ValidRoleName(name string) bool {
	switch name {
	case RoleAdmin, RoleUser, RoleGuest:
		return true
	}
	return false
}

// RevokedToken is a ledger record for a consumed or revoked refresh token.
// Records are dropped once older than the refresh token lifetime; a token
// that old cannot pass expiry verification anyway.
type RevokedToken struct {
	Token     string
	UserID    string
	CreatedAt time.Time
}

// TokenPair carries freshly issued access and refresh tokens.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
	tokenTypeVerify  = "verify"
)

// Claims is the signed claim set carried by every token.
type Claims struct {
	Email     string `json:"email,omitempty"`
	RoleID    string `json:"role_id,omitempty"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Identity is the immutable per-request identity context produced by the
// authentication gate.
type Identity struct {
	UserID string
	Email  string
	Role   string
}
