package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultAccessTTL  = 24 * time.Hour
	defaultRefreshTTL = 7 * 24 * time.Hour
	resetTokenTTL     = time.Hour
	verifyTokenTTL    = 24 * time.Hour
)

// Service implements the token lifecycle: issuance, verification, refresh
// rotation with reuse detection, and the account operations around them.
type Service struct {
	store  Store
	keys   *Keys
	now    func() time.Time
	issuer string

	accessTTL  time.Duration
	refreshTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		s.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime. It also bounds the
// revocation ledger retention window.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs the auth service. A missing key pair is a fatal
// configuration error, never a per-request one.
func NewService(store Store, keys *Keys, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if keys == nil || keys.Private == nil || keys.Public == nil {
		return nil, errors.New("auth: signing key pair is required")
	}
	svc := &Service{
		store:      store,
		keys:       keys,
		now:        time.Now,
		issuer:     "warden",
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// RefreshTTL reports the configured refresh token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// EnsureRoles seeds the builtin role catalog.
func (s *Service) EnsureRoles(ctx context.Context) error {
	return s.store.Roles().Ensure(ctx, BuiltinRoles)
}

// IssueTokenPair mints a signed access/refresh pair from the user's
// identity claims. No side effects beyond signing.
func (s *Service) IssueTokenPair(user *User) (TokenPair, error) {
	now := s.now().UTC()
	access, accessExp, err := s.signToken(user, tokenTypeAccess, s.accessTTL, now)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.signToken(user, tokenTypeRefresh, s.refreshTTL, now)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccess validates an access token and confirms the subject is still
// an active principal. It never touches the refresh-token slot.
func (s *Service) VerifyAccess(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.parseToken(token, tokenTypeAccess)
	if err != nil {
		return nil, err
	}
	user, err := s.store.Users().Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrPrincipalInactive
		}
		return nil, storeErr("find principal", err)
	}
	if user.Status != UserStatusActive {
		return nil, ErrPrincipalInactive
	}
	return claims, nil
}

// VerifyRefresh validates a refresh token and enforces the single-slot
// session model: only the most recently issued refresh token is honored.
func (s *Service) VerifyRefresh(ctx context.Context, token string) (*User, *Claims, error) {
	claims, err := s.parseToken(token, tokenTypeRefresh)
	if err != nil {
		return nil, nil, err
	}
	user, err := s.store.Users().Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrPrincipalNotFound
		}
		return nil, nil, storeErr("find principal", err)
	}
	if user.RefreshToken == "" || user.RefreshToken != token {
		return nil, nil, ErrRefreshMismatch
	}
	return user, claims, nil
}

// Refresh exchanges a refresh token for a new pair.
//
// Presenting a token the ledger already knows is the compromise signal:
// either an attacker replaying a rotated token or a client retrying after
// its own rotation succeeded. Either way the credential line is burned, so
// the whole principal is logged out before the exchange fails. A
// RefreshMismatch from a lost rotation race does not trigger the global
// logout.
func (s *Service) Refresh(ctx context.Context, token string) (TokenPair, error) {
	revoked, err := s.store.RevokedTokens().IsRevoked(ctx, token)
	if err != nil {
		return TokenPair{}, storeErr("ledger lookup", err)
	}
	if revoked {
		if sub, ok := s.decodeSubject(token); ok {
			if err := s.store.Users().ClearRefreshToken(ctx, sub); err != nil && !errors.Is(err, ErrNotFound) {
				return TokenPair{}, storeErr("clear refresh slot", err)
			}
		}
		return TokenPair{}, ErrTokenCompromised
	}

	user, _, err := s.VerifyRefresh(ctx, token)
	if err != nil {
		return TokenPair{}, err
	}

	pair, err := s.IssueTokenPair(user)
	if err != nil {
		return TokenPair{}, err
	}

	// Single-use rotation. The conditional swap is the concurrency guard:
	// of two concurrent exchanges only one can win the compare, the other
	// observes ErrRefreshMismatch.
	if err := s.store.Users().SwapRefreshToken(ctx, user.ID, token, pair.RefreshToken); err != nil {
		if errors.Is(err, ErrRefreshMismatch) || errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrRefreshMismatch
		}
		return TokenPair{}, storeErr("persist rotated token", err)
	}
	// The ledger insert must also land before the pair is released; a pair
	// whose predecessor is still exchangeable cannot be trusted.
	if err := s.store.RevokedTokens().Revoke(ctx, token, user.ID); err != nil {
		return TokenPair{}, storeErr("revoke consumed token", err)
	}
	return pair, nil
}

// Authenticate resolves an access token into the request identity,
// including the role name used by the authorization gate.
func (s *Service) Authenticate(ctx context.Context, token string) (Identity, error) {
	claims, err := s.VerifyAccess(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	role, err := s.store.Roles().Find(ctx, claims.RoleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, ErrInvalidToken
		}
		return Identity{}, storeErr("resolve role", err)
	}
	return Identity{UserID: claims.Subject, Email: claims.Email, Role: role.Name}, nil
}

// Register creates a new account with the default "user" role.
func (s *Service) Register(ctx context.Context, email, username, password string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	username = strings.TrimSpace(username)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if len(username) < 3 {
		return nil, fmt.Errorf("%w: username must be at least 3 characters", ErrInvalidInput)
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	if _, err := s.store.Users().FindByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, storeErr("find by email", err)
	}
	role, err := s.store.Roles().FindByName(ctx, RoleUser)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: default role missing", ErrStoreUnavailable)
		}
		return nil, storeErr("find default role", err)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		RoleID:       role.ID,
		Status:       UserStatusActive,
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, storeErr("create user", err)
	}
	return user, nil
}

// Login verifies credentials and starts a new single session: the freshly
// issued refresh token overwrites whatever the slot held before.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, *User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, ErrInvalidCredentials
		}
		return TokenPair{}, nil, storeErr("find by email", err)
	}
	if user.Status != UserStatusActive {
		return TokenPair{}, nil, ErrPrincipalInactive
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	pair, err := s.IssueTokenPair(user)
	if err != nil {
		return TokenPair{}, nil, err
	}
	if err := s.store.Users().SetRefreshToken(ctx, user.ID, pair.RefreshToken); err != nil {
		return TokenPair{}, nil, storeErr("persist refresh token", err)
	}
	return pair, user, nil
}

// Logout clears the refresh slot and records the presented refresh token in
// the ledger so it can never be exchanged again.
func (s *Service) Logout(ctx context.Context, userID, refreshToken string) error {
	if err := s.store.Users().ClearRefreshToken(ctx, userID); err != nil && !errors.Is(err, ErrNotFound) {
		return storeErr("clear refresh slot", err)
	}
	// Only a token provably issued to the caller enters the ledger. An
	// arbitrary value would let an authenticated caller plant another
	// principal's live token and force their global logout.
	if refreshToken != "" {
		if sub, ok := s.decodeSubject(refreshToken); ok && sub == userID {
			if err := s.store.RevokedTokens().Revoke(ctx, refreshToken, userID); err != nil {
				return storeErr("revoke refresh token", err)
			}
		}
	}
	return nil
}

// RequestPasswordReset issues a single-use reset token for the account.
// Only the sha256 of the token is stored; the plaintext goes to the caller
// (normally a mail sender) once.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrNotFound
		}
		return "", storeErr("find by email", err)
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	plain := hex.EncodeToString(raw)
	sum := sha256.Sum256([]byte(plain))
	expires := s.now().UTC().Add(resetTokenTTL)
	if err := s.store.Users().SetResetToken(ctx, user.ID, hex.EncodeToString(sum[:]), expires); err != nil {
		return "", storeErr("store reset token", err)
	}
	return plain, nil
}

// ResetPassword consumes a reset token, rotates the password hash and logs
// every session out.
func (s *Service) ResetPassword(ctx context.Context, plainToken, newPassword string) error {
	if len(newPassword) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	sum := sha256.Sum256([]byte(strings.TrimSpace(plainToken)))
	user, err := s.store.Users().ConsumeResetToken(ctx, hex.EncodeToString(sum[:]), s.now().UTC())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidToken
		}
		return storeErr("consume reset token", err)
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.Users().UpdatePassword(ctx, user.ID, hash); err != nil {
		return storeErr("update password", err)
	}
	if err := s.store.Users().ClearRefreshToken(ctx, user.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return storeErr("clear refresh slot", err)
	}
	return nil
}

// IssueEmailVerification mints a short-lived verification token.
func (s *Service) IssueEmailVerification(user *User) (string, error) {
	token, _, err := s.signToken(user, tokenTypeVerify, verifyTokenTTL, s.now().UTC())
	return token, err
}

// VerifyEmail validates a verification token and marks the account verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*User, error) {
	claims, err := s.parseToken(token, tokenTypeVerify)
	if err != nil {
		return nil, err
	}
	user, err := s.store.Users().Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, storeErr("find principal", err)
	}
	if !user.Verified {
		if err := s.store.Users().MarkVerified(ctx, user.ID); err != nil {
			return nil, storeErr("mark verified", err)
		}
		user.Verified = true
	}
	return user, nil
}

// PurgeRevokedTokens drops ledger records older than the refresh lifetime.
func (s *Service) PurgeRevokedTokens(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.refreshTTL)
	return s.store.RevokedTokens().PurgeExpired(ctx, cutoff)
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
