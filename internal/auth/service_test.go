package auth

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, err := env.svc.Register(ctx, "Bob@Example.com", "bobby", "s3cret-enough")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Email != "bob@example.com" {
		t.Fatalf("email not normalized: %s", user.Email)
	}
	if user.Status != UserStatusActive {
		t.Fatalf("status = %s, want active", user.Status)
	}
	role, err := env.store.Roles().Find(ctx, user.RoleID)
	if err != nil {
		t.Fatalf("Find role: %v", err)
	}
	if role.Name != RoleUser {
		t.Fatalf("default role = %s, want %s", role.Name, RoleUser)
	}

	pair, got, err := env.svc.Login(ctx, "bob@example.com", "s3cret-enough")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("login principal = %s, want %s", got.ID, user.ID)
	}
	stored, err := env.store.Users().Find(ctx, user.ID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if stored.RefreshToken != pair.RefreshToken {
		t.Fatal("login must persist the refresh token in the slot")
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name, email, username, password string
	}{
		{"bad email", "nope", "bobby", "s3cret-enough"},
		{"short username", "bob@example.com", "bo", "s3cret-enough"},
		{"short password", "bob@example.com", "bobby", "short"},
	}
	for _, tc := range cases {
		if _, err := env.svc.Register(ctx, tc.email, tc.username, tc.password); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", tc.name, err)
		}
	}

	if _, err := env.svc.Register(ctx, "bob@example.com", "bobby", "s3cret-enough"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := env.svc.Register(ctx, "bob@example.com", "other", "s3cret-enough"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestLoginFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "alice@example.com", RoleUser, UserStatusActive)
	env.createUser(t, "frozen@example.com", RoleUser, UserStatusInactive)

	if _, _, err := env.svc.Login(ctx, "alice@example.com", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := env.svc.Login(ctx, "nobody@example.com", "whatever-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
	if _, _, err := env.svc.Login(ctx, "frozen@example.com", "correct horse battery"); !errors.Is(err, ErrPrincipalInactive) {
		t.Fatalf("expected ErrPrincipalInactive, got %v", err)
	}
}

func TestLoginReplacesExistingSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice@example.com", RoleUser, UserStatusActive)

	first := login(t, env, user)
	second := login(t, env, user)

	// Single-slot model: the second login displaces the first session.
	if _, _, err := env.svc.VerifyRefresh(ctx, first.RefreshToken); !errors.Is(err, ErrRefreshMismatch) {
		t.Fatalf("expected ErrRefreshMismatch for displaced session, got %v", err)
	}
	if _, _, err := env.svc.VerifyRefresh(ctx, second.RefreshToken); err != nil {
		t.Fatalf("VerifyRefresh(current): %v", err)
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice@example.com", RoleUser, UserStatusActive)
	pair := login(t, env, user)

	if err := env.svc.Logout(ctx, user.ID, pair.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	stored, err := env.store.Users().Find(ctx, user.ID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if stored.RefreshToken != "" {
		t.Fatal("logout must clear the refresh slot")
	}
	revoked, err := env.store.RevokedTokens().IsRevoked(ctx, pair.RefreshToken)
	if err != nil || !revoked {
		t.Fatalf("IsRevoked = %v, %v; want true", revoked, err)
	}
	// Exchanging the logged-out token is a reuse event.
	if _, err := env.svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenCompromised) {
		t.Fatalf("expected ErrTokenCompromised, got %v", err)
	}
}

func TestLogoutIgnoresForeignToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createUser(t, "alice@example.com", RoleUser, UserStatusActive)
	mallory := env.createUser(t, "mallory@example.com", RoleUser, UserStatusActive)
	alicePair := login(t, env, alice)

	// Mallory logs out presenting Alice's live refresh token. The call
	// succeeds for Mallory but must not plant Alice's token in the ledger.
	if err := env.svc.Logout(ctx, mallory.ID, alicePair.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	revoked, err := env.store.RevokedTokens().IsRevoked(ctx, alicePair.RefreshToken)
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if revoked {
		t.Fatal("a foreign token must not enter the ledger")
	}
	if _, err := env.svc.Refresh(ctx, alicePair.RefreshToken); err != nil {
		t.Fatalf("Alice's session must survive: %v", err)
	}

	// An unsigned value is ignored the same way.
	if err := env.svc.Logout(ctx, mallory.ID, "not-a-jwt"); err != nil {
		t.Fatalf("Logout with garbage token: %v", err)
	}
	revoked, err = env.store.RevokedTokens().IsRevoked(ctx, "not-a-jwt")
	if err != nil || revoked {
		t.Fatalf("IsRevoked = %v, %v; want false", revoked, err)
	}
}

func TestAuthenticateResolvesRoleName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "root@example.com", RoleAdmin, UserStatusActive)

	pair, err := env.svc.IssueTokenPair(user)
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}
	identity, err := env.svc.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if identity.UserID != user.ID || identity.Email != user.Email || identity.Role != RoleAdmin {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}
