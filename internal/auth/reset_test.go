package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPasswordResetRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice@example.com", RoleUser, UserStatusActive)
	pair := login(t, env, user)

	token, err := env.svc.RequestPasswordReset(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if token == "" {
		t.Fatal("expected reset token")
	}

	if err := env.svc.ResetPassword(ctx, token, "brand-new-password"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	// New password works, old does not, sessions are gone.
	if _, _, err := env.svc.Login(ctx, "alice@example.com", "correct horse battery"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	if _, _, err := env.svc.Login(ctx, "alice@example.com", "brand-new-password"); err != nil {
		t.Fatalf("Login with new password: %v", err)
	}
	stored, err := env.store.Users().Find(ctx, user.ID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if stored.RefreshToken == pair.RefreshToken {
		t.Fatal("reset must clear the pre-reset session")
	}

	// Single use.
	if err := env.svc.ResetPassword(ctx, token, "another-password1"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for consumed reset token, got %v", err)
	}
}

func TestPasswordResetExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "alice@example.com", RoleUser, UserStatusActive)

	token, err := env.svc.RequestPasswordReset(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	env.Advance(2 * time.Hour)
	if err := env.svc.ResetPassword(ctx, token, "brand-new-password"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired reset token, got %v", err)
	}
}

func TestPasswordResetUnknownEmail(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.RequestPasswordReset(context.Background(), "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEmailVerification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice@example.com", RoleUser, UserStatusActive)

	token, err := env.svc.IssueEmailVerification(user)
	if err != nil {
		t.Fatalf("IssueEmailVerification: %v", err)
	}
	verified, err := env.svc.VerifyEmail(ctx, token)
	if err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	if !verified.Verified {
		t.Fatal("expected verified flag")
	}

	// A verification token is not an access credential.
	if _, err := env.svc.VerifyAccess(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for verify-as-access, got %v", err)
	}

	env.Advance(48 * time.Hour)
	if _, err := env.svc.VerifyEmail(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired verification token, got %v", err)
	}
}
