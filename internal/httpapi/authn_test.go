package httpapi

import (
	"errors"
	"net/http"
	"testing"

	"warden.org/internal/auth"
)

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{"plain", "Bearer abc.def.ghi", "abc.def.ghi", true},
		{"case insensitive scheme", "bearer abc.def.ghi", "abc.def.ghi", true},
		{"padded", "  Bearer abc.def.ghi  ", "abc.def.ghi", true},
		{"empty", "", "", false},
		{"scheme only", "Bearer ", "", false},
		{"wrong scheme", "Basic abc", "", false},
		{"no scheme", "abc.def.ghi", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := extractBearerToken(tc.header)
			if tc.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got != tc.want {
					t.Fatalf("token = %q, want %q", got, tc.want)
				}
				return
			}
			if !errors.Is(err, auth.ErrMissingCredential) {
				t.Fatalf("expected ErrMissingCredential, got %v", err)
			}
		})
	}
}

func TestAuthGateMissingCredential(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodGet, "/v1/users/me", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}
	body := decodeBody(t, rec)
	if body["error"] == "" || body["request_id"] == "" {
		t.Fatalf("error body must carry message and request id: %v", body)
	}
}

func TestAuthGateRejectsGarbageToken(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodGet, "/v1/users/me", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if got := rec.Header().Get("WWW-Authenticate"); got != `Bearer realm="warden", error="invalid_token"` {
		t.Fatalf("WWW-Authenticate = %q", got)
	}
}

func TestAuthGateRejectsSuspendedPrincipal(t *testing.T) {
	ta := newTestAPI(t)
	user := ta.createUser(t, "frozen@example.com", auth.RoleUser, auth.UserStatusSuspended)
	pair, err := ta.svc.IssueTokenPair(user)
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}
	rec := ta.do(t, http.MethodGet, "/v1/users/me", pair.AccessToken, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "principal inactive" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestAuthGateAttachesIdentity(t *testing.T) {
	ta := newTestAPI(t)
	user := ta.createUser(t, "alice@example.com", auth.RoleUser, auth.UserStatusActive)
	pair, err := ta.svc.IssueTokenPair(user)
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}
	rec := ta.do(t, http.MethodGet, "/v1/users/me", pair.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["role"] != auth.RoleUser {
		t.Fatalf("role = %v, want %s", body["role"], auth.RoleUser)
	}
	got, ok := body["user"].(map[string]any)
	if !ok || got["email"] != user.Email {
		t.Fatalf("unexpected user payload: %v", body["user"])
	}
}

func TestAuthGateSkipsPublicPaths(t *testing.T) {
	ta := newTestAPI(t)
	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		rec := ta.do(t, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, want 200", path, rec.Code)
		}
	}
}
