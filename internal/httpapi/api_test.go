package httpapi

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"warden.org/internal/auth"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
)

func testKeys(t *testing.T) *auth.Keys {
	t.Helper()
	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = key
	})
	return &auth.Keys{Private: testKey, Public: &testKey.PublicKey}
}

type testAPI struct {
	api     *API
	handler http.Handler
	store   *auth.MemoryStore
	svc     *auth.Service
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := auth.NewMemoryStore()
	svc, err := auth.NewService(store, testKeys(t))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.EnsureRoles(context.Background()); err != nil {
		t.Fatalf("EnsureRoles: %v", err)
	}
	api := New(svc, store, ReadyProbe{}, "test")
	return &testAPI{api: api, handler: api.Handler(), store: store, svc: svc}
}

// createUser seeds an account directly in the store, bypassing the register
// endpoint, so tests can control role and status.
func (ta *testAPI) createUser(t *testing.T, email, roleName, status string) *auth.User {
	t.Helper()
	role, err := ta.store.Roles().FindByName(context.Background(), roleName)
	if err != nil {
		t.Fatalf("FindByName(%s): %v", roleName, err)
	}
	hash, err := auth.HashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	user := &auth.User{
		Username:     "tester",
		Email:        email,
		PasswordHash: hash,
		RoleID:       role.ID,
		Status:       status,
	}
	if err := ta.store.Users().Create(context.Background(), user); err != nil {
		t.Fatalf("Create user: %v", err)
	}
	return user
}

func (ta *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(authHeader, bearer+token)
	}
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return m
}

func TestHealthz(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" || body["service"] != "warden-api" {
		t.Fatalf("unexpected body: %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected security headers")
	}
}

func TestReadyzWithoutDB(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "ready" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestInfo(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodGet, "/v1/info", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["name"] != "warden-api" || body["version"] != "test" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestUnknownPathIs404(t *testing.T) {
	ta := newTestAPI(t)
	user := ta.createUser(t, "alice@example.com", auth.RoleUser, auth.UserStatusActive)
	pair, err := ta.svc.IssueTokenPair(user)
	if err != nil {
		t.Fatalf("IssueTokenPair: %v", err)
	}
	rec := ta.do(t, http.MethodGet, "/v1/nope", pair.AccessToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodGet, "/v1/auth/login", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	if rec.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("Allow = %q, want POST", rec.Header().Get("Allow"))
	}
}
