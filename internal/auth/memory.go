package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"warden.org/internal/ids"
)

// MemoryStore is a mutex-guarded in-process Store. It backs tests and the
// no-DSN development bootstrap. The mutex serializes the read-verify-write
// sequence, which is what makes SwapRefreshToken an atomic compare-and-set.
type MemoryStore struct {
	mu      sync.Mutex
	users   map[string]*User
	byEmail map[string]string
	roles   map[string]*Role
	revoked map[string]RevokedToken
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
		roles:   make(map[string]*Role),
		revoked: make(map[string]RevokedToken),
	}
}

func (m *MemoryStore) Users() UserStore                 { return (*memoryUsers)(m) }
func (m *MemoryStore) Roles() RoleStore                 { return (*memoryRoles)(m) }
func (m *MemoryStore) RevokedTokens() RevokedTokenStore { return (*memoryRevoked)(m) }

// Users ---------------------------------------------------------------

type memoryUsers MemoryStore

func (m *memoryUsers) Create(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := strings.ToLower(u.Email)
	if _, ok := m.byEmail[email]; ok {
		return ErrEmailTaken
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	cp := *u
	m.users[u.ID] = &cp
	m.byEmail[email] = u.ID
	return nil
}

func (m *memoryUsers) Find(ctx context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memoryUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *memoryUsers) List(ctx context.Context) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryUsers) SetRefreshToken(ctx context.Context, id, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.RefreshToken = value
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memoryUsers) SwapRefreshToken(ctx context.Context, id, previous, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	if u.RefreshToken == "" || u.RefreshToken != previous {
		return ErrRefreshMismatch
	}
	u.RefreshToken = value
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memoryUsers) ClearRefreshToken(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.RefreshToken = ""
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memoryUsers) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memoryUsers) SetResetToken(ctx context.Context, id, hash string, expires time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.ResetHash = hash
	u.ResetExpires = expires
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memoryUsers) ConsumeResetToken(ctx context.Context, hash string, now time.Time) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ResetHash != "" && u.ResetHash == hash && u.ResetExpires.After(now) {
			u.ResetHash = ""
			u.ResetExpires = time.Time{}
			u.UpdatedAt = time.Now().UTC()
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryUsers) MarkVerified(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Verified = true
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// Roles ---------------------------------------------------------------

type memoryRoles MemoryStore

func (m *memoryRoles) Find(ctx context.Context, id string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memoryRoles) FindByName(ctx context.Context, name string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Name == name {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryRoles) Ensure(ctx context.Context, roles []Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, role := range roles {
		exists := false
		for _, r := range m.roles {
			if r.Name == role.Name {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		cp := role
		if cp.ID == "" {
			cp.ID = ids.New()
		}
		now := time.Now().UTC()
		cp.CreatedAt = now
		cp.UpdatedAt = now
		m.roles[cp.ID] = &cp
	}
	return nil
}

// Revocation ledger ---------------------------------------------------

type memoryRevoked MemoryStore

func (m *memoryRevoked) Revoke(ctx context.Context, token, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.revoked[token]; ok {
		return nil
	}
	m.revoked[token] = RevokedToken{Token: token, UserID: userID, CreatedAt: time.Now().UTC()}
	return nil
}

func (m *memoryRevoked) IsRevoked(ctx context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[token]
	return ok, nil
}

func (m *memoryRevoked) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for token, rec := range m.revoked {
		if rec.CreatedAt.Before(cutoff) {
			delete(m.revoked, token)
			n++
		}
	}
	return n, nil
}
