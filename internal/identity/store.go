package identity

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"bosun/pkg/lifecycle"
	"bosun/pkg/problems"
)

// UserStore is the user half of the identity store.
type UserStore interface {
	CreateUser(ctx context.Context, u User) (User, error)
	FindUserByID(ctx context.Context, id string) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindUserByCredential(ctx context.Context, email string, s Scope) (User, error)
	UpdateUser(ctx context.Context, id string, p UserPatch) (User, error)
	// RecordFailedLogin counts one failed password check atomically and
	// returns the updated user.
	RecordFailedLogin(ctx context.Context, id string, now time.Time) (User, error)
	// CountUsersReferencingRole counts users holding globalRole (when set)
	// or listing roleID among their tenant or internal roles.
	CountUsersReferencingRole(ctx context.Context, roleID string, globalRole GlobalRole) (int, error)
	FindUsersByGlobalRole(ctx context.Context, role GlobalRole) ([]User, error)
	ListUsers(ctx context.Context, f Filter) ([]User, error)
}

type MemoryUsers struct {
	mu   sync.RWMutex
	byID map[string]User
	now  func() time.Time
}

func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{byID: map[string]User{}, now: time.Now}
}

func (m *MemoryUsers) CreateUser(_ context.Context, u User) (User, error) {
	u = prepareNew(u, m.now())
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.byID {
		if x.Email == u.Email && x.TenantID == u.TenantID {
			return User{}, problems.New(problems.KindExists, "user %s already exists", u.Email)
		}
	}
	m.byID[u.ID] = cloneUser(u)
	return cloneUser(u), nil
}

func (m *MemoryUsers) FindUserByID(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.byID[id]; ok {
		return cloneUser(u), nil
	}
	return User{}, problems.New(problems.KindUserNotFound, "user %s not found", id)
}

func (m *MemoryUsers) FindUserByEmail(ctx context.Context, email string) (User, error) {
	return m.FindUserByCredential(ctx, email, Scope{})
}

func (m *MemoryUsers) FindUserByCredential(_ context.Context, email string, s Scope) (User, error) {
	email = NormalizeEmail(email)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.sorted() {
		if u.Email != email {
			continue
		}
		if s.TenantID != "" && u.TenantID != s.TenantID {
			continue
		}
		if s.UserType != "" && u.UserType != s.UserType {
			continue
		}
		return cloneUser(u), nil
	}
	return User{}, problems.New(problems.KindUserNotFound, "user %s not found", email)
}

func (m *MemoryUsers) UpdateUser(_ context.Context, id string, p UserPatch) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return User{}, problems.New(problems.KindUserNotFound, "user %s not found", id)
	}
	p.apply(&u)
	u.UpdatedAt = m.now()
	m.byID[id] = cloneUser(u)
	return cloneUser(u), nil
}

func (m *MemoryUsers) RecordFailedLogin(_ context.Context, id string, now time.Time) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return User{}, problems.New(problems.KindUserNotFound, "user %s not found", id)
	}
	u.FailedLogin(now).apply(&u)
	u.UpdatedAt = m.now()
	m.byID[id] = cloneUser(u)
	return cloneUser(u), nil
}

func (m *MemoryUsers) CountUsersReferencingRole(_ context.Context, roleID string, globalRole GlobalRole) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, u := range m.byID {
		if (globalRole != GlobalNone && u.GlobalRole == globalRole) || u.References(roleID) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryUsers) FindUsersByGlobalRole(_ context.Context, role GlobalRole) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []User
	for _, u := range m.sorted() {
		if u.GlobalRole == role && u.State.IsActive() {
			out = append(out, cloneUser(u))
		}
	}
	return out, nil
}

func (m *MemoryUsers) ListUsers(_ context.Context, f Filter) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []User
	for _, u := range m.sorted() {
		if !u.State.IsActive() {
			continue
		}
		if (f.TenantID == "" || u.TenantID == f.TenantID) && (f.UserType == "" || u.UserType == f.UserType) {
			out = append(out, cloneUser(u))
		}
	}
	return out, nil
}

// sorted returns users oldest first so lookups are deterministic. Callers
// hold the lock.
func (m *MemoryUsers) sorted() []User {
	out := make([]User, 0, len(m.byID))
	for _, u := range m.byID {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func prepareNew(u User, now time.Time) User {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = NormalizeEmail(u.Email)
	if u.State == "" {
		u.State = lifecycle.Active
	}
	if u.TenantRoles == nil {
		u.TenantRoles = []string{}
	}
	if u.InternalRoles == nil {
		u.InternalRoles = []string{}
	}
	u.CreatedAt = now
	u.UpdatedAt = now
	return u
}

func cloneUser(u User) User {
	u.TenantRoles = append([]string{}, u.TenantRoles...)
	u.InternalRoles = append([]string{}, u.InternalRoles...)
	return u
}
