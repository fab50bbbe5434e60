package roles

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"bosun/internal/identity"
	"bosun/pkg/lifecycle"
	"bosun/pkg/problems"
)

// Filter selects active roles. A role matches when it is global and Global
// is set, when it belongs to TenantID, or when its id is in IDs. An empty
// filter matches every active role.
type Filter struct {
	Global   bool
	TenantID string
	IDs      []string
}

func (f Filter) empty() bool { return !f.Global && f.TenantID == "" && len(f.IDs) == 0 }

func (f Filter) matches(r Role) bool {
	if !r.State.IsActive() {
		return false
	}
	if f.empty() {
		return true
	}
	if f.Global && r.Type == TypeGlobal {
		return true
	}
	if f.TenantID != "" && r.TenantID == f.TenantID {
		return true
	}
	for _, id := range f.IDs {
		if id == r.ID {
			return true
		}
	}
	return false
}

type Store interface {
	Create(ctx context.Context, r Role) (Role, error)
	Get(ctx context.Context, id string) (Role, error)
	// Update replaces the stored record.
	Update(ctx context.Context, r Role) (Role, error)
	// FindByName looks among active roles; tenantID "" means global scope.
	FindByName(ctx context.Context, name, tenantID string) (Role, error)
	FindByGlobalRole(ctx context.Context, g identity.GlobalRole) (Role, error)
	List(ctx context.Context, f Filter) ([]Role, error)
	// Count includes deactivated roles.
	Count(ctx context.Context) (int, error)
}

type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]Role
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: map[string]Role{}, now: time.Now}
}

func (m *MemoryStore) Create(_ context.Context, r Role) (Role, error) {
	r = prepareNew(r, m.now())
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.byID {
		if x.State.IsActive() && x.Name == r.Name && x.TenantID == r.TenantID {
			return Role{}, problems.New(problems.KindExists, "role %q already exists in this scope", r.Name)
		}
	}
	m.byID[r.ID] = cloneRole(r)
	return cloneRole(r), nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.byID[id]; ok {
		return cloneRole(r), nil
	}
	return Role{}, problems.New(problems.KindRoleNotFound, "role %s not found", id)
}

func (m *MemoryStore) Update(_ context.Context, r Role) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[r.ID]; !ok {
		return Role{}, problems.New(problems.KindRoleNotFound, "role %s not found", r.ID)
	}
	for _, x := range m.byID {
		if x.ID != r.ID && r.State.IsActive() && x.State.IsActive() && x.Name == r.Name && x.TenantID == r.TenantID {
			return Role{}, problems.New(problems.KindExists, "role %q already exists in this scope", r.Name)
		}
	}
	r.UpdatedAt = m.now()
	m.byID[r.ID] = cloneRole(r)
	return cloneRole(r), nil
}

func (m *MemoryStore) FindByName(_ context.Context, name, tenantID string) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.byID {
		if r.State.IsActive() && r.Name == name && r.TenantID == tenantID {
			return cloneRole(r), nil
		}
	}
	return Role{}, problems.New(problems.KindRoleNotFound, "role %q not found", name)
}

func (m *MemoryStore) FindByGlobalRole(_ context.Context, g identity.GlobalRole) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.byID {
		if r.State.IsActive() && r.GlobalRole == g {
			return cloneRole(r), nil
		}
	}
	return Role{}, problems.New(problems.KindRoleNotFound, "global role %q not found", g)
}

func (m *MemoryStore) List(_ context.Context, f Filter) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Role
	for _, r := range m.byID {
		if f.matches(r) {
			out = append(out, cloneRole(r))
		}
	}
	sortRoles(out)
	return out, nil
}

func (m *MemoryStore) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID), nil
}

func sortRoles(rs []Role) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Type != rs[j].Type {
			return typeOrder(rs[i].Type) < typeOrder(rs[j].Type)
		}
		return rs[i].Name < rs[j].Name
	})
}

func typeOrder(t Type) int {
	switch t {
	case TypeGlobal:
		return 0
	case TypeTenant:
		return 1
	}
	return 2
}

func prepareNew(r Role, now time.Time) Role {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.State == "" {
		r.State = lifecycle.Active
	}
	if r.Permissions == nil {
		r.Permissions = []Permission{}
	}
	r.CreatedAt = now
	r.UpdatedAt = now
	return r
}

func cloneRole(r Role) Role {
	perms := make([]Permission, len(r.Permissions))
	for i, p := range r.Permissions {
		perms[i] = Permission{Resource: p.Resource, Actions: append([]string(nil), p.Actions...)}
	}
	r.Permissions = perms
	return r
}
