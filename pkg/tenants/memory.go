// pkg/tenants/memory.go
package tenants

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bosun/pkg/problems"
)

type memProvider struct {
	log  *zap.SugaredLogger
	now  func() time.Time
	mu   sync.RWMutex
	byID map[string]Tenant
}

func NewMemoryProvider(log *zap.SugaredLogger) Provider {
	return &memProvider{log: log, now: time.Now, byID: map[string]Tenant{}}
}

// NewMemoryProviderFromEnv seeds tenants from TENANT_SEED_JSON:
//
//	[{"id":"...","name":"Acme Shipping","slug":"acme","tenantType":"customer","status":"active"}]
func NewMemoryProviderFromEnv(log *zap.SugaredLogger) Provider {
	p := &memProvider{log: log, now: time.Now, byID: map[string]Tenant{}}
	seed := os.Getenv("TENANT_SEED_JSON")
	if seed == "" {
		return p
	}
	var entries []struct {
		ID, Name, Slug, TenantType, Plan, Status string
	}
	if err := json.Unmarshal([]byte(seed), &entries); err != nil {
		log.Warnw("ignoring malformed TENANT_SEED_JSON", "err", err)
		return p
	}
	for _, e := range entries {
		t := Tenant{
			ID: e.ID, Name: e.Name, Slug: e.Slug, Type: Type(e.TenantType),
			Subscription: Subscription{Plan: Plan(e.Plan), Status: Status(e.Status)},
		}
		if _, err := p.CreateTenant(context.Background(), t); err != nil {
			log.Warnw("skipping seeded tenant", "slug", e.Slug, "err", err)
		}
	}
	return p
}

func (m *memProvider) ResolveTenantByID(ctx context.Context, id string) (Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.byID[id]; ok {
		return clone(t), nil
	}
	return Tenant{}, problems.New(problems.KindTenantNotFound, "tenant %s not found", id)
}

func (m *memProvider) ResolveTenantBySlug(ctx context.Context, slug string) (Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.byID {
		if t.Slug == slug && t.State.IsActive() {
			return clone(t), nil
		}
	}
	return Tenant{}, problems.New(problems.KindTenantNotFound, "tenant %q not found", slug)
}

func (m *memProvider) CreateTenant(ctx context.Context, t Tenant) (Tenant, error) {
	t = withDefaults(t, m.now())
	if !ValidSlug(t.Slug) {
		return Tenant{}, problems.New(problems.KindInvalid, "slug %q may only contain lowercase letters, numbers and hyphens", t.Slug)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.byID {
		if x.Slug == t.Slug {
			return Tenant{}, problems.New(problems.KindExists, "tenant slug %q already taken", t.Slug)
		}
	}
	if _, dup := m.byID[t.ID]; dup {
		return Tenant{}, problems.New(problems.KindExists, "tenant %s already exists", t.ID)
	}
	m.byID[t.ID] = clone(t)
	return clone(t), nil
}

func (m *memProvider) UpdateTenant(ctx context.Context, id string, p Patch) (Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		return Tenant{}, problems.New(problems.KindTenantNotFound, "tenant %s not found", id)
	}
	p.apply(&t)
	t.UpdatedAt = m.now()
	m.byID[id] = clone(t)
	return clone(t), nil
}

func (m *memProvider) ListTenants(ctx context.Context) ([]Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Tenant, 0, len(m.byID))
	for _, t := range m.byID {
		if t.State.IsActive() {
			out = append(out, clone(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func clone(t Tenant) Tenant {
	t.AdminIDs = append([]string{}, t.AdminIDs...)
	return t
}
