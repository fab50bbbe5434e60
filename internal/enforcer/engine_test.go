package enforcer

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"bosun/pkg/config"
	"bosun/pkg/problems"
)

type countingStore struct {
	*MemoryStore
	mu       sync.Mutex
	persists int
}

func (c *countingStore) Persist(ctx context.Context, s Snapshot) error {
	c.mu.Lock()
	c.persists++
	c.mu.Unlock()
	return c.MemoryStore.Persist(ctx, s)
}

type notifyRecorder struct {
	mu    sync.Mutex
	calls int
}

func (n *notifyRecorder) Notify(context.Context) {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
}

func seedSnapshot() Snapshot {
	return Snapshot{
		Policies: []Policy{
			{Subject: "tech", Resource: "/*", Action: "*", Domain: GlobalDomain},
			{Subject: "admin", Resource: "/api/roles/*", Action: "*", Domain: "t1"},
			{Subject: "admin", Resource: "/api/roles", Action: "GET", Domain: "t1"},
			{Subject: "viewer", Resource: "/api/reports", Action: "GET", Domain: "t1"},
		},
		Assignments: []Assignment{
			{Member: "u-tech", Role: "tech", Domain: GlobalDomain},
			{Member: "u-admin", Role: "admin", Domain: "t1"},
			{Member: "admin", Role: "viewer", Domain: "t1"},
		},
	}
}

func loadedEngine(t *testing.T, opts ...Option) (*Engine, *countingStore) {
	t.Helper()
	st := &countingStore{MemoryStore: NewMemoryStore(seedSnapshot())}
	e := New(st, opts...)
	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return e, st
}

func TestGlobalBypassGrantsAnyTenant(t *testing.T) {
	e, _ := loadedEngine(t)
	if !e.Enforce("u-tech", "/api/roles", "DELETE", "any-tenant-123") {
		t.Fatalf("global operator must be allowed in any tenant")
	}
	d := e.Decide("u-tech", "/api/roles", "DELETE", "any-tenant-123")
	if d.Scope != ScopeGlobal || d.Policy == nil || d.Policy.Subject != "tech" {
		t.Fatalf("unexpected decision %+v", d)
	}
	if e.EnforceInDomain("u-tech", "/api/roles", "DELETE", "any-tenant-123") {
		t.Fatalf("single-domain check must not apply the global bypass")
	}
	if !e.IsTopLevelOperator("u-tech") || e.IsTopLevelOperator("u-admin") {
		t.Fatalf("operator detection wrong")
	}
}

func TestTenantIsolation(t *testing.T) {
	e, _ := loadedEngine(t)
	if !e.Enforce("u-admin", "/api/roles/42", "put", "t1") {
		t.Fatalf("tenant admin must reach its own roles")
	}
	if e.Enforce("u-admin", "/api/roles/42", "PUT", "t2") {
		t.Fatalf("tenant admin must not reach another tenant")
	}
	if e.Enforce("u-admin", "/api/roles", "DELETE", "t1") {
		t.Fatalf("collection DELETE was never granted")
	}
	d := e.Decide("u-admin", "/api/roles", "GET", "t1")
	if !d.Allowed || d.Scope != ScopeDomain {
		t.Fatalf("unexpected decision %+v", d)
	}
}

func TestInheritedRoles(t *testing.T) {
	e, _ := loadedEngine(t)
	if !e.Enforce("u-admin", "/api/reports", "GET", "t1") {
		t.Fatalf("admin inherits viewer in t1")
	}
	got := e.RolesForUser("u-admin", "t1")
	if want := []string{"admin", "viewer"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("RolesForUser = %v, want %v", got, want)
	}
	if got := e.RolesForUser("u-tech", "t9"); !reflect.DeepEqual(got, []string{"tech"}) {
		t.Fatalf("global assignment must count in every domain, got %v", got)
	}
}

func TestUnloadedEngineFollowsFailMode(t *testing.T) {
	open := New(NewMemoryStore(Snapshot{}), WithFailMode(config.FailOpen))
	if !open.Enforce("anyone", "/api/roles", "GET", "t1") {
		t.Fatalf("fail-open engine must allow before load")
	}
	closed := New(NewMemoryStore(Snapshot{}), WithFailMode(config.FailClosed))
	if closed.Enforce("anyone", "/api/roles", "GET", "t1") {
		t.Fatalf("fail-closed engine must deny before load")
	}
	if d := closed.Decide("anyone", "/", "GET", "t1"); d.Scope != ScopeUnloaded {
		t.Fatalf("scope = %q", d.Scope)
	}
	if _, err := closed.AddPolicy(context.Background(), Policy{Subject: "a", Resource: "/x", Domain: "t1"}); !errors.Is(err, problems.ErrStoreUnavailable) {
		t.Fatalf("mutation before load: %v", err)
	}
}

func TestAddPolicyPersistsThenApplies(t *testing.T) {
	n := &notifyRecorder{}
	e, st := loadedEngine(t, WithNotifier(n))
	ctx := context.Background()
	p := Policy{Subject: "admin", Resource: "/api/users/*", Action: "post", Domain: "t1"}

	added, err := e.AddPolicy(ctx, p)
	if err != nil || !added {
		t.Fatalf("AddPolicy = %v, %v", added, err)
	}
	if !e.Enforce("u-admin", "/api/users/7", "POST", "t1") {
		t.Fatalf("new policy not visible")
	}
	persisted, _ := st.LoadAll(ctx)
	if len(persisted.Policies) != len(seedSnapshot().Policies)+1 {
		t.Fatalf("store has %d policies", len(persisted.Policies))
	}

	added, err = e.AddPolicy(ctx, Policy{Subject: " admin", Resource: "/api/users/*", Action: "POST", Domain: "t1"})
	if err != nil || added {
		t.Fatalf("duplicate AddPolicy = %v, %v", added, err)
	}
	if st.persists != 1 {
		t.Fatalf("persists = %d, duplicates must not hit the store", st.persists)
	}
	if n.calls != 1 {
		t.Fatalf("notify calls = %d", n.calls)
	}
}

func TestPersistFailureRollsBack(t *testing.T) {
	e, st := loadedEngine(t)
	ctx := context.Background()
	st.FailPersist = errors.New("connection refused")

	_, err := e.AddPolicy(ctx, Policy{Subject: "admin", Resource: "/api/billing", Action: "GET", Domain: "t1"})
	if !errors.Is(err, problems.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want store unavailable", err)
	}
	if e.Enforce("u-admin", "/api/billing", "GET", "t1") {
		t.Fatalf("failed mutation must not be visible")
	}
	if _, err := e.AddRoleAssignment(ctx, "u-new", "admin", "t1"); err == nil {
		t.Fatalf("assignment should fail too")
	}
	if e.HasRole("u-new", "admin", "t1") {
		t.Fatalf("failed assignment must not be visible")
	}
	if _, err := e.RemoveRoleAssignment(ctx, "u-admin", "admin", "t1"); err == nil {
		t.Fatalf("removal should fail too")
	}
	if !e.HasRole("u-admin", "admin", "t1") {
		t.Fatalf("failed removal must leave the assignment in place")
	}
}

func TestAssignmentIsIdempotent(t *testing.T) {
	e, st := loadedEngine(t)
	ctx := context.Background()

	added, err := e.AddRoleAssignment(ctx, "u-admin", "viewer", "t1")
	if err != nil || added {
		t.Fatalf("inherited role re-assigned: %v, %v", added, err)
	}
	added, err = e.AddRoleAssignment(ctx, "u-tech", "tech", "t1")
	if err != nil || added {
		t.Fatalf("globally held role re-assigned: %v, %v", added, err)
	}
	if st.persists != 0 {
		t.Fatalf("no-op assignments persisted %d times", st.persists)
	}

	added, err = e.AddRoleAssignment(ctx, "u-2", "admin", "t2")
	if err != nil || !added {
		t.Fatalf("AddRoleAssignment = %v, %v", added, err)
	}
	if !e.HasRole("u-2", "admin", "t2") || e.HasRole("u-2", "admin", "t1") {
		t.Fatalf("assignment leaked across domains")
	}
	removed, err := e.RemoveRoleAssignment(ctx, "u-2", "admin", "t2")
	if err != nil || !removed {
		t.Fatalf("RemoveRoleAssignment = %v, %v", removed, err)
	}
	removed, err = e.RemoveRoleAssignment(ctx, "u-2", "admin", "t2")
	if err != nil || removed {
		t.Fatalf("second removal = %v, %v", removed, err)
	}
}

func TestRejectsInvalidTuples(t *testing.T) {
	e, _ := loadedEngine(t)
	ctx := context.Background()
	if _, err := e.AddPolicy(ctx, Policy{Subject: "admin", Domain: "t1"}); !errors.Is(err, problems.ErrInvalid) {
		t.Fatalf("missing resource: %v", err)
	}
	if _, err := e.AddRoleAssignment(ctx, "admin", "admin", "t1"); !errors.Is(err, problems.ErrInvalid) {
		t.Fatalf("self edge: %v", err)
	}
}

func TestRemoveFilteredPolicies(t *testing.T) {
	e, _ := loadedEngine(t)
	ctx := context.Background()
	n, err := e.RemoveFilteredPolicies(ctx, "admin", "t1")
	if err != nil || n != 2 {
		t.Fatalf("RemoveFilteredPolicies = %d, %v", n, err)
	}
	if got := e.Policies(Filter{Subject: "admin"}); len(got) != 0 {
		t.Fatalf("admin policies left: %v", got)
	}
	if got := e.Policies(Filter{Domain: GlobalDomain}); len(got) != 1 {
		t.Fatalf("global policies touched: %v", got)
	}
}

func TestRemovePoliciesBatch(t *testing.T) {
	e, _ := loadedEngine(t)
	n, err := e.RemovePolicies(context.Background(), []Policy{
		{Subject: "viewer", Resource: "/api/reports", Action: "get", Domain: "t1"},
		{Subject: "ghost", Resource: "/x", Action: "GET", Domain: "t1"},
	})
	if err != nil || n != 1 {
		t.Fatalf("RemovePolicies = %d, %v", n, err)
	}
	if e.Enforce("u-admin", "/api/reports", "GET", "t1") {
		t.Fatalf("removed policy still grants")
	}
}

func TestFailedReloadKeepsSnapshot(t *testing.T) {
	e, st := loadedEngine(t)
	st.FailLoad = errors.New("timeout")
	if err := e.Load(context.Background()); !errors.Is(err, problems.ErrStoreUnavailable) {
		t.Fatalf("Load err = %v", err)
	}
	if !e.Enforce("u-admin", "/api/roles", "GET", "t1") {
		t.Fatalf("previous snapshot must keep serving")
	}
	if s := e.Stats(); !s.Loaded || s.Policies != 4 || s.Assignments != 3 || s.Domains != 2 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestConcurrentReadsDuringMutation(t *testing.T) {
	e, _ := loadedEngine(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if !e.Enforce("u-tech", "/api/roles", "GET", "t1") {
					t.Errorf("operator lost access mid-mutation")
					return
				}
			}
		}()
	}
	for i := 0; i < 20; i++ {
		p := Policy{Subject: "viewer", Resource: "/api/extra", Action: "GET", Domain: "t1"}
		if _, err := e.AddPolicy(ctx, p); err != nil {
			t.Fatalf("AddPolicy: %v", err)
		}
		if _, err := e.RemovePolicy(ctx, p); err != nil {
			t.Fatalf("RemovePolicy: %v", err)
		}
	}
	wg.Wait()
}

type loaderFunc func(context.Context) error

func (f loaderFunc) Load(ctx context.Context) error { return f(ctx) }

func TestReloaderIgnoresOwnMessages(t *testing.T) {
	r := NewReloader(nil, nil)
	calls := 0
	l := loaderFunc(func(context.Context) error { calls++; return nil })
	r.handle(context.Background(), l, r.Instance())
	if calls != 0 {
		t.Fatalf("own message triggered reload")
	}
	r.handle(context.Background(), l, "other-replica")
	if calls != 1 {
		t.Fatalf("reload calls = %d", calls)
	}
	r.Notify(context.Background()) // no client: no-op
}

type gateFunc func(domain string) (bool, error)

func (f gateFunc) DomainOperational(domain string) (bool, error) { return f(domain) }

func TestSuspendedDomainDeniesDomainGrants(t *testing.T) {
	suspended := map[string]bool{"t1": true}
	e, _ := loadedEngine(t, WithDomainGate(gateFunc(func(d string) (bool, error) {
		return !suspended[d], nil
	})))
	d := e.Decide("u-admin", "/api/roles/42", "PUT", "t1")
	if d.Allowed || d.Scope != ScopeTenantInactive {
		t.Fatalf("suspended tenant decision %+v", d)
	}
	if e.IsAllowed("u-admin", "/api/reports", "GET", "t1") {
		t.Fatalf("inherited grant in a suspended tenant must be denied")
	}
	if e.EnforceInDomain("u-admin", "/api/roles", "GET", "t1") {
		t.Fatalf("single-domain check must honour the tenant status")
	}
	if d := e.Decide("u-tech", "/api/roles/42", "PUT", "t1"); !d.Allowed || d.Scope != ScopeGlobal {
		t.Fatalf("global grant must bypass the tenant status: %+v", d)
	}

	delete(suspended, "t1")
	if !e.IsAllowed("u-admin", "/api/roles/42", "PUT", "t1") {
		t.Fatalf("reactivated tenant must be allowed again")
	}
}

func TestDomainGateErrorFollowsFailMode(t *testing.T) {
	down := gateFunc(func(string) (bool, error) { return false, errors.New("tenant store down") })
	closed, _ := loadedEngine(t, WithDomainGate(down), WithFailMode(config.FailClosed))
	if closed.Enforce("u-admin", "/api/roles", "GET", "t1") {
		t.Fatalf("fail-closed engine must deny when tenant status is unknown")
	}
	open, _ := loadedEngine(t, WithDomainGate(down), WithFailMode(config.FailOpen))
	if !open.Enforce("u-admin", "/api/roles", "GET", "t1") {
		t.Fatalf("fail-open engine must allow when tenant status is unknown")
	}
}

type notifyFunc func(context.Context)

func (f notifyFunc) Notify(ctx context.Context) { f(ctx) }

func TestNotifyRunsAfterWriterLockIsReleased(t *testing.T) {
	var e *Engine
	// Load takes the writer lock, so it can only complete here if the
	// mutation has already released it.
	e, _ = loadedEngine(t, WithNotifier(notifyFunc(func(ctx context.Context) {
		if err := e.Load(ctx); err != nil {
			t.Errorf("Load inside Notify: %v", err)
		}
	})))
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := e.AddPolicy(context.Background(), Policy{Subject: "auditor", Resource: "/api/audit", Action: "GET", Domain: "t1"}); err != nil {
			t.Errorf("AddPolicy: %v", err)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Notify ran while the writer lock was held")
	}
}
