// Package enforcer answers allow/deny questions against an in-memory index
// of (subject, resource, action, domain) policies and role assignments.
//
// Reads never touch the store. Mutations are serialized, persisted as a
// full snapshot, and only then made visible, so the index is never ahead of
// durable state.
package enforcer

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"bosun/pkg/config"
	"bosun/pkg/problems"
)

// Scopes reported in a Decision.
const (
	ScopeGlobal   = "global"
	ScopeDomain   = "domain"
	ScopeNone     = "none"
	ScopeUnloaded = "unloaded"
	// ScopeTenantInactive marks a domain match refused because the tenant
	// behind the domain is suspended or deactivated.
	ScopeTenantInactive = "tenant-inactive"
)

// DomainGate reports whether domain-scoped grants in a domain may be used.
// Domains that are not tenants should report true.
type DomainGate interface {
	DomainOperational(domain string) (bool, error)
}

// Notifier is told after every persisted mutation.
type Notifier interface {
	Notify(ctx context.Context)
}

type Option func(*Engine)

func WithLogger(log *zap.SugaredLogger) Option { return func(e *Engine) { e.log = log } }

// WithFailMode sets the answer given while no snapshot has been loaded.
func WithFailMode(m config.FailMode) Option { return func(e *Engine) { e.failMode = m } }

// WithOperatorRole names the role that marks a top-level operator when held
// in the global domain.
func WithOperatorRole(role string) Option { return func(e *Engine) { e.operatorRole = role } }

func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }

// WithDomainGate makes every domain-scoped allow depend on the gate. Global
// grants bypass it.
func WithDomainGate(g DomainGate) Option { return func(e *Engine) { e.gate = g } }

type Engine struct {
	store        Store
	log          *zap.SugaredLogger
	failMode     config.FailMode
	operatorRole string
	notifier     Notifier
	gate         DomainGate

	wmu sync.Mutex // serializes Load and every mutation
	mu  sync.RWMutex
	idx *index
}

func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		log:          zap.NewNop().Sugar(),
		failMode:     config.FailClosed,
		operatorRole: "tech",
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Decision explains one enforcement answer.
type Decision struct {
	Allowed bool    `json:"allowed"`
	Scope   string  `json:"scope"`
	Policy  *Policy `json:"policy,omitempty"`
}

// Load replaces the snapshot with the store's contents. On failure a
// previously loaded snapshot keeps serving.
func (e *Engine) Load(ctx context.Context) error {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	snap, err := e.store.LoadAll(ctx)
	if err != nil {
		reloadsTotal.WithLabelValues("error").Inc()
		if e.Loaded() {
			e.log.Warnw("policy reload failed, serving previous snapshot", "err", err)
		}
		return problems.Wrap(problems.KindStoreUnavailable, err, "load policy snapshot")
	}
	idx := newIndex(snap)
	e.swap(idx)
	reloadsTotal.WithLabelValues("ok").Inc()
	e.log.Infow("policy snapshot loaded", "policies", len(idx.snap.Policies), "assignments", len(idx.snap.Assignments))
	return nil
}

func (e *Engine) Loaded() bool { return e.current() != nil }

func (e *Engine) FailMode() config.FailMode { return e.failMode }

func (e *Engine) current() *index {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.idx
}

func (e *Engine) swap(idx *index) {
	e.mu.Lock()
	e.idx = idx
	e.mu.Unlock()
	observeSnapshot(idx.snap)
}

// Decide checks the global domain first and grants unconditionally on a
// match there; only then is the requested domain consulted, and a match
// there counts only while the domain's tenant is operational.
func (e *Engine) Decide(subject, resource, action, domain string) Decision {
	idx := e.current()
	if idx == nil {
		return e.unloaded(subject, resource, action, domain)
	}
	if p, ok := idx.match(subject, resource, action, GlobalDomain); ok {
		decisionsTotal.WithLabelValues("allow", ScopeGlobal).Inc()
		return Decision{Allowed: true, Scope: ScopeGlobal, Policy: &p}
	}
	if domain != GlobalDomain {
		if p, ok := idx.match(subject, resource, action, domain); ok {
			if !e.domainOpen(domain) {
				decisionsTotal.WithLabelValues("deny", ScopeTenantInactive).Inc()
				e.log.Debugw("authz denied, tenant inactive", "subject", subject, "resource", resource, "action", action, "domain", domain)
				return Decision{Allowed: false, Scope: ScopeTenantInactive, Policy: &p}
			}
			decisionsTotal.WithLabelValues("allow", ScopeDomain).Inc()
			return Decision{Allowed: true, Scope: ScopeDomain, Policy: &p}
		}
	}
	decisionsTotal.WithLabelValues("deny", ScopeNone).Inc()
	e.log.Debugw("authz denied", "subject", subject, "resource", resource, "action", action, "domain", domain)
	return Decision{Allowed: false, Scope: ScopeNone}
}

func (e *Engine) Enforce(subject, resource, action, domain string) bool {
	return e.Decide(subject, resource, action, domain).Allowed
}

// IsAllowed is the query surface for business handlers.
func (e *Engine) IsAllowed(userID, resource, action, tenantID string) bool {
	return e.Enforce(userID, resource, action, tenantID)
}

// EnforceInDomain checks a single domain with no global bypass.
func (e *Engine) EnforceInDomain(subject, resource, action, domain string) bool {
	idx := e.current()
	if idx == nil {
		return e.unloaded(subject, resource, action, domain).Allowed
	}
	if _, ok := idx.match(subject, resource, action, domain); !ok {
		return false
	}
	return domain == GlobalDomain || e.domainOpen(domain)
}

// domainOpen consults the gate. A gate error answers with the fail mode.
func (e *Engine) domainOpen(domain string) bool {
	if e.gate == nil {
		return true
	}
	ok, err := e.gate.DomainOperational(domain)
	if err != nil {
		e.log.Warnw("tenant status unavailable", "domain", domain, "fail_mode", e.failMode, "err", err)
		return e.failMode == config.FailOpen
	}
	return ok
}

func (e *Engine) unloaded(subject, resource, action, domain string) Decision {
	allowed := e.failMode == config.FailOpen
	result := "deny"
	if allowed {
		result = "allow"
	}
	decisionsTotal.WithLabelValues(result, ScopeUnloaded).Inc()
	e.log.Warnw("authorization engine not loaded",
		"fail_mode", e.failMode, "allowed", allowed,
		"subject", subject, "resource", resource, "action", action, "domain", domain)
	return Decision{Allowed: allowed, Scope: ScopeUnloaded}
}

// RolesForUser returns the effective roles of user in domain, including
// global-domain assignments and inherited roles, sorted.
func (e *Engine) RolesForUser(user, domain string) []string {
	idx := e.current()
	if idx == nil {
		return nil
	}
	return idx.sortedRoles(user, domain)
}

func (e *Engine) HasRole(user, role, domain string) bool {
	idx := e.current()
	if idx == nil {
		return false
	}
	_, ok := idx.roles(user, domain)[role]
	return ok
}

// IsTopLevelOperator reports whether user holds the operator role in the
// global domain.
func (e *Engine) IsTopLevelOperator(user string) bool {
	return e.HasRole(user, e.operatorRole, GlobalDomain)
}

func (e *Engine) AddPolicy(ctx context.Context, p Policy) (bool, error) {
	n, err := e.AddPolicies(ctx, []Policy{p})
	return n > 0, err
}

// AddPolicies adds every tuple not already present and reports how many
// were new. Duplicates are no-ops.
func (e *Engine) AddPolicies(ctx context.Context, ps []Policy) (int, error) {
	norm, err := normalizePolicies(ps)
	if err != nil {
		return 0, err
	}
	return e.mutate(ctx, "add_policy", func(cur *index) (Snapshot, int) {
		next := cloneSnapshot(cur.snap)
		added := 0
		seen := map[Policy]struct{}{}
		for _, p := range norm {
			if _, dup := seen[p]; dup || cur.hasPolicy(p) {
				continue
			}
			seen[p] = struct{}{}
			next.Policies = append(next.Policies, p)
			added++
		}
		return next, added
	})
}

func (e *Engine) RemovePolicy(ctx context.Context, p Policy) (bool, error) {
	n, err := e.RemovePolicies(ctx, []Policy{p})
	return n > 0, err
}

func (e *Engine) RemovePolicies(ctx context.Context, ps []Policy) (int, error) {
	norm, err := normalizePolicies(ps)
	if err != nil {
		return 0, err
	}
	drop := make(map[Policy]struct{}, len(norm))
	for _, p := range norm {
		drop[p] = struct{}{}
	}
	return e.removePoliciesWhere(ctx, "remove_policy", func(p Policy) bool {
		_, ok := drop[p]
		return ok
	})
}

// RemoveFilteredPolicies drops every policy of subject in domain. An empty
// domain matches all domains.
func (e *Engine) RemoveFilteredPolicies(ctx context.Context, subject, domain string) (int, error) {
	if subject == "" {
		return 0, problems.New(problems.KindInvalid, "subject is required")
	}
	return e.removePoliciesWhere(ctx, "remove_filtered_policy", func(p Policy) bool {
		return p.Subject == subject && (domain == "" || p.Domain == domain)
	})
}

func (e *Engine) removePoliciesWhere(ctx context.Context, op string, match func(Policy) bool) (int, error) {
	return e.mutate(ctx, op, func(cur *index) (Snapshot, int) {
		next := Snapshot{Assignments: append([]Assignment(nil), cur.snap.Assignments...)}
		removed := 0
		for _, p := range cur.snap.Policies {
			if match(p) {
				removed++
				continue
			}
			next.Policies = append(next.Policies, p)
		}
		return next, removed
	})
}

// AddRoleAssignment grants role to member in domain. It never adds a role
// the member already effectively holds there.
func (e *Engine) AddRoleAssignment(ctx context.Context, member, role, domain string) (bool, error) {
	a := Assignment{Member: member, Role: role, Domain: domain}.Normalize()
	if !a.valid() {
		return false, problems.New(problems.KindInvalid, "member, role and domain are required")
	}
	n, err := e.mutate(ctx, "add_assignment", func(cur *index) (Snapshot, int) {
		if _, held := cur.roles(a.Member, a.Domain)[a.Role]; held || cur.hasAssignment(a) {
			return cur.snap, 0
		}
		next := cloneSnapshot(cur.snap)
		next.Assignments = append(next.Assignments, a)
		return next, 1
	})
	return n > 0, err
}

func (e *Engine) RemoveRoleAssignment(ctx context.Context, member, role, domain string) (bool, error) {
	a := Assignment{Member: member, Role: role, Domain: domain}.Normalize()
	if !a.valid() {
		return false, problems.New(problems.KindInvalid, "member, role and domain are required")
	}
	n, err := e.mutate(ctx, "remove_assignment", func(cur *index) (Snapshot, int) {
		if !cur.hasAssignment(a) {
			return cur.snap, 0
		}
		next := Snapshot{Policies: append([]Policy(nil), cur.snap.Policies...)}
		for _, x := range cur.snap.Assignments {
			if x != a {
				next.Assignments = append(next.Assignments, x)
			}
		}
		return next, 1
	})
	return n > 0, err
}

// mutate computes the next snapshot from the current one, persists it, and
// swaps it in. A persistence failure leaves the current index untouched.
// Other replicas are notified once the writer lock is released.
func (e *Engine) mutate(ctx context.Context, op string, fn func(cur *index) (Snapshot, int)) (int, error) {
	changed, err := e.apply(ctx, op, fn)
	if changed > 0 && e.notifier != nil {
		e.notifier.Notify(ctx)
	}
	return changed, err
}

func (e *Engine) apply(ctx context.Context, op string, fn func(cur *index) (Snapshot, int)) (int, error) {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	cur := e.current()
	if cur == nil {
		mutationsTotal.WithLabelValues(op, "unloaded").Inc()
		return 0, problems.New(problems.KindStoreUnavailable, "policy snapshot not loaded")
	}
	next, changed := fn(cur)
	if changed == 0 {
		mutationsTotal.WithLabelValues(op, "noop").Inc()
		return 0, nil
	}
	if err := e.store.Persist(ctx, next); err != nil {
		mutationsTotal.WithLabelValues(op, "error").Inc()
		e.log.Errorw("persist policy snapshot failed, mutation discarded", "op", op, "err", err)
		return 0, problems.Wrap(problems.KindStoreUnavailable, err, "persist policy snapshot")
	}
	e.swap(newIndex(next))
	mutationsTotal.WithLabelValues(op, "ok").Inc()
	e.log.Infow("policy snapshot updated", "op", op, "changed", changed)
	return changed, nil
}

func normalizePolicies(ps []Policy) ([]Policy, error) {
	out := make([]Policy, 0, len(ps))
	for _, p := range ps {
		p = p.Normalize()
		if !p.valid() {
			return nil, problems.New(problems.KindInvalid, "policy %q needs subject, resource and domain", p.String())
		}
		out = append(out, p)
	}
	return out, nil
}

// Filter narrows introspection results. Empty fields match everything.
type Filter struct {
	Subject string
	Domain  string
}

func (e *Engine) Policies(f Filter) []Policy {
	idx := e.current()
	if idx == nil {
		return nil
	}
	var out []Policy
	for _, p := range idx.snap.Policies {
		if (f.Subject == "" || p.Subject == f.Subject) && (f.Domain == "" || p.Domain == f.Domain) {
			out = append(out, p)
		}
	}
	sortPolicies(out)
	return out
}

// Assignments filters on member and domain.
func (e *Engine) Assignments(f Filter) []Assignment {
	idx := e.current()
	if idx == nil {
		return nil
	}
	var out []Assignment
	for _, a := range idx.snap.Assignments {
		if (f.Subject == "" || a.Member == f.Subject) && (f.Domain == "" || a.Domain == f.Domain) {
			out = append(out, a)
		}
	}
	sortAssignments(out)
	return out
}

type Stats struct {
	Loaded      bool            `json:"loaded"`
	FailMode    config.FailMode `json:"fail_mode"`
	Policies    int             `json:"policies"`
	Assignments int             `json:"assignments"`
	Domains     int             `json:"domains"`
}

func (e *Engine) Stats() Stats {
	st := Stats{FailMode: e.failMode}
	idx := e.current()
	if idx == nil {
		return st
	}
	domains := map[string]struct{}{}
	for d := range idx.grants {
		domains[d] = struct{}{}
	}
	for d := range idx.edges {
		domains[d] = struct{}{}
	}
	st.Loaded = true
	st.Policies = len(idx.snap.Policies)
	st.Assignments = len(idx.snap.Assignments)
	st.Domains = len(domains)
	return st
}
