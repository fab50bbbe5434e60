package roles

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"bosun/internal/enforcer"
	"bosun/internal/identity"
	"bosun/pkg/lifecycle"
	"bosun/pkg/problems"
	"bosun/pkg/tenants"
)

// Service administers the catalog and keeps the engine's policies and
// assignments consistent with it.
type Service struct {
	store  Store
	dir    *identity.Directory
	engine *enforcer.Engine
	log    *zap.SugaredLogger

	operatorRole  string
	defaultDomain string
	seedFile      string
	techEmail     string
	techPassword  string
	bcryptCost    int
	bootstrapOut  io.Writer
}

type Option func(*Service)

func WithLogger(log *zap.SugaredLogger) Option { return func(s *Service) { s.log = log } }

// WithOperatorRole names the role assigned in the global domain.
func WithOperatorRole(role string) Option { return func(s *Service) { s.operatorRole = role } }

// WithDefaultDomain sets the domain the shared customer, vendor and public
// grants are seeded into.
func WithDefaultDomain(d string) Option { return func(s *Service) { s.defaultDomain = d } }

// WithSeedFile replaces the embedded defaults with a YAML file.
func WithSeedFile(path string) Option { return func(s *Service) { s.seedFile = path } }

// WithBootstrapTech sets the credentials of the first operator account. An
// empty password is replaced by a random one at bootstrap.
func WithBootstrapTech(email, password string) Option {
	return func(s *Service) { s.techEmail, s.techPassword = email, password }
}

func WithBcryptCost(cost int) Option { return func(s *Service) { s.bcryptCost = cost } }

// WithBootstrapOutput sets where a generated operator password is printed.
// Defaults to stderr.
func WithBootstrapOutput(w io.Writer) Option { return func(s *Service) { s.bootstrapOut = w } }

func NewService(store Store, dir *identity.Directory, engine *enforcer.Engine, opts ...Option) *Service {
	s := &Service{
		store:         store,
		dir:           dir,
		engine:        engine,
		log:           zap.NewNop().Sugar(),
		operatorRole:  string(identity.GlobalTech),
		defaultDomain: "maritime-procurement",
		techEmail:     "tech@maritime-procurement.com",
		bcryptCost:    12,
		bootstrapOut:  os.Stderr,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// isTech treats both the stored role and a global-domain operator
// assignment as operator authority.
func (s *Service) isTech(c identity.User) bool {
	return c.IsTech() || s.engine.IsTopLevelOperator(c.ID)
}

// Input describes a role to create.
type Input struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Type        Type                `json:"roleType"`
	GlobalRole  identity.GlobalRole `json:"globalRole"`
	TenantType  tenants.Type        `json:"tenantType"`
	// TenantID lets an operator create a role in another tenant. Other
	// callers always create in their own tenant.
	TenantID    string       `json:"tenantId"`
	Permissions []Permission `json:"permissions"`
	Features    Features     `json:"maritimeFeatures"`
}

// Patch carries optional role updates; nil fields are left alone.
type Patch struct {
	Name        *string       `json:"name"`
	Description *string       `json:"description"`
	Permissions *[]Permission `json:"permissions"`
	Features    *Features     `json:"maritimeFeatures"`
}

func (s *Service) Create(ctx context.Context, caller identity.User, in Input) (Role, error) {
	if in.Type == "" {
		in.Type = TypeInternal
	}
	switch in.Type {
	case TypeGlobal:
		if !s.isTech(caller) {
			return Role{}, problems.New(problems.KindInsufficientPermissions, "only technical administrators can create global roles")
		}
	case TypeTenant:
		if !s.isTech(caller) && !caller.IsAdmin() {
			return Role{}, problems.New(problems.KindInsufficientPermissions, "only administrators can create tenant roles")
		}
	case TypeInternal:
		if !s.isTech(caller) && !caller.AnyAdmin() {
			return Role{}, problems.New(problems.KindInsufficientPermissions, "only administrators can create internal roles")
		}
	}

	r := Role{
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Type:        in.Type,
		Permissions: in.Permissions,
		Features:    in.Features,
		State:       lifecycle.Active,
		CreatedBy:   caller.ID,
	}
	switch in.Type {
	case TypeGlobal:
		r.GlobalRole = in.GlobalRole
	case TypeTenant:
		r.TenantType = in.TenantType
	}
	if in.Type != TypeGlobal {
		r.TenantID = caller.TenantID
		if in.TenantID != "" && s.isTech(caller) {
			r.TenantID = in.TenantID
		}
	}
	if err := r.Validate(); err != nil {
		return Role{}, err
	}
	if _, err := s.store.FindByName(ctx, r.Name, r.TenantID); err == nil {
		return Role{}, problems.New(problems.KindExists, "role with name %q already exists", r.Name)
	} else if !errors.Is(err, problems.ErrRoleNotFound) {
		return Role{}, err
	}
	out, err := s.store.Create(ctx, r)
	if err != nil {
		return Role{}, err
	}
	s.log.Infow("role created", "role_id", out.ID, "name", out.Name, "type", out.Type, "tenant_id", out.TenantID, "by", caller.ID)
	return out, nil
}

// Get loads a role the caller may see.
func (s *Service) Get(ctx context.Context, caller identity.User, id string) (Role, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if err := s.checkTenant(caller, r); err != nil {
		return Role{}, err
	}
	return r, nil
}

// checkTenant refuses non-operators access to another tenant's roles.
func (s *Service) checkTenant(caller identity.User, r Role) error {
	if r.TenantID != "" && r.TenantID != caller.TenantID && !s.isTech(caller) {
		return problems.New(problems.KindInsufficientPermissions, "cannot access roles from other tenants")
	}
	return nil
}

func (s *Service) checkSystem(caller identity.User, r Role) error {
	if r.IsSystemRole && !s.isTech(caller) {
		return problems.New(problems.KindInsufficientPermissions, "only technical administrators can change system roles")
	}
	return nil
}

func (s *Service) Update(ctx context.Context, caller identity.User, id string, p Patch) (Role, error) {
	cur, err := s.Get(ctx, caller, id)
	if err != nil {
		return Role{}, err
	}
	if err := s.checkSystem(caller, cur); err != nil {
		return Role{}, err
	}
	next := cloneRole(cur)
	if p.Name != nil {
		next.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		next.Description = strings.TrimSpace(*p.Description)
	}
	if p.Permissions != nil {
		next.Permissions = append([]Permission{}, (*p.Permissions)...)
	}
	if p.Features != nil {
		next.Features = *p.Features
	}
	if err := next.Validate(); err != nil {
		return Role{}, err
	}
	out, err := s.store.Update(ctx, next)
	if err != nil {
		return Role{}, err
	}
	if err := s.resync(ctx, cur, out); err != nil {
		return Role{}, err
	}
	s.log.Infow("role updated", "role_id", out.ID, "by", caller.ID)
	return out, nil
}

// resync rewrites the role's tuples in every domain where it has been
// materialized. Tuples that did not come from the old permission list are
// left alone.
func (s *Service) resync(ctx context.Context, before, after Role) error {
	subject := after.Subject()
	domains := map[string]struct{}{}
	for _, p := range s.engine.Policies(enforcer.Filter{Subject: subject}) {
		domains[p.Domain] = struct{}{}
	}
	for d := range domains {
		keep := map[enforcer.Policy]struct{}{}
		add := after.Policies(d)
		for _, p := range add {
			keep[p] = struct{}{}
		}
		var stale []enforcer.Policy
		for _, p := range before.Policies(d) {
			if _, ok := keep[p]; !ok {
				stale = append(stale, p)
			}
		}
		if len(stale) > 0 {
			if _, err := s.engine.RemovePolicies(ctx, stale); err != nil {
				return err
			}
		}
		if len(add) > 0 {
			if _, err := s.engine.AddPolicies(ctx, add); err != nil {
				return err
			}
		}
	}
	return nil
}

// Deactivate soft-deletes a role no user references and drops its tuples.
func (s *Service) Deactivate(ctx context.Context, caller identity.User, id string) error {
	r, err := s.Get(ctx, caller, id)
	if err != nil {
		return err
	}
	if err := s.checkSystem(caller, r); err != nil {
		return err
	}
	n, err := s.dir.CountUsersReferencingRole(ctx, r.ID, r.GlobalRole)
	if err != nil {
		return err
	}
	if n > 0 {
		return problems.New(problems.KindRoleInUse, "role is assigned to %d users", n)
	}
	r.State = lifecycle.Deactivated
	if _, err := s.store.Update(ctx, r); err != nil {
		return err
	}
	if _, err := s.engine.RemoveFilteredPolicies(ctx, r.Subject(), ""); err != nil {
		return err
	}
	s.log.Infow("role deactivated", "role_id", r.ID, "by", caller.ID)
	return nil
}

// ListVisible returns the roles the caller may see.
func (s *Service) ListVisible(ctx context.Context, caller identity.User) ([]Role, error) {
	switch {
	case s.isTech(caller):
		return s.store.List(ctx, Filter{})
	case caller.IsAdmin():
		return s.store.List(ctx, Filter{Global: true, TenantID: caller.TenantID})
	case caller.IsCustomerAdmin(), caller.IsVendorAdmin():
		return s.store.List(ctx, Filter{TenantID: caller.TenantID})
	}
	ids := append(append([]string{}, caller.TenantRoles...), caller.InternalRoles...)
	if caller.GlobalRole != identity.GlobalNone {
		if g, err := s.store.FindByGlobalRole(ctx, caller.GlobalRole); err == nil {
			ids = append(ids, g.ID)
		}
	}
	if len(ids) == 0 {
		return []Role{}, nil
	}
	return s.store.List(ctx, Filter{IDs: ids})
}

// domainFor picks where an assignment of r to u lives.
func (s *Service) domainFor(r Role, u identity.User) string {
	if r.Subject() == s.operatorRole {
		return enforcer.GlobalDomain
	}
	return u.TenantID
}

// Assign records r on the user and grants it in the engine.
func (s *Service) Assign(ctx context.Context, caller identity.User, roleID, userID string) (identity.User, error) {
	r, u, err := s.assignable(ctx, caller, roleID, userID)
	if err != nil {
		return identity.User{}, err
	}
	prevKey, prevDomain := s.heldGlobal(u)
	patch, _ := assignPatch(r, u)
	updated, err := s.dir.UpdateUser(ctx, u.ID, patch)
	if err != nil {
		return identity.User{}, err
	}
	if err := s.grant(ctx, r, updated); err != nil {
		if _, uerr := s.dir.UpdateUser(ctx, u.ID, restorePatch(u)); uerr != nil {
			s.log.Errorw("revert user role update failed", "user_id", u.ID, "role_id", r.ID, "err", uerr)
		}
		return identity.User{}, err
	}
	// A user holds one global role: the one it replaces loses its engine
	// assignment too.
	if patch.GlobalRole != nil && prevKey != identity.GlobalNone && prevKey != r.GlobalRole && prevDomain != "" {
		if _, err := s.engine.RemoveRoleAssignment(ctx, u.ID, string(prevKey), prevDomain); err != nil {
			return identity.User{}, err
		}
		s.log.Infow("global role replaced", "user_id", u.ID, "from", prevKey, "to", r.GlobalRole)
	}
	s.log.Infow("role assigned", "role_id", r.ID, "user_id", u.ID, "by", caller.ID)
	return updated, nil
}

// Unassign reverses Assign. The role's tuples stay in the domain since
// other members may hold it.
func (s *Service) Unassign(ctx context.Context, caller identity.User, roleID, userID string) (identity.User, error) {
	r, u, err := s.assignable(ctx, caller, roleID, userID)
	if err != nil {
		return identity.User{}, err
	}
	_, patch := assignPatch(r, u)
	updated, err := s.dir.UpdateUser(ctx, u.ID, patch)
	if err != nil {
		return identity.User{}, err
	}
	if _, err := s.engine.RemoveRoleAssignment(ctx, u.ID, r.Subject(), s.domainFor(r, u)); err != nil {
		return identity.User{}, err
	}
	s.log.Infow("role unassigned", "role_id", r.ID, "user_id", u.ID, "by", caller.ID)
	return updated, nil
}

func (s *Service) assignable(ctx context.Context, caller identity.User, roleID, userID string) (Role, identity.User, error) {
	r, err := s.Get(ctx, caller, roleID)
	if err != nil {
		return Role{}, identity.User{}, err
	}
	if !r.State.IsActive() {
		return Role{}, identity.User{}, problems.New(problems.KindRoleNotFound, "role %s not found", roleID)
	}
	tech := s.isTech(caller)
	if r.Type == TypeGlobal && !tech {
		return Role{}, identity.User{}, problems.New(problems.KindInsufficientPermissions, "only technical administrators can assign global roles")
	}
	if !tech && !caller.AnyAdmin() {
		return Role{}, identity.User{}, problems.New(problems.KindInsufficientPermissions, "only administrators can assign roles")
	}
	u, err := s.dir.FindUserByID(ctx, userID)
	if err != nil {
		return Role{}, identity.User{}, err
	}
	if !tech && u.TenantID != caller.TenantID {
		return Role{}, identity.User{}, problems.New(problems.KindInsufficientPermissions, "cannot assign roles to users of other tenants")
	}
	return r, u, nil
}

// assignPatch returns the user patch that records r and the one that
// removes it.
func assignPatch(r Role, u identity.User) (add, remove identity.UserPatch) {
	switch {
	case r.Type == TypeGlobal && r.GlobalRole != identity.GlobalNone:
		set, cleared := r.GlobalRole, u.GlobalRole
		if cleared == r.GlobalRole {
			cleared = identity.GlobalNone
		}
		add.GlobalRole, remove.GlobalRole = &set, &cleared
	case r.Type == TypeInternal:
		with, without := identity.AddRef(u.InternalRoles, r.ID), identity.DropRef(u.InternalRoles, r.ID)
		add.InternalRoles, remove.InternalRoles = &with, &without
	default:
		with, without := identity.AddRef(u.TenantRoles, r.ID), identity.DropRef(u.TenantRoles, r.ID)
		add.TenantRoles, remove.TenantRoles = &with, &without
	}
	return add, remove
}

// restorePatch puts back the role fields of u as they were.
func restorePatch(u identity.User) identity.UserPatch {
	g := u.GlobalRole
	tr := append([]string{}, u.TenantRoles...)
	ir := append([]string{}, u.InternalRoles...)
	return identity.UserPatch{GlobalRole: &g, TenantRoles: &tr, InternalRoles: &ir}
}

// grant materializes r's permissions in the user's assignment domain and
// adds the assignment. Both steps are idempotent.
func (s *Service) grant(ctx context.Context, r Role, u identity.User) error {
	return s.grantIn(ctx, r, u, s.domainFor(r, u))
}

func (s *Service) grantIn(ctx context.Context, r Role, u identity.User, domain string) error {
	if domain == "" {
		return problems.New(problems.KindTenantContextRequired, "user %s has no tenant", u.ID)
	}
	if ps := r.Policies(domain); len(ps) > 0 {
		if _, err := s.engine.AddPolicies(ctx, ps); err != nil {
			return err
		}
	}
	_, err := s.engine.AddRoleAssignment(ctx, u.ID, r.Subject(), domain)
	return err
}
