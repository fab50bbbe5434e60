package roles

import (
	"context"
	"errors"

	"bosun/internal/enforcer"
	"bosun/internal/identity"
	"bosun/pkg/problems"
)

// RoleClaim is what a user record entitles its holder to. It is either an
// ExplicitRoleRef or a DerivedLegacyRole.
type RoleClaim interface {
	globalKey() identity.GlobalRole
	roleIDs() []string
}

// ExplicitRoleRef is a claim read straight from the user's role fields.
type ExplicitRoleRef struct {
	GlobalRole identity.GlobalRole
	RoleIDs    []string
}

// DerivedLegacyRole is a claim inferred from the user type of an account
// that carries no global role.
type DerivedLegacyRole struct {
	From       identity.UserType
	GlobalRole identity.GlobalRole
	RoleIDs    []string
}

func (c ExplicitRoleRef) globalKey() identity.GlobalRole   { return c.GlobalRole }
func (c ExplicitRoleRef) roleIDs() []string                { return c.RoleIDs }
func (c DerivedLegacyRole) globalKey() identity.GlobalRole { return c.GlobalRole }
func (c DerivedLegacyRole) roleIDs() []string              { return c.RoleIDs }

var legacyRoles = map[identity.UserType]identity.GlobalRole{
	identity.UserAdmin:     identity.GlobalAdmin,
	identity.UserTechnical: identity.GlobalTech,
	identity.UserCustomer:  identity.GlobalCustomerAdmin,
	identity.UserVendor:    identity.GlobalVendorAdmin,
}

// ClaimFor resolves the claim of u.
func ClaimFor(u identity.User) RoleClaim {
	ids := append(append([]string{}, u.TenantRoles...), u.InternalRoles...)
	if u.GlobalRole != identity.GlobalNone {
		return ExplicitRoleRef{GlobalRole: u.GlobalRole, RoleIDs: ids}
	}
	return DerivedLegacyRole{From: u.UserType, GlobalRole: legacyRoles[u.UserType], RoleIDs: ids}
}

// EnsureAssigned grants the engine assignments u's claim implies and
// reports how many were added. Roles already held cost no store access.
func (s *Service) EnsureAssigned(ctx context.Context, u identity.User) (int, error) {
	claim := ClaimFor(u)
	if d, ok := claim.(DerivedLegacyRole); ok && d.GlobalRole != identity.GlobalNone {
		s.log.Debugw("deriving legacy role from user type", "user_id", u.ID, "user_type", d.From, "role", d.GlobalRole)
	}

	added := 0
	if key, domain := s.heldGlobal(u); key != identity.GlobalNone {
		ok, err := s.ensureGlobal(ctx, u, key, domain)
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	for _, id := range claim.roleIDs() {
		if u.TenantID != "" && s.engine.HasRole(u.ID, SubjectFor(id), u.TenantID) {
			continue
		}
		r, err := s.store.Get(ctx, id)
		if errors.Is(err, problems.ErrRoleNotFound) {
			s.log.Warnw("user references unknown role", "user_id", u.ID, "role_id", id)
			continue
		}
		if err != nil {
			return added, err
		}
		if !r.State.IsActive() {
			continue
		}
		if err := s.grant(ctx, r, u); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// heldGlobal returns the global role u's claim implies and the domain its
// assignment lives in. Only an explicit operator role is assigned in the
// global domain; a role derived from the user type stays in the tenant.
func (s *Service) heldGlobal(u identity.User) (identity.GlobalRole, string) {
	claim := ClaimFor(u)
	key := claim.globalKey()
	if _, explicit := claim.(ExplicitRoleRef); explicit && string(key) == s.operatorRole {
		return key, enforcer.GlobalDomain
	}
	return key, u.TenantID
}

func (s *Service) ensureGlobal(ctx context.Context, u identity.User, key identity.GlobalRole, domain string) (bool, error) {
	if domain == "" {
		return false, problems.New(problems.KindTenantContextRequired, "user %s has no tenant", u.ID)
	}
	if s.engine.HasRole(u.ID, string(key), domain) {
		return false, nil
	}
	r, err := s.store.FindByGlobalRole(ctx, key)
	switch {
	case err == nil:
		return true, s.grantIn(ctx, r, u, domain)
	case errors.Is(err, problems.ErrRoleNotFound):
		// Unseeded catalog: the assignment alone still links the user to
		// any tuples granted to the key directly.
		_, err := s.engine.AddRoleAssignment(ctx, u.ID, string(key), domain)
		return err == nil, err
	}
	return false, err
}
