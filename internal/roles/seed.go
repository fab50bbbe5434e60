package roles

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"bosun/internal/enforcer"
	"bosun/internal/identity"
	"bosun/internal/session"
	"bosun/pkg/lifecycle"
	"bosun/pkg/problems"
	"bosun/pkg/tenants"
)

//go:embed defaults.yaml
var defaultSeed []byte

// SystemTenantName is the display name of the operator tenant.
const SystemTenantName = "Maritime Procurement System"

type seedRole struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	GlobalRole  identity.GlobalRole `yaml:"globalRole"`
	TenantType  tenants.Type        `yaml:"tenantType"`
	Permissions []Permission        `yaml:"permissions"`
	Features    Features            `yaml:"features"`
}

type seedPolicy struct {
	Subject  string `yaml:"subject"`
	Resource string `yaml:"resource"`
	Action   string `yaml:"action"`
}

// Seed is the parsed default catalog.
type Seed struct {
	GlobalRoles       []seedRole `yaml:"globalRoles"`
	InternalTemplates []seedRole `yaml:"internalTemplates"`
	Policies          struct {
		Global  []seedPolicy `yaml:"global"`
		Default []seedPolicy `yaml:"default"`
	} `yaml:"policies"`
}

// LoadSeed parses path, or the embedded defaults when path is empty.
func LoadSeed(path string) (Seed, error) {
	raw := defaultSeed
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Seed{}, fmt.Errorf("read role seed %s: %w", path, err)
		}
		raw = b
	}
	var s Seed
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Seed{}, fmt.Errorf("parse role seed: %w", err)
	}
	return s, nil
}

// SeedDefaultRoles creates the system roles and internal templates when
// the catalog has never held a role. It returns the number created.
func (s *Service) SeedDefaultRoles(ctx context.Context) (int, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Debugw("role catalog already populated, skipping seed", "roles", n)
		return 0, nil
	}
	seed, err := LoadSeed(s.seedFile)
	if err != nil {
		return 0, err
	}
	sys, err := s.SystemTenant(ctx)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, sr := range seed.GlobalRoles {
		r := Role{
			Name:         sr.Name,
			Description:  sr.Description,
			Type:         TypeGlobal,
			GlobalRole:   sr.GlobalRole,
			Permissions:  sr.Permissions,
			Features:     sr.Features,
			IsSystemRole: true,
			State:        lifecycle.Active,
			CreatedBy:    "system",
		}
		if err := s.createSeeded(ctx, r); err != nil {
			return created, err
		}
		created++
	}
	for _, sr := range seed.InternalTemplates {
		r := Role{
			Name:        sr.Name,
			Description: sr.Description,
			Type:        TypeInternal,
			TenantID:    sys.ID,
			TenantType:  sr.TenantType,
			Permissions: sr.Permissions,
			Features:    sr.Features,
			State:       lifecycle.Active,
			CreatedBy:   "system",
		}
		if err := s.createSeeded(ctx, r); err != nil {
			return created, err
		}
		created++
	}
	s.log.Infow("default roles seeded", "roles", created, "template_tenant", sys.ID)
	return created, nil
}

func (s *Service) createSeeded(ctx context.Context, r Role) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("seed role %q: %w", r.Name, err)
	}
	if _, err := s.store.Create(ctx, r); err != nil {
		return fmt.Errorf("seed role %q: %w", r.Name, err)
	}
	return nil
}

// SeedDefaultPolicies writes the default tuples when the engine holds no
// policy at all. It returns the number added.
func (s *Service) SeedDefaultPolicies(ctx context.Context) (int, error) {
	if st := s.engine.Stats(); st.Policies > 0 {
		return 0, nil
	}
	seed, err := LoadSeed(s.seedFile)
	if err != nil {
		return 0, err
	}
	var ps []enforcer.Policy
	for _, p := range seed.Policies.Global {
		ps = append(ps, enforcer.Policy{Subject: p.Subject, Resource: p.Resource, Action: p.Action, Domain: enforcer.GlobalDomain})
	}
	for _, p := range seed.Policies.Default {
		ps = append(ps, enforcer.Policy{Subject: p.Subject, Resource: p.Resource, Action: p.Action, Domain: s.defaultDomain})
	}
	n, err := s.engine.AddPolicies(ctx, ps)
	if err != nil {
		return 0, err
	}
	s.log.Infow("default policies seeded", "policies", n, "default_domain", s.defaultDomain)
	return n, nil
}

// SystemTenant returns the operator tenant, creating it on first use.
func (s *Service) SystemTenant(ctx context.Context) (tenants.Tenant, error) {
	t, err := s.dir.FindTenantBySlug(ctx, tenants.SystemSlug)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, problems.ErrTenantNotFound) {
		return tenants.Tenant{}, err
	}
	t, err = s.dir.CreateTenant(ctx, tenants.Tenant{
		Name: SystemTenantName,
		Slug: tenants.SystemSlug,
		Type: tenants.TypeAdmin,
		Subscription: tenants.Subscription{
			Plan:   tenants.PlanEnterprise,
			Status: tenants.StatusActive,
		},
		State: lifecycle.Active,
	})
	if err != nil {
		return tenants.Tenant{}, fmt.Errorf("create system tenant: %w", err)
	}
	s.log.Infow("system tenant created", "tenant_id", t.ID, "slug", t.Slug)
	return t, nil
}

// EnsureTechUser bootstraps the first operator account and makes sure every
// operator holds the operator role in the global domain.
func (s *Service) EnsureTechUser(ctx context.Context) (identity.User, error) {
	existing, err := s.dir.FindUsersByGlobalRole(ctx, identity.GlobalTech)
	if err != nil {
		return identity.User{}, err
	}
	if len(existing) > 0 {
		for _, u := range existing {
			if _, err := s.EnsureAssigned(ctx, u); err != nil {
				return identity.User{}, err
			}
		}
		return existing[0], nil
	}

	sys, err := s.SystemTenant(ctx)
	if err != nil {
		return identity.User{}, err
	}
	password, generated := s.techPassword, false
	if password == "" {
		if password, err = session.RandomPassword(18); err != nil {
			return identity.User{}, err
		}
		generated = true
	}
	hash, err := session.HashPassword(password, s.bcryptCost)
	if err != nil {
		return identity.User{}, err
	}
	u, err := s.dir.CreateUser(ctx, identity.User{
		Email:           identity.NormalizeEmail(s.techEmail),
		PasswordHash:    hash,
		FirstName:       "Tech",
		LastName:        "Admin",
		TenantID:        sys.ID,
		GlobalRole:      identity.GlobalTech,
		UserType:        identity.UserTechnical,
		State:           lifecycle.Active,
		IsVerified:      true,
		IsEmailVerified: true,
	})
	if err != nil {
		return identity.User{}, fmt.Errorf("create tech user: %w", err)
	}
	owner := u.ID
	if _, err := s.dir.UpdateTenant(ctx, sys.ID, tenants.Patch{OwnerID: &owner}); err != nil {
		return identity.User{}, fmt.Errorf("set system tenant owner: %w", err)
	}
	if _, err := s.EnsureAssigned(ctx, u); err != nil {
		return identity.User{}, err
	}
	if generated {
		// The secret goes to the console once and never into the log stream.
		fmt.Fprintf(s.bootstrapOut, "bootstrap operator %s password: %s\n", u.Email, password)
		s.log.Warnw("bootstrap tech user created with generated password, change it after first login", "email", u.Email)
	} else {
		s.log.Infow("bootstrap tech user created", "email", u.Email)
	}
	return u, nil
}
