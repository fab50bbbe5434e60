package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bosun/pkg/problems"
	"bosun/pkg/tenants"
)

// Directory joins users with their tenant. It is the identity store the
// middleware and session manager consume.
type Directory struct {
	UserStore
	tenants tenants.Provider
}

func NewDirectory(users UserStore, tp tenants.Provider) *Directory {
	return &Directory{UserStore: users, tenants: tp}
}

func (d *Directory) FindTenantByID(ctx context.Context, id string) (tenants.Tenant, error) {
	return d.tenants.ResolveTenantByID(ctx, id)
}

func (d *Directory) FindTenantBySlug(ctx context.Context, slug string) (tenants.Tenant, error) {
	return d.tenants.ResolveTenantBySlug(ctx, slug)
}

func (d *Directory) CreateTenant(ctx context.Context, t tenants.Tenant) (tenants.Tenant, error) {
	return d.tenants.CreateTenant(ctx, t)
}

func (d *Directory) UpdateTenant(ctx context.Context, id string, p tenants.Patch) (tenants.Tenant, error) {
	return d.tenants.UpdateTenant(ctx, id, p)
}

func (d *Directory) ListTenants(ctx context.Context) ([]tenants.Tenant, error) {
	return d.tenants.ListTenants(ctx)
}

// Resolve loads a user and its home tenant. When only the tenant is
// missing the user is still returned alongside the error.
func (d *Directory) Resolve(ctx context.Context, userID string) (User, tenants.Tenant, error) {
	u, err := d.FindUserByID(ctx, userID)
	if err != nil {
		return User{}, tenants.Tenant{}, err
	}
	t, err := d.tenants.ResolveTenantByID(ctx, u.TenantID)
	if err != nil {
		return u, tenants.Tenant{}, fmt.Errorf("tenant of user %s: %w", userID, err)
	}
	return u, t, nil
}

// DomainOperational reports whether grants scoped to domain may be used.
// Domains that name no tenant are always operational.
func (d *Directory) DomainOperational(domain string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	t, err := d.tenants.ResolveTenantByID(ctx, domain)
	if errors.Is(err, problems.ErrTenantNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return t.Operational(time.Now()), nil
}
