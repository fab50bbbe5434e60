package tenants

import (
	"context"
)

// Provider is the tenant half of the identity store.
type Provider interface {
	// Resolve tenant by primary key.
	ResolveTenantByID(ctx context.Context, id string) (Tenant, error)
	// Resolve an active tenant by slug.
	ResolveTenantBySlug(ctx context.Context, slug string) (Tenant, error)
	CreateTenant(ctx context.Context, t Tenant) (Tenant, error)
	UpdateTenant(ctx context.Context, id string, p Patch) (Tenant, error)
	// List active tenants, newest first.
	ListTenants(ctx context.Context) ([]Tenant, error)
}
