package tenants

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"bosun/pkg/lifecycle"
	"bosun/pkg/problems"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Acme Shipping Ltd.":   "acme-shipping-ltd",
		"  Blue--Water  ":      "blue-water",
		"Nordic & Baltic 2024": "nordic-baltic-2024",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOperational(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	base := Tenant{State: lifecycle.Active, Subscription: Subscription{Status: StatusActive}}
	if !base.Operational(now) {
		t.Fatalf("active tenant must be operational")
	}
	for _, s := range []Status{StatusSuspended, StatusInactive, StatusCancelled} {
		tt := base
		tt.Subscription.Status = s
		if tt.Operational(now) {
			t.Errorf("status %s must not be operational", s)
		}
	}
	off := base
	off.State = lifecycle.Deactivated
	if off.Operational(now) {
		t.Fatalf("deactivated tenant must not be operational")
	}
	trial := base
	trial.Subscription = Subscription{Status: StatusTrial, TrialEndDate: now.Add(-time.Hour)}
	if !trial.Operational(now) || trial.SubscriptionActive(now) {
		t.Fatalf("expired trial stays operational but reports inactive subscription")
	}
}

func TestIsAdmin(t *testing.T) {
	tn := Tenant{OwnerID: "u1", AdminIDs: []string{"u2"}}
	if !tn.IsAdmin("u1") || !tn.IsAdmin("u2") || tn.IsAdmin("u3") || tn.IsAdmin("") {
		t.Fatalf("IsAdmin mismatch")
	}
}

func TestMemoryProviderLifecycle(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider(zap.NewNop().Sugar())

	created, err := p.CreateTenant(ctx, Tenant{Name: "Acme Shipping", Type: TypeCustomer})
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	if created.Slug != "acme-shipping" || created.Subscription.Status != StatusTrial || created.Subscription.TrialEndDate.IsZero() {
		t.Fatalf("defaults not applied: %+v", created)
	}
	if _, err := p.CreateTenant(ctx, Tenant{Name: "Acme  Shipping", Type: TypeCustomer}); !errors.Is(err, problems.ErrExists) {
		t.Fatalf("duplicate slug err = %v", err)
	}
	owner := "u-owner"
	updated, err := p.UpdateTenant(ctx, created.ID, Patch{OwnerID: &owner})
	if err != nil || !updated.IsAdmin("u-owner") {
		t.Fatalf("UpdateTenant = %+v, %v", updated, err)
	}
	if _, err := p.ResolveTenantBySlug(ctx, "acme-shipping"); err != nil {
		t.Fatalf("ResolveTenantBySlug: %v", err)
	}
	if _, err := p.ResolveTenantByID(ctx, "missing"); !errors.Is(err, problems.ErrTenantNotFound) {
		t.Fatalf("missing tenant err = %v", err)
	}
}

func TestCacheServesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryProvider(zap.NewNop().Sugar())
	tn, _ := inner.CreateTenant(ctx, Tenant{Name: "Vendor Co", Type: TypeVendor})
	c := NewCache(inner, time.Minute)

	if _, err := c.ResolveTenantByID(ctx, tn.ID); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	suspended := StatusSuspended
	if _, err := inner.UpdateTenant(ctx, tn.ID, Patch{Status: &suspended}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := c.ResolveTenantByID(ctx, tn.ID)
	if got.Subscription.Status != StatusTrial {
		t.Fatalf("cache should still hold the old value, got %s", got.Subscription.Status)
	}
	if _, err := c.UpdateTenant(ctx, tn.ID, Patch{Status: &suspended}); err != nil {
		t.Fatalf("update through cache: %v", err)
	}
	got, _ = c.ResolveTenantByID(ctx, tn.ID)
	if got.Subscription.Status != StatusSuspended {
		t.Fatalf("write through cache must invalidate, got %s", got.Subscription.Status)
	}
}
