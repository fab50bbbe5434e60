package middleware

import (
	"context"

	"bosun/internal/identity"
	"bosun/pkg/tenants"
)

type ctxKey string

const (
	CtxKeyRequestID ctxKey = "reqid"
	ctxKeyUser      ctxKey = "user"
	ctxKeyTenant    ctxKey = "tenant"
)

// WithIdentity stores the authenticated user and its tenant.
func WithIdentity(ctx context.Context, u identity.User, t tenants.Tenant) context.Context {
	ctx = context.WithValue(ctx, ctxKeyUser, u)
	return context.WithValue(ctx, ctxKeyTenant, t)
}

// UserFrom returns the authenticated user, if any.
func UserFrom(ctx context.Context) (identity.User, bool) {
	u, ok := ctx.Value(ctxKeyUser).(identity.User)
	return u, ok
}

func TenantFrom(ctx context.Context) (tenants.Tenant, bool) {
	t, ok := ctx.Value(ctxKeyTenant).(tenants.Tenant)
	return t, ok && t.ID != ""
}

func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(CtxKeyRequestID).(string)
	return id
}
