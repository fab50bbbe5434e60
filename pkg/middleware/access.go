package middleware

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"bosun/internal/identity"
	"bosun/pkg/problems"
)

// Enforcer is the slice of the authorization engine the chain consults.
type Enforcer interface {
	Enforce(subject, resource, action, domain string) bool
	IsTopLevelOperator(user string) bool
}

// Gate refuses deactivated users and users of a tenant that is not
// operational. Top-level operators pass the tenant check.
func Gate(engine Enforcer, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := UserFrom(r.Context())
			if !ok {
				fail(w, r, log, problems.New(problems.KindUnauthenticated, "authentication required"))
				return
			}
			if !u.State.IsActive() {
				fail(w, r, log, problems.New(problems.KindUnauthenticated, "account is deactivated"))
				return
			}
			if t, ok := TenantFrom(r.Context()); ok && !t.Operational(time.Now()) && !engine.IsTopLevelOperator(u.ID) {
				fail(w, r, log, problems.New(problems.KindTenantInactive, "tenant %s is not active", t.Slug))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireTenant refuses requests without a bound tenant.
func RequireTenant(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := TenantFrom(r.Context()); !ok {
				fail(w, r, log, problems.New(problems.KindTenantContextRequired, "tenant context required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Portal admits only the listed user types.
func Portal(log *zap.SugaredLogger, allowed ...identity.UserType) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, _ := UserFrom(r.Context())
			for _, a := range allowed {
				if u.UserType == a {
					next.ServeHTTP(w, r)
					return
				}
			}
			fail(w, r, log, problems.New(problems.KindPortalMismatch, "user type %q cannot use this portal", u.UserType))
		})
	}
}

// Permission checks a fixed resource and action.
func Permission(engine Enforcer, log *zap.SugaredLogger, resource, action string) func(http.Handler) http.Handler {
	return check(engine, log, false, func(*http.Request) (string, string) { return resource, action }, denied)
}

// DynamicPermission checks the request path and method.
func DynamicPermission(engine Enforcer, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return check(engine, log, false, func(r *http.Request) (string, string) { return r.URL.Path, r.Method }, denied)
}

// namedResources maps procurement permission names to the resource they
// guard. Unlisted names guard "/<name>".
var namedResources = map[string]string{
	"rfq.create":    "/api/technical/rfq",
	"rfq.read":      "/api/technical/rfq",
	"rfq.update":    "/api/technical/rfq",
	"rfq.delete":    "/api/technical/rfq",
	"quote.create":  "/api/vendors/quotes",
	"quote.read":    "/api/vendors/quotes",
	"quote.update":  "/api/vendors/quotes",
	"quote.delete":  "/api/vendors/quotes",
	"user.manage":   "/api/users",
	"tenant.manage": "/api/tenants",
}

// PermissionResource resolves a permission name to its resource.
func PermissionResource(name string) string {
	if res, ok := namedResources[name]; ok {
		return res
	}
	return "/" + name
}

// NamedPermission checks the resource behind a permission name with the
// request method as action. It needs a bound tenant.
func NamedPermission(engine Enforcer, log *zap.SugaredLogger, name string) func(http.Handler) http.Handler {
	resource := PermissionResource(name)
	return check(engine, log, true, func(r *http.Request) (string, string) { return resource, r.Method },
		func(string, string) error {
			return problems.New(problems.KindInsufficientPermissions, "Access denied: Insufficient permissions for %s", name)
		})
}

func denied(resource, action string) error {
	return problems.New(problems.KindInsufficientPermissions, "%s %s not permitted", action, resource)
}

func check(engine Enforcer, log *zap.SugaredLogger, needTenant bool, target func(*http.Request) (string, string), deny func(resource, action string) error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := UserFrom(r.Context())
			t, bound := TenantFrom(r.Context())
			if !ok || (needTenant && !bound) {
				fail(w, r, log, problems.New(problems.KindUnauthenticated, "authentication required"))
				return
			}
			resource, action := target(r)
			if !engine.Enforce(u.ID, resource, action, t.ID) {
				log.Debugw("permission denied", "user_id", u.ID, "tenant_id", t.ID, "resource", resource, "action", action)
				fail(w, r, log, deny(resource, action))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Assigner brings a user's engine assignments in line with its record.
type Assigner interface {
	EnsureAssigned(ctx context.Context, u identity.User) (int, error)
}

// AutoAssign grants the roles a user's record implies before permission
// checks run. Failures are logged and never block the request.
func AutoAssign(a Assigner, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if u, ok := UserFrom(r.Context()); ok {
				if n, err := a.EnsureAssigned(r.Context(), u); err != nil {
					log.Warnw("auto-assign failed", "user_id", u.ID, "err", err)
				} else if n > 0 {
					log.Infow("auto-assigned roles", "user_id", u.ID, "count", n)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
