package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bosun/internal/identity"
	"bosun/pkg/middleware"
	"bosun/pkg/openapi"
)

// route is one mounted operation. Portal and permission checks wrap the
// handler in that order. named replaces perm with a procurement permission
// name checked against the request method.
type route struct {
	method  string
	path    string
	summary string
	tag     string
	public  bool
	portals []identity.UserType
	perm    *openapi.Permission
	named   string
	h       http.HandlerFunc
}

func perm(resource, action string) *openapi.Permission {
	return &openapi.Permission{Resource: resource, Action: action}
}

func (a *App) mount(r chi.Router, rt route) {
	var h http.Handler = rt.h
	switch {
	case rt.named != "":
		h = middleware.NamedPermission(a.engine, a.log, rt.named)(h)
		rt.perm = perm(middleware.PermissionResource(rt.named), rt.method)
	case rt.perm != nil:
		h = middleware.Permission(a.engine, a.log, rt.perm.Resource, rt.perm.Action)(h)
	}
	if len(rt.portals) > 0 {
		h = middleware.Portal(a.log, rt.portals...)(h)
	}
	r.Method(rt.method, rt.path, h)

	op := openapi.Operation{Method: rt.method, Path: rt.path, Summary: rt.summary, Public: rt.public, Permission: rt.perm}
	if rt.tag != "" {
		op.Tags = []string{rt.tag}
	}
	for _, p := range rt.portals {
		op.Portals = append(op.Portals, string(p))
	}
	a.catalog.Register(op)
}

// Handler builds the HTTP handler with routes and middleware.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(a.log))
	r.Use(middleware.DebugWriteHeader(a.cfg.DebugHeaders, a.log))
	r.Use(middleware.Tracing(a.cfg.ServiceName, a.log))
	r.Use(middleware.Instrument)
	r.Use(cors(a.cfg.CORSOrigins))

	r.Get("/healthz", a.healthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.json", a.catalog.ServeHandler(a.cfg.ServiceName, a.cfg.Version))

	limited := middleware.RateLimit(a.cfg.LoginRPS, a.cfg.LoginBurst, a.log)

	// Public token endpoints.
	r.Group(func(pr chi.Router) {
		a.mount(pr.With(limited), route{method: http.MethodPost, path: "/api/auth/login", summary: "Log in to a portal", tag: "auth", public: true, h: a.login})
		a.mount(pr.With(limited), route{method: http.MethodPost, path: "/api/auth/register", summary: "Register an organisation and its first admin", tag: "auth", public: true, h: a.register})
		a.mount(pr.With(limited), route{method: http.MethodPost, path: "/api/auth/refresh", summary: "Exchange a refresh token for a new pair", tag: "auth", public: true, h: a.refresh})
		a.mount(pr.With(limited), route{method: http.MethodPost, path: "/api/auth/forgot-password", summary: "Issue a password reset token", tag: "auth", public: true, h: a.forgotPassword})
		a.mount(pr.With(limited), route{method: http.MethodPost, path: "/api/auth/reset-password", summary: "Set a new password with a reset token", tag: "auth", public: true, h: a.resetPassword})
		a.mount(pr.With(middleware.OptionalIdentity(a.tokens, a.dir, a.log)), route{method: http.MethodGet, path: "/api/auth/session", summary: "Current session, if any", tag: "auth", public: true, h: a.sessionInfo})
	})

	// Everything else runs the access-control chain.
	r.Group(func(ar chi.Router) {
		ar.Use(middleware.Identity(a.tokens, a.dir, a.log))
		ar.Use(middleware.Gate(a.engine, a.log))
		ar.Use(middleware.AutoAssign(a.roles, a.log))

		a.mount(ar, route{method: http.MethodPost, path: "/api/auth/logout", summary: "Clear session cookies", tag: "auth", h: a.logout})
		a.mount(ar, route{method: http.MethodGet, path: "/api/auth/me", summary: "Current user and tenant", tag: "auth", h: a.me})
		a.mount(ar, route{method: http.MethodPost, path: "/api/authz/check", summary: "Answer an authorization question", tag: "authz", h: a.check})

		ar.Group(func(tr chi.Router) {
			tr.Use(middleware.RequireTenant(a.log))
			a.mount(tr, route{method: http.MethodGet, path: "/api/roles", summary: "List visible roles", tag: "roles", perm: perm("/api/roles", "GET"), h: a.listRoles})
			a.mount(tr, route{method: http.MethodPost, path: "/api/roles", summary: "Create a role", tag: "roles", perm: perm("/api/roles", "POST"), h: a.createRole})
			a.mount(tr, route{method: http.MethodGet, path: "/api/roles/{id}", summary: "Get a role", tag: "roles", perm: perm("/api/roles/*", "GET"), h: a.getRole})
			a.mount(tr, route{method: http.MethodPut, path: "/api/roles/{id}", summary: "Update a role", tag: "roles", perm: perm("/api/roles/*", "PUT"), h: a.updateRole})
			a.mount(tr, route{method: http.MethodDelete, path: "/api/roles/{id}", summary: "Deactivate a role", tag: "roles", perm: perm("/api/roles/*", "DELETE"), h: a.deleteRole})
			a.mount(tr, route{method: http.MethodPost, path: "/api/roles/{id}/assign", summary: "Assign a role to a user", tag: "roles", perm: perm("/api/roles/*", "POST"), h: a.assignRole})
			a.mount(tr, route{method: http.MethodPost, path: "/api/roles/{id}/unassign", summary: "Remove a role from a user", tag: "roles", perm: perm("/api/roles/*", "POST"), h: a.unassignRole})

			a.mount(tr, route{method: http.MethodGet, path: "/api/policies", summary: "List policy and assignment tuples", tag: "policies", perm: perm("/api/policies", "GET"), h: a.listPolicies})
			a.mount(tr, route{method: http.MethodPost, path: "/api/policies", summary: "Add policy tuples", tag: "policies", perm: perm("/api/policies", "POST"), h: a.addPolicies})
			a.mount(tr, route{method: http.MethodDelete, path: "/api/policies", summary: "Remove policy tuples", tag: "policies", perm: perm("/api/policies", "DELETE"), h: a.removePolicies})
			a.mount(tr, route{method: http.MethodGet, path: "/api/policies/users/{id}/roles", summary: "Effective roles of a user", tag: "policies", perm: perm("/api/policies/*", "GET"), h: a.userRoles})
			a.mount(tr, route{method: http.MethodPost, path: "/api/policies/reload", summary: "Reload the policy snapshot", tag: "policies", perm: perm("/api/policies/reload", "POST"), h: a.reload})

			technical := []identity.UserType{identity.UserTechnical, identity.UserAdmin}
			a.mount(tr, route{method: http.MethodGet, path: "/api/technical/system-health", summary: "Dependency and engine health", tag: "technical", portals: technical, perm: perm("/api/technical/system-health", "GET"), h: a.systemHealth})
			a.mount(tr, route{method: http.MethodGet, path: "/api/technical/users", summary: "Users of the caller's tenant", tag: "technical", portals: technical, named: "user.manage", h: a.technicalUsers})
		})
	})

	return r
}
