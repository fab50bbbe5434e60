package httpapi

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"bosun/internal/identity"
	"bosun/pkg/config"
	"bosun/pkg/tenants"
)

type depStatus struct {
	Status  string `json:"status"`
	Latency string `json:"responseTime,omitempty"`
	Error   string `json:"error,omitempty"`
}

// pingAll pings every registered dependency with a shared deadline.
func (a *App) pingAll(ctx context.Context) (map[string]depStatus, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	out := make(map[string]depStatus, len(a.health))
	healthy := true
	for name, p := range a.health {
		start := time.Now()
		if err := p.Ping(ctx); err != nil {
			out[name] = depStatus{Status: "down", Error: err.Error()}
			healthy = false
			continue
		}
		out[name] = depStatus{Status: "up", Latency: time.Since(start).Round(time.Microsecond).String()}
	}
	return out, healthy
}

func (a *App) healthz(w http.ResponseWriter, r *http.Request) {
	services, healthy := a.pingAll(r.Context())
	status := http.StatusOK
	if !healthy || (!a.engine.Loaded() && a.engine.FailMode() == config.FailClosed) {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, map[string]any{"ok": status == http.StatusOK, "services": services}, status)
}

func (a *App) systemHealth(w http.ResponseWriter, r *http.Request) {
	services, healthy := a.pingAll(r.Context())
	status := "healthy"
	if !healthy {
		status = "degraded"
	}
	names := make([]string, 0, len(services))
	for n := range services {
		names = append(names, n)
	}
	sort.Strings(names)
	writeJSON(w, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(a.started).Round(time.Second).String(),
		"services":  services,
		"checked":   names,
		"engine":    a.engine.Stats(),
	}, http.StatusOK)
}

// technicalUsers lists the caller's tenant. Operators may pick another
// tenant with ?tenantId= or pass ?tenantId=* for every tenant.
func (a *App) technicalUsers(w http.ResponseWriter, r *http.Request) {
	u, t := caller(r)
	f := identity.Filter{TenantID: t.ID, UserType: identity.UserType(strings.TrimSpace(r.URL.Query().Get("userType")))}
	if want := strings.TrimSpace(r.URL.Query().Get("tenantId")); want != "" && (u.IsTech() || a.engine.IsTopLevelOperator(u.ID)) {
		f.TenantID = want
		if want == "*" {
			f.TenantID = ""
		}
	}
	users, err := a.dir.ListUsers(r.Context(), f)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]userView, 0, len(users))
	for _, usr := range users {
		out = append(out, profile(usr, tenants.Tenant{}))
	}
	writeJSON(w, map[string]any{"message": "Users retrieved successfully", "users": out, "total": len(out)}, http.StatusOK)
}
