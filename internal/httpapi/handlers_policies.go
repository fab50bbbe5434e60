package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"bosun/internal/enforcer"
	"bosun/pkg/problems"
)

func (a *App) listPolicies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := enforcer.Filter{Subject: strings.TrimSpace(q.Get("subject")), Domain: strings.TrimSpace(q.Get("domain"))}
	ps := a.engine.Policies(f)
	if ps == nil {
		ps = []enforcer.Policy{}
	}
	as := a.engine.Assignments(enforcer.Filter{Domain: f.Domain})
	if as == nil {
		as = []enforcer.Assignment{}
	}
	writeJSON(w, map[string]any{
		"policies":    ps,
		"assignments": as,
		"stats":       a.engine.Stats(),
	}, http.StatusOK)
}

type policiesBody struct {
	Policies []enforcer.Policy `json:"policies"`
}

func (a *App) policyBody(r *http.Request) ([]enforcer.Policy, error) {
	var b policiesBody
	if err := decode(r, &b); err != nil {
		return nil, err
	}
	if len(b.Policies) == 0 {
		return nil, problems.New(problems.KindInvalid, "policies must not be empty")
	}
	return b.Policies, nil
}

func (a *App) addPolicies(w http.ResponseWriter, r *http.Request) {
	ps, err := a.policyBody(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	n, err := a.engine.AddPolicies(r.Context(), ps)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	u, _ := caller(r)
	a.log.Infow("policies added", "by", u.ID, "requested", len(ps), "added", n)
	writeJSON(w, map[string]any{"added": n}, http.StatusOK)
}

func (a *App) removePolicies(w http.ResponseWriter, r *http.Request) {
	ps, err := a.policyBody(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	n, err := a.engine.RemovePolicies(r.Context(), ps)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	u, _ := caller(r)
	a.log.Infow("policies removed", "by", u.ID, "requested", len(ps), "removed", n)
	writeJSON(w, map[string]any{"removed": n}, http.StatusOK)
}

// userRoles reports effective roles in ?domain=, defaulting to the user's
// home tenant.
func (a *App) userRoles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	target, err := a.dir.FindUserByID(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	domain := strings.TrimSpace(r.URL.Query().Get("domain"))
	if domain == "" {
		domain = target.TenantID
	}
	roles := a.engine.RolesForUser(target.ID, domain)
	if roles == nil {
		roles = []string{}
	}
	as := a.engine.Assignments(enforcer.Filter{Subject: target.ID})
	if as == nil {
		as = []enforcer.Assignment{}
	}
	writeJSON(w, map[string]any{
		"userId":      target.ID,
		"domain":      domain,
		"roles":       roles,
		"assignments": as,
		"isOperator":  a.engine.IsTopLevelOperator(target.ID),
	}, http.StatusOK)
}

func (a *App) reload(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Load(r.Context()); err != nil {
		a.fail(w, r, err)
		return
	}
	if a.notify != nil {
		a.notify.Notify(r.Context())
	}
	u, _ := caller(r)
	a.log.Infow("policy snapshot reloaded on request", "by", u.ID)
	writeJSON(w, map[string]any{"reloaded": true, "stats": a.engine.Stats()}, http.StatusOK)
}
