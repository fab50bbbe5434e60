package httpapi

import (
	"net/http"
	"strings"

	"bosun/pkg/problems"
)

type checkBody struct {
	UserID   string `json:"userId"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
	TenantID string `json:"tenantId"`
}

// check answers whether a user may act on a resource in a tenant. Callers
// may ask about themselves; asking about anyone else takes an operator.
func (a *App) check(w http.ResponseWriter, r *http.Request) {
	u, t := caller(r)
	var b checkBody
	if err := decode(r, &b); err != nil {
		a.fail(w, r, err)
		return
	}
	b.Resource = strings.TrimSpace(b.Resource)
	if b.Resource == "" || strings.TrimSpace(b.Action) == "" {
		a.fail(w, r, problems.New(problems.KindInvalid, "resource and action are required"))
		return
	}
	if b.UserID == "" {
		b.UserID = u.ID
	}
	if b.TenantID == "" {
		b.TenantID = t.ID
	}
	operator := a.engine.IsTopLevelOperator(u.ID) || u.IsTech()
	if (b.UserID != u.ID || b.TenantID != t.ID) && !operator {
		a.fail(w, r, problems.New(problems.KindInsufficientPermissions, "only operators may check other users or tenants"))
		return
	}
	if b.TenantID == "" {
		a.fail(w, r, problems.New(problems.KindTenantContextRequired, "tenantId is required"))
		return
	}
	d := a.engine.Decide(b.UserID, b.Resource, b.Action, b.TenantID)
	writeJSON(w, map[string]any{
		"allowed":  d.Allowed,
		"scope":    d.Scope,
		"policy":   d.Policy,
		"userId":   b.UserID,
		"tenantId": b.TenantID,
	}, http.StatusOK)
}
