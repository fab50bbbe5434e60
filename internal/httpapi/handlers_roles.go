package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"bosun/internal/identity"
	"bosun/internal/roles"
	"bosun/pkg/problems"
)

func (a *App) listRoles(w http.ResponseWriter, r *http.Request) {
	u, _ := caller(r)
	rs, err := a.roles.ListVisible(r.Context(), u)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if rs == nil {
		rs = []roles.Role{}
	}
	writeJSON(w, map[string]any{"success": true, "count": len(rs), "roles": rs}, http.StatusOK)
}

func (a *App) createRole(w http.ResponseWriter, r *http.Request) {
	u, _ := caller(r)
	var in roles.Input
	if err := decode(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	role, err := a.roles.Create(r.Context(), u, in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "message": "Role created successfully", "role": role}, http.StatusCreated)
}

func (a *App) getRole(w http.ResponseWriter, r *http.Request) {
	u, _ := caller(r)
	role, err := a.roles.Get(r.Context(), u, chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "role": role}, http.StatusOK)
}

func (a *App) updateRole(w http.ResponseWriter, r *http.Request) {
	u, _ := caller(r)
	var p roles.Patch
	if err := decode(r, &p); err != nil {
		a.fail(w, r, err)
		return
	}
	role, err := a.roles.Update(r.Context(), u, chi.URLParam(r, "id"), p)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "message": "Role updated successfully", "role": role}, http.StatusOK)
}

func (a *App) deleteRole(w http.ResponseWriter, r *http.Request) {
	u, _ := caller(r)
	if err := a.roles.Deactivate(r.Context(), u, chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "message": "Role deleted successfully"}, http.StatusOK)
}

type assignBody struct {
	UserID string `json:"userId"`
}

func (a *App) assignRole(w http.ResponseWriter, r *http.Request) {
	a.assignment(w, r, a.roles.Assign, "Role assigned successfully")
}

func (a *App) unassignRole(w http.ResponseWriter, r *http.Request) {
	a.assignment(w, r, a.roles.Unassign, "Role unassigned successfully")
}

type assignOp func(ctx context.Context, by identity.User, roleID, userID string) (identity.User, error)

func (a *App) assignment(w http.ResponseWriter, r *http.Request, op assignOp, msg string) {
	u, _ := caller(r)
	var b assignBody
	if err := decode(r, &b); err != nil {
		a.fail(w, r, err)
		return
	}
	if strings.TrimSpace(b.UserID) == "" {
		a.fail(w, r, problems.New(problems.KindInvalid, "userId is required"))
		return
	}
	target, err := op(r.Context(), u, chi.URLParam(r, "id"), b.UserID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{
		"success": true,
		"message": msg,
		"user": map[string]any{
			"id":            target.ID,
			"email":         target.Email,
			"globalRole":    target.GlobalRole,
			"tenantRoles":   target.TenantRoles,
			"internalRoles": target.InternalRoles,
		},
	}, http.StatusOK)
}
