package httpapi

import (
	"net/http"
	"strings"
	"time"

	"bosun/internal/identity"
	"bosun/internal/session"
	"bosun/pkg/middleware"
	"bosun/pkg/problems"
	"bosun/pkg/tenants"
)

type tenantView struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Slug         string               `json:"slug"`
	Type         tenants.Type         `json:"tenantType"`
	Subscription tenants.Subscription `json:"subscription"`
}

type userView struct {
	ID          string              `json:"id"`
	Email       string              `json:"email"`
	FirstName   string              `json:"firstName"`
	LastName    string              `json:"lastName"`
	FullName    string              `json:"fullName"`
	UserType    identity.UserType   `json:"userType"`
	GlobalRole  identity.GlobalRole `json:"globalRole,omitempty"`
	CompanyName string              `json:"companyName,omitempty"`
	IsVerified  bool                `json:"isVerified"`
	LastLogin   *time.Time          `json:"lastLogin,omitempty"`
	Tenant      *tenantView         `json:"tenant,omitempty"`
}

func profile(u identity.User, t tenants.Tenant) userView {
	v := userView{
		ID:          u.ID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		FullName:    u.FullName(),
		UserType:    u.UserType,
		GlobalRole:  u.GlobalRole,
		CompanyName: u.CompanyName,
		IsVerified:  u.IsVerified,
	}
	if !u.LastLogin.IsZero() {
		ll := u.LastLogin
		v.LastLogin = &ll
	}
	if t.ID != "" {
		v.Tenant = &tenantView{ID: t.ID, Name: t.Name, Slug: t.Slug, Type: t.Type, Subscription: t.Subscription}
	}
	return v
}

type loginBody struct {
	Email    string            `json:"email"`
	Password string            `json:"password"`
	UserType identity.UserType `json:"userType"`
}

func (a *App) login(w http.ResponseWriter, r *http.Request) {
	var b loginBody
	if err := decode(r, &b); err != nil {
		a.fail(w, r, err)
		return
	}
	switch {
	case strings.TrimSpace(b.Email) == "" || b.Password == "":
		a.fail(w, r, problems.New(problems.KindInvalid, "email and password are required"))
		return
	case !b.UserType.Valid():
		a.fail(w, r, problems.New(problems.KindInvalid, "userType must be admin, technical, customer or vendor"))
		return
	}
	res, err := a.auth.Login(r.Context(), b.Email, b.Password, b.UserType)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ensureRoles(r, res.User)
	a.tokens.SetCookies(w, res.Tokens)
	writeJSON(w, map[string]any{
		"message":      "Login successful",
		"token":        res.Tokens.AccessToken,
		"refreshToken": res.Tokens.RefreshToken,
		"expiresIn":    res.Tokens.ExpiresIn,
		"user":         profile(res.User, res.Tenant),
	}, http.StatusOK)
}

func (a *App) register(w http.ResponseWriter, r *http.Request) {
	var b session.Registration
	if err := decode(r, &b); err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.auth.Register(r.Context(), b)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ensureRoles(r, res.User)
	a.tokens.SetCookies(w, res.Tokens)
	writeJSON(w, map[string]any{
		"message":      "Registration successful",
		"token":        res.Tokens.AccessToken,
		"refreshToken": res.Tokens.RefreshToken,
		"expiresIn":    res.Tokens.ExpiresIn,
		"user":         profile(res.User, res.Tenant),
	}, http.StatusCreated)
}

// ensureRoles brings the new session's engine assignments up to date. It
// never fails the request.
func (a *App) ensureRoles(r *http.Request, u identity.User) {
	if n, err := a.roles.EnsureAssigned(r.Context(), u); err != nil {
		a.log.Warnw("role auto-assignment failed", "user_id", u.ID, "err", err)
	} else if n > 0 {
		a.log.Infow("roles auto-assigned", "user_id", u.ID, "count", n)
	}
}

func (a *App) refresh(w http.ResponseWriter, r *http.Request) {
	raw := session.RefreshTokenFrom(r)
	if raw == "" {
		var b struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decode(r, &b); err != nil {
			a.fail(w, r, err)
			return
		}
		raw = b.RefreshToken
	}
	if raw == "" {
		a.fail(w, r, problems.New(problems.KindUnauthenticated, "refresh token required"))
		return
	}
	pair, err := a.auth.Refresh(r.Context(), raw)
	if err != nil {
		a.tokens.ClearCookies(w)
		a.fail(w, r, err)
		return
	}
	a.tokens.SetCookies(w, pair)
	writeJSON(w, map[string]any{
		"message":      "Token refreshed",
		"token":        pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"expiresIn":    pair.ExpiresIn,
	}, http.StatusOK)
}

func (a *App) logout(w http.ResponseWriter, r *http.Request) {
	u, _ := caller(r)
	a.tokens.ClearCookies(w)
	a.log.Infow("logged out", "user_id", u.ID)
	writeJSON(w, map[string]any{"message": "Logged out successfully"}, http.StatusOK)
}

func (a *App) me(w http.ResponseWriter, r *http.Request) {
	u, t := caller(r)
	roles := a.engine.RolesForUser(u.ID, t.ID)
	if roles == nil {
		roles = []string{}
	}
	writeJSON(w, map[string]any{
		"user":       profile(u, t),
		"roles":      roles,
		"isOperator": a.engine.IsTopLevelOperator(u.ID),
	}, http.StatusOK)
}

// forgotPassword answers the same way whether or not the account exists.
// The token is only echoed back when the service is configured to, since
// delivery belongs to the mail pipeline.
func (a *App) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var b struct {
		Email string `json:"email"`
	}
	if err := decode(r, &b); err != nil {
		a.fail(w, r, err)
		return
	}
	if !strings.Contains(b.Email, "@") {
		a.fail(w, r, problems.New(problems.KindInvalid, "a valid email is required"))
		return
	}
	tok, err := a.auth.ForgotPassword(r.Context(), b.Email)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := map[string]any{"message": "If the account exists, a password reset has been issued"}
	if a.cfg.ExposeResetToken && tok != "" {
		out["resetToken"] = tok
	}
	writeJSON(w, out, http.StatusOK)
}

func (a *App) resetPassword(w http.ResponseWriter, r *http.Request) {
	var b struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := decode(r, &b); err != nil {
		a.fail(w, r, err)
		return
	}
	if strings.TrimSpace(b.Token) == "" || b.Password == "" {
		a.fail(w, r, problems.New(problems.KindInvalid, "token and password are required"))
		return
	}
	if err := a.auth.ResetPassword(r.Context(), b.Token, b.Password); err != nil {
		a.fail(w, r, err)
		return
	}
	a.tokens.ClearCookies(w)
	writeJSON(w, map[string]any{"message": "Password has been reset"}, http.StatusOK)
}

// sessionInfo reports who the request belongs to without requiring a
// session.
func (a *App) sessionInfo(w http.ResponseWriter, r *http.Request) {
	u, ok := middleware.UserFrom(r.Context())
	if !ok {
		writeJSON(w, map[string]any{"authenticated": false}, http.StatusOK)
		return
	}
	t, _ := middleware.TenantFrom(r.Context())
	writeJSON(w, map[string]any{
		"authenticated": true,
		"user":          profile(u, t),
	}, http.StatusOK)
}
