// Package identity owns user records and joins them with their tenant.
package identity

import (
	"strings"
	"time"

	"bosun/pkg/lifecycle"
)

// UserType selects the portal a user signs in to.
type UserType string

const (
	UserAdmin     UserType = "admin"
	UserTechnical UserType = "technical"
	UserCustomer  UserType = "customer"
	UserVendor    UserType = "vendor"
)

func (t UserType) Valid() bool {
	switch t {
	case UserAdmin, UserTechnical, UserCustomer, UserVendor:
		return true
	}
	return false
}

// GlobalRole is the platform-wide role a user may hold besides tenant roles.
type GlobalRole string

const (
	GlobalNone          GlobalRole = ""
	GlobalTech          GlobalRole = "tech"
	GlobalAdmin         GlobalRole = "admin"
	GlobalCustomerAdmin GlobalRole = "customer_admin"
	GlobalVendorAdmin   GlobalRole = "vendor_admin"
)

func (g GlobalRole) Valid() bool {
	switch g {
	case GlobalTech, GlobalAdmin, GlobalCustomerAdmin, GlobalVendorAdmin:
		return true
	}
	return false
}

// Lockout policy for failed password checks.
const (
	MaxLoginAttempts = 5
	LockDuration     = 2 * time.Hour
)

type User struct {
	ID              string          `json:"id"`
	Email           string          `json:"email"`
	PasswordHash    string          `json:"-"`
	FirstName       string          `json:"firstName"`
	LastName        string          `json:"lastName"`
	CompanyName     string          `json:"companyName,omitempty"`
	TenantID        string          `json:"tenantId"`
	GlobalRole      GlobalRole      `json:"globalRole,omitempty"`
	TenantRoles     []string        `json:"tenantRoles"`
	InternalRoles   []string        `json:"internalRoles"`
	UserType        UserType        `json:"userType"`
	State           lifecycle.State `json:"state"`
	LoginAttempts   int             `json:"-"`
	LockUntil       time.Time       `json:"-"`
	IsVerified      bool            `json:"isVerified"`
	IsEmailVerified bool            `json:"isEmailVerified"`
	LastLogin       time.Time       `json:"lastLogin,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (u User) FullName() string { return strings.TrimSpace(u.FirstName + " " + u.LastName) }

func (u User) IsLocked(now time.Time) bool { return !u.LockUntil.IsZero() && u.LockUntil.After(now) }

// Role predicates read the stored global role only. The user type picks a
// portal and never grants authority by itself.
func (u User) IsTech() bool          { return u.GlobalRole == GlobalTech }
func (u User) IsAdmin() bool         { return u.GlobalRole == GlobalAdmin }
func (u User) IsCustomerAdmin() bool { return u.GlobalRole == GlobalCustomerAdmin }
func (u User) IsVendorAdmin() bool   { return u.GlobalRole == GlobalVendorAdmin }

// AnyAdmin covers every administrative population.
func (u User) AnyAdmin() bool {
	return u.IsTech() || u.IsAdmin() || u.IsCustomerAdmin() || u.IsVendorAdmin()
}

// References reports whether the user holds role id in either role list.
func (u User) References(roleID string) bool {
	return contains(u.TenantRoles, roleID) || contains(u.InternalRoles, roleID)
}

// FailedLogin returns the patch recording one more failed password check.
// An expired lock restarts the count at one.
func (u User) FailedLogin(now time.Time) UserPatch {
	zero := time.Time{}
	if !u.LockUntil.IsZero() && !u.LockUntil.After(now) {
		one := 1
		return UserPatch{LoginAttempts: &one, LockUntil: &zero}
	}
	n := u.LoginAttempts + 1
	p := UserPatch{LoginAttempts: &n}
	if n >= MaxLoginAttempts {
		until := now.Add(LockDuration)
		p.LockUntil = &until
	}
	return p
}

// SuccessfulLogin clears lockout state and stamps the login time.
func SuccessfulLogin(now time.Time) UserPatch {
	zeroN, zeroT := 0, time.Time{}
	return UserPatch{LoginAttempts: &zeroN, LockUntil: &zeroT, LastLogin: &now}
}

// UserPatch carries optional updates; nil fields are left alone. A zero
// time clears LockUntil.
type UserPatch struct {
	PasswordHash  *string
	GlobalRole    *GlobalRole
	TenantRoles   *[]string
	InternalRoles *[]string
	State         *lifecycle.State
	LoginAttempts *int
	LockUntil     *time.Time
	LastLogin     *time.Time
	IsVerified    *bool
}

func (p UserPatch) apply(u *User) {
	if p.PasswordHash != nil {
		u.PasswordHash = *p.PasswordHash
	}
	if p.GlobalRole != nil {
		u.GlobalRole = *p.GlobalRole
	}
	if p.TenantRoles != nil {
		u.TenantRoles = append([]string{}, (*p.TenantRoles)...)
	}
	if p.InternalRoles != nil {
		u.InternalRoles = append([]string{}, (*p.InternalRoles)...)
	}
	if p.State != nil {
		u.State = *p.State
	}
	if p.LoginAttempts != nil {
		u.LoginAttempts = *p.LoginAttempts
	}
	if p.LockUntil != nil {
		u.LockUntil = *p.LockUntil
	}
	if p.LastLogin != nil {
		u.LastLogin = *p.LastLogin
	}
	if p.IsVerified != nil {
		u.IsVerified = *p.IsVerified
	}
}

// Scope narrows a credential lookup. Empty fields match anything.
type Scope struct {
	TenantID string
	UserType UserType
}

// Filter narrows user listings to active users.
type Filter struct {
	TenantID string
	UserType UserType
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// AddRef appends id to list unless present.
func AddRef(list []string, id string) []string {
	if contains(list, id) {
		return list
	}
	return append(append([]string{}, list...), id)
}

// DropRef removes id from list.
func DropRef(list []string, id string) []string {
	out := make([]string, 0, len(list))
	for _, x := range list {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
