// Package roles is the role catalog: role records, their default seed, and
// the administration operations that keep the enforcement engine in step
// with them.
package roles

import (
	"encoding/json"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"bosun/internal/enforcer"
	"bosun/internal/identity"
	"bosun/pkg/lifecycle"
	"bosun/pkg/problems"
	"bosun/pkg/tenants"
)

type Type string

const (
	TypeGlobal   Type = "global"
	TypeTenant   Type = "tenant"
	TypeInternal Type = "internal"
)

func (t Type) Valid() bool {
	return t == TypeGlobal || t == TypeTenant || t == TypeInternal
}

// Permission grants Actions on Resource. Resource uses the engine's
// pattern syntax; actions are HTTP verbs or "*".
type Permission struct {
	Resource string   `json:"resource" yaml:"resource"`
	Actions  []string `json:"actions" yaml:"actions"`
}

type Role struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Description  string              `json:"description,omitempty"`
	Type         Type                `json:"roleType"`
	GlobalRole   identity.GlobalRole `json:"globalRole,omitempty"`
	TenantID     string              `json:"tenantId,omitempty"`
	TenantType   tenants.Type        `json:"tenantType,omitempty"`
	Permissions  []Permission        `json:"permissions"`
	Features     Features            `json:"maritimeFeatures"`
	IsSystemRole bool                `json:"isSystemRole"`
	State        lifecycle.State     `json:"state"`
	CreatedBy    string              `json:"createdBy,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
	UpdatedAt    time.Time           `json:"updatedAt"`
}

const (
	maxNameLen        = 100
	maxDescriptionLen = 500
)

// Validate checks the fields a stored role must carry.
func (r Role) Validate() error {
	switch {
	case strings.TrimSpace(r.Name) == "":
		return problems.New(problems.KindInvalid, "role name is required")
	case len(r.Name) > maxNameLen:
		return problems.New(problems.KindInvalid, "role name cannot exceed %d characters", maxNameLen)
	case len(r.Description) > maxDescriptionLen:
		return problems.New(problems.KindInvalid, "description cannot exceed %d characters", maxDescriptionLen)
	case !r.Type.Valid():
		return problems.New(problems.KindInvalid, "invalid role type %q", r.Type)
	case r.GlobalRole != identity.GlobalNone && !r.GlobalRole.Valid():
		return problems.New(problems.KindInvalid, "invalid global role %q", r.GlobalRole)
	case r.GlobalRole != identity.GlobalNone && r.Type != TypeGlobal:
		return problems.New(problems.KindInvalid, "global roles must have roleType global")
	case r.Type != TypeGlobal && r.TenantID == "":
		return problems.New(problems.KindInvalid, "%s roles must have a tenantId", r.Type)
	}
	for _, p := range r.Permissions {
		if strings.TrimSpace(p.Resource) == "" {
			return problems.New(problems.KindInvalid, "permission resource is required")
		}
		if len(p.Actions) == 0 {
			return problems.New(problems.KindInvalid, "permission on %s needs at least one action", p.Resource)
		}
	}
	return nil
}

// Scope is the domain the role is defined in.
func (r Role) Scope() string {
	if r.Type == TypeGlobal {
		return enforcer.GlobalDomain
	}
	return r.TenantID
}

// Subject is the name the engine knows this role by: the well-known key
// for built-in global roles, otherwise "role:" plus the id, which survives
// renames and never collides across tenants.
func (r Role) Subject() string {
	if r.GlobalRole != identity.GlobalNone {
		return string(r.GlobalRole)
	}
	return SubjectFor(r.ID)
}

// SubjectFor is the engine subject of a role without a global key.
func SubjectFor(roleID string) string { return "role:" + roleID }

// Policies materializes the permission list as tuples in domain.
func (r Role) Policies(domain string) []enforcer.Policy {
	var out []enforcer.Policy
	for _, p := range r.Permissions {
		for _, a := range p.Actions {
			out = append(out, enforcer.Policy{Subject: r.Subject(), Resource: p.Resource, Action: a, Domain: domain}.Normalize())
		}
	}
	return out
}

// HasPermission matches with the engine's rules.
func (r Role) HasPermission(resource, action string) bool {
	for _, p := range r.Permissions {
		if !enforcer.MatchResource(p.Resource, resource) {
			continue
		}
		for _, a := range p.Actions {
			if enforcer.MatchAction(a, action) {
				return true
			}
		}
	}
	return false
}

// AddPermission merges actions into an existing entry for resource or
// appends a new one.
func (r *Role) AddPermission(resource string, actions ...string) {
	for i := range r.Permissions {
		if r.Permissions[i].Resource != resource {
			continue
		}
		for _, a := range actions {
			if !containsFold(r.Permissions[i].Actions, a) {
				r.Permissions[i].Actions = append(r.Permissions[i].Actions, a)
			}
		}
		return
	}
	r.Permissions = append(r.Permissions, Permission{Resource: resource, Actions: append([]string(nil), actions...)})
}

func (r *Role) RemovePermission(resource string) {
	out := make([]Permission, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		if p.Resource != resource {
			out = append(out, p)
		}
	}
	r.Permissions = out
}

func containsFold(list []string, v string) bool {
	for _, x := range list {
		if strings.EqualFold(x, v) {
			return true
		}
	}
	return false
}

// Features is the maritime capability bitset.
type Features uint8

const (
	VesselManagement Features = 1 << iota
	RFQManagement
	QuoteManagement
	OrderManagement
	VendorManagement
	AnalyticsAccess
	SystemAdmin
)

var featureNames = []struct {
	flag Features
	name string
}{
	{VesselManagement, "vesselManagement"},
	{RFQManagement, "rfqManagement"},
	{QuoteManagement, "quoteManagement"},
	{OrderManagement, "orderManagement"},
	{VendorManagement, "vendorManagement"},
	{AnalyticsAccess, "analyticsAccess"},
	{SystemAdmin, "systemAdmin"},
}

func (f Features) Has(flag Features) bool { return f&flag != 0 }

func (f Features) toMap() map[string]bool {
	m := make(map[string]bool, len(featureNames))
	for _, fn := range featureNames {
		m[fn.name] = f.Has(fn.flag)
	}
	return m
}

func featuresFromMap(m map[string]bool) Features {
	var f Features
	for _, fn := range featureNames {
		if m[fn.name] {
			f |= fn.flag
		}
	}
	return f
}

func (f Features) MarshalJSON() ([]byte, error) { return json.Marshal(f.toMap()) }

func (f *Features) UnmarshalJSON(b []byte) error {
	var m map[string]bool
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*f = featuresFromMap(m)
	return nil
}

func (f *Features) UnmarshalYAML(n *yaml.Node) error {
	var m map[string]bool
	if err := n.Decode(&m); err != nil {
		return err
	}
	*f = featuresFromMap(m)
	return nil
}
