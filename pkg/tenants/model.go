package tenants

import (
	"regexp"
	"strings"
	"time"

	"bosun/pkg/lifecycle"
)

type Type string

const (
	TypeAdmin    Type = "admin"
	TypeCustomer Type = "customer"
	TypeVendor   Type = "vendor"
)

type Plan string

const (
	PlanBasic      Plan = "basic"
	PlanStandard   Plan = "standard"
	PlanPremium    Plan = "premium"
	PlanEnterprise Plan = "enterprise"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
	StatusTrial     Status = "trial"
	StatusCancelled Status = "cancelled"
)

// TrialPeriod is the default trial length for new tenants.
const TrialPeriod = 14 * 24 * time.Hour

// SystemSlug names the operator tenant that also hosts internal role
// templates.
const SystemSlug = "maritime-procurement-system"

type Subscription struct {
	Plan         Plan      `json:"plan"`
	Status       Status    `json:"status"`
	TrialEndDate time.Time `json:"trialEndDate,omitempty"`
}

// Tenant is one isolated procurement organisation.
type Tenant struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Slug         string          `json:"slug"`
	Type         Type            `json:"tenantType"`
	Subscription Subscription    `json:"subscription"`
	OwnerID      string          `json:"ownerId,omitempty"`
	AdminIDs     []string        `json:"adminIds"`
	State        lifecycle.State `json:"state"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// SubscriptionActive is true for paid subscriptions and unexpired trials.
func (t Tenant) SubscriptionActive(now time.Time) bool {
	switch t.Subscription.Status {
	case StatusActive:
		return true
	case StatusTrial:
		return t.Subscription.TrialEndDate.After(now)
	}
	return false
}

// Operational gates every authenticated request.
func (t Tenant) Operational(now time.Time) bool {
	if !t.State.IsActive() {
		return false
	}
	switch t.Subscription.Status {
	case StatusSuspended, StatusInactive, StatusCancelled:
		return false
	}
	return true
}

func (t Tenant) IsAdmin(userID string) bool {
	if userID == "" {
		return false
	}
	if t.OwnerID == userID {
		return true
	}
	for _, id := range t.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Patch carries optional tenant updates; nil fields are left alone.
type Patch struct {
	Name     *string
	OwnerID  *string
	AdminIDs *[]string
	Status   *Status
	Plan     *Plan
	State    *lifecycle.State
}

func (p Patch) apply(t *Tenant) {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.OwnerID != nil {
		t.OwnerID = *p.OwnerID
	}
	if p.AdminIDs != nil {
		t.AdminIDs = append([]string(nil), (*p.AdminIDs)...)
	}
	if p.Status != nil {
		t.Subscription.Status = *p.Status
	}
	if p.Plan != nil {
		t.Subscription.Plan = *p.Plan
	}
	if p.State != nil {
		t.State = *p.State
	}
}

var slugRe = regexp.MustCompile(`^[a-z0-9-]+$`)

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a tenant slug from a company name.
func Slugify(name string) string {
	s := nonSlug.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	return strings.Trim(s, "-")
}

// ValidSlug reports whether s is usable as a tenant slug.
func ValidSlug(s string) bool { return slugRe.MatchString(s) }

// withDefaults fills the fields a new tenant gets when left empty.
func withDefaults(t Tenant, now time.Time) Tenant {
	if t.Slug == "" {
		t.Slug = Slugify(t.Name)
	}
	if t.Subscription.Plan == "" {
		t.Subscription.Plan = PlanBasic
	}
	if t.Subscription.Status == "" {
		t.Subscription.Status = StatusTrial
	}
	if t.Subscription.Status == StatusTrial && t.Subscription.TrialEndDate.IsZero() {
		t.Subscription.TrialEndDate = now.Add(TrialPeriod)
	}
	if t.State == "" {
		t.State = lifecycle.Active
	}
	if t.AdminIDs == nil {
		t.AdminIDs = []string{}
	}
	t.CreatedAt = now
	t.UpdatedAt = now
	return t
}
