package enforcer

import (
	"sort"
	"strings"
)

// GlobalDomain is the bypass domain. A grant here applies to every tenant.
const GlobalDomain = "*"

// AnyAction matches every verb.
const AnyAction = "*"

// Policy grants Subject (a role name or user id) Action on Resource within
// Domain.
type Policy struct {
	Subject  string `json:"subject" yaml:"subject"`
	Resource string `json:"resource" yaml:"resource"`
	Action   string `json:"action" yaml:"action"`
	Domain   string `json:"domain" yaml:"domain"`
}

// Normalize trims every field and upper-cases the action. An empty action
// means any action.
func (p Policy) Normalize() Policy {
	p.Subject = strings.TrimSpace(p.Subject)
	p.Resource = strings.TrimSpace(p.Resource)
	p.Domain = strings.TrimSpace(p.Domain)
	p.Action = normalizeAction(p.Action)
	return p
}

func (p Policy) valid() bool {
	return p.Subject != "" && p.Resource != "" && p.Domain != ""
}

func (p Policy) String() string {
	return p.Subject + ", " + p.Resource + ", " + p.Action + ", " + p.Domain
}

// Assignment makes Member hold Role within Domain. Member is a user id or,
// for role inheritance, another role name.
type Assignment struct {
	Member string `json:"member" yaml:"member"`
	Role   string `json:"role" yaml:"role"`
	Domain string `json:"domain" yaml:"domain"`
}

func (a Assignment) Normalize() Assignment {
	a.Member = strings.TrimSpace(a.Member)
	a.Role = strings.TrimSpace(a.Role)
	a.Domain = strings.TrimSpace(a.Domain)
	return a
}

func (a Assignment) valid() bool {
	return a.Member != "" && a.Role != "" && a.Domain != "" && a.Member != a.Role
}

// Snapshot is the full durable tuple set.
type Snapshot struct {
	Policies    []Policy
	Assignments []Assignment
}

// normalized returns a deduplicated, normalized copy with invalid tuples
// dropped, in a stable order.
func (s Snapshot) normalized() Snapshot {
	out := Snapshot{
		Policies:    make([]Policy, 0, len(s.Policies)),
		Assignments: make([]Assignment, 0, len(s.Assignments)),
	}
	seenP := make(map[Policy]struct{}, len(s.Policies))
	for _, p := range s.Policies {
		p = p.Normalize()
		if _, dup := seenP[p]; dup || !p.valid() {
			continue
		}
		seenP[p] = struct{}{}
		out.Policies = append(out.Policies, p)
	}
	seenA := make(map[Assignment]struct{}, len(s.Assignments))
	for _, a := range s.Assignments {
		a = a.Normalize()
		if _, dup := seenA[a]; dup || !a.valid() {
			continue
		}
		seenA[a] = struct{}{}
		out.Assignments = append(out.Assignments, a)
	}
	return out
}

func sortPolicies(ps []Policy) {
	sort.Slice(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.Domain != b.Domain {
			return a.Domain < b.Domain
		}
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		if a.Resource != b.Resource {
			return a.Resource < b.Resource
		}
		return a.Action < b.Action
	})
}

func sortAssignments(as []Assignment) {
	sort.Slice(as, func(i, j int) bool {
		a, b := as[i], as[j]
		if a.Domain != b.Domain {
			return a.Domain < b.Domain
		}
		if a.Member != b.Member {
			return a.Member < b.Member
		}
		return a.Role < b.Role
	})
}

func normalizeAction(a string) string {
	a = strings.ToUpper(strings.TrimSpace(a))
	if a == "" {
		return AnyAction
	}
	return a
}
