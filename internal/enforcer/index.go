package enforcer

import "sort"

// index is an immutable view over one snapshot. Mutations build a new index
// and swap it in, so readers never observe a partial update.
type index struct {
	snap Snapshot

	policySet map[Policy]struct{}
	assignSet map[Assignment]struct{}

	// domain -> subject -> policies granted to that subject
	grants map[string]map[string][]Policy
	// domain -> member -> roles held by that member
	edges map[string]map[string][]string
}

func newIndex(s Snapshot) *index {
	s = s.normalized()
	idx := &index{
		snap:      s,
		policySet: make(map[Policy]struct{}, len(s.Policies)),
		assignSet: make(map[Assignment]struct{}, len(s.Assignments)),
		grants:    map[string]map[string][]Policy{},
		edges:     map[string]map[string][]string{},
	}
	for _, p := range s.Policies {
		idx.policySet[p] = struct{}{}
		bySubject, ok := idx.grants[p.Domain]
		if !ok {
			bySubject = map[string][]Policy{}
			idx.grants[p.Domain] = bySubject
		}
		bySubject[p.Subject] = append(bySubject[p.Subject], p)
	}
	for _, a := range s.Assignments {
		idx.assignSet[a] = struct{}{}
		byMember, ok := idx.edges[a.Domain]
		if !ok {
			byMember = map[string][]string{}
			idx.edges[a.Domain] = byMember
		}
		byMember[a.Member] = append(byMember[a.Member], a.Role)
	}
	return idx
}

// roles resolves the transitive role set of member in domain. Assignments
// made in the global domain count in every domain.
func (idx *index) roles(member, domain string) map[string]struct{} {
	domains := []string{domain}
	if domain != GlobalDomain {
		domains = append(domains, GlobalDomain)
	}
	out := map[string]struct{}{}
	queue := []string{member}
	visited := map[string]struct{}{member: {}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, d := range domains {
			for _, r := range idx.edges[d][cur] {
				if _, seen := visited[r]; seen {
					continue
				}
				visited[r] = struct{}{}
				out[r] = struct{}{}
				queue = append(queue, r)
			}
		}
	}
	return out
}

func (idx *index) sortedRoles(member, domain string) []string {
	set := idx.roles(member, domain)
	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// match looks for a policy in exactly this domain granted to subject or to
// any of its roles.
func (idx *index) match(subject, resource, action, domain string) (Policy, bool) {
	bySubject := idx.grants[domain]
	if len(bySubject) == 0 {
		return Policy{}, false
	}
	for _, p := range bySubject[subject] {
		if policyMatches(p, resource, action) {
			return p, true
		}
	}
	for r := range idx.roles(subject, domain) {
		for _, p := range bySubject[r] {
			if policyMatches(p, resource, action) {
				return p, true
			}
		}
	}
	return Policy{}, false
}

func (idx *index) hasPolicy(p Policy) bool {
	_, ok := idx.policySet[p]
	return ok
}

func (idx *index) hasAssignment(a Assignment) bool {
	_, ok := idx.assignSet[a]
	return ok
}
