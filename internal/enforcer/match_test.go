package enforcer

import "testing"

func TestMatchResource(t *testing.T) {
	tests := []struct {
		pattern, resource string
		want              bool
	}{
		{"/*", "/api/roles", true},
		{"/*", "/", true},
		{"/api/roles", "/api/roles", true},
		{"/api/roles", "/api/roles/", true},
		{"/api/roles", "/api/roles/1", false},
		{"/api/roles/*", "/api/roles/1", true},
		{"/api/roles/*", "/api/roles/1/assign", true},
		{"/api/roles/*", "/api/roles", false},
		{"/api/roles/*", "/api/roles/", false},
		{"/api/roles/*", "/api/rolesx", false},
		{"/api/customers/*", "/api/vendors/1", false},
		{"*", "/anything", true},
		{"/api/vendors/quotes", "/api/vendors/quotes/", true},
		{"/api/*/quotes", "/api/vendors/quotes", true},
	}
	for _, tt := range tests {
		if got := MatchResource(tt.pattern, tt.resource); got != tt.want {
			t.Errorf("MatchResource(%q, %q) = %v, want %v", tt.pattern, tt.resource, got, tt.want)
		}
	}
}

func TestMatchAction(t *testing.T) {
	if !MatchAction("*", "DELETE") {
		t.Fatalf("wildcard must match")
	}
	if !MatchAction("GET", "get") {
		t.Fatalf("verbs compare case-insensitively")
	}
	if MatchAction("GET", "POST") {
		t.Fatalf("distinct verbs must not match")
	}
}

func TestSnapshotNormalizedDropsDuplicatesAndInvalid(t *testing.T) {
	s := Snapshot{
		Policies: []Policy{
			{Subject: "admin", Resource: "/api/roles", Action: "get", Domain: "t1"},
			{Subject: " admin ", Resource: "/api/roles", Action: "GET", Domain: "t1"},
			{Subject: "", Resource: "/api/roles", Action: "GET", Domain: "t1"},
			{Subject: "admin", Resource: "/api/roles", Action: "", Domain: "t1"},
		},
		Assignments: []Assignment{
			{Member: "u1", Role: "admin", Domain: "t1"},
			{Member: "u1", Role: "admin", Domain: "t1"},
			{Member: "admin", Role: "admin", Domain: "t1"},
		},
	}.normalized()
	if len(s.Policies) != 2 {
		t.Fatalf("expected 2 policies, got %v", s.Policies)
	}
	if s.Policies[1].Action != AnyAction {
		t.Fatalf("empty action should normalize to wildcard, got %q", s.Policies[1].Action)
	}
	if len(s.Assignments) != 1 {
		t.Fatalf("expected 1 assignment, got %v", s.Assignments)
	}
}
