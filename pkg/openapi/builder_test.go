package openapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBuildRecordsPermissions(t *testing.T) {
	r := NewRegistry()
	r.Register(Operation{Method: "POST", Path: "/api/auth/login", Summary: "Log in", Public: true})
	r.Register(Operation{Method: "GET", Path: "/api/roles", Permission: &Permission{Resource: "/api/roles", Action: "GET"}})
	r.Register(Operation{Method: "DELETE", Path: "/api/roles/{id}", Permission: &Permission{Resource: "/api/roles/*", Action: "DELETE"}})

	ops := r.Operations()
	if len(ops) != 3 || ops[0].Path != "/api/auth/login" || ops[2].Method != "delete" {
		t.Fatalf("unexpected order: %+v", ops)
	}
	op, ok := r.Lookup("GET", "/api/roles")
	if !ok || op.Permission.Action != "GET" {
		t.Fatalf("lookup failed: %+v %v", op, ok)
	}

	rec := httptest.NewRecorder()
	r.ServeHandler("bosun", "test")(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
	var doc struct {
		Paths map[string]map[string]struct {
			Security   []map[string]any `json:"security"`
			Permission *Permission      `json:"x-required-permission"`
		} `json:"paths"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p := doc.Paths["/api/roles/{id}"]["delete"].Permission; p == nil || p.Resource != "/api/roles/*" {
		t.Fatalf("missing permission: %+v", p)
	}
	login := doc.Paths["/api/auth/login"]["post"]
	if login.Security == nil || len(login.Security) != 0 || login.Permission != nil {
		t.Fatalf("login should be public: %+v", login)
	}
}
