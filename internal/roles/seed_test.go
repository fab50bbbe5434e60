package roles

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"bosun/internal/enforcer"
	"bosun/internal/identity"
	"bosun/internal/session"
	"bosun/pkg/tenants"
)

func TestEmbeddedSeedMatchesCatalog(t *testing.T) {
	s, err := LoadSeed("")
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	if len(s.GlobalRoles) != 4 || len(s.InternalTemplates) != 6 {
		t.Fatalf("got %d global roles and %d templates", len(s.GlobalRoles), len(s.InternalTemplates))
	}
	if got := len(s.Policies.Global) + len(s.Policies.Default); got != 25 {
		t.Fatalf("default policies = %d, want 25", got)
	}
	tech := s.GlobalRoles[0]
	if tech.GlobalRole != identity.GlobalTech || !tech.Features.Has(SystemAdmin) {
		t.Fatalf("tech role = %+v", tech)
	}
	for _, r := range s.GlobalRoles[1:] {
		if r.Features.Has(SystemAdmin) {
			t.Fatalf("%s must not carry systemAdmin", r.Name)
		}
	}
}

func TestSeedDefaultRolesRunsOnce(t *testing.T) {
	f := newFixture(t)
	n, err := f.svc.SeedDefaultRoles(f.ctx)
	if err != nil || n != 10 {
		t.Fatalf("first seed = %d, %v", n, err)
	}
	if n, err := f.svc.SeedDefaultRoles(f.ctx); err != nil || n != 0 {
		t.Fatalf("second seed = %d, %v", n, err)
	}

	sys, err := f.dir.FindTenantBySlug(f.ctx, tenants.SystemSlug)
	if err != nil {
		t.Fatalf("system tenant: %v", err)
	}
	if sys.Type != tenants.TypeAdmin || sys.Subscription.Plan != tenants.PlanEnterprise || sys.Name != SystemTenantName {
		t.Fatalf("system tenant = %+v", sys)
	}
	templates, _ := f.store.List(f.ctx, Filter{TenantID: sys.ID})
	if len(templates) != 6 {
		t.Fatalf("templates bound to system tenant = %d", len(templates))
	}
	for _, r := range templates {
		if r.Type != TypeInternal || r.IsSystemRole {
			t.Fatalf("template %s = %+v", r.Name, r)
		}
	}
	va, err := f.store.FindByGlobalRole(f.ctx, identity.GlobalVendorAdmin)
	if err != nil || !va.IsSystemRole || va.Features.Has(VesselManagement) || !va.HasPermission("/api/rfq/42", "GET") || va.HasPermission("/api/rfq/42", "POST") {
		t.Fatalf("vendor admin = %+v, %v", va, err)
	}
}

func TestSeedDefaultPolicies(t *testing.T) {
	f := newFixture(t)
	n, err := f.svc.SeedDefaultPolicies(f.ctx)
	if err != nil || n != 25 {
		t.Fatalf("SeedDefaultPolicies = %d, %v", n, err)
	}
	if n, err := f.svc.SeedDefaultPolicies(f.ctx); err != nil || n != 0 {
		t.Fatalf("second seed = %d, %v", n, err)
	}
	if !f.engine.Enforce("public", "/api/auth/login", "POST", "maritime-procurement") {
		t.Fatalf("public login grant missing")
	}
	if f.engine.Enforce("public", "/api/auth/login", "POST", f.t1.ID) {
		t.Fatalf("default-domain grant leaked into a tenant")
	}
	if got := f.engine.Policies(enforcer.Filter{Subject: "tech", Domain: enforcer.GlobalDomain}); len(got) != 9 {
		t.Fatalf("tech global tuples = %d", len(got))
	}
}

func TestSeedFileOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roles.yaml")
	body := `globalRoles:
  - name: Harbour Master
    globalRole: admin
    permissions:
      - { resource: "/api/harbour/*", actions: ["GET"] }
    features:
      vesselManagement: true
internalTemplates: []
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	f := newFixture(t)
	f.svc.seedFile = path
	n, err := f.svc.SeedDefaultRoles(f.ctx)
	if err != nil || n != 1 {
		t.Fatalf("seed from file = %d, %v", n, err)
	}
	r, err := f.store.FindByGlobalRole(f.ctx, identity.GlobalAdmin)
	if err != nil || r.Name != "Harbour Master" || r.Features != VesselManagement {
		t.Fatalf("seeded role = %+v, %v", r, err)
	}
}

func TestEnsureTechUserBootstrapsOperator(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.svc.techPassword = "anchors-aweigh"

	u, err := f.svc.EnsureTechUser(f.ctx)
	if err != nil {
		t.Fatalf("EnsureTechUser: %v", err)
	}
	if u.GlobalRole != identity.GlobalTech || u.UserType != identity.UserTechnical || !u.IsVerified {
		t.Fatalf("tech user = %+v", u)
	}
	if !session.CheckPassword(u.PasswordHash, "anchors-aweigh") {
		t.Fatalf("bootstrap password not applied")
	}
	if !f.engine.IsTopLevelOperator(u.ID) {
		t.Fatalf("tech user is not a top-level operator")
	}
	if !f.engine.IsAllowed(u.ID, "/api/vendors/v1/orders", "DELETE", f.t2.ID) {
		t.Fatalf("operator denied in a tenant")
	}
	sys, _ := f.dir.FindTenantBySlug(f.ctx, tenants.SystemSlug)
	if sys.OwnerID != u.ID {
		t.Fatalf("system tenant owner = %q", sys.OwnerID)
	}

	again, err := f.svc.EnsureTechUser(f.ctx)
	if err != nil || again.ID != u.ID {
		t.Fatalf("second EnsureTechUser = %v, %v", again.ID, err)
	}
	techs, _ := f.dir.FindUsersByGlobalRole(f.ctx, identity.GlobalTech)
	if len(techs) != 1 {
		t.Fatalf("tech users = %d", len(techs))
	}
}

func TestGeneratedTechPasswordStaysOutOfLogs(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	core, logs := observer.New(zap.DebugLevel)
	var out bytes.Buffer
	f.svc.log = zap.New(core).Sugar()
	f.svc.bootstrapOut = &out
	f.svc.techPassword = ""

	u, err := f.svc.EnsureTechUser(f.ctx)
	if err != nil {
		t.Fatalf("EnsureTechUser: %v", err)
	}
	line := strings.TrimSpace(out.String())
	i := strings.LastIndex(line, ": ")
	if i < 0 {
		t.Fatalf("no password printed: %q", line)
	}
	password := line[i+2:]
	if !session.CheckPassword(u.PasswordHash, password) {
		t.Fatalf("printed password does not match the account")
	}
	for _, e := range logs.All() {
		if strings.Contains(e.Message, password) {
			t.Fatalf("password in log message %q", e.Message)
		}
		for k, v := range e.ContextMap() {
			if strings.Contains(fmt.Sprint(v), password) {
				t.Fatalf("password in log field %s", k)
			}
		}
	}
	if logs.FilterMessageSnippet("generated password").Len() != 1 {
		t.Fatalf("generation not logged")
	}
}
