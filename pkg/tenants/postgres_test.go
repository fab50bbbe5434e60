package tenants

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"bosun/pkg/problems"
)

var tenantCols = []string{"id", "name", "slug", "tenant_type", "plan", "status", "trial_end_date", "owner_id", "admin_ids", "state", "created_at", "updated_at"}

func TestPostgresResolveTenantByID(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer conn.Close()

	id := "5b0f6f0e-7d1b-4b43-9c55-3a2b0d9a7e11"
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM tenants WHERE id=$1`)).WithArgs(id).
		WillReturnRows(sqlmock.NewRows(tenantCols).
			AddRow(id, "Acme", "acme", "customer", "premium", "active", nil, "u1", []byte(`["u2"]`), "active", now, now))

	p := NewPostgresProvider(conn, zap.NewNop().Sugar())
	tn, err := p.ResolveTenantByID(context.Background(), id)
	if err != nil {
		t.Fatalf("ResolveTenantByID: %v", err)
	}
	if tn.Type != TypeCustomer || tn.Subscription.Plan != PlanPremium || !tn.IsAdmin("u2") || !tn.Operational(now) {
		t.Fatalf("unexpected tenant %+v", tn)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresResolveRejectsMalformedID(t *testing.T) {
	conn, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer conn.Close()
	p := NewPostgresProvider(conn, zap.NewNop().Sugar())
	if _, err := p.ResolveTenantByID(context.Background(), "not-a-uuid"); !errors.Is(err, problems.ErrTenantNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestPostgresCreateTenantDuplicateSlug(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer conn.Close()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO tenants`)).WillReturnError(&pgconn.PgError{Code: "23505"})

	p := NewPostgresProvider(conn, zap.NewNop().Sugar())
	_, err = p.CreateTenant(context.Background(), Tenant{Name: "Acme", Type: TypeAdmin})
	if !errors.Is(err, problems.ErrExists) {
		t.Fatalf("err = %v, want exists", err)
	}
}

func TestPostgresUpdateTenantBuildsSetList(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer conn.Close()

	id := "5b0f6f0e-7d1b-4b43-9c55-3a2b0d9a7e11"
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE tenants SET status=$1, updated_at=$2 WHERE id=$3 RETURNING`)).
		WithArgs("suspended", sqlmock.AnyArg(), id).
		WillReturnRows(sqlmock.NewRows(tenantCols).
			AddRow(id, "Acme", "acme", "vendor", "basic", "suspended", nil, "", []byte(`[]`), "active", now, now))

	p := NewPostgresProvider(conn, zap.NewNop().Sugar())
	s := StatusSuspended
	tn, err := p.UpdateTenant(context.Background(), id, Patch{Status: &s})
	if err != nil {
		t.Fatalf("UpdateTenant: %v", err)
	}
	if tn.Operational(now) {
		t.Fatalf("suspended tenant reported operational")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
