// pkg/tenants/postgres.go
package tenants

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bosun/pkg/db"
	"bosun/pkg/lifecycle"
	"bosun/pkg/problems"
)

// pgProvider implements Provider backed by PostgreSQL.
type pgProvider struct {
	db  *sql.DB
	log *zap.SugaredLogger
	now func() time.Time
}

// NewPostgresProvider constructs a PostgreSQL-backed tenant provider.
func NewPostgresProvider(conn *sql.DB, log *zap.SugaredLogger) Provider {
	return &pgProvider{db: conn, log: log, now: time.Now}
}

// EnsureSchema creates the tenants table if it does not already exist.
// Safe to call repeatedly (idempotent).
func EnsureSchema(ctx context.Context, conn *sql.DB) error {
	_, err := conn.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS tenants (
  id uuid PRIMARY KEY,
  name text NOT NULL,
  slug text NOT NULL UNIQUE,
  tenant_type text NOT NULL,
  plan text NOT NULL DEFAULT 'basic',
  status text NOT NULL DEFAULT 'trial',
  trial_end_date timestamptz,
  owner_id text NOT NULL DEFAULT '',
  admin_ids jsonb NOT NULL DEFAULT '[]'::jsonb,
  state text NOT NULL DEFAULT 'active',
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS tenants_status_idx ON tenants(status);
CREATE INDEX IF NOT EXISTS tenants_owner_idx ON tenants(owner_id);
`)
	return err
}

const tenantColumns = `id, name, slug, tenant_type, plan, status, trial_end_date, owner_id, admin_ids, state, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (Tenant, error) {
	var (
		t        Tenant
		trialEnd sql.NullTime
		admins   []byte
		state    string
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Type, &t.Subscription.Plan, &t.Subscription.Status,
		&trialEnd, &t.OwnerID, &admins, &state, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Tenant{}, err
	}
	if trialEnd.Valid {
		t.Subscription.TrialEndDate = trialEnd.Time
	}
	if len(admins) > 0 {
		if err := json.Unmarshal(admins, &t.AdminIDs); err != nil {
			return Tenant{}, fmt.Errorf("decode admin_ids: %w", err)
		}
	}
	if t.AdminIDs == nil {
		t.AdminIDs = []string{}
	}
	st, err := lifecycle.Parse(state)
	if err != nil {
		return Tenant{}, err
	}
	t.State = st
	return t, nil
}

func (p *pgProvider) one(ctx context.Context, what, query string, args ...any) (Tenant, error) {
	t, err := scanTenant(p.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Tenant{}, problems.New(problems.KindTenantNotFound, "tenant %s not found", what)
	}
	if err != nil {
		return Tenant{}, problems.Wrap(problems.KindStoreUnavailable, err, "load tenant")
	}
	return t, nil
}

// ResolveTenantByID fetches a tenant by its UUID.
func (p *pgProvider) ResolveTenantByID(ctx context.Context, id string) (Tenant, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Tenant{}, problems.New(problems.KindTenantNotFound, "tenant %s not found", id)
	}
	return p.one(ctx, id, `SELECT `+tenantColumns+` FROM tenants WHERE id=$1`, id)
}

// ResolveTenantBySlug fetches an active tenant using its slug.
func (p *pgProvider) ResolveTenantBySlug(ctx context.Context, slug string) (Tenant, error) {
	return p.one(ctx, slug, `SELECT `+tenantColumns+` FROM tenants WHERE slug=$1 AND state='active'`, slug)
}

func (p *pgProvider) CreateTenant(ctx context.Context, t Tenant) (Tenant, error) {
	t = withDefaults(t, p.now().UTC())
	if !ValidSlug(t.Slug) {
		return Tenant{}, problems.New(problems.KindInvalid, "slug %q may only contain lowercase letters, numbers and hyphens", t.Slug)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	admins, _ := json.Marshal(t.AdminIDs)
	var trialEnd sql.NullTime
	if !t.Subscription.TrialEndDate.IsZero() {
		trialEnd = sql.NullTime{Time: t.Subscription.TrialEndDate, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO tenants (`+tenantColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		t.ID, t.Name, t.Slug, string(t.Type), string(t.Subscription.Plan), string(t.Subscription.Status),
		trialEnd, t.OwnerID, admins, string(t.State), t.CreatedAt, t.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return Tenant{}, problems.New(problems.KindExists, "tenant slug %q already taken", t.Slug)
	}
	if err != nil {
		return Tenant{}, problems.Wrap(problems.KindStoreUnavailable, err, "insert tenant")
	}
	return t, nil
}

func (p *pgProvider) UpdateTenant(ctx context.Context, id string, patch Patch) (Tenant, error) {
	sets := []string{}
	args := []any{}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.OwnerID != nil {
		add("owner_id", *patch.OwnerID)
	}
	if patch.AdminIDs != nil {
		b, _ := json.Marshal(*patch.AdminIDs)
		add("admin_ids", b)
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.Plan != nil {
		add("plan", string(*patch.Plan))
	}
	if patch.State != nil {
		add("state", string(*patch.State))
	}
	add("updated_at", p.now().UTC())
	args = append(args, id)
	q := `UPDATE tenants SET ` + strings.Join(sets, ", ") + fmt.Sprintf(` WHERE id=$%d RETURNING `, len(args)) + tenantColumns
	return p.one(ctx, id, q, args...)
}

func (p *pgProvider) ListTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE state='active' ORDER BY created_at DESC`)
	if err != nil {
		return nil, problems.Wrap(problems.KindStoreUnavailable, err, "list tenants")
	}
	defer rows.Close()
	var out []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, problems.Wrap(problems.KindStoreUnavailable, err, "scan tenant")
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, problems.Wrap(problems.KindStoreUnavailable, err, "list tenants")
	}
	return out, nil
}
