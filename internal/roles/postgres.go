package roles

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

	"bosun/internal/identity"
	"bosun/pkg/db"
	"bosun/pkg/lifecycle"
	"bosun/pkg/problems"
)

type PostgresStore struct {
	db  *sql.DB
	log *zap.SugaredLogger
	now func() time.Time
}

func NewPostgresStore(conn *sql.DB, log *zap.SugaredLogger) *PostgresStore {
	return &PostgresStore{db: conn, log: log, now: time.Now}
}

// EnsureSchema creates the roles table if missing. Safe to call repeatedly.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS roles (
  id uuid PRIMARY KEY,
  name text NOT NULL,
  description text NOT NULL DEFAULT '',
  role_type text NOT NULL,
  global_role text NOT NULL DEFAULT '',
  tenant_id text NOT NULL DEFAULT '',
  tenant_type text NOT NULL DEFAULT '',
  permissions jsonb NOT NULL DEFAULT '[]'::jsonb,
  features smallint NOT NULL DEFAULT 0,
  is_system_role boolean NOT NULL DEFAULT false,
  state text NOT NULL DEFAULT 'active',
  created_by text NOT NULL DEFAULT '',
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS roles_active_name_idx ON roles(name, tenant_id) WHERE state = 'active';
CREATE INDEX IF NOT EXISTS roles_tenant_idx ON roles(tenant_id, role_type);
CREATE INDEX IF NOT EXISTS roles_global_role_idx ON roles(global_role) WHERE global_role <> '';
`)
	return err
}

const roleColumns = `id, name, description, role_type, global_role, tenant_id, tenant_type, permissions, features, is_system_role, state, created_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRole(row rowScanner) (Role, error) {
	var (
		r        Role
		perms    []byte
		features int
		state    string
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Type, &r.GlobalRole, &r.TenantID, &r.TenantType,
		&perms, &features, &r.IsSystemRole, &state, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Role{}, err
	}
	r.Permissions = []Permission{}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &r.Permissions); err != nil {
			return Role{}, fmt.Errorf("decode permissions: %w", err)
		}
	}
	r.Features = Features(features)
	st, err := lifecycle.Parse(state)
	if err != nil {
		return Role{}, err
	}
	r.State = st
	return r, nil
}

func (s *PostgresStore) one(ctx context.Context, what, query string, args ...any) (Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Role{}, problems.New(problems.KindRoleNotFound, "role %s not found", what)
	}
	if err != nil {
		return Role{}, problems.Wrap(problems.KindStoreUnavailable, err, "load role")
	}
	return r, nil
}

func (s *PostgresStore) Create(ctx context.Context, r Role) (Role, error) {
	r = prepareNew(r, s.now().UTC())
	perms, _ := json.Marshal(r.Permissions)
	_, err := s.db.ExecContext(ctx, `INSERT INTO roles (`+roleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		r.ID, r.Name, r.Description, string(r.Type), string(r.GlobalRole), r.TenantID, string(r.TenantType),
		perms, int(r.Features), r.IsSystemRole, string(r.State), r.CreatedBy, r.CreatedAt, r.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return Role{}, problems.New(problems.KindExists, "role %q already exists in this scope", r.Name)
	}
	if err != nil {
		return Role{}, problems.Wrap(problems.KindStoreUnavailable, err, "insert role")
	}
	return r, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Role, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Role{}, problems.New(problems.KindRoleNotFound, "role %s not found", id)
	}
	return s.one(ctx, id, `SELECT `+roleColumns+` FROM roles WHERE id=$1`, id)
}

func (s *PostgresStore) Update(ctx context.Context, r Role) (Role, error) {
	perms, _ := json.Marshal(r.Permissions)
	r.UpdatedAt = s.now().UTC()
	out, err := s.one(ctx, r.ID, `UPDATE roles SET name=$1, description=$2, permissions=$3, features=$4, state=$5, updated_at=$6
		WHERE id=$7 RETURNING `+roleColumns,
		r.Name, r.Description, perms, int(r.Features), string(r.State), r.UpdatedAt, r.ID)
	if db.IsUniqueViolation(err) {
		return Role{}, problems.New(problems.KindExists, "role %q already exists in this scope", r.Name)
	}
	return out, err
}

func (s *PostgresStore) FindByName(ctx context.Context, name, tenantID string) (Role, error) {
	return s.one(ctx, name, `SELECT `+roleColumns+` FROM roles WHERE name=$1 AND tenant_id=$2 AND state='active'`, name, tenantID)
}

func (s *PostgresStore) FindByGlobalRole(ctx context.Context, g identity.GlobalRole) (Role, error) {
	return s.one(ctx, string(g), `SELECT `+roleColumns+` FROM roles WHERE global_role=$1 AND state='active' ORDER BY created_at LIMIT 1`, string(g))
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Role, error) {
	q := `SELECT ` + roleColumns + ` FROM roles WHERE state='active'`
	var (
		ors  []string
		args []any
	)
	if f.Global {
		ors = append(ors, "role_type='global'")
	}
	if f.TenantID != "" {
		args = append(args, f.TenantID)
		ors = append(ors, fmt.Sprintf("tenant_id=$%d", len(args)))
	}
	for _, id := range f.IDs {
		if _, err := uuid.Parse(id); err != nil {
			continue
		}
		args = append(args, id)
		ors = append(ors, fmt.Sprintf("id=$%d", len(args)))
	}
	if !f.empty() {
		if len(ors) == 0 {
			return nil, nil
		}
		q += ` AND (` + strings.Join(ors, " OR ") + `)`
	}
	q += ` ORDER BY role_type, name`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, problems.Wrap(problems.KindStoreUnavailable, err, "list roles")
	}
	defer rows.Close()
	var out []Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, problems.Wrap(problems.KindStoreUnavailable, err, "scan role")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, problems.Wrap(problems.KindStoreUnavailable, err, "list roles")
	}
	sortRoles(out)
	return out, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM roles`).Scan(&n); err != nil {
		return 0, problems.Wrap(problems.KindStoreUnavailable, err, "count roles")
	}
	return n, nil
}
