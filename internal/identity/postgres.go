package identity

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

type PostgresUsers struct {
	db  *sql.DB
	log *zap.SugaredLogger
	now func() time.Time
}

func NewPostgresUsers(conn *sql.DB, log *zap.SugaredLogger) *PostgresUsers {
	return &PostgresUsers{db: conn, log: log, now: time.Now}
}

// EnsureSchema creates the users table if missing. Safe to call repeatedly.
func (s *PostgresUsers) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS users (
  id uuid PRIMARY KEY,
  email text NOT NULL,
  password_hash text NOT NULL,
  first_name text NOT NULL,
  last_name text NOT NULL,
  company_name text NOT NULL DEFAULT '',
  tenant_id uuid NOT NULL REFERENCES tenants(id),
  global_role text NOT NULL DEFAULT '',
  tenant_roles jsonb NOT NULL DEFAULT '[]'::jsonb,
  internal_roles jsonb NOT NULL DEFAULT '[]'::jsonb,
  user_type text NOT NULL,
  state text NOT NULL DEFAULT 'active',
  login_attempts int NOT NULL DEFAULT 0,
  lock_until timestamptz,
  is_verified boolean NOT NULL DEFAULT false,
  is_email_verified boolean NOT NULL DEFAULT false,
  last_login timestamptz,
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW(),
  UNIQUE (email, tenant_id)
);
CREATE INDEX IF NOT EXISTS users_email_idx ON users(email);
CREATE INDEX IF NOT EXISTS users_tenant_type_idx ON users(tenant_id, user_type);
CREATE INDEX IF NOT EXISTS users_global_role_idx ON users(global_role) WHERE global_role <> '';
`)
	return err
}

const userColumns = `id, email, password_hash, first_name, last_name, company_name, tenant_id, global_role, tenant_roles, internal_roles, user_type, state, login_attempts, lock_until, is_verified, is_email_verified, last_login, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var (
		u                   User
		tenantRoles, intern []byte
		state               string
		lockUntil, lastLog  sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.CompanyName, &u.TenantID,
		&u.GlobalRole, &tenantRoles, &intern, &u.UserType, &state, &u.LoginAttempts, &lockUntil,
		&u.IsVerified, &u.IsEmailVerified, &lastLog, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return User{}, err
	}
	if err := decodeRefs(tenantRoles, &u.TenantRoles); err != nil {
		return User{}, fmt.Errorf("decode tenant_roles: %w", err)
	}
	if err := decodeRefs(intern, &u.InternalRoles); err != nil {
		return User{}, fmt.Errorf("decode internal_roles: %w", err)
	}
	st, err := lifecycle.Parse(state)
	if err != nil {
		return User{}, err
	}
	u.State = st
	if lockUntil.Valid {
		u.LockUntil = lockUntil.Time
	}
	if lastLog.Valid {
		u.LastLogin = lastLog.Time
	}
	return u, nil
}

func decodeRefs(b []byte, dst *[]string) error {
	*dst = []string{}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}

func encodeRefs(refs []string) []byte {
	if refs == nil {
		refs = []string{}
	}
	b, _ := json.Marshal(refs)
	return b
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func (s *PostgresUsers) one(ctx context.Context, what, query string, args ...any) (User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, problems.New(problems.KindUserNotFound, "user %s not found", what)
	}
	if err != nil {
		return User{}, problems.Wrap(problems.KindStoreUnavailable, err, "load user")
	}
	return u, nil
}

func (s *PostgresUsers) many(ctx context.Context, query string, args ...any) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, problems.Wrap(problems.KindStoreUnavailable, err, "list users")
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, problems.Wrap(problems.KindStoreUnavailable, err, "scan user")
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, problems.Wrap(problems.KindStoreUnavailable, err, "list users")
	}
	return out, nil
}

func (s *PostgresUsers) CreateUser(ctx context.Context, u User) (User, error) {
	u = prepareNew(u, s.now().UTC())
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.CompanyName, u.TenantID,
		string(u.GlobalRole), encodeRefs(u.TenantRoles), encodeRefs(u.InternalRoles), string(u.UserType),
		string(u.State), u.LoginAttempts, nullTime(u.LockUntil), u.IsVerified, u.IsEmailVerified,
		nullTime(u.LastLogin), u.CreatedAt, u.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return User{}, problems.New(problems.KindExists, "user %s already exists", u.Email)
	}
	if err != nil {
		return User{}, problems.Wrap(problems.KindStoreUnavailable, err, "insert user")
	}
	return u, nil
}

func (s *PostgresUsers) FindUserByID(ctx context.Context, id string) (User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return User{}, problems.New(problems.KindUserNotFound, "user %s not found", id)
	}
	return s.one(ctx, id, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
}

func (s *PostgresUsers) FindUserByEmail(ctx context.Context, email string) (User, error) {
	return s.FindUserByCredential(ctx, email, Scope{})
}

func (s *PostgresUsers) FindUserByCredential(ctx context.Context, email string, sc Scope) (User, error) {
	email = NormalizeEmail(email)
	where := []string{"email=$1"}
	args := []any{email}
	if sc.TenantID != "" {
		args = append(args, sc.TenantID)
		where = append(where, fmt.Sprintf("tenant_id=$%d", len(args)))
	}
	if sc.UserType != "" {
		args = append(args, string(sc.UserType))
		where = append(where, fmt.Sprintf("user_type=$%d", len(args)))
	}
	q := `SELECT ` + userColumns + ` FROM users WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at LIMIT 1`
	return s.one(ctx, email, q, args...)
}

func (s *PostgresUsers) UpdateUser(ctx context.Context, id string, p UserPatch) (User, error) {
	sets := []string{}
	args := []any{}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if p.PasswordHash != nil {
		add("password_hash", *p.PasswordHash)
	}
	if p.GlobalRole != nil {
		add("global_role", string(*p.GlobalRole))
	}
	if p.TenantRoles != nil {
		add("tenant_roles", encodeRefs(*p.TenantRoles))
	}
	if p.InternalRoles != nil {
		add("internal_roles", encodeRefs(*p.InternalRoles))
	}
	if p.State != nil {
		add("state", string(*p.State))
	}
	if p.LoginAttempts != nil {
		add("login_attempts", *p.LoginAttempts)
	}
	if p.LockUntil != nil {
		add("lock_until", nullTime(*p.LockUntil))
	}
	if p.LastLogin != nil {
		add("last_login", nullTime(*p.LastLogin))
	}
	if p.IsVerified != nil {
		add("is_verified", *p.IsVerified)
	}
	add("updated_at", s.now().UTC())
	args = append(args, id)
	q := `UPDATE users SET ` + strings.Join(sets, ", ") + fmt.Sprintf(` WHERE id=$%d RETURNING `, len(args)) + userColumns
	return s.one(ctx, id, q, args...)
}

// RecordFailedLogin counts a failed password check in a single statement,
// so concurrent attempts all land. An expired lock restarts the count.
func (s *PostgresUsers) RecordFailedLogin(ctx context.Context, id string, now time.Time) (User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return User{}, problems.New(problems.KindUserNotFound, "user %s not found", id)
	}
	q := `UPDATE users SET
  login_attempts = CASE WHEN lock_until IS NOT NULL AND lock_until <= $2 THEN 1 ELSE login_attempts + 1 END,
  lock_until = CASE
    WHEN lock_until IS NOT NULL AND lock_until <= $2 THEN NULL
    WHEN login_attempts + 1 >= $3 THEN $4
    ELSE lock_until END,
  updated_at = $2
WHERE id=$1 RETURNING ` + userColumns
	return s.one(ctx, id, q, id, now.UTC(), MaxLoginAttempts, now.Add(LockDuration).UTC())
}

func (s *PostgresUsers) CountUsersReferencingRole(ctx context.Context, roleID string, globalRole GlobalRole) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users
		WHERE ($2 <> '' AND global_role = $2)
		   OR jsonb_exists(tenant_roles, $1)
		   OR jsonb_exists(internal_roles, $1)`, roleID, string(globalRole)).Scan(&n)
	if err != nil {
		return 0, problems.Wrap(problems.KindStoreUnavailable, err, "count role references")
	}
	return n, nil
}

func (s *PostgresUsers) FindUsersByGlobalRole(ctx context.Context, role GlobalRole) ([]User, error) {
	return s.many(ctx, `SELECT `+userColumns+` FROM users WHERE global_role=$1 AND state='active' ORDER BY created_at`, string(role))
}

func (s *PostgresUsers) ListUsers(ctx context.Context, f Filter) ([]User, error) {
	where := []string{"state='active'"}
	args := []any{}
	if f.TenantID != "" {
		args = append(args, f.TenantID)
		where = append(where, fmt.Sprintf("tenant_id=$%d", len(args)))
	}
	if f.UserType != "" {
		args = append(args, string(f.UserType))
		where = append(where, fmt.Sprintf("user_type=$%d", len(args)))
	}
	return s.many(ctx, `SELECT `+userColumns+` FROM users WHERE `+strings.Join(where, " AND ")+` ORDER BY created_at`, args...)
}
