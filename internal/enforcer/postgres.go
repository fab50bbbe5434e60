package enforcer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"bosun/pkg/db"
)

const (
	ptypePolicy = "p"
	ptypeGroup  = "g"
)

// PostgresStore keeps tuples in one policy_rules table, one row per tuple.
// Policies use (v0..v3) = (subject, resource, action, domain); assignments
// use (v0..v2) = (member, role, domain).
type PostgresStore struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

func NewPostgresStore(conn *sql.DB, log *zap.SugaredLogger) *PostgresStore {
	return &PostgresStore{db: conn, log: log}
}

// EnsureSchema creates the table if missing. Safe to call repeatedly.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS policy_rules (
  ptype text NOT NULL,
  v0 text NOT NULL,
  v1 text NOT NULL,
  v2 text NOT NULL,
  v3 text NOT NULL DEFAULT '',
  created_at timestamptz NOT NULL DEFAULT NOW(),
  PRIMARY KEY (ptype, v0, v1, v2, v3)
);
CREATE INDEX IF NOT EXISTS policy_rules_domain_idx ON policy_rules(ptype, v3);
`)
	return err
}

func (s *PostgresStore) LoadAll(ctx context.Context) (Snapshot, error) {
	if s.db == nil {
		return Snapshot{}, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT ptype, v0, v1, v2, v3 FROM policy_rules ORDER BY ptype, v3, v0, v1, v2`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load policy rules: %w", err)
	}
	defer rows.Close()
	var snap Snapshot
	for rows.Next() {
		var ptype, v0, v1, v2, v3 string
		if err := rows.Scan(&ptype, &v0, &v1, &v2, &v3); err != nil {
			return Snapshot{}, fmt.Errorf("scan policy rule: %w", err)
		}
		switch ptype {
		case ptypePolicy:
			snap.Policies = append(snap.Policies, Policy{Subject: v0, Resource: v1, Action: v2, Domain: v3})
		case ptypeGroup:
			snap.Assignments = append(snap.Assignments, Assignment{Member: v0, Role: v1, Domain: v2})
		default:
			s.log.Warnw("skipping unknown policy rule type", "ptype", ptype)
		}
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("iterate policy rules: %w", err)
	}
	return snap, nil
}

// Persist replaces every row inside one transaction.
func (s *PostgresStore) Persist(ctx context.Context, snap Snapshot) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM policy_rules`); err != nil {
			return fmt.Errorf("clear policy rules: %w", err)
		}
		const insert = `INSERT INTO policy_rules (ptype, v0, v1, v2, v3) VALUES ($1, $2, $3, $4, $5)`
		for _, p := range snap.Policies {
			if _, err := tx.ExecContext(ctx, insert, ptypePolicy, p.Subject, p.Resource, p.Action, p.Domain); err != nil {
				return fmt.Errorf("insert policy %s: %w", p, err)
			}
		}
		for _, a := range snap.Assignments {
			if _, err := tx.ExecContext(ctx, insert, ptypeGroup, a.Member, a.Role, a.Domain, ""); err != nil {
				return fmt.Errorf("insert assignment %s/%s@%s: %w", a.Member, a.Role, a.Domain, err)
			}
		}
		return nil
	})
}
