package enforcer

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"
)

func TestPostgresStoreLoadAll(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer conn.Close()

	rows := sqlmock.NewRows([]string{"ptype", "v0", "v1", "v2", "v3"}).
		AddRow("g", "u-tech", "tech", "*", "").
		AddRow("p", "tech", "/*", "*", "*").
		AddRow("x", "junk", "", "", "")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT ptype, v0, v1, v2, v3 FROM policy_rules`)).WillReturnRows(rows)

	s := NewPostgresStore(conn, zap.NewNop().Sugar())
	snap, err := s.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(snap.Policies) != 1 || snap.Policies[0].Resource != "/*" {
		t.Fatalf("policies = %+v", snap.Policies)
	}
	if len(snap.Assignments) != 1 || snap.Assignments[0] != (Assignment{Member: "u-tech", Role: "tech", Domain: "*"}) {
		t.Fatalf("assignments = %+v", snap.Assignments)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStorePersistReplacesAll(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer conn.Close()

	insert := regexp.QuoteMeta(`INSERT INTO policy_rules (ptype, v0, v1, v2, v3)`)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM policy_rules`)).WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectExec(insert).WithArgs("p", "admin", "/api/roles", "GET", "t1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insert).WithArgs("g", "u1", "admin", "t1", "").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := NewPostgresStore(conn, zap.NewNop().Sugar())
	err = s.Persist(context.Background(), Snapshot{
		Policies:    []Policy{{Subject: "admin", Resource: "/api/roles", Action: "GET", Domain: "t1"}},
		Assignments: []Assignment{{Member: "u1", Role: "admin", Domain: "t1"}},
	})
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStorePersistRollsBackOnInsertError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM policy_rules`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO policy_rules`)).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	s := NewPostgresStore(conn, zap.NewNop().Sugar())
	err = s.Persist(context.Background(), Snapshot{
		Policies: []Policy{{Subject: "admin", Resource: "/api/roles", Action: "GET", Domain: "t1"}},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
