package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
)

type fakeResult struct {
	rowsAffected int64
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockExecutor struct {
	query  string
	result sql.Result
	err    error
}

func (m *mockExecutor) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	m.query = query
	return m.result, m.err
}

func TestSeed_InsertsDemoUsersIdempotently(t *testing.T) {
	exec := &mockExecutor{result: &fakeResult{rowsAffected: 2}}

	n, err := Seed(context.Background(), exec)
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Seed() = %d, want 2", n)
	}
	if !strings.Contains(exec.query, "ON CONFLICT (external_id) DO NOTHING") {
		t.Errorf("seed query should ignore duplicates, got %q", exec.query)
	}
}

func TestSeed_ExecError_ReturnsError(t *testing.T) {
	exec := &mockExecutor{err: errors.New("connection refused")}

	if _, err := Seed(context.Background(), exec); err == nil {
		t.Fatal("expected error, got nil")
	}
}
